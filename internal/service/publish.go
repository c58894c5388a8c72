package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/pkg/id"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

const (
	// EnvelopeVersion payload 信封版本
	EnvelopeVersion = 1
	// MaxPayloadBytes 序列化后信封的最大字节数
	MaxPayloadBytes = 256 << 10
)

// Metadata 通知的分类与展示信息，除 payload 外全部可选
type Metadata struct {
	Module      string `json:"module" validate:"max=64"`
	EventType   string `json:"event_type" validate:"max=64"`
	ScopeType   string `json:"scope_type" validate:"max=64"`
	ScopeID     string `json:"scope_id" validate:"max=128"`
	ProjectID   *int64 `json:"project_id" validate:"omitempty,gt=0"`
	ActorID     string `json:"actor_id" validate:"max=64"`
	Route       string `json:"route" validate:"max=512"`
	Title       string `json:"title" validate:"max=255"`
	Summary     string `json:"summary" validate:"max=1000"`
	Fingerprint string `json:"fingerprint" validate:"max=255"`
}

type publishInput struct {
	Recipients []string `json:"recipients" validate:"dive,max=64"`
	Metadata   Metadata `json:"metadata"`
}

// Envelope 所有接收人共享的序列化 payload
type Envelope struct {
	Version int             `json:"v"`
	Kind    model.Kind      `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Publisher 校验并为每个接收人写入一条 outbox 记录
type Publisher struct {
	outbox repository.OutboxRepository
	now    func() time.Time
}

func NewPublisher(outbox repository.OutboxRepository) *Publisher {
	return &Publisher{outbox: outbox, now: time.Now}
}

// WithClock 替换时间源（测试用）
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Publish 在一个事务内为每个接收人落地一条 DispatchRecord，返回写入行数。
// 不读取已有数据，也不做去重；重复事件由分发阶段按指纹吸收。
func (p *Publisher) Publish(ctx context.Context, kind model.Kind, recipients []string, payload any, meta Metadata) (int, error) {
	if !kind.Valid() {
		return 0, &ValidationError{Field: "kind", Rule: "oneof"}
	}
	ids := NormalizeRecipients(recipients)
	meta = trimMetadata(meta)
	meta.Route = NormalizeRoute(meta.Route)

	if err := validateInput(publishInput{Recipients: ids, Metadata: meta}); err != nil {
		return 0, err
	}
	envelope, err := EncodeEnvelope(kind, payload)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		logger.Info("notification publish skipped: no recipients",
			zap.String("kind", kind.String()),
			zap.String("event_type", meta.EventType))
		return 0, nil
	}

	now := p.now().UTC().Truncate(time.Microsecond)
	records := make([]*model.DispatchRecord, 0, len(ids))
	for _, rid := range ids {
		records = append(records, newDispatchRecord(rid, kind, meta, envelope, now))
	}
	if err := p.outbox.CreateBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("publish %s: %w", kind, err)
	}
	logger.Debug("notification published",
		zap.String("kind", kind.String()),
		zap.Int("recipients", len(records)),
		zap.String("fingerprint", meta.Fingerprint))
	return len(records), nil
}

func newDispatchRecord(recipientID string, kind model.Kind, meta Metadata, envelope string, now time.Time) *model.DispatchRecord {
	rec := &model.DispatchRecord{
		ID:             id.At(now),
		RecipientID:    recipientID,
		Kind:           kind,
		Module:         meta.Module,
		EventType:      meta.EventType,
		ScopeType:      meta.ScopeType,
		ScopeID:        meta.ScopeID,
		ScopeProjectID: meta.ProjectID,
		Route:          meta.Route,
		Title:          meta.Title,
		Summary:        meta.Summary,
		Payload:        envelope,
		CreatedAt:      now,
	}
	if meta.ActorID != "" {
		actor := meta.ActorID
		rec.ActorID = &actor
	}
	if meta.Fingerprint != "" {
		fp := meta.Fingerprint
		rec.Fingerprint = &fp
	}
	return rec
}

// NormalizeRecipients 去空白、去空值，并忽略大小写去重（保留首次出现的写法）
func NormalizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

var legacyProjectRoute = regexp.MustCompile(`/projects(\d+)([/?#]|$)`)

// NormalizeRoute 修正旧链接中缺少斜杠的 /projects123 片段
func NormalizeRoute(route string) string {
	for legacyProjectRoute.MatchString(route) {
		route = legacyProjectRoute.ReplaceAllString(route, "/projects/$1$2")
	}
	return route
}

// EncodeEnvelope 序列化带版本号的 payload 信封
func EncodeEnvelope(kind model.Kind, payload any) (string, error) {
	if payload == nil {
		return "", &ValidationError{Field: "payload", Rule: "required"}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &ValidationError{Field: "payload", Rule: "json"}
	}
	raw, err := json.Marshal(Envelope{Version: EnvelopeVersion, Kind: kind, Data: data})
	if err != nil {
		return "", &ValidationError{Field: "payload", Rule: "json"}
	}
	if len(raw) > MaxPayloadBytes {
		return "", &ValidationError{Field: "payload", Rule: "max", Param: strconv.Itoa(MaxPayloadBytes)}
	}
	return string(raw), nil
}

// DecodeEnvelope 解析 outbox 中的信封
func DecodeEnvelope(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	return &env, nil
}

func trimMetadata(m Metadata) Metadata {
	m.Module = strings.TrimSpace(m.Module)
	m.EventType = strings.TrimSpace(m.EventType)
	m.ScopeType = strings.TrimSpace(m.ScopeType)
	m.ScopeID = strings.TrimSpace(m.ScopeID)
	m.ActorID = strings.TrimSpace(m.ActorID)
	m.Route = strings.TrimSpace(m.Route)
	m.Fingerprint = strings.TrimSpace(m.Fingerprint)
	return m
}

func validateInput(in publishInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &ValidationError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()}
	}
	return err
}
