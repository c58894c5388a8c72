// Package delivery 把刚创建的通知推送到外部通道（websocket 网关、移动推送）。
// 所有 sink 都是尽力而为：失败只记日志，不影响 outbox。
package delivery

import (
	"encoding/json"
	"time"

	"github.com/d60-Lab/projtrack/internal/model"
)

// Message 推送给外部通道的通知快照
type Message struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Module      string    `json:"module,omitempty"`
	EventType   string    `json:"event_type,omitempty"`
	ScopeType   string    `json:"scope_type,omitempty"`
	ScopeID     string    `json:"scope_id,omitempty"`
	ProjectID   *int64    `json:"project_id,omitempty"`
	ActorID     *string   `json:"actor_id,omitempty"`
	Route       string    `json:"route,omitempty"`
	Title       string    `json:"title,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewMessage(n *model.Notification) Message {
	return Message{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Kind:        n.Kind.String(),
		Module:      n.Module,
		EventType:   n.EventType,
		ScopeType:   n.ScopeType,
		ScopeID:     n.ScopeID,
		ProjectID:   n.ScopeProjectID,
		ActorID:     n.ActorID,
		Route:       n.Route,
		Title:       n.Title,
		Summary:     n.Summary,
		CreatedAt:   n.CreatedAt,
	}
}

func encode(n *model.Notification) ([]byte, error) {
	return json.Marshal(NewMessage(n))
}
