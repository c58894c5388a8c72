package service

import (
	"context"
	"fmt"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
)

// Decision 单条规则的判定
type Decision int

const (
	Abstain Decision = iota
	Allow
	Deny
)

// 规则名，同时用于日志与 Verdict.Rule
const (
	RuleProjectMute        = "project_mute"
	RuleExplicitPreference = "explicit_preference"
	RuleLegacyOptOut       = "legacy_opt_out"
	RuleDefault            = "default"
)

type PreferenceQuery struct {
	Kind        model.Kind
	RecipientID string
	ProjectID   *int64
}

// Resolver 一条有名字的偏好规则；Abstain 交给下一条
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, q PreferenceQuery) (Decision, error)
}

type resolverFunc struct {
	name string
	fn   func(ctx context.Context, q PreferenceQuery) (Decision, error)
}

func (r resolverFunc) Name() string { return r.name }

func (r resolverFunc) Resolve(ctx context.Context, q PreferenceQuery) (Decision, error) {
	return r.fn(ctx, q)
}

// NewResolver 用函数构造 Resolver
func NewResolver(name string, fn func(ctx context.Context, q PreferenceQuery) (Decision, error)) Resolver {
	return resolverFunc{name: name, fn: fn}
}

// ProjectMuteResolver 接收人屏蔽了该项目时拒绝
func ProjectMuteResolver(r repository.PreferenceReader) Resolver {
	return NewResolver(RuleProjectMute, func(ctx context.Context, q PreferenceQuery) (Decision, error) {
		if q.ProjectID == nil {
			return Abstain, nil
		}
		muted, err := r.IsProjectMuted(ctx, q.RecipientID, *q.ProjectID)
		if err != nil {
			return Abstain, err
		}
		if muted {
			return Deny, nil
		}
		return Abstain, nil
	})
}

// ExplicitPreferenceResolver 使用用户显式设置的开关
func ExplicitPreferenceResolver(r repository.PreferenceReader) Resolver {
	return NewResolver(RuleExplicitPreference, func(ctx context.Context, q PreferenceQuery) (Decision, error) {
		allow, found, err := r.GetPreference(ctx, q.RecipientID, q.Kind)
		if err != nil || !found {
			return Abstain, err
		}
		if allow {
			return Allow, nil
		}
		return Deny, nil
	})
}

// LegacyOptOutResolver 旧系统遗留的退订标记，仅对 kinds 生效
func LegacyOptOutResolver(r repository.PreferenceReader, kinds []model.Kind) Resolver {
	covered := make(map[model.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		covered[k] = struct{}{}
	}
	return NewResolver(RuleLegacyOptOut, func(ctx context.Context, q PreferenceQuery) (Decision, error) {
		if _, ok := covered[q.Kind]; !ok {
			return Abstain, nil
		}
		out, err := r.HasLegacyOptOut(ctx, q.RecipientID, q.Kind)
		if err != nil {
			return Abstain, err
		}
		if out {
			return Deny, nil
		}
		return Abstain, nil
	})
}

// Verdict 最终判定以及做出判定的规则
type Verdict struct {
	Allowed bool
	Rule    string
}

// PreferenceFilter 按顺序执行规则，第一条非 Abstain 的结果生效，全部弃权则放行。
// 没有副作用。
type PreferenceFilter struct {
	resolvers []Resolver
}

func NewPreferenceFilter(resolvers ...Resolver) *PreferenceFilter {
	return &PreferenceFilter{resolvers: resolvers}
}

// DefaultPreferenceFilter 屏蔽 → 显式偏好 → 遗留退订 → 默认放行
func DefaultPreferenceFilter(r repository.PreferenceReader) *PreferenceFilter {
	return NewPreferenceFilter(
		ProjectMuteResolver(r),
		ExplicitPreferenceResolver(r),
		LegacyOptOutResolver(r, model.GrandfatheredKinds()),
	)
}

func (f *PreferenceFilter) Decide(ctx context.Context, q PreferenceQuery) (Verdict, error) {
	for _, r := range f.resolvers {
		d, err := r.Resolve(ctx, q)
		if err != nil {
			return Verdict{}, fmt.Errorf("%s: %w", r.Name(), err)
		}
		switch d {
		case Allow:
			return Verdict{Allowed: true, Rule: r.Name()}, nil
		case Deny:
			return Verdict{Allowed: false, Rule: r.Name()}, nil
		}
	}
	return Verdict{Allowed: true, Rule: RuleDefault}, nil
}

// Allows reports whether the recipient should receive a notification of kind.
func (f *PreferenceFilter) Allows(ctx context.Context, kind model.Kind, recipientID string, projectID *int64) (bool, error) {
	v, err := f.Decide(ctx, PreferenceQuery{Kind: kind, RecipientID: recipientID, ProjectID: projectID})
	if err != nil {
		return false, err
	}
	return v.Allowed, nil
}
