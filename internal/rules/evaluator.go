// Package rules решает, какие начисления выдать за событие получения членства.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

var (
	// ErrConfiguration возвращается, если для области невозможно получить правило.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidEvent возвращается для события без пользователя.
	ErrInvalidEvent = errors.New("invalid grant event")
)

// DefaultPointType задаёт тип баллов myCRED по умолчанию.
const DefaultPointType = "mycred_default"

// ExclusionOracle сообщает, исключён ли пользователь из начислений.
type ExclusionOracle interface {
	IsExcluded(ctx context.Context, userID int64) (bool, error)
}

// LimitOracle сообщает, исчерпал ли пользователь лимит начислений для области.
type LimitOracle interface {
	IsOverLimit(ctx context.Context, scopeKey, reference string, userID int64, limit model.LimitSpec) (bool, error)
}

// Renderer подставляет значения в шаблон записи журнала.
type Renderer interface {
	Render(template string, data TemplateData) string
}

type snapshot struct {
	plans []model.MembershipPlan
	rules model.Configuration
}

// Evaluator вычисляет начисления за событие получения членства.
// Конфигурация заменяется атомарно, поэтому каждое вычисление видит один согласованный снимок.
type Evaluator struct {
	state     atomic.Pointer[snapshot]
	exclusion ExclusionOracle
	limits    LimitOracle
	renderer  Renderer
	pointType string
	logger    *zap.Logger
}

// Option настраивает Evaluator.
type Option func(*Evaluator)

// WithRenderer задаёт рендерер шаблонов записей журнала.
func WithRenderer(r Renderer) Option {
	return func(e *Evaluator) { e.renderer = r }
}

// WithPointType задаёт тип баллов, указываемый в начислениях.
func WithPointType(pointType string) Option {
	return func(e *Evaluator) {
		if pointType != "" {
			e.pointType = pointType
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator создаёт Evaluator для известных планов и конфигурации.
// Отсутствующие правила заменяются правилами по умолчанию.
func NewEvaluator(plans []model.MembershipPlan, cfg model.Configuration, exclusion ExclusionOracle, limits LimitOracle, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		exclusion: exclusion,
		limits:    limits,
		pointType: DefaultPointType,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		e.renderer = NewTemplateRenderer(DefaultLabels, "en")
	}

	if err := e.Refresh(plans, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Refresh заменяет планы и конфигурацию. Вычисления, начатые до замены, используют старый снимок.
func (e *Evaluator) Refresh(plans []model.MembershipPlan, cfg model.Configuration) error {
	rules, err := WithDefaults(plans, cfg)
	if err != nil {
		return err
	}

	copied := make([]model.MembershipPlan, len(plans))
	copy(copied, plans)

	e.state.Store(&snapshot{plans: copied, rules: rules})
	return nil
}

// Configuration возвращает копию текущей конфигурации с правилами по умолчанию.
func (e *Evaluator) Configuration() model.Configuration {
	return e.state.Load().rules.Clone()
}

// Plans возвращает копию списка известных планов.
func (e *Evaluator) Plans() []model.MembershipPlan {
	plans := e.state.Load().plans
	out := make([]model.MembershipPlan, len(plans))
	copy(out, plans)
	return out
}

// Evaluate возвращает начисления за событие: сначала для области "any", затем для плана события.
// Ошибки оракулов возвращаются без изменений.
func (e *Evaluator) Evaluate(ctx context.Context, event model.GrantEvent) ([]model.AwardRequest, error) {
	if event.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	}

	excluded, err := e.exclusion.IsExcluded(ctx, event.UserID)
	if err != nil {
		return nil, err
	}
	if excluded {
		e.logger.Debug("user excluded from awards", zap.Int64("userID", event.UserID))
		return nil, nil
	}

	planKey := ScopeKey(event.Plan)
	if planKey == "" {
		return nil, fmt.Errorf("%w: plan %d has no scope key", ErrConfiguration, event.Plan.ID)
	}
	if planKey == model.ScopeAny {
		return nil, fmt.Errorf("%w: plan %d uses reserved slug %q", ErrConfiguration, event.Plan.ID, event.Plan.Slug)
	}

	snap := e.state.Load()

	anyRule, ok := snap.rules[model.ScopeAny]
	if !ok {
		anyRule = DefaultRule(model.ScopeAny, "")
	}
	planRule, ok := snap.rules[planKey]
	if !ok {
		planRule = DefaultRule(planKey, event.Plan.Name)
	}

	scopes := []struct {
		key  string
		rule model.AwardRule
	}{
		{key: model.ScopeAny, rule: anyRule},
		{key: planKey, rule: planRule},
	}

	requests := make([]model.AwardRequest, 0, len(scopes))
	for _, s := range scopes {
		if !s.rule.Enabled() {
			continue
		}

		reference := LedgerReferenceFor(s.key)
		over, err := e.limits.IsOverLimit(ctx, s.key, reference, event.UserID, s.rule.Limit)
		if err != nil {
			return nil, err
		}
		if over {
			e.logger.Debug("award throttled",
				zap.String("scope", s.key),
				zap.Int64("userID", event.UserID),
				zap.String("limit", s.rule.Limit.String()),
			)
			continue
		}

		requests = append(requests, model.AwardRequest{
			ScopeKey:  s.key,
			Reference: reference,
			UserID:    event.UserID,
			Amount:    s.rule.Points,
			RenderedLog: e.renderer.Render(s.rule.LogTemplate, TemplateData{
				ScopeKey: s.key,
				Amount:   s.rule.Points,
				Plan:     event.Plan,
			}),
			SubjectID: event.Plan.ID,
			Extra:     map[string]string{"ref_type": RefTypePlan},
			PointType: e.pointType,
			EventID:   event.ID,
		})
	}

	return requests, nil
}
