// Package service реализует бизнес-логику сервиса начисления баллов за членство.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/mycred-memberships/internal/metrics"
	"github.com/mmeshcher/mycred-memberships/internal/model"
	"github.com/mmeshcher/mycred-memberships/internal/preferences"
	"github.com/mmeshcher/mycred-memberships/internal/rules"
	"github.com/mmeshcher/mycred-memberships/internal/validation"
)

// ErrInvalidPlan возвращается для плана с некорректным slug или идентификатором.
var ErrInvalidPlan = errors.New("invalid membership plan")

const defaultEntriesLimit = 100

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	ListPlans(ctx context.Context) ([]model.MembershipPlan, error)
	ReplacePlans(ctx context.Context, plans []model.MembershipPlan) error
	GetPreferences(ctx context.Context) (model.RawPreferences, error)
	SavePreferences(ctx context.Context, raw model.RawPreferences) error
	IsExcluded(ctx context.Context, userID int64) (bool, error)
	SetExcluded(ctx context.Context, userID int64, excluded bool) error
	IsOverLimit(ctx context.Context, scopeKey, reference string, userID int64, limit model.LimitSpec) (bool, error)
	AddCredits(ctx context.Context, req model.AwardRequest) error
	GetBalance(ctx context.Context, userID int64, pointType string) (int64, error)
	GetEntriesByUser(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
}

// PlanSource возвращает планы членства из хост-системы.
type PlanSource interface {
	GetMembershipPlans(ctx context.Context) ([]model.MembershipPlan, int, time.Duration, error)
}

// Options содержит необязательные параметры сервиса.
type Options struct {
	PointType string
	Renderer  rules.Renderer
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Service содержит бизнес-логику сервиса начисления баллов.
type Service struct {
	repo      Repository
	plans     PlanSource
	evaluator *rules.Evaluator
	pointType string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService создаёт сервис и загружает планы и настройки из репозитория.
// plans может быть nil, если хост-система не настроена.
func NewService(ctx context.Context, repo Repository, plans PlanSource, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pointType := opts.PointType
	if pointType == "" {
		pointType = rules.DefaultPointType
	}

	s := &Service{
		repo:      repo,
		plans:     plans,
		pointType: pointType,
		metrics:   opts.Metrics,
		logger:    logger,
	}

	knownPlans, cfg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	evalOpts := []rules.Option{
		rules.WithPointType(pointType),
		rules.WithLogger(logger),
	}
	if opts.Renderer != nil {
		evalOpts = append(evalOpts, rules.WithRenderer(opts.Renderer))
	}

	s.evaluator, err = rules.NewEvaluator(knownPlans, cfg, repo, repo, evalOpts...)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) load(ctx context.Context) ([]model.MembershipPlan, model.Configuration, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load plans: %w", err)
	}

	raw, err := s.repo.GetPreferences(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load preferences: %w", err)
	}

	cfg, err := preferences.Decode(preferences.Sanitize(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stored preferences: %w", rules.ErrConfiguration, err)
	}

	return plans, cfg, nil
}

// Reload перечитывает планы и настройки и атомарно заменяет снимок конфигурации.
func (s *Service) Reload(ctx context.Context) error {
	plans, cfg, err := s.load(ctx)
	if err != nil {
		return err
	}
	return s.evaluator.Refresh(plans, cfg)
}

// HandleGrant вычисляет начисления за событие и записывает их в журнал.
// Ошибки оракулов и журнала возвращаются вызывающему; событие целиком не повторяется.
func (s *Service) HandleGrant(ctx context.Context, event model.GrantEvent) ([]model.AwardRequest, error) {
	requests, err := s.evaluator.Evaluate(ctx, event)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrInvalidEvent):
			s.metrics.RecordGrant(metrics.ResultInvalid)
		case errors.Is(err, rules.ErrConfiguration):
			s.metrics.RecordGrant(metrics.ResultConfig)
		default:
			s.metrics.RecordGrant(metrics.ResultFailed)
		}
		return nil, err
	}

	for i, req := range requests {
		if err := s.repo.AddCredits(ctx, req); err != nil {
			s.metrics.RecordGrant(metrics.ResultFailed)
			s.logger.Error("add credits error",
				zap.Error(err),
				zap.String("reference", req.Reference),
				zap.Int64("userID", req.UserID),
				zap.String("eventID", event.ID),
				zap.Int("written", i),
			)
			return requests[:i], fmt.Errorf("add credits: %w", err)
		}

		scope := "plan"
		if req.ScopeKey == model.ScopeAny {
			scope = model.ScopeAny
		}
		s.metrics.RecordAward(scope, req.PointType, req.Amount)
	}

	if len(requests) == 0 {
		s.metrics.RecordGrant(metrics.ResultEmpty)
	} else {
		s.metrics.RecordGrant(metrics.ResultAwarded)
	}

	s.logger.Info("membership grant processed",
		zap.String("eventID", event.ID),
		zap.Int64("userID", event.UserID),
		zap.Int64("planID", event.Plan.ID),
		zap.Int("awards", len(requests)),
	)

	return requests, nil
}

// GetPreferences возвращает текущие настройки в виде формы администратора, включая правила по умолчанию.
func (s *Service) GetPreferences() model.RawPreferences {
	return preferences.Encode(s.evaluator.Configuration())
}

// SavePreferences очищает, проверяет и сохраняет настройки, затем обновляет снимок конфигурации.
func (s *Service) SavePreferences(ctx context.Context, raw model.RawPreferences) (model.RawPreferences, error) {
	for scope := range raw {
		if !validation.IsValidScopeKey(scope) {
			return nil, fmt.Errorf("%w: bad scope key %q", preferences.ErrInvalidPreferences, scope)
		}
	}

	sanitized := preferences.Sanitize(raw)
	cfg, err := preferences.Decode(sanitized)
	if err != nil {
		return nil, err
	}

	// Проверяем до сохранения, чтобы не записать конфигурацию, которую нельзя применить.
	if _, err := rules.WithDefaults(s.evaluator.Plans(), cfg); err != nil {
		return nil, err
	}

	if err := s.repo.SavePreferences(ctx, sanitized); err != nil {
		return nil, err
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s.GetPreferences(), nil
}

// SyncPlans заменяет список известных планов и обновляет снимок конфигурации.
func (s *Service) SyncPlans(ctx context.Context, plans []model.MembershipPlan) error {
	for _, p := range plans {
		if p.ID <= 0 || !validation.IsValidSlug(p.Slug) {
			return fmt.Errorf("%w: id=%d slug=%q", ErrInvalidPlan, p.ID, p.Slug)
		}
	}

	// Коллизии ключей областей отклоняются до записи в БД.
	if _, err := rules.WithDefaults(plans, nil); err != nil {
		return err
	}

	if err := s.repo.ReplacePlans(ctx, plans); err != nil {
		return err
	}

	return s.Reload(ctx)
}

// Plans возвращает известные планы членства.
func (s *Service) Plans() []model.MembershipPlan {
	return s.evaluator.Plans()
}

// References возвращает зарегистрированные типы операций журнала.
func (s *Service) References() []model.Reference {
	return rules.References(s.evaluator.Plans())
}

// GetBalance возвращает баланс пользователя в баллах сервиса.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID, s.pointType)
}

// GetEntries возвращает последние записи журнала пользователя.
func (s *Service) GetEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetEntriesByUser(ctx, userID, defaultEntriesLimit)
}

// SetExcluded исключает пользователя из начислений или возвращает его.
func (s *Service) SetExcluded(ctx context.Context, userID int64, excluded bool) error {
	return s.repo.SetExcluded(ctx, userID, excluded)
}

// StartPlanSync запускает фоновую синхронизацию планов с хост-системой:
// сразу после запуска и далее с указанным интервалом.
func (s *Service) StartPlanSync(ctx context.Context, interval time.Duration) {
	if s.plans == nil || interval <= 0 {
		return
	}

	go func() {
		s.syncPlansFromHost(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.syncPlansFromHost(ctx)
			}
		}
	}()
}

func (s *Service) syncPlansFromHost(ctx context.Context) {
	plans, statusCode, retryAfter, err := s.plans.GetMembershipPlans(ctx)
	if err != nil {
		s.metrics.RecordPlanSync(false)
		s.logger.Warn("fetch membership plans error", zap.Error(err))
		return
	}

	if statusCode == http.StatusTooManyRequests {
		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		return
	}

	if err := s.SyncPlans(ctx, plans); err != nil {
		s.metrics.RecordPlanSync(false)
		s.logger.Error("sync membership plans error", zap.Error(err))
		return
	}

	s.metrics.RecordPlanSync(true)
}
