// Package handler содержит HTTP-обработчики API сервиса начисления баллов за членство.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/mycred-memberships/internal/metrics"
	"github.com/mmeshcher/mycred-memberships/internal/middleware"
	"github.com/mmeshcher/mycred-memberships/internal/model"
	"github.com/mmeshcher/mycred-memberships/internal/preferences"
	"github.com/mmeshcher/mycred-memberships/internal/repository"
	"github.com/mmeshcher/mycred-memberships/internal/rules"
	"github.com/mmeshcher/mycred-memberships/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	HandleGrant(ctx context.Context, event model.GrantEvent) ([]model.AwardRequest, error)
	GetPreferences() model.RawPreferences
	SavePreferences(ctx context.Context, raw model.RawPreferences) (model.RawPreferences, error)
	SyncPlans(ctx context.Context, plans []model.MembershipPlan) error
	Plans() []model.MembershipPlan
	References() []model.Reference
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	SetExcluded(ctx context.Context, userID int64, excluded bool) error
}

// Handler реализует HTTP-обработчики API сервиса.
type Handler struct {
	service   Service
	logger    *zap.Logger
	signature *middleware.SignatureMiddleware
	metrics   *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. m может быть nil.
func NewHandler(s Service, logger *zap.Logger, signature *middleware.SignatureMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		signature: signature,
		metrics:   m,
	}
}

type grantRequest struct {
	EventID string               `json:"event_id"`
	Plan    model.MembershipPlan `json:"plan"`
	Args    map[string]any       `json:"args"`
}

type grantResponse struct {
	EventID string               `json:"event_id"`
	Awards  []model.AwardRequest `json:"awards"`
}

// toEvent переводит тело запроса в событие. Отсутствующий или нечисловой user_id
// даёт событие без пользователя, которое отклоняет вычислитель правил.
func (g grantRequest) toEvent() model.GrantEvent {
	event := model.GrantEvent{
		ID:       g.EventID,
		Plan:     g.Plan,
		Metadata: make(map[string]string, len(g.Args)),
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	for k, v := range g.Args {
		if k == "user_id" {
			event.UserID = parseUserID(v)
			continue
		}
		event.Metadata[k] = fmt.Sprint(v)
	}

	return event
}

func parseUserID(v any) int64 {
	switch id := v.(type) {
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Grant обрабатывает событие получения доступа к плану членства после покупки.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event := req.toEvent()

	awards, err := h.service.HandleGrant(r.Context(), event)
	if err != nil {
		if errors.Is(err, rules.ErrInvalidEvent) || errors.Is(err, rules.ErrConfiguration) {
			h.logger.Warn("grant event rejected", zap.Error(err), zap.String("eventID", event.ID))
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("grant event error", zap.Error(err), zap.String("eventID", event.ID), zap.Int64("userID", event.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if awards == nil {
		awards = []model.AwardRequest{}
	}
	writeJSON(w, grantResponse{EventID: event.ID, Awards: awards})
}

// GetPreferences возвращает текущие настройки правил.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.GetPreferences())
}

// SavePreferences сохраняет настройки правил, присланные формой администратора.
func (h *Handler) SavePreferences(w http.ResponseWriter, r *http.Request) {
	var raw model.RawPreferences
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	saved, err := h.service.SavePreferences(r.Context(), raw)
	if err != nil {
		if errors.Is(err, preferences.ErrInvalidPreferences) || errors.Is(err, rules.ErrConfiguration) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("save preferences error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, saved)
}

// GetPlans возвращает известные планы членства.
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.service.Plans()
	if len(plans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, plans)
}

// SyncPlans заменяет список планов членства.
func (h *Handler) SyncPlans(w http.ResponseWriter, r *http.Request) {
	var plans []model.MembershipPlan
	if err := json.NewDecoder(r.Body).Decode(&plans); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SyncPlans(r.Context(), plans)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlan), errors.Is(err, rules.ErrConfiguration):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrPlanSlugConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("sync plans error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetReferences возвращает зарегистрированные типы операций журнала.
func (h *Handler) GetReferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.References())
}

type balanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// GetBalance возвращает баланс пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, balanceResponse{UserID: userID, Balance: balance})
}

type entryResponse struct {
	ID        int64             `json:"id"`
	Reference string            `json:"ref"`
	Amount    int64             `json:"creds"`
	Entry     string            `json:"entry"`
	RefID     int64             `json:"ref_id"`
	Data      map[string]string `json:"data,omitempty"`
	PointType string            `json:"ctype"`
	CreatedAt string            `json:"time"`
}

// GetEntries возвращает историю начислений пользователя.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetEntries(r.Context(), userID)
	if err != nil {
		h.logger.Error("get entries error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryResponse{
			ID:        e.ID,
			Reference: e.Reference,
			Amount:    e.Amount,
			Entry:     e.Entry,
			RefID:     e.RefID,
			Data:      e.Data,
			PointType: e.PointType,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, resp)
}

type exclusionRequest struct {
	Excluded bool `json:"excluded"`
}

// SetExclusion исключает пользователя из начислений или возвращает его.
func (h *Handler) SetExclusion(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req exclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetExcluded(r.Context(), userID, req.Excluded); err != nil {
		h.logger.Error("set exclusion error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func userIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
