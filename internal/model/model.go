// Package model содержит доменные сущности сервиса начисления баллов за членство.
package model

import "time"

// ScopeAny задаёт ключ правила, срабатывающего для любого плана членства.
const ScopeAny = "any"

// MembershipPlan представляет план членства из внешней системы WooCommerce Memberships.
type MembershipPlan struct {
	ID   int64  `json:"id" yaml:"id"`
	Slug string `json:"slug" yaml:"slug"`
	Name string `json:"name" yaml:"name"`
}

// AwardRule описывает правило начисления баллов для одной области (any или конкретный план).
// Нулевое значение Points означает, что правило отключено.
type AwardRule struct {
	Points      int64
	LogTemplate string
	Limit       LimitSpec
}

// Enabled сообщает, начисляет ли правило баллы.
func (r AwardRule) Enabled() bool {
	return r.Points != 0
}

// Configuration сопоставляет ключ области правилу начисления.
type Configuration map[string]AwardRule

// Clone возвращает независимую копию конфигурации.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// RawPreferences содержит настройки в том виде, в котором их сохраняет форма администратора:
// ключ области -> поле (creds, log, limit, limit_by) -> значение.
type RawPreferences map[string]map[string]string

// Clone возвращает глубокую копию настроек.
func (p RawPreferences) Clone() RawPreferences {
	out := make(RawPreferences, len(p))
	for scope, fields := range p {
		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		out[scope] = copied
	}
	return out
}

// Поля настроек области.
const (
	PrefCreds   = "creds"
	PrefLog     = "log"
	PrefLimit   = "limit"
	PrefLimitBy = "limit_by"
)

// GrantEvent уведомляет о том, что покупка открыла пользователю доступ к плану членства.
// UserID <= 0 означает, что пользователь не указан.
type GrantEvent struct {
	ID       string
	UserID   int64
	Plan     MembershipPlan
	Metadata map[string]string
}

// AwardRequest описывает намерение начислить баллы, которое передаётся в журнал начислений.
type AwardRequest struct {
	ScopeKey    string            `json:"scope_key"`
	Reference   string            `json:"reference"`
	UserID      int64             `json:"user_id"`
	Amount      int64             `json:"amount"`
	RenderedLog string            `json:"log"`
	SubjectID   int64             `json:"subject_id"`
	Extra       map[string]string `json:"extra"`
	PointType   string            `json:"point_type"`
	EventID     string            `json:"event_id,omitempty"`
}

// LedgerEntry описывает сохранённую запись журнала начислений.
type LedgerEntry struct {
	ID        int64
	Reference string
	UserID    int64
	Amount    int64
	Entry     string
	RefID     int64
	Data      map[string]string
	PointType string
	EventID   string
	CreatedAt time.Time
}

// Reference описывает зарегистрированный тип операции журнала и его подпись для администратора.
type Reference struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}
