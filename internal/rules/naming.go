package rules

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

const (
	// ReferenceBase задаёт тип операции журнала для правила "любой план".
	ReferenceBase = "mycred_woocommerce_memberships"
	// RefTypePlan задаёт значение ref_type в дополнительных данных начисления.
	RefTypePlan = "wc_membership_plan"

	planReferencePrefix = ReferenceBase + "_plan_"
)

// ScopeKey возвращает ключ области для плана: slug, в котором дефисы заменены подчёркиваниями.
func ScopeKey(plan model.MembershipPlan) string {
	return NormalizeSlug(plan.Slug)
}

// NormalizeSlug заменяет все дефисы в slug подчёркиваниями.
func NormalizeSlug(slug string) string {
	return strings.ReplaceAll(slug, "-", "_")
}

// LedgerReferenceFor возвращает тип операции журнала для ключа области.
func LedgerReferenceFor(scopeKey string) string {
	if scopeKey == model.ScopeAny {
		return ReferenceBase
	}
	return planReferencePrefix + scopeKey
}

// References возвращает типы операций журнала, которые регистрирует сервис.
func References(plans []model.MembershipPlan) []model.Reference {
	refs := make([]model.Reference, 0, len(plans)+1)
	refs = append(refs, model.Reference{Key: ReferenceBase, Label: "Membership"})
	for _, p := range plans {
		refs = append(refs, model.Reference{
			Key:   LedgerReferenceFor(ScopeKey(p)),
			Label: fmt.Sprintf("Membership: %s", p.Name),
		})
	}
	return refs
}

// DefaultRule возвращает правило, которое используется, если администратор его не настроил.
func DefaultRule(scopeKey, planName string) model.AwardRule {
	log := "%plural% for any membership plan"
	if scopeKey != model.ScopeAny {
		log = "%plural% for membership plan " + planName
	}
	return model.AwardRule{
		Points:      1,
		LogTemplate: log,
		Limit:       model.NoLimit,
	}
}

// WithDefaults дополняет конфигурацию правилами по умолчанию для "any" и каждого плана.
// Исходная конфигурация не изменяется.
func WithDefaults(plans []model.MembershipPlan, cfg model.Configuration) (model.Configuration, error) {
	out := cfg.Clone()

	if _, ok := out[model.ScopeAny]; !ok {
		out[model.ScopeAny] = DefaultRule(model.ScopeAny, "")
	}

	seen := make(map[string]int64, len(plans))
	for _, p := range plans {
		key := ScopeKey(p)
		if key == "" {
			return nil, fmt.Errorf("%w: plan %d has empty slug", ErrConfiguration, p.ID)
		}
		if key == model.ScopeAny {
			return nil, fmt.Errorf("%w: plan %d uses reserved slug %q", ErrConfiguration, p.ID, p.Slug)
		}
		if other, dup := seen[key]; dup && other != p.ID {
			return nil, fmt.Errorf("%w: plans %d and %d share scope key %q", ErrConfiguration, other, p.ID, key)
		}
		seen[key] = p.ID

		if _, ok := out[key]; !ok {
			out[key] = DefaultRule(key, p.Name)
		}
	}

	return out, nil
}
