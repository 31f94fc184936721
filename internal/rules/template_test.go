package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

func TestTemplateRenderer_Render(t *testing.T) {
	r := NewTemplateRenderer(PointLabels{Singular: "Star", Plural: "Stars"}, "en")
	data := TemplateData{
		ScopeKey: "gold_plan",
		Amount:   1500,
		Plan:     model.MembershipPlan{ID: 7, Slug: "gold-plan", Name: "Gold"},
	}

	tests := []struct {
		template string
		want     string
	}{
		{"%plural% for any membership plan", "Stars for any membership plan"},
		{"one %singular%, few %_plural%, a %_singular%", "one Star, few stars, a star"},
		{"%cred% %_plural% for %plan_name% (#%plan_id%)", "1500 stars for Gold (#7)"},
		{"%cred_f% total", "1,500 total"},
		{"no tags", "no tags"},
		{"%unknown% stays", "%unknown% stays"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.template, data))
		})
	}
}

func TestNewTemplateRenderer_Defaults(t *testing.T) {
	r := NewTemplateRenderer(PointLabels{}, "not a language tag!")
	assert.Equal(t, "Points and Point", r.Render("%plural% and %singular%", TemplateData{}))
}
