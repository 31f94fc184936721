package rules

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

// PointLabels содержит название типа баллов в единственном и множественном числе.
type PointLabels struct {
	Singular string
	Plural   string
}

// DefaultLabels содержит подписи myCRED по умолчанию.
var DefaultLabels = PointLabels{Singular: "Point", Plural: "Points"}

// TemplateData содержит значения для подстановки в шаблон записи журнала.
type TemplateData struct {
	ScopeKey string
	Amount   int64
	Plan     model.MembershipPlan
}

// TemplateRenderer подставляет значения в теги вида %plural% шаблона записи журнала.
type TemplateRenderer struct {
	labels  PointLabels
	printer *message.Printer
}

// NewTemplateRenderer создаёт рендерер с подписями баллов и языком форматирования чисел.
// Нераспознанный язык заменяется английским.
func NewTemplateRenderer(labels PointLabels, lang string) *TemplateRenderer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	if labels.Singular == "" {
		labels.Singular = DefaultLabels.Singular
	}
	if labels.Plural == "" {
		labels.Plural = DefaultLabels.Plural
	}
	return &TemplateRenderer{
		labels:  labels,
		printer: message.NewPrinter(tag),
	}
}

// Render возвращает шаблон с подставленными значениями. Неизвестные теги остаются как есть.
func (r *TemplateRenderer) Render(template string, data TemplateData) string {
	if !strings.Contains(template, "%") {
		return template
	}

	replacer := strings.NewReplacer(
		"%singular%", r.labels.Singular,
		"%_singular%", strings.ToLower(r.labels.Singular),
		"%plural%", r.labels.Plural,
		"%_plural%", strings.ToLower(r.labels.Plural),
		"%cred%", strconv.FormatInt(data.Amount, 10),
		"%cred_f%", r.printer.Sprintf("%d", data.Amount),
		"%plan_name%", data.Plan.Name,
		"%plan_id%", strconv.FormatInt(data.Plan.ID, 10),
	)
	return replacer.Replace(template)
}
