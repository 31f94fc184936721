// Package preferences приводит настройки администратора к типизированной конфигурации правил.
package preferences

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

// ErrInvalidPreferences возвращается для настроек, которые нельзя превратить в правила.
var ErrInvalidPreferences = errors.New("invalid preferences")

// Sanitize объединяет поля limit и limit_by каждой области в строку "<count>/<period>".
// Пустой count заменяется нулём, поле limit_by удаляется. Исходные настройки не изменяются.
func Sanitize(raw model.RawPreferences) model.RawPreferences {
	out := raw.Clone()

	for _, fields := range out {
		limit, hasLimit := fields[model.PrefLimit]
		limitBy, hasLimitBy := fields[model.PrefLimitBy]
		if !hasLimit || !hasLimitBy {
			continue
		}

		limit = strings.TrimSpace(limit)
		if limit == "" {
			limit = "0"
		}

		fields[model.PrefLimit] = limit + "/" + limitBy
		delete(fields, model.PrefLimitBy)
	}

	return out
}

// Decode превращает очищенные настройки в конфигурацию правил.
// Пустое значение creds означает отключённое правило.
func Decode(raw model.RawPreferences) (model.Configuration, error) {
	cfg := make(model.Configuration, len(raw))

	for scope, fields := range raw {
		if strings.TrimSpace(scope) == "" {
			return nil, fmt.Errorf("%w: empty scope key", ErrInvalidPreferences)
		}

		var points int64
		if creds := strings.TrimSpace(fields[model.PrefCreds]); creds != "" {
			n, err := strconv.ParseInt(creds, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.creds %q is not an integer", ErrInvalidPreferences, scope, creds)
			}
			points = n
		}

		limit, err := model.ParseLimitSpec(fields[model.PrefLimit])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.limit: %w", ErrInvalidPreferences, scope, err)
		}

		cfg[scope] = model.AwardRule{
			Points:      points,
			LogTemplate: fields[model.PrefLog],
			Limit:       limit,
		}
	}

	return cfg, nil
}

// Encode возвращает конфигурацию в виде настроек формы администратора.
func Encode(cfg model.Configuration) model.RawPreferences {
	raw := make(model.RawPreferences, len(cfg))
	for scope, rule := range cfg {
		raw[scope] = map[string]string{
			model.PrefCreds: strconv.FormatInt(rule.Points, 10),
			model.PrefLog:   rule.LogTemplate,
			model.PrefLimit: rule.Limit.String(),
		}
	}
	return raw
}

// Seed содержит начальные планы и настройки, загружаемые из YAML-файла.
type Seed struct {
	Plans       []model.MembershipPlan
	Preferences model.RawPreferences
}

type seedFile struct {
	Plans       []model.MembershipPlan    `yaml:"plans"`
	Preferences map[string]map[string]any `yaml:"preferences"`
}

// LoadFile читает YAML-файл с планами и настройками и очищает настройки.
func LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preferences file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает содержимое YAML-файла с планами и настройками.
func Parse(data []byte) (*Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidPreferences, err)
	}

	raw := make(model.RawPreferences, len(f.Preferences))
	for scope, fields := range f.Preferences {
		converted := make(map[string]string, len(fields))
		for k, v := range fields {
			if v == nil {
				converted[k] = ""
				continue
			}
			converted[k] = fmt.Sprint(v)
		}
		raw[scope] = converted
	}

	return &Seed{
		Plans:       f.Plans,
		Preferences: Sanitize(raw),
	}, nil
}
