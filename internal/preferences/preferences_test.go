package preferences

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  model.RawPreferences
		want model.RawPreferences
	}{
		{
			name: "blank count becomes zero",
			raw:  model.RawPreferences{"any": {"limit": "", "limit_by": "x"}},
			want: model.RawPreferences{"any": {"limit": "0/x"}},
		},
		{
			name: "count and period combined",
			raw: model.RawPreferences{
				"any":       {"creds": "5", "limit": " 3 ", "limit_by": "d"},
				"gold_plan": {"creds": "10", "limit": "1", "limit_by": "w", "log": "%plural%"},
			},
			want: model.RawPreferences{
				"any":       {"creds": "5", "limit": "3/d"},
				"gold_plan": {"creds": "10", "limit": "1/w", "log": "%plural%"},
			},
		},
		{
			name: "limit without limit_by untouched",
			raw:  model.RawPreferences{"any": {"limit": "2/m"}},
			want: model.RawPreferences{"any": {"limit": "2/m"}},
		},
		{
			name: "limit_by without limit untouched",
			raw:  model.RawPreferences{"any": {"limit_by": "d"}},
			want: model.RawPreferences{"any": {"limit_by": "d"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	raw := model.RawPreferences{
		"any":       {"creds": "5", "limit": "", "limit_by": "x", "log": "%plural%"},
		"gold_plan": {"creds": "1", "limit": "4", "limit_by": "t"},
	}

	once := Sanitize(raw)
	twice := Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	raw := model.RawPreferences{"any": {"limit": "1", "limit_by": "d"}}
	_ = Sanitize(raw)
	assert.Equal(t, "d", raw["any"]["limit_by"])
	assert.Equal(t, "1", raw["any"]["limit"])
}

func TestDecode(t *testing.T) {
	cfg, err := Decode(model.RawPreferences{
		"any":       {"creds": "", "log": "%plural% for any membership plan", "limit": "0/x"},
		"gold_plan": {"creds": " 10 ", "log": "gold", "limit": "2/d"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.AwardRule{Points: 0, LogTemplate: "%plural% for any membership plan", Limit: model.NoLimit}, cfg["any"])
	assert.Equal(t, model.AwardRule{Points: 10, LogTemplate: "gold", Limit: model.LimitSpec{Count: 2, Period: model.PeriodDay}}, cfg["gold_plan"])
	assert.False(t, cfg["any"].Enabled())
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(model.RawPreferences{"any": {"creds": "1.5"}})
	require.ErrorIs(t, err, ErrInvalidPreferences)

	_, err = Decode(model.RawPreferences{"any": {"creds": "1", "limit": "1/q"}})
	require.ErrorIs(t, err, ErrInvalidPreferences)
	require.ErrorIs(t, err, model.ErrInvalidLimit)

	_, err = Decode(model.RawPreferences{" ": {"creds": "1"}})
	require.ErrorIs(t, err, ErrInvalidPreferences)
}

func TestEncodeDecode(t *testing.T) {
	cfg := model.Configuration{
		"any": {Points: -2, LogTemplate: "penalty", Limit: model.LimitSpec{Count: 1, Period: model.PeriodMonth}},
	}
	raw := Encode(cfg)
	assert.Equal(t, map[string]string{"creds": "-2", "log": "penalty", "limit": "1/m"}, raw["any"])

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLoadFile(t *testing.T) {
	content := `
plans:
  - id: 7
    slug: gold-plan
    name: Gold
preferences:
  any:
    creds: 5
    log: "%plural% for any membership plan"
    limit: ""
    limit_by: x
  gold_plan:
    creds: "10"
    limit: "1/d"
`
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seed, err := LoadFile(path)
	require.NoError(t, err)

	require.Len(t, seed.Plans, 1)
	assert.Equal(t, model.MembershipPlan{ID: 7, Slug: "gold-plan", Name: "Gold"}, seed.Plans[0])
	assert.Equal(t, map[string]string{"creds": "5", "log": "%plural% for any membership plan", "limit": "0/x"}, seed.Preferences["any"])
	assert.Equal(t, "1/d", seed.Preferences["gold_plan"]["limit"])
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
