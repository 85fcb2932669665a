package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KENSA_T_INT", "42")
	t.Setenv("KENSA_T_FLOAT", "0.25")
	t.Setenv("KENSA_T_BOOL", "true")
	t.Setenv("KENSA_T_DUR", "5s")

	n, err := envInt("KENSA_T_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	f, err := envFloat("KENSA_T_FLOAT", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f, 1e-9)

	b, err := envBool("KENSA_T_BOOL", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := envDuration("KENSA_T_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	n, err = envInt("KENSA_T_UNSET", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, n, "unset falls back to the default")
	assert.Equal(t, "fallback", envStr("KENSA_T_UNSET", "fallback"))
}

func TestEnvHelpersInvalid(t *testing.T) {
	tests := []struct {
		key, raw, want string
		read           func(key string) error
	}{
		{"KENSA_T_INT", "abc", `KENSA_T_INT="abc" is not a valid integer`,
			func(k string) error { _, err := envInt(k, 0); return err }},
		{"KENSA_T_FLOAT", "fast", `KENSA_T_FLOAT="fast" is not a valid number`,
			func(k string) error { _, err := envFloat(k, 0); return err }},
		{"KENSA_T_BOOL", "maybe", `KENSA_T_BOOL="maybe" is not a valid boolean`,
			func(k string) error { _, err := envBool(k, false); return err }},
		{"KENSA_T_DUR", "five-seconds", `KENSA_T_DUR="five-seconds" is not a valid duration`,
			func(k string) error { _, err := envDuration(k, 0); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.raw)
			assert.EqualError(t, tt.read(tt.key), tt.want)
		})
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("KENSA_PORT", "abc")
	_, err := Load()
	require.Error(t, err)
	// Error should mention the variable name and value.
	assert.Contains(t, err.Error(), "KENSA_PORT")
	assert.Contains(t, err.Error(), "abc")
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KENSA_PORT", "abc")
	t.Setenv("KENSA_AI_TIMEOUT", "xyz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KENSA_PORT")
	assert.Contains(t, err.Error(), "KENSA_AI_TIMEOUT")
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 8*time.Second, cfg.AITimeout)
	assert.Equal(t, 60, cfg.ModerationMinLength)
	assert.Equal(t, 2*time.Hour, cfg.OverrideTTL)
	assert.Equal(t, "zai", cfg.LLMProvider)
	assert.InDelta(t, 1.0, cfg.OTELSampleRatio, 1e-9)
	assert.Empty(t, cfg.DomainModes)
}

func TestLoadDomainModes(t *testing.T) {
	t.Setenv("KENSA_AI_MODE", "shadow")
	t.Setenv("KENSA_TRIAGE_AI_MODE", "disabled")
	cfg, err := Load()
	require.NoError(t, err)

	modes := cfg.Modes()
	assert.Equal(t, "shadow", modes.Global)
	assert.Equal(t, map[string]string{"triage": "disabled"}, modes.Domains)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.StoreDriver = "mysql"
	bad.AIMaxRetries = 3
	bad.PubSubProject = "proj"
	bad.OTELSampleRatio = 2
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KENSA_STORE")
	assert.Contains(t, err.Error(), "KENSA_AI_MAX_RETRIES")
	assert.Contains(t, err.Error(), "KENSA_PUBSUB_TOPIC")
	assert.Contains(t, err.Error(), "KENSA_OTEL_SAMPLE_RATIO")

	lite := cfg
	lite.StoreDriver = StoreSQLite
	lite.DatabaseURL = ""
	assert.NoError(t, lite.Validate())
}
