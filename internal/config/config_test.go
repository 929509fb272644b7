package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Missions.ReservationWindow)
	assert.Equal(t, "EUR", cfg.Payments.Currency)
	assert.True(t, cfg.Payments.RequireSignedContract)
	assert.Equal(t, "fake", cfg.Payments.Provider.Kind)
	assert.Equal(t, 10*time.Second, cfg.Payments.Provider.Timeout)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("missions:\n  reservation_window: 2m\npayments:\n  currency: USD\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Missions.ReservationWindow)
	assert.Equal(t, 30*time.Second, cfg.Missions.SweepInterval)
	assert.Equal(t, "USD", cfg.Payments.Currency)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"driver":      "database:\n  driver: mysql\n",
		"postgres":    "database:\n  driver: postgres\n",
		"currency":    "payments:\n  currency: eur\n",
		"provider":    "payments:\n  provider:\n    kind: http\n",
		"window":      "missions:\n  reservation_window: 0s\n",
		"base path":   "server:\n  base_path: v1\n",
		"webhook url": "notifications:\n  webhooks:\n    - url: \"\"\n",
		"rate limit":  "rate_limit:\n  enabled: true\n  capacity: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gigline.yml"), []byte("consent:\n  enforce: false\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Consent.Enforce)
}
