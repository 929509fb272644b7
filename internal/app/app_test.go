package app

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/auth"
	"gigline/internal/provider"
	"gigline/internal/ratelimit"
)

func TestOpenWithDefaults(t *testing.T) {
	ws := t.TempDir()
	var logs bytes.Buffer
	rt, err := Open(context.Background(), ws, Options{Output: &logs})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, "sqlite", string(rt.Dialect))
	assert.IsType(t, &provider.Fake{}, rt.Engine.Provider)
	_, err = os.Stat(ws + "/.gigline/gigline.db")
	assert.NoError(t, err)

	rt.Engine.Config.Consent.Enforce = false
	rt.Engine.Consent = auth.Open{}
	m, err := rt.Engine.CreateMission(context.Background(), engine.MissionCreateOptions{Title: "t", PriceCents: 10}, auth.Actor{ID: "e", Role: domain.RoleEmployer})
	require.NoError(t, err)
	assert.Equal(t, domain.MissionOpen, m.Status)
}

func TestOpenReadsConfigFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("log:\n  level: debug\n  format: json\nconsent:\n  enforce: false\n"), 0o644))
	rt, err := Open(context.Background(), ws, Options{})
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, "debug", rt.Log.GetLevel().String())
	assert.False(t, rt.Config.Consent.Enforce)
	assert.IsType(t, auth.Open{}, rt.Engine.Consent)
}

func TestOpenRejectsBadOverride(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), Options{Driver: "mysql"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("loud", "text")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
	l, err := NewLogger("", "")
	require.NoError(t, err)
	assert.Equal(t, "info", l.GetLevel().String())
}

func TestNewProvider(t *testing.T) {
	c, err := NewProvider(config.ProviderConfig{Kind: "http", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &provider.HTTP{}, c)
	_, err = NewProvider(config.ProviderConfig{Kind: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	l, _, err := NewLimiter(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, l)

	cfg.RateLimit.Enabled = true
	l, _, err = NewLimiter(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Local{}, l)

	mr := miniredis.RunT(t)
	cfg.RateLimit.RedisAddr = mr.Addr()
	l, closer, err := NewLimiter(ctx, cfg)
	require.NoError(t, err)
	defer closer.Close()
	assert.IsType(t, &ratelimit.TokenBucket{}, l)
	ok, err := l.Allow(ctx, "actor:w1")
	require.NoError(t, err)
	assert.True(t, ok)

	cfg.RateLimit.RedisAddr = "127.0.0.1:1"
	_, _, err = NewLimiter(ctx, cfg)
	assert.Error(t, err)
}
