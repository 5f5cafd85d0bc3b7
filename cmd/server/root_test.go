package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteproxy/internal/config"
)

func testConfig(baseURL, token string) config.Config {
	cfg := config.Default()
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.Token = token
	cfg.Breaker.Threshold = 2
	return cfg
}

func TestBuild_MissingTokenDisablesProxy(t *testing.T) {
	a := build(testConfig("http://unused.invalid", ""), zerolog.Nop())

	assert.Nil(t, a.client)
	assert.False(t, a.proxy.Enabled())
	assert.Empty(t, a.proxy.Quotes(t.Context(), []string{"OANDA:EUR_USD"}))

	a.applyToken("late")
	assert.False(t, a.proxy.Enabled())
}

func TestBuild_TokenRotationResetsBreaker(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("token") != "fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":80,"pc":70}`))
	}))
	defer upstream.Close()

	a := build(testConfig(upstream.URL, "revoked"), zerolog.Nop())
	require.True(t, a.proxy.Enabled())

	for range 2 {
		assert.Empty(t, a.proxy.Quotes(t.Context(), []string{"OANDA:WTICO_USD"}))
	}
	require.True(t, a.proxy.Stats().BreakerTripped)
	assert.Empty(t, a.proxy.Quotes(t.Context(), []string{"OANDA:WTICO_USD"}))
	require.Equal(t, int32(2), calls.Load())

	a.applyToken("revoked")
	assert.True(t, a.proxy.Stats().BreakerTripped, "same token leaves the breaker alone")

	a.applyToken("fresh")
	assert.Equal(t, "fresh", a.client.Token())
	assert.False(t, a.proxy.Stats().BreakerTripped)

	got := a.proxy.Quotes(t.Context(), []string{"OANDA:WTICO_USD"})
	require.Contains(t, got, "OANDA:WTICO_USD")
	require.NotNil(t, got["OANDA:WTICO_USD"].ChangePct)
	assert.InDelta(t, 14.29, *got["OANDA:WTICO_USD"].ChangePct, 0.01)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfgFile, logLevel, port = "", "debug", "9999"
	t.Cleanup(func() { logLevel, port = "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "9999", cfg.Server.Port)
}

func TestReload_DotEnvTokenRotationResetsBreaker(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":1.085,"pc":1.08}`))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"FINNHUB_TOKEN", "FINNHUB_API_KEY", "FINNHUB_BASE_URL", "BREAKER_THRESHOLD"} {
		t.Setenv(key, "")
	}
	cfgFile, logLevel, port = "", "", ""

	writeDotEnv := func(token string) {
		body := fmt.Sprintf("FINNHUB_TOKEN=%s\nFINNHUB_BASE_URL=%s\nBREAKER_THRESHOLD=1\n", token, upstream.URL)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0o600))
	}

	writeDotEnv("revoked")
	cfg, err := loadConfig()
	require.NoError(t, err)
	a := build(cfg, zerolog.Nop())

	assert.Empty(t, a.proxy.Quotes(t.Context(), []string{"OANDA:EUR_USD"}))
	require.True(t, a.proxy.Stats().BreakerTripped)

	writeDotEnv("fresh")
	a.reload()

	assert.Equal(t, "fresh", a.client.Token())
	assert.False(t, a.proxy.Stats().BreakerTripped)
	assert.Contains(t, a.proxy.Quotes(t.Context(), []string{"OANDA:EUR_USD"}), "OANDA:EUR_USD")
}
