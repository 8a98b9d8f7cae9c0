package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewDefaultsToJSON(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))
	log.Debug("hidden")
	log.Info("charged", logger.SubscriptionID("sub_A"))

	entry := decode(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "charged", entry["msg"])
	assert.Equal(t, "sub_A", entry["subscription_id"])
}

func TestFormats(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter()).Info("hello")
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("last option wins", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter(), logger.WithJSONFormatter()).Info("hello")
		assert.Equal(t, "hello", decode(t, buf)["msg"])
	})

	t.Run("unknown format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat(logger.Format("xml"))) })
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env       string
		want      string
		debugSeen bool
	}{
		{env: "production", want: logger.EnvProduction},
		{env: "prod", want: logger.EnvProduction},
		{env: "staging", want: logger.EnvStaging},
		{env: "STAGE", want: logger.EnvStaging},
		{env: "development", want: logger.EnvDevelopment, debugSeen: true},
		{env: "", want: logger.EnvDevelopment, debugSeen: true},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.env, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(logger.WithEnvironment(tt.env, "subkit"), logger.WithOutput(buf))
			log.Debug("probe")
			log.Info("msg")
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "subkit")
			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("probe")))
		})
	}

	t.Run("empty service is ignored", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithProduction(""), logger.WithOutput(buf)).Info("msg")
		assert.NotContains(t, decode(t, buf), "service")
	})
}

func TestWithLevelName(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithProduction("subkit"), logger.WithLevelName("warn"), logger.WithOutput(buf))
	log.Info("dropped")
	assert.Empty(t, buf.String())
	log.Warn("kept")
	assert.Equal(t, "kept", decode(t, buf)["msg"])

	buf.Reset()
	logger.New(logger.WithLevel(slog.LevelError), logger.WithLevel(nil), logger.WithOutput(buf)).Warn("dropped")
	assert.Empty(t, buf.String())

	assert.NotPanics(t, func() { logger.New(logger.WithLevelName("")) })
	assert.Panics(t, func() { logger.New(logger.WithLevelName("loud")) })
}

func TestContextExtraction(t *testing.T) {
	t.Parallel()

	type key string
	const reqKey key = "req"

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextValue("request_id", reqKey),
		logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
			return slog.String("tenant", "acme"), true
		}),
	)

	log.InfoContext(context.WithValue(context.Background(), reqKey, "r-1"), "with")
	entry := decode(t, buf)
	assert.Equal(t, "r-1", entry["request_id"])
	assert.Equal(t, "acme", entry["tenant"])

	buf.Reset()
	log.With(logger.Component("reconciler")).WithGroup("webhook").InfoContext(context.Background(), "without", slog.String("event", "e1"))
	entry = decode(t, buf)
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, "reconciler", entry["component"])
	assert.Equal(t, map[string]any{"event": "e1", "tenant": "acme"}, entry["webhook"])
}

func TestNewContextHandlerWithoutExtractors(t *testing.T) {
	t.Parallel()

	h := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	assert.Same(t, h, logger.NewContextHandler(h))
}

func TestSetAsDefaultAndDiscard(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])

	assert.NotPanics(t, func() { logger.Discard().ErrorContext(context.Background(), "dropped") })
}
