package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

// TestParseLevel tests level names and the fallback.
func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"INFO":     zerolog.InfoLevel,
		" warn ":   zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"off":      zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"chatty":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

// TestNewWithWriter tests level filtering and the service field.
func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn", ServiceName: "chatrelay"}, &buf)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "chatrelay", entry[FieldService])
}

// TestAudit tests the audit entry shape.
func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info"}, &buf)

	Audit(logger, ActionJoin, "c1", "alice", "user joined")
	entry := decodeLine(t, &buf)
	assert.Equal(t, LogTypeAudit, entry[FieldLogType])
	assert.Equal(t, ActionJoin, entry[FieldAction])
	assert.Equal(t, "c1", entry[FieldConnID])
	assert.Equal(t, "alice", entry[FieldUsername])
}

// TestContextLogger tests storing and retrieving a logger from a context.
func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info"}, &buf).With().Str("scope", "test").Logger()

	ctx := WithLogger(context.Background(), logger)
	l := Ctx(ctx)
	l.Info().Msg("from context")
	assert.Equal(t, "test", decodeLine(t, &buf)["scope"])
}

// TestHTTPMiddleware tests the access log line and request id propagation.
func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info"}, &buf)

	var sawLogger bool
	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := Ctx(r.Context())
		sawLogger = l.GetLevel() == zerolog.InfoLevel
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, sawLogger)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-42", entry[FieldRequestID])
	assert.Equal(t, "/api/status", entry[FieldPath])
	assert.EqualValues(t, http.StatusTeapot, entry[FieldStatus])
}

// TestHTTPMiddlewareIgnoresForwardedFor tests that the logged client address
// comes from the connection, not from request headers.
func TestHTTPMiddlewareIgnoresForwardedFor(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info"}, &buf)
	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.RemoteAddr = "198.51.100.7:4242"
	req.Header.Set("X-Forwarded-For", "10.9.8.7, 203.0.113.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.7", decodeLine(t, &buf)[FieldClientIP])
}
