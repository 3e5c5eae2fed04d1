package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// TestHealthHandler tests the plain-text liveness endpoint on both paths.
func TestHealthHandler(t *testing.T) {
	relay := startTestRelay(t, RelayConfig{})
	router := SetupRoutes(NewHandlers(relay, testConfig(), zerolog.Nop()))

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		assert.Equal(t, "Chat relay is running!", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

// TestStatusHandler tests that the status endpoint reports live counts.
func TestStatusHandler(t *testing.T) {
	relay := startTestRelay(t, RelayConfig{})
	router := SetupRoutes(NewHandlers(relay, testConfig(), zerolog.Nop()))

	connect(t, relay, "a")
	connect(t, relay, "b")
	submit(t, relay, "a", chat.JoinCommand{Username: "alice"})
	submit(t, relay, "a", chat.SendMessageCommand{Body: "one"})
	submit(t, relay, "a", chat.SendMessageCommand{Body: "two"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Chat server running", body["status"])
	assert.EqualValues(t, 1, body["connectedUsers"])
	assert.EqualValues(t, 2, body["messageCount"])
}

// TestWebSocketHandlerRejectsNonGet tests the method check on /ws.
func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	relay := startTestRelay(t, RelayConfig{})
	router := SetupRoutes(NewHandlers(relay, testConfig(), zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ws", http.NoBody))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// TestWebSocketHandlerRequiresUpgrade tests a plain GET on /ws.
func TestWebSocketHandlerRequiresUpgrade(t *testing.T) {
	relay := startTestRelay(t, RelayConfig{})
	router := SetupRoutes(NewHandlers(relay, testConfig(), zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, relay.Status().ConnectedUsers)
}
