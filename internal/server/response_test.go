package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectara/vectara-mcp/internal/log"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	data := map[string]string{"message": "hello"}
	writeJSON(w, 200, data, log.NewNop())

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "hello", result["message"])
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	w := httptest.NewRecorder()

	writeJSON(w, 200, func() {}, log.NewNop())

	assert.Equal(t, 500, w.Code)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	writeError(w, 429, "rate_limited", rateLimitedMessage, log.NewNop())

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result errorBody
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "rate_limited", result.Error)
	assert.Equal(t, rateLimitedMessage, result.Message)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "60", retryAfter(60*time.Second))
	assert.Equal(t, "1", retryAfter(500*time.Millisecond))
}
