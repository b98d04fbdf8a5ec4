package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func TestRequestLogger(t *testing.T) {
	t.Run("assigns request id and logs completion", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)

		var seenID string
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenID, _ = contextkeys.RequestID(r.Context())
			_, hasLogger := contextkeys.Logger(r.Context())
			assert.True(t, hasLogger)
			w.WriteHeader(http.StatusCreated)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/orgs", nil))

		assert.NotEmpty(t, seenID)
		assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "Request completed", line["msg"])
		assert.Equal(t, seenID, line["request_id"])
		assert.Equal(t, "POST", line["method"])
		assert.Equal(t, float64(http.StatusCreated), line["status"])
	})

	t.Run("propagates caller-supplied request id", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)

		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest("GET", "/orgs/org-1", nil)
		req.Header.Set("X-Request-ID", "req-from-gateway")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-from-gateway", rec.Header().Get("X-Request-ID"))
	})
}
