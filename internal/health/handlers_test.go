package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbound-backend/internal/database/dbtest"
)

type fakeQueue struct{ healthy bool }

func (f fakeQueue) Backend() string { return "memory" }
func (f fakeQueue) Healthy() bool   { return f.healthy }

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)

	for _, tc := range []struct {
		name  string
		queue Dependency
		code  int
	}{
		{"ready", fakeQueue{healthy: true}, http.StatusOK},
		{"queue down", fakeQueue{healthy: false}, http.StatusServiceUnavailable},
		{"no queue", nil, http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/ready", HandleSystemReady(db, tc.queue))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tc.code, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, true, body["database"])
			assert.Equal(t, serviceName, body["service"])
		})
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HandleHealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}
