package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	Init()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", Handler())
	return r
}

func scrape(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddleware_CountsRequests(t *testing.T) {
	r := newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	body := scrape(t, r)
	assert.Contains(t, body, `http_requests_total{endpoint="/ping",method="GET",status="204"} 1`)
	assert.Contains(t, body, `http_request_duration_seconds_count{endpoint="/ping",method="GET"} 1`)
}

func TestHandler_ExposesDomainCollectors(t *testing.T) {
	r := newRouter()
	Init()

	LiveSessions.Set(3)
	AttemptsSubmitted.WithLabelValues("time_up").Inc()

	body := scrape(t, r)
	assert.Contains(t, body, "attempt_live_sessions 3")
	assert.Contains(t, body, `attempt_submissions_total{reason="time_up"} 1`)
}
