package server

import (
	"bytes"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(requestLogger(zerolog.New(&buf)))
	r.GET("/ping/:id", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("inside")
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping/1", nil)
	req.Header.Set(headerRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "req-42" {
		t.Fatalf("request id header = %q", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2: %s", len(lines), buf.String())
	}
	for _, want := range []string{`"request_id":"req-42"`, `"path":"/ping/:id"`, `"status":418`, `"level":"warn"`} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("access log %s missing %s", lines[1], want)
		}
	}
	if !strings.Contains(lines[0], `"request_id":"req-42"`) {
		t.Errorf("handler log %s is not request scoped", lines[0])
	}
}

func TestRequestLoggerGeneratesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestLogger(zerolog.Nop()))
	addHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Header().Get(headerRequestID) == "" {
		t.Fatalf("status = %d, request id = %q", w.Code, w.Header().Get(headerRequestID))
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{name: "allow all", origin: "http://anything.test", want: "*"},
		{name: "listed origin", origins: []string{"http://app.test"}, origin: "http://app.test", want: "http://app.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(corsMiddleware(tt.origins))
			addHealth(r)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("allow origin = %q, want %q", got, tt.want)
			}
		})
	}
}
