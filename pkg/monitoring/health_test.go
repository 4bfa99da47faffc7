package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy")
	}
}

func TestHealthChecker_DegradedAndUnhealthy(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("redis", PingHealthCheck("redis", nil))
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	hc.AddCheck("config", ConfigurationHealthCheck(map[string]string{"API_BASE_URL": ""}))
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
	if names := hc.CheckNames(); len(names) != 2 || names[0] != "config" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestPingHealthCheck(t *testing.T) {
	ok := PingHealthCheck("redis", PingerFunc(func(context.Context) error { return nil }))()
	if ok.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", ok.Status)
	}
	bad := PingHealthCheck("redis", PingerFunc(func(context.Context) error { return errors.New("refused") }))()
	if bad.Status != StatusUnhealthy || !strings.Contains(bad.Message, "refused") {
		t.Fatalf("unexpected result %+v", bad)
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }))
	defer s.Close()
	if res := HTTPServiceHealthCheck("camera-api", s.URL)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }))
	defer down.Close()
	if res := HTTPServiceHealthCheck("camera-api", down.URL)(); res.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %+v", res)
	}
}

func TestMetricsCollectorsAreIndependent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewMetricsCollector("stream-viewer", "v1", "abc")
	b := NewMetricsCollector("stream-viewer", "v1", "abc")

	frames := a.NewCounter("frames_total", "frames", []string{"camera_id"})
	b.NewCounter("frames_total", "frames", []string{"camera_id"})
	frames.WithLabelValues("42").Add(3)

	if got := testutil.ToFloat64(frames.WithLabelValues("42")); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}

	r := gin.New()
	r.Use(a.MetricsMiddleware())
	r.GET("/metrics", a.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "stream_viewer_frames_total") {
		t.Fatalf("expected prefixed metric in output")
	}
}
