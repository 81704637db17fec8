package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("gw-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordTransaction("ping", true, "ok", 3*time.Millisecond)

	before := testutil.ToFloat64(dispatched.WithLabelValues("metrics-test", "ping", "replied"))
	RecordDispatch("metrics-test", "ping", "replied")
	after := testutil.ToFloat64(dispatched.WithLabelValues("metrics-test", "ping", "replied"))
	if after-before != 1 {
		t.Fatalf("dispatch counter delta: got %v want 1", after-before)
	}
}

func TestGatewayMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GatewayMiddleware("mw-test", zerolog.Nop()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/nope", "/nope/again"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/health", "200")); got != 1 {
		t.Fatalf("health count: %v", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "unmatched", "404")); got != 2 {
		t.Fatalf("unmatched count: %v", got)
	}
}
