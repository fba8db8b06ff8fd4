package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSplitFullMethod(t *testing.T) {
	svc, m := splitFullMethod("/chatline.v1.ChatService/GetStatus")
	if svc != "chatline.v1.ChatService" || m != "GetStatus" {
		t.Errorf("split = %q %q", svc, m)
	}
	svc, m = splitFullMethod("bogus")
	if svc != "unknown" || m != "unknown" {
		t.Errorf("split bogus = %q %q", svc, m)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	ObservePoll(true, 10*time.Millisecond, 3)
	IncOutbound("message", true)

	r := Router(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"chatline_polls_total", "chatline_merged_messages_total", "chatline_outbound_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestHealthz(t *testing.T) {
	healthy := Router(func() error { return nil })
	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d", w.Code)
	}

	sick := Router(func() error { return errors.New("database closed") })
	w = httptest.NewRecorder()
	sick.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "database closed") {
		t.Errorf("body = %s", w.Body.String())
	}
}
