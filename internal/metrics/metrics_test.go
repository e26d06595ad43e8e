package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/positions/{userID}/{mint}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Two different users must land on the same label, not two.
	for _, path := range []string{
		"/api/v1/positions/user1/So11111111111111111111111111111111111111112",
		"/api/v1/positions/user2/EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, w.Code)
		}
	}

	pattern := "/api/v1/positions/{userID}/{mint}"
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", pattern, "200")); got != 2 {
		t.Errorf("expected 2 requests under pattern label, got %v", got)
	}

	raw := "/api/v1/positions/user1/So11111111111111111111111111111111111111112"
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", raw, "200")); got != 0 {
		t.Errorf("raw path must not appear as a label, got %v", got)
	}
}
