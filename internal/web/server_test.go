package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"votegate/internal/config"
	"votegate/internal/engine"
	"votegate/internal/notify"
	"votegate/internal/session"
	"votegate/internal/template"
)

type staticExtractor struct{}

func (staticExtractor) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Session: config.SessionConfig{TTL: 10 * time.Minute},
		Matching: config.MatchingConfig{
			Purposes:      map[string]config.PurposeMatching{"voter_auth": {Threshold: 0.4}},
			MinConfidence: 0.5,
		},
	}
	broker := notify.NewBroker(50 * time.Millisecond)
	eng := engine.New(cfg, session.NewMemoryStore(), template.NewMemoryStore(),
		template.NewIndex(), staticExtractor{}, broker, nil, nil)

	return NewServer(cfg, 0, "127.0.0.1", eng, broker)
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestSessionLifecycleThroughRouter(t *testing.T) {
	srv := newTestServer(t)

	body := `{"purpose":"voter_auth","subject_id":"STU008"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// The created session is immediately retrievable through the router.
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("parsing session: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on API responses")
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("expected a deny-all CSP for the JSON API, got %q", csp)
	}
}
