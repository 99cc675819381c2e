package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"votegate/internal/config"
	"votegate/internal/engine"
	"votegate/internal/notify"
	"votegate/internal/session"
	"votegate/internal/template"
	"votegate/internal/votechain"
)

// onePixelPNG is a valid 1x1 PNG, base64 encoded.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// fakeExtractor returns a canned embedding or error without an embedding
// service.
type fakeExtractor struct {
	embedding []float32
	err       error
}

func (f *fakeExtractor) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{TTL: 10 * time.Minute},
		Matching: config.MatchingConfig{
			Purposes: map[string]config.PurposeMatching{
				"admin_auth":       {Threshold: 0.4},
				"voter_auth":       {Threshold: 0.4},
				"voter_enrollment": {Threshold: 0.4},
			},
			MinConfidence: 0.5,
		},
	}
}

// testEnv bundles the wired verification stack for handler tests.
type testEnv struct {
	engine    *engine.Engine
	broker    *notify.Broker
	sessions  *session.MemoryStore
	templates template.Store
	index     *template.Index
	extractor *fakeExtractor
}

// newTestEnv wires an engine over in-memory stores and a fake extractor.
// withLedger additionally attaches a throwaway SQLite ballot ledger.
func newTestEnv(t *testing.T, withLedger bool) *testEnv {
	t.Helper()

	sessions := session.NewMemoryStore()
	templates := template.NewMemoryStore()
	index := template.NewIndex()
	broker := notify.NewBroker(50 * time.Millisecond)
	extractor := &fakeExtractor{embedding: []float32{1, 0, 0}}

	var ledger *votechain.Ledger
	if withLedger {
		var err error
		ledger, err = votechain.NewLedger(filepath.Join(t.TempDir(), "ballots.db"))
		if err != nil {
			t.Fatalf("NewLedger() error: %v", err)
		}
		t.Cleanup(func() { ledger.Close() })
	}

	eng := engine.New(testConfig(), sessions, templates, index, extractor, broker, nil, ledger)
	return &testEnv{
		engine:    eng,
		broker:    broker,
		sessions:  sessions,
		templates: templates,
		index:     index,
		extractor: extractor,
	}
}

// enrollSubject seeds a face template directly into the stores.
func (env *testEnv) enrollSubject(t *testing.T, subjectID string, embedding []float32) {
	t.Helper()
	if err := env.templates.Put(context.Background(), template.Template{
		SubjectID: subjectID, Embedding: embedding, EnrolledAt: time.Now(),
	}); err != nil {
		t.Fatalf("enroll template: %v", err)
	}
	env.index.Upsert(subjectID, embedding)
}

// matchedSession drives a session to matched via the engine.
func (env *testEnv) matchedSession(t *testing.T, purpose, subjectID, electionID string) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := env.engine.CreateSession(ctx, purpose, subjectID, electionID)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	sess, err = env.engine.SubmitImage(ctx, sess.ID, onePixelPNG)
	if err != nil {
		t.Fatalf("SubmitImage() error: %v", err)
	}
	if sess.Status != session.StatusMatched {
		t.Fatalf("expected matched session, got %s (%s)", sess.Status, sess.FailReason)
	}
	return sess
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}
