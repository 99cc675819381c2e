package facematch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeFaceService returns an embedding service stub that always responds with
// the given detections.
func fakeFaceService(t *testing.T, faces []FaceDetection) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(faceResponse{
			FacesCount: len(faces),
			Faces:      faces,
			Model:      "facenet-test",
		})
	}))
}

func TestExtractSingleFace(t *testing.T) {
	server := fakeFaceService(t, []FaceDetection{
		{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 2, 3}, BBox: []float64{0, 0, 100, 100}, DetScore: 0.99},
	})
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	embedding, err := client.Extract(context.Background(), []byte("capture"))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(embedding) != 3 || embedding[0] != 1 {
		t.Errorf("unexpected embedding: %v", embedding)
	}
}

func TestExtractNoFace(t *testing.T) {
	server := fakeFaceService(t, nil)
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	_, err := client.Extract(context.Background(), []byte("capture"))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestExtractMultipleComparableFaces(t *testing.T) {
	server := fakeFaceService(t, []FaceDetection{
		{FaceIndex: 0, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 100, 100}, DetScore: 0.95},
		{FaceIndex: 1, Embedding: []float32{0, 1, 0}, BBox: []float64{100, 0, 180, 80}, DetScore: 0.90},
	})
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	_, err := client.Extract(context.Background(), []byte("capture"))
	if !errors.Is(err, ErrMultipleFacesDetected) {
		t.Errorf("expected ErrMultipleFacesDetected, got %v", err)
	}
}

func TestExtractIgnoresLowConfidenceSecondFace(t *testing.T) {
	// Second face well below the comparable ratio: treat it as noise and
	// use the largest region.
	server := fakeFaceService(t, []FaceDetection{
		{FaceIndex: 0, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 200, 200}, DetScore: 0.99},
		{FaceIndex: 1, Embedding: []float32{0, 1, 0}, BBox: []float64{0, 0, 20, 20}, DetScore: 0.30},
	})
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	embedding, err := client.Extract(context.Background(), []byte("capture"))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if embedding[0] != 1 {
		t.Errorf("expected the largest face's embedding, got %v", embedding)
	}
}

func TestExtractPrefersLargestRegion(t *testing.T) {
	// Both faces detected, but only one scores near the top; the primary is
	// chosen by bbox area among survivors.
	server := fakeFaceService(t, []FaceDetection{
		{FaceIndex: 0, Embedding: []float32{0, 1, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.99},
		{FaceIndex: 1, Embedding: []float32{1, 0, 0}, BBox: []float64{0, 0, 300, 300}, DetScore: 0.50},
	})
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	embedding, err := client.Extract(context.Background(), []byte("capture"))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if embedding[0] != 1 {
		t.Errorf("expected the largest region's embedding, got %v", embedding)
	}
}

func TestMatchAgainstReference(t *testing.T) {
	server := fakeFaceService(t, []FaceDetection{
		{FaceIndex: 0, Embedding: []float32{1, 0.05, 0}, BBox: []float64{0, 0, 100, 100}, DetScore: 0.99},
	})
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	decision, err := client.Match(context.Background(), []byte("capture"), []float32{1, 0, 0}, 0.4)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if !decision.IsMatch {
		t.Errorf("expected a match, distance %v", decision.Distance)
	}

	decision, err = client.Match(context.Background(), []byte("capture"), []float32{0, 0, 1}, 0.4)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if decision.IsMatch {
		t.Errorf("expected a mismatch, distance %v", decision.Distance)
	}
}

func TestExtractServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0.8, time.Second)
	_, err := client.Extract(context.Background(), []byte("capture"))
	if err == nil {
		t.Fatal("expected an error from a failing service")
	}
	if errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrMultipleFacesDetected) {
		t.Errorf("service failure must not masquerade as a detection outcome: %v", err)
	}
}
