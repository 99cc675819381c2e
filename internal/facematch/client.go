// Package facematch turns captures into embeddings via the face embedding
// service and decides whether two embeddings belong to the same person.
package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultServiceURL = "http://localhost:8000"

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client extracts face embeddings using an external embedding service.
// The service runs the actual detection and embedding model; the client owns
// the selection policy (largest face wins, comparable second face rejects).
type Client struct {
	baseURL         string
	comparableRatio float64
	client          *http.Client
}

// NewClient creates a face embedding client. comparableRatio controls when a
// secondary face counts as ambiguous: a capture is rejected when the second
// best detection score is at least comparableRatio times the best one.
func NewClient(baseURL string, comparableRatio float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	if comparableRatio <= 0 || comparableRatio > 1 {
		comparableRatio = 0.8
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		comparableRatio: comparableRatio,
		client:          &http.Client{Timeout: timeout},
	}
}

// postMultipartImage constructs a multipart form with the image data and posts
// it to the given endpoint. The part carries an explicit Content-Type header
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="capture.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectFaces posts the capture to the embedding service and returns the raw
// detections.
func (c *Client) detectFaces(ctx context.Context, imageData []byte) ([]FaceDetection, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return faceResp.Faces, nil
}

// bboxArea returns the pixel area of a [x1, y1, x2, y2] bounding box.
func bboxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// selectPrimaryFace picks the largest detected face region. It fails with
// ErrNoFaceDetected for an empty detection set and ErrMultipleFacesDetected
// when another face has a comparable detection score.
func selectPrimaryFace(faces []FaceDetection, comparableRatio float64) (*FaceDetection, error) {
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	bestScore := faces[0].DetScore
	for i := 1; i < len(faces); i++ {
		if faces[i].DetScore > bestScore {
			bestScore = faces[i].DetScore
		}
	}

	comparable := 0
	for i := range faces {
		if faces[i].DetScore >= bestScore*comparableRatio {
			comparable++
		}
	}
	if comparable > 1 {
		return nil, ErrMultipleFacesDetected
	}

	primary := &faces[0]
	for i := 1; i < len(faces); i++ {
		if bboxArea(faces[i].BBox) > bboxArea(primary.BBox) {
			primary = &faces[i]
		}
	}

	if len(primary.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned a face without an embedding")
	}
	return primary, nil
}

// Extract returns the embedding of the single unambiguous face in the capture.
// This is the enrollment primitive.
func (c *Client) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	faces, err := c.detectFaces(ctx, imageData)
	if err != nil {
		return nil, err
	}

	primary, err := selectPrimaryFace(faces, c.comparableRatio)
	if err != nil {
		return nil, err
	}
	return primary.Embedding, nil
}
