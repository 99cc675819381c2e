package facematch

import "context"

// Decision is the outcome of comparing a capture against a stored template.
// It is ephemeral: decisions are acted on, never persisted.
type Decision struct {
	IsMatch    bool
	Distance   float64
	Confidence float64 // monotonic transform of distance into [0, 1]
	Threshold  float64
}

// Decide turns an embedding pair into a match decision for the given
// cosine distance threshold.
func Decide(embedding, reference []float32, threshold float64) Decision {
	distance := CosineDistance(embedding, reference)
	return Decision{
		IsMatch:    distance <= threshold,
		Distance:   distance,
		Confidence: DistanceConfidence(distance),
		Threshold:  threshold,
	}
}

// Match extracts the face embedding from the capture and compares it against
// the reference template. Pure with respect to storage: no side effects.
func (c *Client) Match(ctx context.Context, imageData []byte, reference []float32, threshold float64) (Decision, error) {
	embedding, err := c.Extract(ctx, imageData)
	if err != nil {
		return Decision{}, err
	}
	return Decide(embedding, reference, threshold), nil
}
