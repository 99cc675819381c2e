package facematch

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"scaled copies are identical", []float32{1, 2, 3}, []float32{2, 4, 6}, 0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 2},
		{"empty vectors", []float32{}, []float32{}, 2},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CosineDistance() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDistanceConfidenceMonotonic(t *testing.T) {
	distances := []float64{0, 0.1, 0.4, 0.8, 1.0, 1.5, 2.0}
	prev := math.Inf(1)
	for _, d := range distances {
		c := DistanceConfidence(d)
		if c < 0 || c > 1 {
			t.Fatalf("confidence %v for distance %v outside [0,1]", c, d)
		}
		if c > prev {
			t.Fatalf("confidence not monotonic: distance %v gave %v > previous %v", d, c, prev)
		}
		prev = c
	}

	if DistanceConfidence(0) != 1 {
		t.Errorf("zero distance should give confidence 1")
	}
	if DistanceConfidence(2) != 0 {
		t.Errorf("maximum distance should give confidence 0")
	}
}

func TestDecide(t *testing.T) {
	ref := []float32{1, 0, 0}

	d := Decide([]float32{1, 0.01, 0}, ref, 0.4)
	if !d.IsMatch {
		t.Errorf("near-identical embedding should match, distance %v", d.Distance)
	}
	if d.Confidence < 0.9 {
		t.Errorf("expected high confidence, got %v", d.Confidence)
	}

	d = Decide([]float32{0, 1, 0}, ref, 0.4)
	if d.IsMatch {
		t.Errorf("orthogonal embedding should not match, distance %v", d.Distance)
	}
	if d.Threshold != 0.4 {
		t.Errorf("decision should carry the threshold used, got %v", d.Threshold)
	}
}
