package facematch

import (
	"encoding/base64"
	"errors"
	"testing"
)

// onePixelPNG is a valid 1x1 PNG, base64 encoded.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func TestDecodeCapture(t *testing.T) {
	data, err := DecodeCapture(onePixelPNG)
	if err != nil {
		t.Fatalf("DecodeCapture() error: %v", err)
	}
	if detectMIMEType(data) != "image/png" {
		t.Errorf("expected PNG bytes, got %s", detectMIMEType(data))
	}
}

func TestDecodeCaptureDataURL(t *testing.T) {
	data, err := DecodeCapture("data:image/png;base64," + onePixelPNG)
	if err != nil {
		t.Fatalf("DecodeCapture() with data URL error: %v", err)
	}
	if detectMIMEType(data) != "image/png" {
		t.Errorf("expected PNG bytes, got %s", detectMIMEType(data))
	}
}

func TestDecodeCaptureErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ""},
		{"not base64", "!!!not-base64!!!"},
		{"base64 but not an image", base64.StdEncoding.EncodeToString([]byte("plain text"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCapture(tt.payload)
			if !errors.Is(err, ErrMalformedImage) {
				t.Errorf("expected ErrMalformedImage, got %v", err)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0, 0}, "image/gif"},
		{"webp", []byte{0x52, 0x49, 0x46, 0x46, 0, 0, 0, 0, 0x57, 0x45, 0x42, 0x50}, "image/webp"},
		{"unknown", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, "application/octet-stream"},
		{"too short", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.expected {
				t.Errorf("detectMIMEType() = %s, want %s", got, tt.expected)
			}
		})
	}
}
