package facematch

import "errors"

var (
	// ErrNoFaceDetected means the capture contained no detectable face.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrMultipleFacesDetected means the capture contained more than one
	// face with comparable detection confidence. The policy is to reject
	// rather than guess which face belongs to the subject.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")

	// ErrMalformedImage means the payload could not be decoded as an image.
	ErrMalformedImage = errors.New("malformed image payload")
)
