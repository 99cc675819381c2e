// Package template stores enrolled face templates. One active template per
// subject; re-enrollment replaces the previous vector outright.
package template

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no template is enrolled for the subject.
	ErrNotFound = errors.New("face template not found")

	// ErrAlreadyEnrolled means the subject already has an active template
	// and the caller did not ask for a replacement.
	ErrAlreadyEnrolled = errors.New("subject already enrolled")
)

// Template is a subject's enrolled face embedding.
type Template struct {
	SubjectID  string
	Embedding  []float32
	EnrolledAt time.Time
}

// Store is the face template repository.
//
// Verification reads whatever template value exists at the moment of the
// read; enrollment racing a concurrent verification is an accepted
// inconsistency window, not an error.
type Store interface {
	// Get returns the active template for a subject.
	Get(ctx context.Context, subjectID string) (*Template, error)

	// Put enrolls a new subject. Fails with ErrAlreadyEnrolled when an
	// active template exists.
	Put(ctx context.Context, tpl Template) error

	// Replace overwrites the subject's template, enrolling if absent.
	// The old vector is not retained.
	Replace(ctx context.Context, tpl Template) error

	// Delete removes a subject's template.
	Delete(ctx context.Context, subjectID string) error

	// All returns every active template, for index builds and audits.
	All(ctx context.Context) ([]Template, error)
}
