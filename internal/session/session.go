// Package session holds the verification session state machine and its
// storage backends. A session is the unit of identity proofing: one capture
// attempt, one outcome.
package session

import (
	"fmt"
	"time"
)

// Purpose says why a verification session exists.
type Purpose string

const (
	PurposeAdminAuth       Purpose = "admin_auth"
	PurposeVoterAuth       Purpose = "voter_auth"
	PurposeVoterEnrollment Purpose = "voter_enrollment"
)

// ParsePurpose validates a wire-level purpose string.
func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeAdminAuth, PurposeVoterAuth, PurposeVoterEnrollment:
		return Purpose(s), nil
	}
	return "", fmt.Errorf("unknown session purpose %q", s)
}

// Status is the lifecycle state of a verification session.
type Status string

const (
	StatusPending       Status = "pending"
	StatusImageReceived Status = "image_received"
	StatusMatched       Status = "matched"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
	StatusErrored       Status = "errored"
)

// Terminal reports whether a status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusMatched, StatusRejected, StatusExpired, StatusErrored:
		return true
	}
	return false
}

// legalTransitions is the session state machine. A session never re-enters
// pending, and terminal states absorb.
var legalTransitions = map[Status][]Status{
	StatusPending:       {StatusImageReceived, StatusExpired},
	StatusImageReceived: {StatusMatched, StatusRejected, StatusErrored, StatusExpired},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one in-flight (or finished) verification attempt.
type Session struct {
	ID         string     `json:"id"`
	Purpose    Purpose    `json:"purpose"`
	SubjectID  string     `json:"subject_id,omitempty"` // empty until resolved for enrollment / identify mode
	ElectionID string     `json:"election_id,omitempty"`
	Status     Status     `json:"status"`
	FailReason string     `json:"fail_reason,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"` // vote authorization used
}

// Overdue reports whether the session has outlived its TTL.
func (s *Session) Overdue(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a copy safe to hand to callers while the store keeps mutating
// its own instance.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Confidence != nil {
		v := *s.Confidence
		cp.Confidence = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		cp.FinishedAt = &v
	}
	if s.ConsumedAt != nil {
		v := *s.ConsumedAt
		cp.ConsumedAt = &v
	}
	return &cp
}
