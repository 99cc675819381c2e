// Package engine orchestrates verification sessions: it accepts captures,
// runs them through the face matcher, drives the session state machine, and
// fans outcomes out to subscribers and the ballot ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"votegate/internal/config"
	"votegate/internal/facematch"
	"votegate/internal/notify"
	"votegate/internal/session"
	"votegate/internal/template"
	"votegate/internal/votechain"
)

var (
	// ErrSessionNotAcceptingInput means the session already received a
	// capture or reached a terminal status.
	ErrSessionNotAcceptingInput = errors.New("session is not accepting input")

	// ErrSubjectRequired means the session purpose needs a subject id at
	// creation time.
	ErrSubjectRequired = errors.New("subject id is required for this purpose")

	// ErrElectionMismatch means a ballot was cast against a different
	// election than the one the session authorized.
	ErrElectionMismatch = errors.New("session does not authorize this election")
)

// Extractor produces a face embedding from raw image bytes.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) ([]float32, error)
}

// Engine wires the verification flow together.
type Engine struct {
	cfg       *config.Config
	sessions  session.Store
	templates template.Store
	index     *template.Index
	extractor Extractor
	broker    *notify.Broker
	chat      *notify.ChatNotifier
	ledger    *votechain.Ledger

	now func() time.Time
}

// New creates an engine. The chat notifier and ledger may be nil; the
// corresponding features are then disabled.
func New(cfg *config.Config, sessions session.Store, templates template.Store,
	index *template.Index, extractor Extractor, broker *notify.Broker,
	chat *notify.ChatNotifier, ledger *votechain.Ledger) *Engine {
	return &Engine{
		cfg:       cfg,
		sessions:  sessions,
		templates: templates,
		index:     index,
		extractor: extractor,
		broker:    broker,
		chat:      chat,
		ledger:    ledger,
		now:       time.Now,
	}
}

// CreateSession opens a new pending verification session.
//
// Admin authentication and enrollment need a subject up front. Voter
// authentication may omit it: the capture is then identified against all
// enrolled templates.
func (e *Engine) CreateSession(ctx context.Context, purpose, subjectID, electionID string) (*session.Session, error) {
	p, err := session.ParsePurpose(purpose)
	if err != nil {
		return nil, err
	}
	if subjectID == "" && p != session.PurposeVoterAuth {
		return nil, ErrSubjectRequired
	}

	sess, err := e.sessions.Create(ctx, p, subjectID, electionID, e.cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("session %s created: purpose=%s subject=%q", sess.ID, p, subjectID)
	return sess, nil
}

// GetSession returns current session state, lazily expiring overdue sessions.
func (e *Engine) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusExpired {
		e.noteExpiry(sess.ID)
	}
	return sess, nil
}

// noteExpiry pushes the expiry to live stream subscribers when the store
// reports the lazy flip. Expiry is terminal, so the channel closes after the
// grace period.
func (e *Engine) noteExpiry(sessionID string) {
	if e.broker.SubscriberCount(sessionID) == 0 {
		return
	}
	e.broker.CloseSession(sessionID, notify.StatusUpdate(string(session.StatusExpired), "Session expired"))
}

// SubmitImage runs a capture through the verification flow and returns the
// session in its resulting state.
//
// A malformed payload leaves the session pending so the client can resend.
// Once the capture decodes, the session commits to this attempt: every
// later outcome, including detection failures, is terminal.
func (e *Engine) SubmitImage(ctx context.Context, sessionID, payload string) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusExpired {
		e.noteExpiry(sess.ID)
		return sess, session.ErrExpired
	}
	if sess.Status != session.StatusPending {
		return sess, ErrSessionNotAcceptingInput
	}

	imageData, err := facematch.DecodeCapture(payload)
	if err != nil {
		return sess, err
	}

	sess, err = e.sessions.Transition(ctx, sessionID, session.StatusImageReceived, nil)
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			// A concurrent submission won the race.
			return sess, ErrSessionNotAcceptingInput
		}
		return nil, err
	}
	e.broker.Publish(sessionID, notify.StatusUpdate(string(session.StatusImageReceived), "Image received, verifying"))

	embedding, err := e.extractor.Extract(ctx, imageData)
	if err != nil {
		return e.failSession(ctx, sess, err)
	}

	switch sess.Purpose {
	case session.PurposeVoterEnrollment:
		return e.finishEnrollment(ctx, sess, embedding)
	case session.PurposeVoterAuth:
		if sess.SubjectID == "" {
			return e.finishIdentification(ctx, sess, embedding)
		}
		return e.finishVerification(ctx, sess, embedding)
	default:
		return e.finishVerification(ctx, sess, embedding)
	}
}

// finishEnrollment stores the extracted embedding as the subject's template.
func (e *Engine) finishEnrollment(ctx context.Context, sess *session.Session, embedding []float32) (*session.Session, error) {
	tpl := template.Template{
		SubjectID:  sess.SubjectID,
		Embedding:  embedding,
		EnrolledAt: e.now(),
	}
	if err := e.templates.Put(ctx, tpl); err != nil {
		return e.failSession(ctx, sess, err)
	}
	if e.index != nil {
		e.index.Upsert(sess.SubjectID, embedding)
	}

	sess, terr := e.sessions.Transition(ctx, sess.ID, session.StatusMatched, nil)
	if terr != nil {
		return nil, terr
	}
	e.closeWith(ctx, sess.ID, notify.StatusUpdate(string(session.StatusMatched), "Enrollment complete"))
	log.Printf("session %s: subject %s enrolled", sess.ID, sess.SubjectID)
	return sess, nil
}

// finishVerification compares the capture against the session subject's
// enrolled template (1:1).
func (e *Engine) finishVerification(ctx context.Context, sess *session.Session, embedding []float32) (*session.Session, error) {
	tpl, err := e.templates.Get(ctx, sess.SubjectID)
	if err != nil {
		return e.failSession(ctx, sess, err)
	}

	threshold := e.cfg.Matching.Threshold(string(sess.Purpose))
	decision := facematch.Decide(embedding, tpl.Embedding, threshold)
	return e.settleDecision(ctx, sess, decision, sess.SubjectID)
}

// finishIdentification resolves the capture against all enrolled templates
// (1:N) and verifies the best candidate.
func (e *Engine) finishIdentification(ctx context.Context, sess *session.Session, embedding []float32) (*session.Session, error) {
	if e.index == nil || e.index.Count() == 0 {
		return e.failSession(ctx, sess, errors.New("no enrolled templates to identify against"))
	}

	matches, err := e.index.Nearest(embedding, 1)
	if err != nil {
		return e.failSession(ctx, sess, err)
	}

	threshold := e.cfg.Matching.Threshold(string(sess.Purpose))
	best := matches[0]
	decision := facematch.Decision{
		IsMatch:    best.Distance <= threshold,
		Distance:   best.Distance,
		Confidence: facematch.DistanceConfidence(best.Distance),
		Threshold:  threshold,
	}
	return e.settleDecision(ctx, sess, decision, best.SubjectID)
}

// settleDecision applies a match decision to the session and publishes the
// outcome.
func (e *Engine) settleDecision(ctx context.Context, sess *session.Session, decision facematch.Decision, subjectID string) (*session.Session, error) {
	confidence := decision.Confidence
	matched := decision.IsMatch && confidence >= e.cfg.Matching.MinConfidence

	if matched {
		sess, err := e.sessions.Transition(ctx, sess.ID, session.StatusMatched, func(s *session.Session) {
			s.SubjectID = subjectID
			s.Confidence = &confidence
		})
		if err != nil {
			return nil, err
		}
		e.closeWith(ctx, sess.ID, notify.StatusUpdate(string(session.StatusMatched), "Face verified"))
		log.Printf("session %s: subject %s matched (distance=%.4f confidence=%.4f)",
			sess.ID, subjectID, decision.Distance, confidence)
		return sess, nil
	}

	reason := "Face does not match the enrolled template"
	if decision.IsMatch {
		reason = "Match confidence below the acceptance floor"
	}
	sess, err := e.sessions.Transition(ctx, sess.ID, session.StatusRejected, func(s *session.Session) {
		s.FailReason = reason
		s.Confidence = &confidence
	})
	if err != nil {
		return nil, err
	}
	e.closeWith(ctx, sess.ID, notify.ErrorEvent(reason))
	log.Printf("session %s: rejected (distance=%.4f threshold=%.4f)", sess.ID, decision.Distance, decision.Threshold)
	return sess, nil
}

// failSession moves the session to errored with a user-visible reason and
// returns the original error for transport mapping.
func (e *Engine) failSession(ctx context.Context, sess *session.Session, cause error) (*session.Session, error) {
	reason := failReason(cause)
	updated, terr := e.sessions.Transition(ctx, sess.ID, session.StatusErrored, func(s *session.Session) {
		s.FailReason = reason
	})
	if terr != nil {
		log.Printf("session %s: failed to record error state: %v", sess.ID, terr)
		updated = sess
	}
	e.closeWith(ctx, updated.ID, notify.ErrorEvent(reason))
	return updated, cause
}

// failReason maps internal errors to the message published on the session
// channel.
func failReason(err error) string {
	switch {
	case errors.Is(err, facematch.ErrNoFaceDetected):
		return "No face detected in the image"
	case errors.Is(err, facematch.ErrMultipleFacesDetected):
		return "Multiple faces detected, retry with a single face"
	case errors.Is(err, template.ErrNotFound):
		return "No enrolled face template for this subject"
	case errors.Is(err, template.ErrAlreadyEnrolled):
		return "Subject is already enrolled"
	default:
		return "Verification failed due to an internal error"
	}
}

// closeWith publishes the terminal event and mirrors it to the chat
// collaborator.
func (e *Engine) closeWith(ctx context.Context, sessionID string, event notify.Event) {
	e.broker.CloseSession(sessionID, event)
	e.chat.Notify(ctx, sessionID, event)
}

// CastVote spends a matched voter session's authorization and appends the
// sealed ballot to the election chain. The authorization is consumed exactly
// once even under concurrent casts.
func (e *Engine) CastVote(ctx context.Context, sessionID, electionID, choice string) (*votechain.Ballot, error) {
	if e.ledger == nil {
		return nil, errors.New("ballot ledger is not configured")
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Purpose != session.PurposeVoterAuth {
		return nil, session.ErrNotConsumable
	}
	if sess.ElectionID != "" && sess.ElectionID != electionID {
		return nil, ErrElectionMismatch
	}

	sess, err = e.sessions.Consume(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ballot, err := e.ledger.Append(ctx, electionID, sess.SubjectID, choice, e.now())
	if err != nil {
		// No ballot was recorded, so the verified authorization must
		// survive for a retry.
		if _, rerr := e.sessions.Release(ctx, sessionID); rerr != nil {
			log.Printf("session %s: releasing authorization after failed append: %v", sessionID, rerr)
		}
		return nil, err
	}
	log.Printf("ballot sealed: election=%s seq=%d session=%s", electionID, ballot.Seq, sessionID)
	return ballot, nil
}

// VerifyElection audits an election's ballot chain.
func (e *Engine) VerifyElection(ctx context.Context, electionID string) (votechain.Report, error) {
	if e.ledger == nil {
		return votechain.Report{}, errors.New("ballot ledger is not configured")
	}
	return e.ledger.Verify(ctx, electionID)
}

// ElectionChain returns the sealed ballots of an election in order.
func (e *Engine) ElectionChain(ctx context.Context, electionID string) ([]votechain.Ballot, error) {
	if e.ledger == nil {
		return nil, errors.New("ballot ledger is not configured")
	}
	return e.ledger.Chain(ctx, electionID)
}
