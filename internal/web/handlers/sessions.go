package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"votegate/internal/engine"
	"votegate/internal/facematch"
	"votegate/internal/session"
	"votegate/internal/template"
)

// SessionsHandler serves the verification session lifecycle.
type SessionsHandler struct {
	engine *engine.Engine
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(eng *engine.Engine) *SessionsHandler {
	return &SessionsHandler{engine: eng}
}

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	Purpose    string `json:"purpose"`
	SubjectID  string `json:"subject_id"`
	ElectionID string `json:"election_id"`
}

// Create opens a new pending verification session.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	sess, err := h.engine.CreateSession(r.Context(), req.Purpose, req.SubjectID, req.ElectionID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sess)
}

// Get returns the current session state. The chat bot polls this endpoint for
// the verification outcome.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// submitImageRequest is the body of POST /sessions/{id}/image.
type submitImageRequest struct {
	Image string `json:"image"`
}

// submitImageResponse mirrors the browser-facing verification wire format.
type submitImageResponse struct {
	Status   string           `json:"status"`
	Verified bool             `json:"verified"`
	Message  string           `json:"message"`
	Session  *session.Session `json:"session,omitempty"`
}

// SubmitImage accepts a capture for a pending session and returns the
// verification outcome.
func (h *SessionsHandler) SubmitImage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req submitImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	sess, err := h.engine.SubmitImage(r.Context(), sessionID, req.Image)
	if err != nil {
		h.respondSubmitError(w, sessionID, sess, err)
		return
	}

	resp := submitImageResponse{Session: sess}
	switch sess.Status {
	case session.StatusMatched:
		resp.Status = "success"
		resp.Verified = true
		resp.Message = "Face verified"
	default:
		resp.Status = "error"
		resp.Message = sess.FailReason
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondSubmitError maps submission failures onto the wire. Detection
// outcomes are verification results, not transport errors, and keep a 200.
func (h *SessionsHandler) respondSubmitError(w http.ResponseWriter, sessionID string, sess *session.Session, err error) {
	switch {
	case errors.Is(err, facematch.ErrNoFaceDetected),
		errors.Is(err, facematch.ErrMultipleFacesDetected):
		respondJSON(w, http.StatusOK, submitImageResponse{
			Status:  "error",
			Message: sess.FailReason,
			Session: sess,
		})
	case errors.Is(err, facematch.ErrMalformedImage):
		respondError(w, http.StatusBadRequest, "image payload could not be decoded")
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrExpired):
		respondError(w, http.StatusGone, "session expired")
	case errors.Is(err, engine.ErrSessionNotAcceptingInput):
		respondError(w, http.StatusConflict, "session already received a capture")
	case errors.Is(err, template.ErrNotFound):
		respondError(w, http.StatusNotFound, "no enrolled template for subject")
	case errors.Is(err, template.ErrAlreadyEnrolled):
		respondError(w, http.StatusConflict, "subject already enrolled")
	default:
		log.Printf("image submission failed for session %s: %v", sanitizeForLog(sessionID), err)
		respondError(w, http.StatusServiceUnavailable, "face verification is temporarily unavailable")
	}
}
