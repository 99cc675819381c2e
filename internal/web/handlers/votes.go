package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"votegate/internal/engine"
	"votegate/internal/session"
	"votegate/internal/votechain"
)

// VotesHandler casts ballots against verified sessions and exposes the
// election hash chain.
type VotesHandler struct {
	engine *engine.Engine
}

// NewVotesHandler creates a votes handler.
func NewVotesHandler(eng *engine.Engine) *VotesHandler {
	return &VotesHandler{engine: eng}
}

// castVoteRequest is the body of POST /elections/{electionID}/votes.
type castVoteRequest struct {
	SessionID string `json:"session_id"`
	Choice    string `json:"choice"`
}

// Cast spends a matched session's authorization and seals the ballot.
func (h *VotesHandler) Cast(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "electionID")

	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SessionID == "" || req.Choice == "" {
		respondError(w, http.StatusBadRequest, "session_id and choice are required")
		return
	}

	ballot, err := h.engine.CastVote(r.Context(), req.SessionID, electionID, req.Choice)
	if err != nil {
		h.respondCastError(w, electionID, err)
		return
	}

	respondJSON(w, http.StatusCreated, ballot)
}

func (h *VotesHandler) respondCastError(w http.ResponseWriter, electionID string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrExpired):
		respondError(w, http.StatusGone, "session expired")
	case errors.Is(err, session.ErrNotConsumable):
		respondError(w, http.StatusConflict, "session does not hold a vote authorization")
	case errors.Is(err, session.ErrAlreadyConsumed):
		respondError(w, http.StatusConflict, "vote authorization already used")
	case errors.Is(err, engine.ErrElectionMismatch):
		respondError(w, http.StatusConflict, "session does not authorize this election")
	case errors.Is(err, votechain.ErrDuplicateVote):
		respondError(w, http.StatusConflict, "voter has already cast a ballot")
	case errors.Is(err, votechain.ErrChainHalted):
		respondError(w, http.StatusServiceUnavailable, "election is halted pending audit")
	default:
		log.Printf("vote cast failed for election %s: %v", sanitizeForLog(electionID), err)
		respondError(w, http.StatusInternalServerError, "failed to record ballot")
	}
}

// Chain returns the sealed ballots of an election in sequence order.
func (h *VotesHandler) Chain(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "electionID")

	ballots, err := h.engine.ElectionChain(r.Context(), electionID)
	if err != nil {
		log.Printf("chain read failed for election %s: %v", sanitizeForLog(electionID), err)
		respondError(w, http.StatusInternalServerError, "failed to read election chain")
		return
	}
	if ballots == nil {
		ballots = []votechain.Ballot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"election_id": electionID,
		"ballots":     ballots,
	})
}

// Verify audits the election chain and returns the verification report.
func (h *VotesHandler) Verify(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "electionID")

	report, err := h.engine.VerifyElection(r.Context(), electionID)
	if err != nil {
		log.Printf("chain verification failed for election %s: %v", sanitizeForLog(electionID), err)
		respondError(w, http.StatusInternalServerError, "failed to verify election chain")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
