// Package votechain maintains a per-election hash chain over cast ballots.
// Each ballot's seal commits to the ballot fields and the previous seal, so
// any modification of a stored ballot invalidates every later seal.
package votechain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// GenesisHash is the prior hash of the first ballot in every election chain.
var GenesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// Ballot is one sealed entry in an election's chain.
type Ballot struct {
	ElectionID string    `json:"election_id"`
	Seq        int64     `json:"seq"`
	VoterID    string    `json:"voter_id"`
	Choice     string    `json:"choice"`
	CastAt     time.Time `json:"cast_at"`
	PriorHash  string    `json:"prior_hash"`
	SealHash   string    `json:"seal_hash"`
}

// Seal computes the hex SHA-256 seal for a ballot. Every variable-length
// field is length-prefixed so that no two field boundaries can collide.
func Seal(b Ballot) string {
	h := sha256.New()
	writeField := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeField(b.PriorHash)
	writeField(b.ElectionID)
	writeField(b.VoterID)
	writeField(b.Choice)
	writeField(b.CastAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// Report is the outcome of verifying an election chain.
type Report struct {
	ElectionID string `json:"election_id"`
	Length     int    `json:"length"`
	OK         bool   `json:"ok"`
	// BadSeqs lists the sequence numbers whose seals failed to verify.
	// A single tampered ballot implicates itself and every later ballot.
	BadSeqs []int64 `json:"bad_seqs,omitempty"`
}

// VerifyChain recomputes every seal in order and checks the prior-hash
// links. Ballots must be sorted by ascending sequence number.
func VerifyChain(electionID string, ballots []Ballot) Report {
	report := Report{ElectionID: electionID, Length: len(ballots), OK: true}

	prior := GenesisHash
	broken := false
	for _, b := range ballots {
		if broken || b.PriorHash != prior || Seal(b) != b.SealHash {
			report.BadSeqs = append(report.BadSeqs, b.Seq)
			// Once a link is broken every later seal commits to a
			// poisoned prior, even when its own fields are intact.
			broken = true
		}
		prior = b.SealHash
	}
	report.OK = len(report.BadSeqs) == 0
	return report
}
