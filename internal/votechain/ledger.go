package votechain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrChainHalted means a verification run found a broken seal and the
	// election no longer accepts ballots until an operator intervenes.
	ErrChainHalted = errors.New("election chain is halted after failed verification")

	// ErrDuplicateVote means the voter already has a sealed ballot in this
	// election.
	ErrDuplicateVote = errors.New("voter has already cast a ballot in this election")
)

// Ledger is an append-only SQLite store of sealed ballots, one chain per
// election.
type Ledger struct {
	db *sql.DB

	// mu serializes read-prior-then-append per election so that two
	// concurrent appends cannot both seal against the same prior hash.
	mu        sync.Mutex
	elections map[string]*sync.Mutex
	halted    map[string]bool
}

// NewLedger opens (creating if needed) the ballot database at path.
func NewLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}

	l := &Ledger{
		db:        db,
		elections: make(map[string]*sync.Mutex),
		halted:    make(map[string]bool),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("closing ledger db: %w", err)
	}
	return nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS ballots (
			election_id  TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			voter_id     TEXT NOT NULL,
			choice       TEXT NOT NULL,
			cast_at      TEXT NOT NULL,
			prior_hash   TEXT NOT NULL,
			seal_hash    TEXT NOT NULL,
			PRIMARY KEY (election_id, seq),
			UNIQUE (election_id, voter_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create ballots table: %w", err)
	}
	return nil
}

func (l *Ledger) electionLock(electionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.elections[electionID]
	if !ok {
		m = &sync.Mutex{}
		l.elections[electionID] = m
	}
	return m
}

func (l *Ledger) isHalted(electionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted[electionID]
}

func (l *Ledger) setHalted(electionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted[electionID] = true
}

// Append seals a ballot against the election's current head and persists it.
// It returns the sealed ballot including its sequence number and seal hash.
func (l *Ledger) Append(ctx context.Context, electionID, voterID, choice string, castAt time.Time) (*Ballot, error) {
	if l.isHalted(electionID) {
		return nil, ErrChainHalted
	}

	lock := l.electionLock(electionID)
	lock.Lock()
	defer lock.Unlock()

	var (
		seq   int64
		prior string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT seq, seal_hash FROM ballots
		WHERE election_id = ?
		ORDER BY seq DESC LIMIT 1
	`, electionID).Scan(&seq, &prior)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seq, prior = 0, GenesisHash
	case err != nil:
		return nil, fmt.Errorf("query chain head: %w", err)
	}

	var dup int
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ballots WHERE election_id = ? AND voter_id = ?
	`, electionID, voterID).Scan(&dup); err != nil {
		return nil, fmt.Errorf("check duplicate vote: %w", err)
	}
	if dup > 0 {
		return nil, ErrDuplicateVote
	}

	ballot := Ballot{
		ElectionID: electionID,
		Seq:        seq + 1,
		VoterID:    voterID,
		Choice:     choice,
		CastAt:     castAt.UTC(),
		PriorHash:  prior,
	}
	ballot.SealHash = Seal(ballot)

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO ballots (election_id, seq, voter_id, choice, cast_at, prior_hash, seal_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ballot.ElectionID, ballot.Seq, ballot.VoterID, ballot.Choice,
		ballot.CastAt.Format(time.RFC3339Nano), ballot.PriorHash, ballot.SealHash)
	if err != nil {
		return nil, fmt.Errorf("insert ballot: %w", err)
	}
	return &ballot, nil
}

// Chain returns the full ballot chain of an election in sequence order.
func (l *Ledger) Chain(ctx context.Context, electionID string) ([]Ballot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT election_id, seq, voter_id, choice, cast_at, prior_hash, seal_hash
		FROM ballots
		WHERE election_id = ?
		ORDER BY seq ASC
	`, electionID)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var out []Ballot
	for rows.Next() {
		var (
			b      Ballot
			castAt string
		)
		if err := rows.Scan(&b.ElectionID, &b.Seq, &b.VoterID, &b.Choice, &castAt, &b.PriorHash, &b.SealHash); err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		b.CastAt, err = time.Parse(time.RFC3339Nano, castAt)
		if err != nil {
			return nil, fmt.Errorf("parse ballot timestamp: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain: %w", err)
	}
	return out, nil
}

// Verify re-checks every seal in the election's chain. A failed verification
// halts the election: later Append calls are refused until restart.
func (l *Ledger) Verify(ctx context.Context, electionID string) (Report, error) {
	lock := l.electionLock(electionID)
	lock.Lock()
	defer lock.Unlock()

	ballots, err := l.Chain(ctx, electionID)
	if err != nil {
		return Report{}, err
	}

	report := VerifyChain(electionID, ballots)
	if !report.OK {
		l.setHalted(electionID)
		log.Printf("chain verification failed for election %s: %d bad seals starting at seq %d",
			electionID, len(report.BadSeqs), report.BadSeqs[0])
	}
	return report, nil
}

// HasVoted reports whether the voter already holds a ballot in the election.
func (l *Ledger) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ballots WHERE election_id = ? AND voter_id = ?
	`, electionID, voterID).Scan(&n); err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return n > 0, nil
}
