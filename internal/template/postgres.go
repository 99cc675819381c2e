package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"votegate/internal/config"
)

// PostgresStore persists templates in PostgreSQL with a pgvector column, one
// row per subject.
type PostgresStore struct {
	db  *sql.DB
	dim int
}

// NewPostgresStore opens a connection pool, verifies it, and runs migrations.
func NewPostgresStore(cfg *config.DatabaseConfig, dim int) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db, dim: dim}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS face_templates (
			subject_id   VARCHAR(100) PRIMARY KEY,
			embedding    vector(%d) NOT NULL,
			enrolled_at  TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, s.dim)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create face_templates table: %w", err)
	}
	return nil
}

// Get returns the active template for a subject.
func (s *PostgresStore) Get(ctx context.Context, subjectID string) (*Template, error) {
	var (
		tpl Template
		vec pgvector.Vector
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, embedding, enrolled_at
		FROM face_templates
		WHERE subject_id = $1
	`, subjectID).Scan(&tpl.SubjectID, &vec, &tpl.EnrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	tpl.Embedding = vec.Slice()
	return &tpl, nil
}

// Put enrolls a new subject; a conflicting row means already enrolled.
func (s *PostgresStore) Put(ctx context.Context, tpl Template) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO face_templates (subject_id, embedding, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO NOTHING
	`, tpl.SubjectID, pgvector.NewVector(tpl.Embedding), tpl.EnrolledAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyEnrolled
	}
	return nil
}

// Replace overwrites the subject's template, enrolling if absent.
func (s *PostgresStore) Replace(ctx context.Context, tpl Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_templates (subject_id, embedding, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, enrolled_at = EXCLUDED.enrolled_at
	`, tpl.SubjectID, pgvector.NewVector(tpl.Embedding), tpl.EnrolledAt)
	if err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	return nil
}

// Delete removes a subject's template.
func (s *PostgresStore) Delete(ctx context.Context, subjectID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM face_templates WHERE subject_id = $1
	`, subjectID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// All returns every active template.
func (s *PostgresStore) All(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, embedding, enrolled_at
		FROM face_templates
		ORDER BY subject_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var (
			tpl Template
			vec pgvector.Vector
		)
		if err := rows.Scan(&tpl.SubjectID, &vec, &tpl.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.Embedding = vec.Slice()
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}
