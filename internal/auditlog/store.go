// Package auditlog provides a PostgreSQL-backed archive of compliance audit
// reports, with an optional pgvector semantic index over violation text so
// that past findings can be searched by similarity rather than just by task
// ID or rule number.
//
// A single [pgxpool.Pool] backs both the reports table and the violations
// index. The pgvector extension must be available in the target database;
// [Migrate] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/copernicus-go/copernicus/internal/compliance"
)

// Store is the PostgreSQL-backed audit log. It holds a single [pgxpool.Pool]
// and is safe for concurrent use.
type Store struct {
	pool                *pgxpool.Pool
	embeddingDimensions int
}

// New creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding
// provider used to produce violation embeddings (e.g. 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("auditlog: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("auditlog: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}

	return &Store{pool: pool, embeddingDimensions: embeddingDimensions}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertReport persists the full compliance audit result for one task,
// replacing any previously stored report and violation rows for that task.
func (s *Store) InsertReport(ctx context.Context, taskID string, report compliance.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auditlog: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertReport = `
		INSERT INTO audit_reports
		    (task_id, total_rules, total_segments_checked, summary, compliance_score, source_counts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
		    total_rules            = EXCLUDED.total_rules,
		    total_segments_checked = EXCLUDED.total_segments_checked,
		    summary                = EXCLUDED.summary,
		    compliance_score       = EXCLUDED.compliance_score,
		    source_counts          = EXCLUDED.source_counts,
		    created_at             = now()`

	if _, err := tx.Exec(ctx, upsertReport,
		taskID,
		report.TotalRules,
		report.TotalSegmentsChecked,
		report.Summary,
		report.ComplianceScore,
		sourceCountsJSON(report.SourceCounts),
	); err != nil {
		return fmt.Errorf("auditlog: insert report: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM audit_violations WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("auditlog: clear violations: %w", err)
	}

	const insertViolation = `
		INSERT INTO audit_violations
		    (task_id, rule_id, rule_content, reason, severity, confidence, status,
		     timestamp_ms, end_ms, speaker, original_text, source, evidence_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	for _, v := range report.Violations {
		if _, err := tx.Exec(ctx, insertViolation,
			taskID,
			v.RuleID,
			v.RuleContent,
			v.Reason,
			string(v.Severity),
			v.Confidence,
			string(v.Status),
			v.TimestampMs,
			v.EndMs,
			v.Speaker,
			v.OriginalText,
			string(v.Source),
			v.EvidenceURL,
		); err != nil {
			return fmt.Errorf("auditlog: insert violation (rule %d): %w", v.RuleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("auditlog: commit: %w", err)
	}
	return nil
}

func sourceCountsJSON(counts map[string]int) []byte {
	if counts == nil {
		counts = map[string]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return []byte("{}")
	}
	return b
}
