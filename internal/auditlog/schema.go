package auditlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAuditReports = `
CREATE TABLE IF NOT EXISTS audit_reports (
    task_id                TEXT         PRIMARY KEY,
    total_rules            INT          NOT NULL DEFAULT 0,
    total_segments_checked INT          NOT NULL DEFAULT 0,
    summary                TEXT         NOT NULL DEFAULT '',
    compliance_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    source_counts          JSONB        NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAuditViolations = `
CREATE TABLE IF NOT EXISTS audit_violations (
    id             BIGSERIAL    PRIMARY KEY,
    task_id        TEXT         NOT NULL REFERENCES audit_reports (task_id) ON DELETE CASCADE,
    rule_id        INT          NOT NULL,
    rule_content   TEXT         NOT NULL DEFAULT '',
    reason         TEXT         NOT NULL DEFAULT '',
    severity       TEXT         NOT NULL DEFAULT '',
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    status         TEXT         NOT NULL DEFAULT 'pending',
    timestamp_ms   INT          NOT NULL DEFAULT 0,
    end_ms         INT          NOT NULL DEFAULT 0,
    speaker        TEXT         NOT NULL DEFAULT '',
    original_text  TEXT         NOT NULL DEFAULT '',
    source         TEXT         NOT NULL DEFAULT '',
    evidence_url   TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_violations_task_id
    ON audit_violations (task_id);

CREATE INDEX IF NOT EXISTS idx_audit_violations_rule_id
    ON audit_violations (rule_id);
`

// ddlViolationIndex returns the DDL for the semantic index over violation
// text, with the embedding dimension baked into the vector column type.
func ddlViolationIndex(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS violation_embeddings (
    violation_id  BIGINT       PRIMARY KEY REFERENCES audit_violations (id) ON DELETE CASCADE,
    task_id       TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    embedding     vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_violation_embeddings_vector
    ON violation_embeddings USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the dimension of the embeddings provider
// configured for the deployment (e.g. 1536 for OpenAI text-embedding-3-small).
// Changing this value after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlAuditReports,
		ddlAuditViolations,
		ddlViolationIndex(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("auditlog migrate: %w", err)
		}
	}
	return nil
}
