package auditlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// ViolationMatch is a single result from [Store.SearchSimilarViolations]:
// a previously recorded violation together with its cosine distance from
// the query embedding (smaller is more similar).
type ViolationMatch struct {
	ViolationID int64
	TaskID      string
	Content     string
	Distance    float64
}

// IndexViolation stores the embedding for one violation's evidence text so
// that it can later be found via [Store.SearchSimilarViolations]. violationID
// must refer to a row already written by [Store.InsertReport].
func (s *Store) IndexViolation(ctx context.Context, violationID int64, taskID, content string, embedding []float32) error {
	const q = `
		INSERT INTO violation_embeddings (violation_id, task_id, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (violation_id) DO UPDATE SET
		    task_id   = EXCLUDED.task_id,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`

	vec := pgvector.NewVector(embedding)
	if _, err := s.pool.Exec(ctx, q, violationID, taskID, content, vec); err != nil {
		return fmt.Errorf("auditlog: index violation: %w", err)
	}
	return nil
}

// SearchSimilarViolations finds the topK previously recorded violations whose
// evidence text embeddings are closest (cosine distance) to the supplied
// query embedding, ordered by ascending distance (most similar first). A
// compliance reviewer uses this to check whether a newly flagged violation
// echoes something already seen in an earlier session.
func (s *Store) SearchSimilarViolations(ctx context.Context, embedding []float32, topK int) ([]ViolationMatch, error) {
	const q = `
		SELECT violation_id, task_id, content, embedding <=> $1 AS distance
		FROM   violation_embeddings
		ORDER  BY distance
		LIMIT  $2`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("auditlog: search violations: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ViolationMatch, error) {
		var m ViolationMatch
		if err := row.Scan(&m.ViolationID, &m.TaskID, &m.Content, &m.Distance); err != nil {
			return ViolationMatch{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auditlog: scan rows: %w", err)
	}
	if matches == nil {
		matches = []ViolationMatch{}
	}
	return matches, nil
}
