package auditlog_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/copernicus-go/copernicus/internal/auditlog"
	"github.com/copernicus-go/copernicus/internal/compliance"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if COPERNICUS_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("COPERNICUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COPERNICUS_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [auditlog.Store] with a clean schema.
func newTestStore(t *testing.T) *auditlog.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := auditlog.New(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS violation_embeddings CASCADE",
		"DROP TABLE IF EXISTS audit_violations CASCADE",
		"DROP TABLE IF EXISTS audit_reports CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestInsertReport_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := compliance.Report{
		TotalRules:           3,
		TotalSegmentsChecked: 42,
		Summary:              "two violations found, one confirmed via OCR overlay",
		ComplianceScore:      0.81,
		SourceCounts:         map[string]int{"transcript": 1, "ocr": 1},
		Violations: []compliance.Violation{
			{
				RuleID:       1,
				RuleContent:  "must disclose surrender charges",
				Reason:       "agent never mentioned surrender charges",
				Severity:     compliance.SeverityHigh,
				Confidence:   0.9,
				Status:       compliance.StatusConfirmed,
				TimestampMs:  12345,
				EndMs:        14000,
				Speaker:      "agent",
				OriginalText: "this policy has no hidden fees",
				Source:       compliance.SourceTranscript,
			},
			{
				RuleID:       2,
				RuleContent:  "must display the insurer's license number on screen",
				Reason:       "slide shown during pitch omitted license number",
				Severity:     compliance.SeverityMedium,
				Confidence:   0.7,
				Status:       compliance.StatusPending,
				TimestampMs:  30000,
				EndMs:        32000,
				Speaker:      "",
				OriginalText: "",
				Source:       compliance.SourceOCR,
			},
		},
	}

	if err := store.InsertReport(ctx, "task-1", report); err != nil {
		t.Fatalf("InsertReport: %v", err)
	}

	// Re-inserting the same task should replace, not duplicate, the rows.
	if err := store.InsertReport(ctx, "task-1", report); err != nil {
		t.Fatalf("InsertReport (replace): %v", err)
	}
}

func TestIndexAndSearchViolations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := compliance.Report{
		TotalRules: 1,
		Violations: []compliance.Violation{
			{RuleID: 1, RuleContent: "no guaranteed return claims", Status: compliance.StatusConfirmed},
		},
	}
	if err := store.InsertReport(ctx, "task-2", report); err != nil {
		t.Fatalf("InsertReport: %v", err)
	}

	if err := store.IndexViolation(ctx, 1, "task-2", "this product guarantees a 12% annual return", []float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("IndexViolation: %v", err)
	}

	matches, err := store.SearchSimilarViolations(ctx, []float32{0.1, 0.2, 0.3, 0.41}, 5)
	if err != nil {
		t.Fatalf("SearchSimilarViolations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("want 1 match, got %d", len(matches))
	}
	if matches[0].TaskID != "task-2" {
		t.Errorf("want task-2, got %q", matches[0].TaskID)
	}
}
