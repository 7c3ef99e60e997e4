package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/repository/postgres"
)

// openTestDB connects to the database named by SMARTMETAL_TEST_DB_DSN, which
// must already be migrated. The test is skipped when it is unset.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("SMARTMETAL_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("SMARTMETAL_TEST_DB_DSN not set")
	}
	db, err := sqlx.Connect("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExtractionRunRepo_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewExtractionRunRepo(db)
	ctx := context.Background()

	run := &domain.ExtractionRun{
		ID:               uuid.New(),
		DocumentRef:      "s3://ocr/rfq.json",
		Status:           domain.RunStatusFailed,
		Mode:             domain.ModeFull,
		ExpectedRows:     20,
		ActualRows:       3,
		CoverageRatio:    0.15,
		ErrorKind:        "COMPLETENESS_GATE_FAILED",
		ErrorMessage:     "completeness gate failed",
		TableDiagnostics: json.RawMessage(`[{"table_index":0,"score":11,"accepted":true,"reasons":[]}]`),
		Warnings:         json.RawMessage(`["17 fewer line items than the 20 rows detected"]`),
		DurationMS:       42,
	}
	require.NoError(t, repo.Create(ctx, run))
	t.Cleanup(func() { _, _ = db.Exec("DELETE FROM extraction_runs WHERE id = $1", run.ID) })

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.DocumentRef, got.DocumentRef)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, 3, got.ActualRows)
	assert.JSONEq(t, string(run.Warnings), string(got.Warnings))

	recent, err := repo.ListRecent(ctx, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)
}

func TestExtractionRunRepo_GetByID_NotFound(t *testing.T) {
	repo := postgres.NewExtractionRunRepo(openTestDB(t))

	_, err := repo.GetByID(context.Background(), uuid.New())

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
