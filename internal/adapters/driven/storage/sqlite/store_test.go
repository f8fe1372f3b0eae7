package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/storagetest"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "lorekeep-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir, 0)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

func TestStore_ContentStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) driven.ContentStore {
		store, cleanup := setupTestStore(t)
		t.Cleanup(cleanup)
		return store
	})
}

// ==================== Store Creation and Initialization Tests ====================

func TestNewStore_CreatesDatabase(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.Equal(t, DatabaseFile, filepath.Base(store.Path()))
	_, err := os.Stat(store.Path())
	assert.NoError(t, err)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(tempDir, 0)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("u1", "Persisted", []float32{1, 2, 3})))
	require.NoError(t, store.Close())

	reopened, err := NewStore(tempDir, 0)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Persisted", got.Title)
	assert.Equal(t, []float32{1, 2, 3}, got.Embedding)

	version, err := reopened.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version, "migrations are not re-applied")
}

// ==================== Content Store Tests ====================

func TestStore_UpsertUpdatesCallerUnit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	u := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0}, "concept", " concept ")
	require.NoError(t, store.Upsert(context.Background(), u))

	assert.Equal(t, []string{"concept"}, u.ContentTypes)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, 13, u.CharCount)
}

func TestStore_FailedBatchLeavesCallerUnitsUntouched(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	err := store.Upsert(ctx, u)
	require.Error(t, err)
	assert.True(t, u.UpdatedAt.IsZero())

	_, err = store.GetByID(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdatedAtAdvancesWithFrozenClock(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	frozen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }
	ctx := context.Background()

	first := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	require.NoError(t, store.Upsert(ctx, first))
	second := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	require.NoError(t, store.Upsert(ctx, second))

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
}

func TestStore_UpdatedAtAdvancesAcrossReopen(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	store, err := NewStore(tempDir, 0)
	require.NoError(t, err)
	store.now = func() time.Time { return future }
	first := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	require.NoError(t, store.Upsert(ctx, first))
	require.NoError(t, store.Close())

	reopened, err := NewStore(tempDir, 0)
	require.NoError(t, err)
	defer reopened.Close()

	second := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	require.NoError(t, reopened.Upsert(ctx, second))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "stored stamp is the floor even when the clock is behind")
}

func TestStore_ContentLabelsFollowUpdates(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("u1", "Title", []float32{1, 0, 0}, "procedure")))
	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("u1", "Title", []float32{1, 0, 0}, "reference")))

	results, err := store.Search(ctx, []float32{1, 0, 0}, domain.Filters{ContentTypes: []string{"procedure"}}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"reference": 1}, stats.ByContentType)

	require.NoError(t, store.Delete(ctx, "u1"))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.ByContentType)
}

func TestStore_TitleWildcardsMatchLiterally(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("a", "100% Cover", []float32{1, 0, 0})))
	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("b", "1000 Coins", []float32{1, 0, 0})))

	got, err := store.GetByTitle(ctx, "100%", false, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestStore_TextSearchIgnoresQuerySyntax(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	u := storagetest.NewUnit("a", "Grappling", []float32{1, 0, 0})
	u.Body = "Grapple OR shove"
	require.NoError(t, store.Upsert(ctx, u))

	got, err := store.TextSearch(ctx, `grapple "OR" NEAR(`, domain.Filters{}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 0)

	got, err = store.TextSearch(ctx, "shove grapple", domain.Filters{}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_FixedDimensionsRejectMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	err = store.Upsert(ctx, storagetest.NewUnit("u1", "Two", []float32{1, 0}))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = store.Search(ctx, []float32{1, 0}, domain.Filters{}, 5)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStore_SearchSkipsRowsFromEarlierModel(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	// Written while the provider produced two-dimensional vectors.
	old, err := NewStore(tempDir, 2)
	require.NoError(t, err)
	require.NoError(t, old.Upsert(ctx, storagetest.NewUnit("old", "Old", []float32{1, 0})))
	require.NoError(t, old.Close())

	store, err := NewStore(tempDir, 3)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Upsert(ctx, storagetest.NewUnit("new", "New", []float32{1, 0, 0})))

	results, err := store.Search(ctx, []float32{1, 0, 0}, domain.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Unit.ID)

	got, err := store.GetByID(ctx, "old")
	require.NoError(t, err, "stale rows stay readable by id")
	assert.Len(t, got.Embedding, 2)
}

func TestStore_CommitOutcomeUnknown(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// The rows reach the database but the driver cannot say so.
	store.commit = func(tx *sql.Tx) error {
		if err := tx.Commit(); err != nil {
			return err
		}
		return driver.ErrBadConn
	}

	u := storagetest.NewUnit("u1", "Title", []float32{1, 0, 0})
	err := store.Upsert(ctx, u)

	var sce *domain.StorageConsistencyError
	require.ErrorAs(t, err, &sce)
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.True(t, u.UpdatedAt.IsZero(), "the caller's unit is not stamped")
}

func TestStore_LockedDatabaseIsTransient(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the busy timeout")
	}
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	other, err := sql.Open("sqlite", store.Path())
	require.NoError(t, err)
	defer other.Close()
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)
	defer conn.ExecContext(ctx, "ROLLBACK") //nolint:errcheck

	err = store.Upsert(ctx, storagetest.NewUnit("u1", "Title", []float32{1, 0, 0}))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err), "lock contention is worth retrying: %v", err)
}

func TestCommitFailure(t *testing.T) {
	var sce *domain.StorageConsistencyError

	err := commitFailure(sql.ErrTxDone)
	assert.False(t, errors.As(err, &sce), "a rolled back transaction wrote nothing")

	err = commitFailure(context.Canceled)
	assert.False(t, errors.As(err, &sce))

	err = commitFailure(errors.New("connection reset"))
	assert.True(t, errors.As(err, &sce))

	assert.False(t, isBusy(errors.New("database is locked")), "only engine errors carry a code")
}

// ==================== Helper Tests ====================

func TestFloat32Conversion(t *testing.T) {
	original := []float32{0.1, -2.5, 3.25, 0}
	assert.Equal(t, original, bytesToFloat32Slice(float32SliceToBytes(original)))
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}

func TestFilterWhere(t *testing.T) {
	w := filterWhere(domain.Filters{
		SourceTypes:  []string{"official"},
		ContentTypes: []string{"rule", "magic"},
	})
	assert.Equal(t,
		" WHERE c.source_type IN (?) AND c.id IN (SELECT unit_id FROM content_labels WHERE kind = 'type' AND label IN (?, ?))",
		w.String())
	assert.Equal(t, []any{"official", "rule", "magic"}, w.args)

	assert.Equal(t, "", filterWhere(domain.Filters{}).String())
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"opposed" "check"`, ftsQuery("  opposed check "))
	assert.Equal(t, `"say""hi"""`, ftsQuery(`say"hi"`))
	assert.Equal(t, "", ftsQuery(""))
}
