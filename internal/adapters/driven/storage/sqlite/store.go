package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage"
	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

// DatabaseFile is the name of the database file inside the data directory.
const DatabaseFile = "content.db"

const unitColumns = `c.id, c.title, c.body, c.embedding, c.source_type, c.source_book, c.section_id,
	c.content_types, c.tags, c.page_range, c.char_count, c.word_count, c.file_path,
	c.created_at, c.updated_at`

const upsertSQL = `
	INSERT INTO content_units
		(id, title, body, embedding, dimensions, source_type, source_book, section_id,
		 content_types, tags, page_range, char_count, word_count, file_path, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		embedding = excluded.embedding,
		dimensions = excluded.dimensions,
		source_type = excluded.source_type,
		source_book = excluded.source_book,
		section_id = excluded.section_id,
		content_types = excluded.content_types,
		tags = excluded.tags,
		page_range = excluded.page_range,
		char_count = excluded.char_count,
		word_count = excluded.word_count,
		file_path = excluded.file_path,
		updated_at = MAX(excluded.updated_at, content_units.updated_at + 1)
	RETURNING created_at, updated_at`

// Ensure Store implements the interfaces.
var (
	_ driven.ContentStore = (*Store)(nil)
	_ driven.TextSearcher = (*Store)(nil)
)

// Store is a SQLite-backed ContentStore.
type Store struct {
	db   *sql.DB
	path string
	dims int

	// mu serialises writes so upserts to one ID never interleave.
	mu     sync.Mutex
	now    func() time.Time
	last   time.Time
	commit func(*sql.Tx) error
}

// NewStore creates a new SQLite store in the specified data directory.
// If dataDir is empty, defaults to ~/.lorekeep/data. A positive dims rejects
// embeddings and queries of any other length; zero accepts any length.
func NewStore(dataDir string, dims int) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".lorekeep", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	// WAL lets searches read while an ingestion batch is being written.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
		dims:   dims,
		now:    time.Now,
		commit: (*sql.Tx).Commit,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_content_units.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) applyMigration(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// Upsert stores or replaces a unit.
func (s *Store) Upsert(ctx context.Context, unit *domain.ContentUnit) error {
	return s.UpsertBatch(ctx, []*domain.ContentUnit{unit})
}

// UpsertBatch writes units in one transaction. The caller's units receive
// their stored timestamps and counts only once the transaction commits.
func (s *Store) UpsertBatch(ctx context.Context, units []*domain.ContentUnit) error {
	for _, u := range units {
		if u.ID == "" {
			return domain.NewValidationError("id", "must not be empty")
		}
		if err := u.Validate(); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
		if err := storage.CheckDimensions(s.dims, u.Embedding); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
	}
	if len(units) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.NextUpdate(s.last, s.now().UTC().Truncate(time.Microsecond))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeFailure(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	staged := make([]*domain.ContentUnit, len(units))
	for i, u := range units {
		c := u.Clone()
		c.Touch(now)

		typesJSON, err := labelsToJSON(c.ContentTypes)
		if err != nil {
			return err
		}
		tagsJSON, err := labelsToJSON(c.Tags)
		if err != nil {
			return err
		}

		var created, updated int64
		err = stmt.QueryRowContext(ctx,
			c.ID, c.Title, c.Body, float32SliceToBytes(c.Embedding), len(c.Embedding),
			c.SourceType, c.SourceBook, c.SectionID, typesJSON, tagsJSON,
			c.PageRange, c.CharCount, c.WordCount, c.FilePath,
			c.CreatedAt.UnixMicro(), c.UpdatedAt.UnixMicro(),
		).Scan(&created, &updated)
		if err != nil {
			return writeFailure(fmt.Errorf("upserting unit %s: %w", c.ID, err))
		}
		c.CreatedAt = time.UnixMicro(created).UTC()
		c.UpdatedAt = time.UnixMicro(updated).UTC()
		staged[i] = c
	}

	if err := s.commit(tx); err != nil {
		return commitFailure(err)
	}

	for i, u := range units {
		*u = *staged[i]
		if u.UpdatedAt.After(s.last) {
			s.last = u.UpdatedAt
		}
	}
	return nil
}

// Delete removes a unit. Its labels and full-text entry go with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM content_units WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a unit by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+unitColumns+" FROM content_units c WHERE c.id = ?", id)
	return scanUnit(row)
}

// GetBySectionID returns the most recently updated unit with the section id.
func (s *Store) GetBySectionID(ctx context.Context, sectionID, sourceBook string) (*domain.ContentUnit, error) {
	var w where
	w.add("c.section_id = ?", sectionID)
	if sourceBook != "" {
		w.add("c.source_book = ?", sourceBook)
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM content_units c"+w.String()+" ORDER BY c.updated_at DESC, c.id ASC LIMIT 1",
		w.args...)
	return scanUnit(row)
}

// GetByTitle matches titles exactly or partially. Candidates are selected in
// SQL and ordered by storage.MatchTitles.
func (s *Store) GetByTitle(
	ctx context.Context,
	pattern string,
	exact bool,
	sourceBook string,
	limit int,
) ([]domain.ContentUnit, error) {
	var w where
	if exact {
		w.add("c.title = ?", pattern)
	} else {
		w.add(`c.title LIKE ? ESCAPE '\'`, "%"+escapeLike(pattern)+"%")
	}
	if sourceBook != "" {
		w.add("c.source_book = ?", sourceBook)
	}

	units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM content_units c"+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("matching titles: %w", err)
	}
	return storage.MatchTitles(units, pattern, exact, limit), nil
}

// Search filters units in SQL and ranks the survivors by cosine distance.
// Rows embedded at another dimension, left by an earlier model, never match.
func (s *Store) Search(
	ctx context.Context,
	query []float32,
	filters domain.Filters,
	limit int,
) ([]domain.SearchResult, error) {
	if err := storage.CheckQuery(s.dims, query); err != nil {
		return nil, err
	}

	w := filterWhere(filters)
	w.add("c.embedding IS NOT NULL")
	w.add("c.dimensions = ?", len(query))

	candidates, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM content_units c"+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}
	return storage.Rank(query, candidates, domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit))
}

// TextSearch runs a full-text query over titles and bodies. Every term must
// match; results are ordered by relevance.
func (s *Store) TextSearch(
	ctx context.Context,
	text string,
	filters domain.Filters,
	limit int,
) ([]domain.ContentUnit, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}

	w := filterWhere(filters)
	w.add("content_units_fts MATCH ?", match)
	args := append(w.args, domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit))

	units, err := s.queryUnits(ctx, `
		SELECT `+unitColumns+`
		FROM content_units_fts
		JOIN content_units c ON c.rowid = content_units_fts.rowid`+w.String()+`
		ORDER BY bm25(content_units_fts), c.updated_at DESC, c.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return units, nil
}

// Stats summarises the stored units.
func (s *Store) Stats(ctx context.Context) (*domain.ContentStats, error) {
	stats := &domain.ContentStats{
		BySourceBook:  make(map[string]int),
		ByContentType: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM content_units").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("counting units: %w", err)
	}
	if err := s.countInto(ctx, stats.BySourceBook,
		"SELECT source_book, COUNT(*) FROM content_units GROUP BY source_book"); err != nil {
		return nil, fmt.Errorf("counting source books: %w", err)
	}
	if err := s.countInto(ctx, stats.ByContentType,
		"SELECT label, COUNT(*) FROM content_labels WHERE kind = 'type' GROUP BY label"); err != nil {
		return nil, fmt.Errorf("counting content types: %w", err)
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, into map[string]int, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]domain.ContentUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.ContentUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// ==================== Error Classification ====================

// isBusy reports a lock held by another connection or process that outlasted
// the busy timeout.
func isBusy(err error) bool {
	var se *sqlitedriver.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// writeFailure marks lock contention as transient.
func writeFailure(err error) error {
	if isBusy(err) {
		return &domain.TransientError{Op: "upsert", Err: err}
	}
	return err
}

// commitFailure classifies an error from COMMIT. An error from the engine,
// or a transaction already rolled back by its context, means nothing was
// written. Any other error leaves the outcome unknown.
func commitFailure(err error) error {
	var se *sqlitedriver.Error
	if errors.As(err, &se) || errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return writeFailure(fmt.Errorf("committing transaction: %w", err))
	}
	return &domain.StorageConsistencyError{Err: fmt.Errorf("commit outcome unknown: %w", err)}
}

// ==================== Query Helpers ====================

// where accumulates AND-combined conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// in adds "expr IN (?, ...)" for a non-empty value set.
func (w *where) in(expr string, values []string) {
	if len(values) == 0 {
		return
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	w.add(expr+" IN ("+placeholders(len(values))+")", args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// filterWhere translates search filters into SQL conditions.
func filterWhere(f domain.Filters) *where {
	w := &where{}
	w.in("c.source_type", f.SourceTypes)
	w.in("c.source_book", f.SourceBooks)
	if len(f.ContentTypes) > 0 {
		args := make([]any, len(f.ContentTypes))
		for i, v := range f.ContentTypes {
			args[i] = v
		}
		w.add("c.id IN (SELECT unit_id FROM content_labels WHERE kind = 'type' AND label IN ("+
			placeholders(len(args))+"))", args...)
	}
	return w
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// escapeLike escapes LIKE wildcards so pattern matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ftsQuery quotes every term so user input never reaches the FTS5 query syntax.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// ==================== Helper Functions ====================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUnit scans a unit selected with unitColumns.
func scanUnit(row rowScanner) (*domain.ContentUnit, error) {
	var u domain.ContentUnit
	var embedding []byte
	var typesJSON, tagsJSON string
	var created, updated int64

	if err := row.Scan(&u.ID, &u.Title, &u.Body, &embedding, &u.SourceType, &u.SourceBook,
		&u.SectionID, &typesJSON, &tagsJSON, &u.PageRange, &u.CharCount, &u.WordCount,
		&u.FilePath, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning unit: %w", err)
	}

	var err error
	if u.ContentTypes, err = labelsFromJSON(typesJSON); err != nil {
		return nil, fmt.Errorf("unit %s content types: %w", u.ID, err)
	}
	if u.Tags, err = labelsFromJSON(tagsJSON); err != nil {
		return nil, fmt.Errorf("unit %s tags: %w", u.ID, err)
	}
	u.Embedding = bytesToFloat32Slice(embedding)
	u.CreatedAt = time.UnixMicro(created).UTC()
	u.UpdatedAt = time.UnixMicro(updated).UTC()

	return &u, nil
}

func labelsToJSON(labels []string) (string, error) {
	if len(labels) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshalling labels: %w", err)
	}
	return string(b), nil
}

func labelsFromJSON(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(s), &labels); err != nil {
		return nil, err
	}
	return domain.NormalizeLabels(labels), nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
