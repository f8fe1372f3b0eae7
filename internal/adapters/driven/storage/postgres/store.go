package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/custodia-labs/lorekeep/internal/adapters/driven/storage"
	"github.com/custodia-labs/lorekeep/internal/core/domain"
	"github.com/custodia-labs/lorekeep/internal/core/ports/driven"
)

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

const unitColumns = `id, title, content, embedding, source_type, source_book, section_id,
	content_types, tags, page_range, char_count, word_count, file_path, created_at, updated_at`

const upsertSQL = `
	INSERT INTO content_units
		(id, title, content, embedding, source_type, source_book, section_id,
		 content_types, tags, page_range, char_count, word_count, file_path, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		source_type = EXCLUDED.source_type,
		source_book = EXCLUDED.source_book,
		section_id = EXCLUDED.section_id,
		content_types = EXCLUDED.content_types,
		tags = EXCLUDED.tags,
		page_range = EXCLUDED.page_range,
		char_count = EXCLUDED.char_count,
		word_count = EXCLUDED.word_count,
		file_path = EXCLUDED.file_path,
		updated_at = GREATEST(EXCLUDED.updated_at, content_units.updated_at + interval '1 microsecond')
	RETURNING created_at, updated_at`

// Ensure Store implements the interfaces.
var (
	_ driven.ContentStore = (*Store)(nil)
	_ driven.TextSearcher = (*Store)(nil)
)

// Store is a PostgreSQL-backed ContentStore.
type Store struct {
	pool    *pgxpool.Pool
	dims    int
	timeout time.Duration

	// mu serialises writes from this process so upserts to one ID never
	// interleave; row locks cover other processes.
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithOperationTimeout bounds every database call made by the store. A call
// that runs out of time fails with a *domain.TransientError.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore connects to databaseURL and creates the schema. dims fixes the
// embedding column size and enables the HNSW index; zero leaves it unsized.
func NewStore(ctx context.Context, databaseURL string, dims int, opts ...Option) (*Store, error) {
	if databaseURL == "" {
		return nil, domain.NewValidationError("database_url", "must not be empty")
	}

	// The vector type must exist before pooled connections register it.
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx) //nolint:errcheck
	if err != nil {
		return nil, fmt.Errorf("creating vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	s := &Store{
		pool: pool,
		dims: dims,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	script, err := renderSchema(s.dims)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, script)
	return err
}

func renderSchema(dims int) (string, error) {
	vectorType := "vector"
	if dims > 0 {
		vectorType = "vector(" + strconv.Itoa(dims) + ")"
	}
	var buf bytes.Buffer
	err := schemaTemplate.Execute(&buf, struct {
		VectorType string
		Dimensions int
	}{vectorType, dims})
	if err != nil {
		return "", fmt.Errorf("rendering schema: %w", err)
	}
	return buf.String(), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := s.bound(ctx)
	defer cancel()
	return s.fail(ctx, "ping", s.pool.Ping(opCtx))
}

// bound limits one store operation to the configured timeout.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// fail marks err as transient when retrying op may succeed. ctx is the
// caller's context: once it is done nothing is worth retrying.
func (s *Store) fail(ctx context.Context, op string, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if isTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Op: op, Err: err}
	}
	return err
}

// transientCodes are SQLSTATEs for conflicts and resource limits that clear
// on their own. Class 08 (connection exception) is matched separately.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// isTransient reports whether err is a connection, timeout or conflict
// failure that may succeed when retried.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// commitFailure classifies an error from COMMIT. A server verdict or a
// failure before the command was sent means nothing was written. Anything
// else, such as a connection lost mid-commit, leaves the outcome unknown.
func (s *Store) commitFailure(ctx context.Context, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || pgconn.SafeToRetry(err) {
		return s.fail(ctx, "commit", fmt.Errorf("committing transaction: %w", err))
	}
	return &domain.StorageConsistencyError{Err: fmt.Errorf("commit outcome unknown: %w", err)}
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

	opCtx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.pool.Begin(opCtx)
	if err != nil {
		return s.fail(ctx, "upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staged := make([]*domain.ContentUnit, len(units))
	for i, u := range units {
		c := u.Clone()
		c.Touch(now)

		var created, updated time.Time
		err := tx.QueryRow(opCtx, upsertSQL,
			c.ID, c.Title, c.Body, vectorArg(c.Embedding), c.SourceType, c.SourceBook, c.SectionID,
			labelsArg(c.ContentTypes), labelsArg(c.Tags), c.PageRange, c.CharCount, c.WordCount,
			c.FilePath, c.CreatedAt, c.UpdatedAt,
		).Scan(&created, &updated)
		if err != nil {
			return s.fail(ctx, "upsert", fmt.Errorf("upserting unit %s: %w", c.ID, err))
		}
		c.CreatedAt = created.UTC()
		c.UpdatedAt = updated.UTC()
		staged[i] = c
	}

	if err := tx.Commit(opCtx); err != nil {
		return s.commitFailure(ctx, err)
	}

	for i, u := range units {
		*u = *staged[i]
		if u.UpdatedAt.After(s.last) {
			s.last = u.UpdatedAt
		}
	}
	return nil
}

// Delete removes a unit.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opCtx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.pool.Exec(opCtx, "DELETE FROM content_units WHERE id = $1", id)
	if err != nil {
		return s.fail(ctx, "delete", fmt.Errorf("deleting unit: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a unit by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.ContentUnit, error) {
	opCtx, cancel := s.bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx, "SELECT "+unitColumns+" FROM content_units WHERE id = $1", id)
	u, err := scanUnit(row)
	return u, s.fail(ctx, "get", err)
}

// GetBySectionID returns the most recently updated unit with the section id.
func (s *Store) GetBySectionID(ctx context.Context, sectionID, sourceBook string) (*domain.ContentUnit, error) {
	var w where
	w.add("section_id = " + w.arg(sectionID))
	if sourceBook != "" {
		w.add("source_book = " + w.arg(sourceBook))
	}
	opCtx, cancel := s.bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx,
		"SELECT "+unitColumns+" FROM content_units"+w.String()+" ORDER BY updated_at DESC, id ASC LIMIT 1",
		w.args...)
	u, err := scanUnit(row)
	return u, s.fail(ctx, "get section", err)
}

// GetByTitle matches titles exactly or partially.
func (s *Store) GetByTitle(
	ctx context.Context,
	pattern string,
	exact bool,
	sourceBook string,
	limit int,
) ([]domain.ContentUnit, error) {
	var w where
	if exact {
		w.add("title = " + w.arg(pattern))
	} else {
		w.add("title ILIKE " + w.arg("%"+escapeLike(pattern)+"%"))
	}
	if sourceBook != "" {
		w.add("source_book = " + w.arg(sourceBook))
	}

	units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM content_units"+w.String(), w.args...)
	if err != nil {
		return nil, s.fail(ctx, "get title", fmt.Errorf("matching titles: %w", err))
	}
	return storage.MatchTitles(units, pattern, exact, limit), nil
}

// Search ranks filtered units by cosine distance in the database.
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
	w.add("embedding IS NOT NULL")
	if s.dims == 0 {
		// An unsized column may hold vectors from several models.
		w.add("vector_dims(embedding) = " + w.arg(len(query)))
	}
	q := w.arg(pgvector.NewVector(query))
	lim := w.arg(domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit))

	opCtx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(opCtx, "SELECT "+unitColumns+", embedding <=> "+q+" AS distance"+
		" FROM content_units"+w.String()+
		" ORDER BY distance ASC, updated_at DESC, id ASC LIMIT "+lim, w.args...)
	if err != nil {
		return nil, s.fail(ctx, "search", fmt.Errorf("searching: %w", err))
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var distance float64
		u, err := scanUnit(rows, &distance)
		if err != nil {
			return nil, s.fail(ctx, "search", err)
		}
		results = append(results, domain.SearchResult{Unit: *u, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "search", fmt.Errorf("searching: %w", err))
	}
	return results, nil
}

// TextSearch matches every term of text against titles and content.
func (s *Store) TextSearch(
	ctx context.Context,
	text string,
	filters domain.Filters,
	limit int,
) ([]domain.ContentUnit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	w := filterWhere(filters)
	q := w.arg(text)
	w.add("to_tsvector('simple', title || ' ' || content) @@ plainto_tsquery('simple', " + q + ")")
	lim := w.arg(domain.ClampLimit(limit, domain.DefaultSearchLimit, domain.MaxSearchLimit))

	units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM content_units"+w.String()+
		" ORDER BY ts_rank(to_tsvector('simple', title || ' ' || content), plainto_tsquery('simple', "+q+")) DESC,"+
		" updated_at DESC, id ASC LIMIT "+lim, w.args...)
	if err != nil {
		return nil, s.fail(ctx, "text search", fmt.Errorf("text search: %w", err))
	}
	return units, nil
}

// Stats summarises the stored units.
func (s *Store) Stats(ctx context.Context) (*domain.ContentStats, error) {
	stats := &domain.ContentStats{
		BySourceBook:  make(map[string]int),
		ByContentType: make(map[string]int),
	}

	opCtx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.pool.QueryRow(opCtx, "SELECT COUNT(*) FROM content_units").Scan(&stats.Total); err != nil {
		return nil, s.fail(ctx, "stats", fmt.Errorf("counting units: %w", err))
	}
	if err := s.countInto(opCtx, stats.BySourceBook,
		"SELECT source_book, COUNT(*) FROM content_units GROUP BY source_book"); err != nil {
		return nil, s.fail(ctx, "stats", fmt.Errorf("counting source books: %w", err))
	}
	if err := s.countInto(opCtx, stats.ByContentType,
		"SELECT t, COUNT(*) FROM content_units, unnest(content_types) AS t GROUP BY t"); err != nil {
		return nil, s.fail(ctx, "stats", fmt.Errorf("counting content types: %w", err))
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, into map[string]int, query string) error {
	rows, err := s.pool.Query(ctx, query)
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

// queryUnits runs a bounded query and scans every row.
func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]domain.ContentUnit, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
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

// truncate empties the table. Tests only.
func (s *Store) truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE content_units")
	return err
}

// where accumulates AND-combined conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

// arg appends v and returns its placeholder.
func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(cond string) {
	w.conds = append(w.conds, cond)
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
	if len(f.SourceTypes) > 0 {
		w.add("source_type = ANY(" + w.arg(f.SourceTypes) + ")")
	}
	if len(f.SourceBooks) > 0 {
		w.add("source_book = ANY(" + w.arg(f.SourceBooks) + ")")
	}
	if len(f.ContentTypes) > 0 {
		w.add("content_types && " + w.arg(f.ContentTypes))
	}
	return w
}

// escapeLike escapes LIKE wildcards so pattern matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func labelsArg(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

// scanUnit scans a unit selected with unitColumns followed by extra columns.
func scanUnit(row pgx.Row, extra ...any) (*domain.ContentUnit, error) {
	var u domain.ContentUnit
	var embedding *pgvector.Vector

	dest := []any{&u.ID, &u.Title, &u.Body, &embedding, &u.SourceType, &u.SourceBook,
		&u.SectionID, &u.ContentTypes, &u.Tags, &u.PageRange, &u.CharCount, &u.WordCount,
		&u.FilePath, &u.CreatedAt, &u.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning unit: %w", err)
	}

	if embedding != nil {
		u.Embedding = embedding.Slice()
	}
	u.ContentTypes = domain.NormalizeLabels(u.ContentTypes)
	u.Tags = domain.NormalizeLabels(u.Tags)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
