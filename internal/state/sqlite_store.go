package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
)

// SQLiteStore implements SQLite-based storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; read-modify-write updates run in one connection.
	db.SetMaxOpenConns(1)

	o := buildOptions(opts)
	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
		now:    o.now,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS bookmarks (
        id TEXT PRIMARY KEY,
        url TEXT NOT NULL UNIQUE,
        title TEXT NOT NULL DEFAULT '',
        html TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        retry_count INTEGER NOT NULL DEFAULT 0,
        error_message TEXT NOT NULL DEFAULT '',
        next_retry_at INTEGER,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_bookmarks_status ON bookmarks(status, created_at);

    CREATE TABLE IF NOT EXISTS jobs (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        status TEXT NOT NULL,
        total_items INTEGER NOT NULL DEFAULT 0,
        completed_items INTEGER NOT NULL DEFAULT 0,
        failed_items INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        completed_at INTEGER
    );

    CREATE TABLE IF NOT EXISTS job_items (
        id TEXT PRIMARY KEY,
        job_id TEXT NOT NULL,
        bookmark_id TEXT NOT NULL,
        status TEXT NOT NULL,
        retry_count INTEGER NOT NULL DEFAULT 0,
        error_message TEXT NOT NULL DEFAULT '',
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_job_items_job ON job_items(job_id);
    CREATE INDEX IF NOT EXISTS idx_job_items_bookmark ON job_items(bookmark_id, created_at);

    CREATE TABLE IF NOT EXISTS settings (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

const bookmarkColumns = `id, url, title, html, content, status, retry_count, error_message, next_retry_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBookmark(row rowScanner) (*models.Bookmark, error) {
	var (
		b                    models.Bookmark
		status               string
		nextRetry            sql.NullInt64
		createdAt, updatedAt int64
	)

	if err := row.Scan(&b.ID, &b.URL, &b.Title, &b.HTML, &b.Content, &status,
		&b.RetryCount, &b.ErrorMessage, &nextRetry, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	b.Status = models.BookmarkStatus(status)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	if nextRetry.Valid {
		t := fromMillis(nextRetry.Int64)
		b.NextRetryAt = &t
	}
	return &b, nil
}

func (s *SQLiteStore) queryBookmarks(ctx context.Context, query string, args ...interface{}) ([]*models.Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var out []*models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark row: %w", err)
		}
		out = append(out, b)
	}

	return out, rows.Err()
}

// CreateBookmark inserts a bookmark.
func (s *SQLiteStore) CreateBookmark(ctx context.Context, b *models.Bookmark) error {
	now := s.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO bookmarks (`+bookmarkColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, b.ID, b.URL, b.Title, b.HTML, b.Content, string(b.Status), b.RetryCount,
		b.ErrorMessage, nullMillis(b.NextRetryAt), toMillis(b.CreatedAt), toMillis(b.UpdatedAt))

	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateURL, b.URL)
	}
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("bookmark %s: %w", b.ID, models.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"bookmark_id": b.ID,
		"status":      string(b.Status),
	}).Debug("Created bookmark")

	return nil
}

// GetBookmark loads a bookmark by id.
func (s *SQLiteStore) GetBookmark(ctx context.Context, id string) (*models.Bookmark, error) {
	b, err := scanBookmark(s.db.QueryRowContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query bookmark: %w", err)
	}
	return b, nil
}

// FindByURL loads a bookmark by URL.
func (s *SQLiteStore) FindByURL(ctx context.Context, url string) (*models.Bookmark, error) {
	b, err := scanBookmark(s.db.QueryRowContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bookmark %s: %w", url, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query bookmark: %w", err)
	}
	return b, nil
}

// ListBookmarks returns bookmarks in creation order.
func (s *SQLiteStore) ListBookmarks(ctx context.Context, opts ListOptions) ([]*models.Bookmark, error) {
	query := `SELECT ` + bookmarkColumns + ` FROM bookmarks`
	var args []interface{}

	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at, rowid LIMIT ?`
	args = append(args, sqlLimit(opts.Limit))

	return s.queryBookmarks(ctx, query, args...)
}

// GetByStatus returns ready bookmarks with the given status.
func (s *SQLiteStore) GetByStatus(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error) {
	return s.queryBookmarks(ctx, `
        SELECT `+bookmarkColumns+`
        FROM bookmarks
        WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY created_at, rowid
        LIMIT ?
    `, string(status), toMillis(s.now()), sqlLimit(limit))
}

// Update applies a partial update to one bookmark.
func (s *SQLiteStore) Update(ctx context.Context, id string, update models.BookmarkUpdate) error {
	return s.BulkUpdate(ctx, []string{id}, update)
}

// BulkUpdate applies the same partial update to every id in one transaction.
func (s *SQLiteStore) BulkUpdate(ctx context.Context, ids []string, update models.BookmarkUpdate) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, id := range ids {
		b, err := scanBookmark(tx.QueryRowContext(ctx,
			`SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query bookmark: %w", err)
		}

		if err := update.Validate(b); err != nil {
			return fmt.Errorf("bookmark %s: %w", id, err)
		}
		update.Apply(b, now)

		_, err = tx.ExecContext(ctx, `
            UPDATE bookmarks SET
                title = ?, html = ?, content = ?, status = ?, retry_count = ?,
                error_message = ?, next_retry_at = ?, updated_at = ?
            WHERE id = ?
        `, b.Title, b.HTML, b.Content, string(b.Status), b.RetryCount,
			b.ErrorMessage, nullMillis(b.NextRetryAt), toMillis(b.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("update bookmark %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// DeleteBookmark removes a bookmark and its job items.
func (s *SQLiteStore) DeleteBookmark(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_items WHERE bookmark_id = ?`, id); err != nil {
		return fmt.Errorf("delete job items: %w", err)
	}

	s.logger.WithField("bookmark_id", id).Info("Deleted bookmark")
	return tx.Commit()
}

// CountByStatus counts bookmarks per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookmarks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count bookmarks: %w", err)
	}
	defer rows.Close()

	counts := models.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[models.BookmarkStatus(status)] = n
	}

	return counts, rows.Err()
}

// NewestUpdate returns the latest bookmark modification time.
func (s *SQLiteStore) NewestUpdate(ctx context.Context) (time.Time, error) {
	var newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM bookmarks`).Scan(&newest); err != nil {
		return time.Time{}, fmt.Errorf("query newest update: %w", err)
	}
	if !newest.Valid {
		return time.Time{}, nil
	}
	return fromMillis(newest.Int64), nil
}

// EarliestRetryAt returns the earliest deferred retry.
func (s *SQLiteStore) EarliestRetryAt(ctx context.Context) (*time.Time, error) {
	var earliest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
        SELECT MIN(next_retry_at) FROM bookmarks
        WHERE next_retry_at IS NOT NULL AND next_retry_at > ?
          AND status IN (?, ?, ?)
    `, toMillis(s.now()),
		string(models.StatusPending), string(models.StatusFetching), string(models.StatusDownloaded),
	).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("query earliest retry: %w", err)
	}
	if !earliest.Valid {
		return nil, nil
	}
	t := fromMillis(earliest.Int64)
	return &t, nil
}

// CreateJob inserts a job and its items.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job, items []models.JobItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO jobs (id, type, status, total_items, completed_items, failed_items, created_at, updated_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, job.ID, string(job.Type), string(job.Status), job.TotalItems, job.CompletedItems, job.FailedItems,
		toMillis(job.CreatedAt), toMillis(job.UpdatedAt), nullMillis(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO job_items (id, job_id, bookmark_id, status, retry_count, error_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, job.ID, it.BookmarkID, string(it.Status),
			it.RetryCount, it.ErrorMessage, toMillis(it.CreatedAt), toMillis(it.UpdatedAt)); err != nil {
			return fmt.Errorf("insert job item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

const jobColumns = `id, type, status, total_items, completed_items, failed_items, created_at, updated_at, completed_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                    models.Job
		typ, status          string
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)
	if err := row.Scan(&j.ID, &typ, &status, &j.TotalItems, &j.CompletedItems, &j.FailedItems,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		j.CompletedAt = &t
	}
	return &j, nil
}

// GetJob loads a job.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const jobItemColumns = `id, job_id, bookmark_id, status, retry_count, error_message, created_at, updated_at`

func scanJobItem(row rowScanner) (*models.JobItem, error) {
	var (
		it                   models.JobItem
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&it.ID, &it.JobID, &it.BookmarkID, &status, &it.RetryCount, &it.ErrorMessage,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.Status = models.JobItemStatus(status)
	it.CreatedAt = fromMillis(createdAt)
	it.UpdatedAt = fromMillis(updatedAt)
	return &it, nil
}

func listJobItems(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}, jobID string) ([]models.JobItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobItemColumns+` FROM job_items WHERE job_id = ? ORDER BY created_at, rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job items: %w", err)
	}
	defer rows.Close()

	var out []models.JobItem
	for rows.Next() {
		it, err := scanJobItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job item row: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// ListJobItems returns the items of a job.
func (s *SQLiteStore) ListJobItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	return listJobItems(ctx, s.db, jobID)
}

// GetJobItemByBookmark returns the most recent job item for a bookmark.
func (s *SQLiteStore) GetJobItemByBookmark(ctx context.Context, bookmarkID string) (*models.JobItem, error) {
	it, err := scanJobItem(s.db.QueryRowContext(ctx, `
        SELECT `+jobItemColumns+` FROM job_items
        WHERE bookmark_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT 1
    `, bookmarkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job item for %s: %w", bookmarkID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job item: %w", err)
	}
	return it, nil
}

// UpdateJobItemByBookmark updates the most recent job item for a bookmark.
func (s *SQLiteStore) UpdateJobItemByBookmark(ctx context.Context, bookmarkID string, update models.JobItemUpdate) error {
	it, err := s.GetJobItemByBookmark(ctx, bookmarkID)
	if err != nil {
		return err
	}

	update.Apply(it, s.now())

	_, err = s.db.ExecContext(ctx, `
        UPDATE job_items SET status = ?, retry_count = ?, error_message = ?, updated_at = ?
        WHERE id = ?
    `, string(it.Status), it.RetryCount, it.ErrorMessage, toMillis(it.UpdatedAt), it.ID)
	if err != nil {
		return fmt.Errorf("update job item: %w", err)
	}
	return nil
}

// UpdateJobStatus recomputes the job aggregate from its items.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query job: %w", err)
	}

	items, err := listJobItems(ctx, tx, jobID)
	if err != nil {
		return err
	}

	job.Aggregate(items, s.now())

	_, err = tx.ExecContext(ctx, `
        UPDATE jobs SET status = ?, total_items = ?, completed_items = ?, failed_items = ?,
            updated_at = ?, completed_at = ?
        WHERE id = ?
    `, string(job.Status), job.TotalItems, job.CompletedItems, job.FailedItems,
		toMillis(job.UpdatedAt), nullMillis(job.CompletedAt), jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id":    jobID,
		"status":    string(job.Status),
		"completed": job.CompletedItems,
		"failed":    job.FailedItems,
		"total":     job.TotalItems,
	}).Debug("Updated job status")

	return tx.Commit()
}

// GetSettings loads settings.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	values := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting row: %w", err)
		}
		values[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return decodeSettings(values)
}

// SaveSetting persists one setting.
func (s *SQLiteStore) SaveSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeSetting(key, value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO settings (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, key, string(raw))
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Helper functions

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}
