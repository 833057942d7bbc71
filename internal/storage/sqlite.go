package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteOptions tunes the SQLite store
type SQLiteOptions struct {
	MaxConns  int // open connection bound, at least 2
	BatchSize int // rows per InsertBatch transaction
}

// sqlRunner is implemented by both *sql.DB and *sql.Conn
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type sqliteQueries struct {
	db        sqlRunner
	batchSize int
}

// SQLiteStore implements MetadataStore on a SQLite database file
type SQLiteStore struct {
	sqliteQueries
	pool *sql.DB
	path string
}

// SQLiteSession pins a single pooled connection
type SQLiteSession struct {
	sqliteQueries
	conn *sql.Conn
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(ctx context.Context, dbPath string, opts SQLiteOptions) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection per worker plus the control loop and backfill
	if opts.MaxConns < 2 {
		opts.MaxConns = 2
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxIdleTime(0)

	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	store := &SQLiteStore{
		sqliteQueries: sqliteQueries{db: db, batchSize: opts.BatchSize},
		pool:          db,
		path:          dbPath,
	}

	if err := store.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// sqliteDSN applies per-connection pragmas through the modernc DSN so every
// pooled connection gets them, not only the first.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(30000)")
	params.Add("_pragma", "temp_store(MEMORY)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// InitSchema creates the doc_info table and its indexes
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Session reserves a connection for the caller
func (s *SQLiteStore) Session(ctx context.Context) (Session, error) {
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection: %w", err)
	}
	return &SQLiteSession{
		sqliteQueries: sqliteQueries{db: conn, batchSize: s.batchSize},
		conn:          conn,
	}, nil
}

// Close closes the database connection pool
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Release returns the connection to the pool
func (s *SQLiteSession) Release() error {
	return s.conn.Close()
}

// Insert writes one row
func (q *sqliteQueries) Insert(ctx context.Context, row DocumentRow) error {
	if _, err := q.db.ExecContext(ctx, insertSQLite, sqliteArgs(row)...); err != nil {
		return fmt.Errorf("failed to insert document %d: %w", row.ID, err)
	}
	return nil
}

// InsertBatch writes rows one transaction per batch
func (q *sqliteQueries) InsertBatch(ctx context.Context, rows []DocumentRow) (int, error) {
	committed := 0
	for _, span := range chunks(len(rows), q.batchSize) {
		if err := q.insertChunk(ctx, rows[span[0]:span[1]]); err != nil {
			return committed, fmt.Errorf("batch insert stopped after %d rows: %w", committed, err)
		}
		committed += span[1] - span[0]
	}
	return committed, nil
}

func (q *sqliteQueries) insertChunk(ctx context.Context, rows []DocumentRow) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQLite)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(row)...); err != nil {
			return fmt.Errorf("failed to insert document %d: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of patch to the row with patch.ID
func (q *sqliteQueries) Update(ctx context.Context, patch DocumentPatch) error {
	sets := patch.assignments(encodeSQLiteTime)
	if len(sets) == 0 {
		return ErrEmptyPatch
	}

	clauses := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets)+1)
	for _, set := range sets {
		clauses = append(clauses, set.column+" = ?")
		args = append(args, set.value)
	}
	args = append(args, patch.ID)

	query := "UPDATE doc_info SET " + strings.Join(clauses, ", ") + " WHERE id = ?"
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document %d: %w", patch.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update document %d: %w", patch.ID, ErrNotFound)
	}
	return nil
}

// SelectByID returns the row with the given id
func (q *sqliteQueries) SelectByID(ctx context.Context, id int64) (*DocumentRow, error) {
	row, err := scanSQLiteRow(q.db.QueryRowContext(ctx, "SELECT "+docColumns+" FROM doc_info WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select document %d: %w", id, err)
	}
	return row, nil
}

// SelectByPage returns one page of rows ordered by id
func (q *sqliteQueries) SelectByPage(ctx context.Context, page, size int) ([]DocumentRow, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page %d/size %d", page, size)
	}
	return q.selectRows(ctx, "SELECT "+docColumns+" FROM doc_info ORDER BY id LIMIT ? OFFSET ?", size, (page-1)*size)
}

// SelectAfter returns up to limit rows following afterID
func (q *sqliteQueries) SelectAfter(ctx context.Context, afterID int64, limit int) ([]DocumentRow, error) {
	return q.selectRows(ctx, "SELECT "+docColumns+" FROM doc_info WHERE id > ? ORDER BY id LIMIT ?", afterID, limit)
}

func (q *sqliteQueries) selectRows(ctx context.Context, query string, args ...any) ([]DocumentRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DocumentRow
	for rows.Next() {
		row, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}

// Count returns the number of rows
func (q *sqliteQueries) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM doc_info").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// MaxID returns the highest id in use, or 0 for an empty table
func (q *sqliteQueries) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := q.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM doc_info").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max id: %w", err)
	}
	return id, nil
}

// DeleteByID removes the row with the given id
func (q *sqliteQueries) DeleteByID(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(ctx, "DELETE FROM doc_info WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

const insertSQLite = `INSERT INTO doc_info (` + docColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteArgs(row DocumentRow) []any {
	return []any{
		row.ID,
		row.URL,
		nullString(row.Title),
		nullString(row.Domain),
		nullInt(int64(row.StatusCode)),
		boolToInt(row.Stored),
		nullString(row.ContentType),
		nullInt(row.ContentLength),
		encodeSQLiteTime(row.CreateTime),
		nullTime(row.UpdateTime),
	}
}

// Times are stored as RFC 3339 text in UTC
func encodeSQLiteTime(t time.Time) any {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return encodeSQLiteTime(t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(s rowScanner) (*DocumentRow, error) {
	var (
		row           DocumentRow
		title         sql.NullString
		domain        sql.NullString
		statusCode    sql.NullInt64
		stored        int
		contentType   sql.NullString
		contentLength sql.NullInt64
		createTime    sql.NullString
		updateTime    sql.NullString
	)
	if err := s.Scan(&row.ID, &row.URL, &title, &domain, &statusCode, &stored,
		&contentType, &contentLength, &createTime, &updateTime); err != nil {
		return nil, err
	}

	row.Title = title.String
	row.Domain = domain.String
	row.StatusCode = int(statusCode.Int64)
	row.Stored = stored == 1
	row.ContentType = contentType.String
	row.ContentLength = contentLength.Int64

	var err error
	if row.CreateTime, err = parseSQLiteTime(createTime); err != nil {
		return nil, err
	}
	if row.UpdateTime, err = parseSQLiteTime(updateTime); err != nil {
		return nil, err
	}
	return &row, nil
}

func parseSQLiteTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v.String, err)
	}
	return t, nil
}

var (
	_ MetadataStore = (*SQLiteStore)(nil)
	_ Session       = (*SQLiteSession)(nil)
)
