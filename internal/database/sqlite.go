package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"dms-go/internal/database/migrations"
	"dms-go/internal/dms"
	"dms-go/internal/model"
)

// maxWriteAttempts bounds the internal retry on version number assignment
// and document find-or-create. Exhaustion surfaces as a conflict.
const maxWriteAttempts = 5

// SQLiteDatabase implements the dms.Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:   db,
		path: "",
	}
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. Exported for use in tools and tests that need a
// properly configured SQLite connection. path can be a file path or
// ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// Take the write lock at BEGIN instead of at the first write, so
		// concurrent append transactions queue on busy_timeout rather than
		// failing mid-transaction on a deferred lock upgrade.
		dsn = "file:" + path + "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty in-memory
		// database.
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL keeps readers unblocked while an append transaction holds the
	// write lock; busy_timeout makes queued writers wait instead of erroring.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Document operations

func (s *SQLiteDatabase) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, path, content_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Path, doc.ContentType, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document already exists at %s: %w", doc.Path, dms.ErrConflict)
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindDocumentByID(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, path, content_type, created_at, updated_at
		FROM documents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding document by id: %w", err)
	}
	return doc, nil
}

func (s *SQLiteDatabase) FindDocumentByOwnerAndPath(ctx context.Context, owner, path string) (*model.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, path, content_type, created_at, updated_at
		FROM documents WHERE owner_id = ? AND path = ?`, owner, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding document by path: %w", err)
	}
	return doc, nil
}

func (s *SQLiteDatabase) ListDocumentsByOwner(ctx context.Context, owner string) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, path, content_type, created_at, updated_at
		FROM documents WHERE owner_id = ?
		ORDER BY created_at DESC, path ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

func (s *SQLiteDatabase) UpdateDocumentContentType(ctx context.Context, id, contentType string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content_type = ?, updated_at = ? WHERE id = ?`,
		contentType, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating content type: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating content type: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, dms.ErrNotFound)
	}
	return nil
}

// Version operations

// AppendVersion assigns the next version number and inserts the row in a
// single transaction. The read-max-then-insert is guarded by the
// UNIQUE(document_id, version_number) constraint: if two appends race, the
// loser retries with a fresh read. Exhausted retries surface as a conflict.
func (s *SQLiteDatabase) AppendVersion(ctx context.Context, v *model.Version) (*model.Version, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		version, err := s.tryAppendVersion(ctx, v)
		if err == nil {
			return version, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("assigning version number for document %s after %d attempts: %w",
		v.DocumentID, maxWriteAttempts, dms.ErrConflict)
}

func (s *SQLiteDatabase) tryAppendVersion(ctx context.Context, v *model.Version) (*model.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	version, err := appendVersionTx(ctx, tx, v)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return version, nil
}

// appendVersionTx performs the append inside an open transaction:
// verify the document, read max version number, insert, bump updated_at.
func appendVersionTx(ctx context.Context, tx *sql.Tx, v *model.Version) (*model.Version, error) {
	var ownerID string
	err := tx.QueryRowContext(ctx,
		`SELECT owner_id FROM documents WHERE id = ?`, v.DocumentID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", v.DocumentID, dms.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}

	var maxNumber int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM versions WHERE document_id = ?`,
		v.DocumentID,
	).Scan(&maxNumber)
	if err != nil {
		return nil, fmt.Errorf("reading max version number: %w", err)
	}

	version := *v
	version.OwnerID = ownerID
	version.VersionNumber = maxNumber + 1
	version.ReadGrants = nil
	version.WriteGrants = nil

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, document_id, version_number, content_hash, size, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		version.ID, version.DocumentID, version.VersionNumber,
		version.ContentHash, version.Size, version.FileName, version.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET updated_at = ? WHERE id = ?`,
		version.CreatedAt, version.DocumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating document timestamp: %w", err)
	}

	return &version, nil
}

// CreateDocumentAndAppendVersion atomically finds or creates the document at
// (doc.OwnerID, doc.Path) and appends v as its next version:
//  1. Look up the document inside the transaction.
//  2. Insert it if absent; a concurrent first write loses on the
//     UNIQUE(owner_id, path) constraint and retries, finding the winner's row.
//  3. Append the version with the same read-max-then-insert discipline as
//     AppendVersion.
func (s *SQLiteDatabase) CreateDocumentAndAppendVersion(ctx context.Context, doc *model.Document, v *model.Version) (*model.Document, *model.Version, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		d, version, err := s.tryCreateDocumentAndAppendVersion(ctx, doc, v)
		if err == nil {
			return d, version, nil
		}
		if !isRetryable(err) {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("storing version at %s after %d attempts: %w",
		doc.Path, maxWriteAttempts, dms.ErrConflict)
}

func (s *SQLiteDatabase) tryCreateDocumentAndAppendVersion(ctx context.Context, doc *model.Document, v *model.Version) (*model.Document, *model.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanDocument(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, path, content_type, created_at, updated_at
		FROM documents WHERE owner_id = ? AND path = ?`, doc.OwnerID, doc.Path))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("finding document: %w", err)
	}

	if existing == nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, owner_id, path, content_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.OwnerID, doc.Path, doc.ContentType, doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("inserting document: %w", err)
		}
		created := *doc
		existing = &created
	}

	draft := *v
	draft.DocumentID = existing.ID
	version, err := appendVersionTx(ctx, tx, &draft)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing transaction: %w", err)
	}

	existing.UpdatedAt = version.CreatedAt
	return existing, version, nil
}

const versionColumns = `v.id, v.document_id, d.owner_id, v.version_number, v.content_hash, v.size, v.file_name, v.created_at`

func (s *SQLiteDatabase) FindVersionByID(ctx context.Context, id string) (*model.Version, error) {
	versions, err := s.queryVersions(ctx, `WHERE v.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil // Not found
	}
	return versions[0], nil
}

func (s *SQLiteDatabase) FindVersionByNumber(ctx context.Context, documentID string, number int64) (*model.Version, error) {
	versions, err := s.queryVersions(ctx,
		`WHERE v.document_id = ? AND v.version_number = ?`, documentID, number)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil // Not found
	}
	return versions[0], nil
}

func (s *SQLiteDatabase) ListVersionsByDocument(ctx context.Context, documentID string) ([]*model.Version, error) {
	return s.queryVersions(ctx,
		`WHERE v.document_id = ? ORDER BY v.version_number DESC`, documentID)
}

// FindVersionsByHash queries the content hash index. The index is non-unique
// on purpose: versions of different documents, or repeated uploads of the
// same bytes, legitimately share a digest. Latest CreatedAt first, version ID
// as a deterministic tie-break.
func (s *SQLiteDatabase) FindVersionsByHash(ctx context.Context, hash string) ([]*model.Version, error) {
	return s.queryVersions(ctx,
		`WHERE v.content_hash = ? ORDER BY v.created_at DESC, v.id ASC`, hash)
}

// queryVersions runs a version query with the given clause and loads the
// grant sets for each returned version.
func (s *SQLiteDatabase) queryVersions(ctx context.Context, clause string, args ...any) ([]*model.Version, error) {
	query := `SELECT ` + versionColumns + `
		FROM versions v JOIN documents d ON d.id = v.document_id ` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var versions []*model.Version
	for rows.Next() {
		var v model.Version
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.OwnerID, &v.VersionNumber,
			&v.ContentHash, &v.Size, &v.FileName, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}

	for _, v := range versions {
		if err := s.loadGrants(ctx, v); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

func (s *SQLiteDatabase) loadGrants(ctx context.Context, v *model.Version) error {
	read, err := s.queryGrantSet(ctx, "version_read_grants", v.ID)
	if err != nil {
		return err
	}
	write, err := s.queryGrantSet(ctx, "version_write_grants", v.ID)
	if err != nil {
		return err
	}
	v.ReadGrants = read
	v.WriteGrants = write
	return nil
}

func (s *SQLiteDatabase) queryGrantSet(ctx context.Context, table, versionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM `+table+` WHERE version_id = ? ORDER BY user_id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	return users, nil
}

// Grant operations

// ReplaceGrants swaps both grant sets of a version in one transaction.
// A failed replacement leaves the existing grants untouched.
func (s *SQLiteDatabase) ReplaceGrants(ctx context.Context, versionID string, readGrants, writeGrants []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM versions WHERE id = ?`, versionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("version %s: %w", versionID, dms.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finding version: %w", err)
	}

	for _, table := range []string{"version_read_grants", "version_write_grants"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE version_id = ?`, versionID); err != nil {
			return fmt.Errorf("clearing grants: %w", err)
		}
	}
	if err := insertGrants(ctx, tx, "version_read_grants", versionID, readGrants); err != nil {
		return err
	}
	if err := insertGrants(ctx, tx, "version_write_grants", versionID, writeGrants); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertGrants(ctx context.Context, tx *sql.Tx, table, versionID string, users []string) error {
	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (version_id, user_id) VALUES (?, ?)`, versionID, u); err != nil {
			return fmt.Errorf("inserting grant for %s: %w", u, err)
		}
	}
	return nil
}

// Operation audit

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	startedAt := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (started_at, operation, parameters, status)
		VALUES (?, ?, ?, '')`,
		startedAt, operation, parameters,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &model.Operation{
		ID:         id,
		StartedAt:  startedAt,
		Operation:  operation,
		Parameters: parameters,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now(), status, id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		var finishedAt sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finishedAt,
			&op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrateUp brings the database schema to the latest version.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Path, &doc.ContentType,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isBusy reports whether err is a lock contention error that a fresh
// transaction may resolve.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

func isRetryable(err error) bool {
	return isUniqueViolation(err) || isBusy(err)
}

// Compile-time check that SQLiteDatabase implements dms.Database interface
var _ dms.Database = (*SQLiteDatabase)(nil)
