package dms

import (
	"context"
	"time"

	"dms-go/internal/model"
)

// Database provides an interface for metadata storage operations.
// Find methods return nil (not an error) when no row matches; mutating
// methods map uniqueness violations to ErrConflict. Implementations must
// honor the transactional boundaries documented per method: version number
// assignment and document find-or-create are single atomic units.
type Database interface {
	// Document operations

	// CreateDocument inserts a new document. Returns ErrConflict if a
	// document already exists at (doc.OwnerID, doc.Path).
	CreateDocument(ctx context.Context, doc *model.Document) error

	// FindDocumentByID returns a document by ID, or nil if absent.
	FindDocumentByID(ctx context.Context, id string) (*model.Document, error)

	// FindDocumentByOwnerAndPath returns the document at (owner, path),
	// or nil if absent.
	FindDocumentByOwnerAndPath(ctx context.Context, owner, path string) (*model.Document, error)

	// ListDocumentsByOwner returns all documents owned by owner,
	// most recently created first.
	ListDocumentsByOwner(ctx context.Context, owner string) ([]*model.Document, error)

	// UpdateDocumentContentType sets a document's content type and UpdatedAt.
	UpdateDocumentContentType(ctx context.Context, id, contentType string, updatedAt time.Time) error

	// Version operations

	// AppendVersion inserts v as the next version of its document, assigning
	// VersionNumber = max existing + 1 (or 1). The read-max-then-insert runs
	// in one transaction that also bumps the document's UpdatedAt, so two
	// concurrent appends to the same document can never produce duplicate or
	// gapped numbers. Returns the stored version with OwnerID populated, or
	// ErrNotFound if the document does not exist.
	AppendVersion(ctx context.Context, v *model.Version) (*model.Version, error)

	// CreateDocumentAndAppendVersion atomically finds or creates the document
	// at (doc.OwnerID, doc.Path) and appends v to it, all in one transaction.
	// The doc argument supplies identity and metadata for the create case and
	// is ignored when the document already exists.
	CreateDocumentAndAppendVersion(ctx context.Context, doc *model.Document, v *model.Version) (*model.Document, *model.Version, error)

	// FindVersionByID returns a version (grants and owner loaded, content
	// not loaded) by ID, or nil if absent.
	FindVersionByID(ctx context.Context, id string) (*model.Version, error)

	// FindVersionByNumber returns the version of a document with the given
	// number, or nil if absent.
	FindVersionByNumber(ctx context.Context, documentID string, number int64) (*model.Version, error)

	// ListVersionsByDocument returns all versions of a document,
	// newest version number first.
	ListVersionsByDocument(ctx context.Context, documentID string) ([]*model.Version, error)

	// FindVersionsByHash returns all versions across all documents whose
	// content hash equals hash, latest CreatedAt first with version ID as a
	// deterministic tie-break.
	FindVersionsByHash(ctx context.Context, hash string) ([]*model.Version, error)

	// Grant operations

	// ReplaceGrants replaces both grant sets of a version wholesale in one
	// transaction. Returns ErrNotFound if the version does not exist.
	ReplaceGrants(ctx context.Context, versionID string, readGrants, writeGrants []string) error

	// Operation audit

	// CreateOperation records the start of a store-mutating command.
	CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error)

	// FinishOperation marks an operation finished with the given status.
	FinishOperation(ctx context.Context, id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)

	// Close closes the database connection.
	Close() error
}
