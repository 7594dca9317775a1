package model

import "time"

// Document represents one logical file, addressed by (owner, URL path).
// The (OwnerID, Path) pair is unique across all documents.
type Document struct {
	ID          string // UUID
	OwnerID     string // Opaque identity of the owning user
	Path        string // URL path, must start with "/"; unique per owner
	ContentType string // MIME-like label
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version represents one immutable content snapshot of a document.
// Versions form an append-only log per document: version numbers start at 1,
// are strictly increasing with no gaps, and are assigned by the store,
// never by the caller.
type Version struct {
	ID            string // UUID
	DocumentID    string // Foreign key to Document
	OwnerID       string // Owner of the document, denormalized on load
	VersionNumber int64  // Assigned by the store, starts at 1
	ContentHash   string // SHA-256 hex of the content (not unique across versions)
	Size          int64  // Content size in bytes
	FileName      string // Display name, independent of the document path
	CreatedAt     time.Time

	// ReadGrants and WriteGrants hold identities granted access to this
	// specific version, in addition to the owner. Weak references to
	// externally managed users.
	ReadGrants  []string
	WriteGrants []string

	// Content holds the version bytes. Populated only by content-loading
	// operations; metadata queries leave it nil.
	Content []byte
}

// Operation records one store-mutating command for the audit history.
type Operation struct {
	ID         int64 // Auto-increment, assigned by the database
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}
