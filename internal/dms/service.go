package dms

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"dms-go/internal/model"
)

// Service is the core document store: an append-only version ledger with
// content-addressable storage and per-version access grants. It holds no
// in-memory state of its own; all coordination happens at the database's
// transactional boundaries, so it is safe to call from concurrent workers.
type Service struct {
	database Database
	blobs    BlobStore
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, blobs BlobStore, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		database: database,
		blobs:    blobs,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// CreateDocument creates a new document at (owner, path) with no versions.
// The first version is created by a separate append call.
// Returns ErrInvalidArgument for a malformed path and ErrConflict when a
// document already exists at (owner, path).
func (s *Service) CreateDocument(ctx context.Context, owner, path, contentType string) (*model.Document, error) {
	if err := validateIdentity(owner); err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	doc := &model.Document{
		ID:          s.idgen.New(),
		OwnerID:     owner,
		Path:        path,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.database.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	s.logger.Info("document created", "owner", owner, "path", path)
	return doc, nil
}

// Document returns the document at (owner, path).
func (s *Service) Document(ctx context.Context, owner, path string) (*model.Document, error) {
	doc, err := s.database.FindDocumentByOwnerAndPath(ctx, owner, path)
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", path, ErrNotFound)
	}
	return doc, nil
}

// ListDocuments returns all documents owned by owner, most recent first.
func (s *Service) ListDocuments(ctx context.Context, owner string) ([]*model.Document, error) {
	docs, err := s.database.ListDocumentsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// SetContentType updates a document's content type. Only the owner may do so.
func (s *Service) SetContentType(ctx context.Context, documentID, actor, contentType string) error {
	doc, err := s.database.FindDocumentByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	if actor != doc.OwnerID {
		return fmt.Errorf("only the owner may change the content type: %w", ErrForbidden)
	}

	if err := s.database.UpdateDocumentContentType(ctx, documentID, contentType, s.clock.Now()); err != nil {
		return fmt.Errorf("updating content type: %w", err)
	}
	return nil
}

// AppendVersion appends a new immutable version to an existing document.
// The version number is assigned by the store (1 + highest existing) and the
// content hash is always computed here from the bytes; callers cannot
// supply either. Content bytes go to the blob store first (idempotent by
// checksum, so a later database failure leaves at worst an orphaned blob),
// then the version row is committed in a single transaction.
func (s *Service) AppendVersion(ctx context.Context, documentID string, content []byte, fileName string) (*model.Version, error) {
	if content == nil {
		return nil, fmt.Errorf("missing content: %w", ErrInvalidArgument)
	}

	doc, err := s.database.FindDocumentByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}

	version, err := s.storeVersion(ctx, documentID, content, fileName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("version appended",
		"path", doc.Path, "version", version.VersionNumber, "hash", version.ContentHash)
	return version, nil
}

// CreateOrAppend is the write path behind uploads: if a document exists at
// (owner, path) a new version is appended to it, otherwise the document is
// created and the content becomes version 1. The find-or-create and the
// append run as one transactional unit per (owner, path), so two concurrent
// first writes cannot create duplicate documents.
func (s *Service) CreateOrAppend(ctx context.Context, owner, path, contentType string, content []byte, fileName string) (*model.Document, *model.Version, error) {
	if err := validateIdentity(owner); err != nil {
		return nil, nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, nil, err
	}
	if content == nil {
		return nil, nil, fmt.Errorf("missing content: %w", ErrInvalidArgument)
	}

	hash := HashContent(content)
	if err := s.blobs.Put(ctx, hash, bytes.NewReader(content), int64(len(content))); err != nil {
		return nil, nil, fmt.Errorf("storing content: %w", err)
	}

	now := s.clock.Now()
	doc := &model.Document{
		ID:          s.idgen.New(),
		OwnerID:     owner,
		Path:        path,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	draft := &model.Version{
		ID:          s.idgen.New(),
		ContentHash: hash,
		Size:        int64(len(content)),
		FileName:    fileName,
		CreatedAt:   now,
	}

	doc, version, err := s.database.CreateDocumentAndAppendVersion(ctx, doc, draft)
	if err != nil {
		return nil, nil, fmt.Errorf("recording version: %w", err)
	}
	version.Content = content

	s.logger.Info("content uploaded",
		"owner", owner, "path", path, "version", version.VersionNumber, "hash", hash)
	return doc, version, nil
}

// storeVersion uploads content to the blob store and records the version row.
func (s *Service) storeVersion(ctx context.Context, documentID string, content []byte, fileName string) (*model.Version, error) {
	hash := HashContent(content)
	if err := s.blobs.Put(ctx, hash, bytes.NewReader(content), int64(len(content))); err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}

	draft := &model.Version{
		ID:          s.idgen.New(),
		DocumentID:  documentID,
		ContentHash: hash,
		Size:        int64(len(content)),
		FileName:    fileName,
		CreatedAt:   s.clock.Now(),
	}

	version, err := s.database.AppendVersion(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("recording version: %w", err)
	}
	version.Content = content
	return version, nil
}

// Version returns the version of a document with the given number.
// Content is not loaded; use VersionContent.
func (s *Service) Version(ctx context.Context, documentID string, number int64) (*model.Version, error) {
	v, err := s.database.FindVersionByNumber(ctx, documentID, number)
	if err != nil {
		return nil, fmt.Errorf("finding version: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("version %d: %w", number, ErrNotFound)
	}
	return v, nil
}

// ListVersions returns all versions of a document, newest first.
func (s *Service) ListVersions(ctx context.Context, documentID string) ([]*model.Version, error) {
	doc, err := s.database.FindDocumentByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}

	versions, err := s.database.ListVersionsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// VersionContent loads the content bytes of v from the blob store and
// verifies they hash back to the recorded content hash.
func (s *Service) VersionContent(ctx context.Context, v *model.Version) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.blobs.Get(ctx, v.ContentHash, &buf); err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	content := buf.Bytes()
	if got := HashContent(content); got != v.ContentHash {
		return nil, fmt.Errorf("content integrity check failed for version %s: stored bytes hash to %s, expected %s", v.ID, got, v.ContentHash)
	}
	return content, nil
}

// VersionsByHash returns all versions whose content hash equals hash and
// that identity may read, latest first. Versions outside the identity's
// access are filtered out entirely rather than denied.
func (s *Service) VersionsByHash(ctx context.Context, hash, identity string) ([]*model.Version, error) {
	versions, err := s.database.FindVersionsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("finding versions by hash: %w", err)
	}
	return FilterReadable(identity, versions), nil
}

// ResolveByHash returns the version with the latest CreatedAt among all
// versions matching hash that identity may read. A hash with no readable
// versions is indistinguishable from an unknown hash: both are ErrNotFound.
func (s *Service) ResolveByHash(ctx context.Context, hash, identity string) (*model.Version, error) {
	readable, err := s.VersionsByHash(ctx, hash, identity)
	if err != nil {
		return nil, err
	}
	if len(readable) == 0 {
		return nil, fmt.Errorf("content %s: %w", hash, ErrNotFound)
	}
	// FindVersionsByHash orders latest CreatedAt first.
	return readable[0], nil
}

// SetGrants replaces a version's read and write grant sets wholesale.
// Only the owner of the version's document may change grants, and the owner
// must not appear in either set; owner access is implicit.
func (s *Service) SetGrants(ctx context.Context, versionID, actor string, readGrants, writeGrants []string) error {
	v, err := s.database.FindVersionByID(ctx, versionID)
	if err != nil {
		return fmt.Errorf("finding version: %w", err)
	}
	if v == nil {
		return fmt.Errorf("version %s: %w", versionID, ErrNotFound)
	}

	if actor != v.OwnerID {
		return fmt.Errorf("only the owner may change grants: %w", ErrForbidden)
	}
	if contains(readGrants, v.OwnerID) || contains(writeGrants, v.OwnerID) {
		return fmt.Errorf("owner access is implicit and must not be granted explicitly: %w", ErrInvalidArgument)
	}

	if err := s.database.ReplaceGrants(ctx, versionID, normalizeGrants(readGrants), normalizeGrants(writeGrants)); err != nil {
		return fmt.Errorf("replacing grants: %w", err)
	}

	s.logger.Info("grants replaced",
		"version", versionID, "read", len(readGrants), "write", len(writeGrants))
	return nil
}

// validatePath checks the document path format: non-empty, starts with "/".
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with a forward slash: %w", ErrInvalidArgument)
	}
	return nil
}

func validateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("missing identity: %w", ErrInvalidArgument)
	}
	return nil
}

// normalizeGrants deduplicates and sorts a grant set for stable storage.
func normalizeGrants(grants []string) []string {
	seen := make(map[string]bool, len(grants))
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
