package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dms-go/internal/dms"
	"dms-go/internal/model"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if _, err := db.db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newDocument(owner, path string) *model.Document {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &model.Document{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Path:        path,
		ContentType: "text/plain",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newVersion(documentID, hash string) *model.Version {
	return &model.Version{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		ContentHash: hash,
		Size:        42,
		FileName:    "doc.txt",
		CreatedAt:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestSQLiteDatabase_CreateDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and finds a document", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		found, err := db.FindDocumentByOwnerAndPath(ctx, "alice", "/doc.txt")
		if err != nil {
			t.Fatalf("FindDocumentByOwnerAndPath() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindDocumentByOwnerAndPath() returned nil, want document")
		}
		if found.ID != doc.ID {
			t.Errorf("ID = %v, want %v", found.ID, doc.ID)
		}
		if found.ContentType != "text/plain" {
			t.Errorf("ContentType = %v, want text/plain", found.ContentType)
		}
	})

	t.Run("conflicts on duplicate owner and path", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateDocument(ctx, newDocument("alice", "/doc.txt")); err != nil {
			t.Fatalf("first CreateDocument() error = %v", err)
		}
		err := db.CreateDocument(ctx, newDocument("alice", "/doc.txt"))
		if !errors.Is(err, dms.ErrConflict) {
			t.Errorf("second CreateDocument() error = %v, want ErrConflict", err)
		}
	})

	t.Run("same path under a different owner succeeds", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CreateDocument(ctx, newDocument("alice", "/doc.txt")); err != nil {
			t.Fatalf("CreateDocument(alice) error = %v", err)
		}
		if err := db.CreateDocument(ctx, newDocument("bob", "/doc.txt")); err != nil {
			t.Errorf("CreateDocument(bob) error = %v", err)
		}
	})
}

func TestSQLiteDatabase_FindDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when not found", func(t *testing.T) {
		db := newTestDB(t)

		doc, err := db.FindDocumentByID(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("FindDocumentByID() error = %v", err)
		}
		if doc != nil {
			t.Errorf("FindDocumentByID() = %v, want nil", doc)
		}

		doc, err = db.FindDocumentByOwnerAndPath(ctx, "alice", "/missing.txt")
		if err != nil {
			t.Fatalf("FindDocumentByOwnerAndPath() error = %v", err)
		}
		if doc != nil {
			t.Errorf("FindDocumentByOwnerAndPath() = %v, want nil", doc)
		}
	})
}

func TestSQLiteDatabase_ListDocumentsByOwner(t *testing.T) {
	ctx := context.Background()

	t.Run("lists most recently created first", func(t *testing.T) {
		db := newTestDB(t)

		older := newDocument("alice", "/old.txt")
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		if err := db.CreateDocument(ctx, older); err != nil {
			t.Fatalf("CreateDocument(old) error = %v", err)
		}
		if err := db.CreateDocument(ctx, newDocument("alice", "/new.txt")); err != nil {
			t.Fatalf("CreateDocument(new) error = %v", err)
		}
		if err := db.CreateDocument(ctx, newDocument("bob", "/other.txt")); err != nil {
			t.Fatalf("CreateDocument(bob) error = %v", err)
		}

		docs, err := db.ListDocumentsByOwner(ctx, "alice")
		if err != nil {
			t.Fatalf("ListDocumentsByOwner() error = %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("ListDocumentsByOwner() returned %d documents, want 2", len(docs))
		}
		if docs[0].Path != "/new.txt" || docs[1].Path != "/old.txt" {
			t.Errorf("order = [%s %s], want [/new.txt /old.txt]", docs[0].Path, docs[1].Path)
		}
	})
}

func TestSQLiteDatabase_UpdateDocumentContentType(t *testing.T) {
	ctx := context.Background()

	t.Run("updates content type and timestamp", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		updatedAt := doc.UpdatedAt.Add(time.Hour)
		if err := db.UpdateDocumentContentType(ctx, doc.ID, "application/pdf", updatedAt); err != nil {
			t.Fatalf("UpdateDocumentContentType() error = %v", err)
		}

		found, err := db.FindDocumentByID(ctx, doc.ID)
		if err != nil {
			t.Fatalf("FindDocumentByID() error = %v", err)
		}
		if found.ContentType != "application/pdf" {
			t.Errorf("ContentType = %v, want application/pdf", found.ContentType)
		}
		if !found.UpdatedAt.Equal(updatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", found.UpdatedAt, updatedAt)
		}
	})

	t.Run("fails for a missing document", func(t *testing.T) {
		db := newTestDB(t)

		err := db.UpdateDocumentContentType(ctx, "nonexistent", "application/pdf", time.Now())
		if !errors.Is(err, dms.ErrNotFound) {
			t.Errorf("UpdateDocumentContentType() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_AppendVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns sequential version numbers", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		v1, err := db.AppendVersion(ctx, newVersion(doc.ID, "hash-a"))
		if err != nil {
			t.Fatalf("first AppendVersion() error = %v", err)
		}
		v2, err := db.AppendVersion(ctx, newVersion(doc.ID, "hash-b"))
		if err != nil {
			t.Fatalf("second AppendVersion() error = %v", err)
		}

		if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
			t.Errorf("version numbers = [%d %d], want [1 2]", v1.VersionNumber, v2.VersionNumber)
		}
		if v1.OwnerID != "alice" {
			t.Errorf("OwnerID = %s, want alice", v1.OwnerID)
		}
	})

	t.Run("bumps the document's updated_at", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		v := newVersion(doc.ID, "hash-a")
		v.CreatedAt = doc.UpdatedAt.Add(time.Hour)
		if _, err := db.AppendVersion(ctx, v); err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}

		found, err := db.FindDocumentByID(ctx, doc.ID)
		if err != nil {
			t.Fatalf("FindDocumentByID() error = %v", err)
		}
		if !found.UpdatedAt.Equal(v.CreatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", found.UpdatedAt, v.CreatedAt)
		}
	})

	t.Run("fails for a missing document", func(t *testing.T) {
		db := newTestDB(t)

		_, err := db.AppendVersion(ctx, newVersion("nonexistent", "hash-a"))
		if !errors.Is(err, dms.ErrNotFound) {
			t.Errorf("AppendVersion() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent appends get distinct gapless numbers", func(t *testing.T) {
		// Uses a file-backed database so appends contend on the real write lock.
		path := filepath.Join(t.TempDir(), "dms.db")
		db, err := NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()

		if _, err := db.db.Exec(Schema); err != nil {
			t.Fatalf("failed to apply schema: %v", err)
		}

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		results := make([]int64, writers)
		errs := make([]error, writers)

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := db.AppendVersion(ctx, newVersion(doc.ID, fmt.Sprintf("hash-%d", i)))
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = v.VersionNumber
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("writer %d: AppendVersion() error = %v", i, err)
			}
		}

		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, n := range results {
			if n != int64(i+1) {
				t.Fatalf("version numbers = %v, want 1..%d with no gaps", results, writers)
			}
		}
	})
}

func TestSQLiteDatabase_CreateDocumentAndAppendVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the document when absent", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		created, v, err := db.CreateDocumentAndAppendVersion(ctx, doc, newVersion("", "hash-a"))
		if err != nil {
			t.Fatalf("CreateDocumentAndAppendVersion() error = %v", err)
		}
		if created.ID != doc.ID {
			t.Errorf("document ID = %s, want %s", created.ID, doc.ID)
		}
		if v.VersionNumber != 1 {
			t.Errorf("VersionNumber = %d, want 1", v.VersionNumber)
		}
		if v.DocumentID != doc.ID {
			t.Errorf("DocumentID = %s, want %s", v.DocumentID, doc.ID)
		}
	})

	t.Run("reuses an existing document", func(t *testing.T) {
		db := newTestDB(t)

		existing := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, existing); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}

		// The draft document carries a different ID and content type; both
		// must be ignored in favor of the existing row.
		draft := newDocument("alice", "/doc.txt")
		draft.ContentType = "application/json"

		got, v, err := db.CreateDocumentAndAppendVersion(ctx, draft, newVersion("", "hash-a"))
		if err != nil {
			t.Fatalf("CreateDocumentAndAppendVersion() error = %v", err)
		}
		if got.ID != existing.ID {
			t.Errorf("document ID = %s, want existing %s", got.ID, existing.ID)
		}
		if got.ContentType != "text/plain" {
			t.Errorf("ContentType = %s, want text/plain", got.ContentType)
		}
		if v.DocumentID != existing.ID {
			t.Errorf("DocumentID = %s, want %s", v.DocumentID, existing.ID)
		}
	})

	t.Run("concurrent first writes converge on one document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dms.db")
		db, err := NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()

		if _, err := db.db.Exec(Schema); err != nil {
			t.Fatalf("failed to apply schema: %v", err)
		}

		const writers = 4
		var wg sync.WaitGroup
		docIDs := make([]string, writers)
		errs := make([]error, writers)

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc, _, err := db.CreateDocumentAndAppendVersion(ctx,
					newDocument("alice", "/doc.txt"),
					newVersion("", fmt.Sprintf("hash-%d", i)))
				if err != nil {
					errs[i] = err
					return
				}
				docIDs[i] = doc.ID
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("writer %d: CreateDocumentAndAppendVersion() error = %v", i, err)
			}
		}
		for i := 1; i < writers; i++ {
			if docIDs[i] != docIDs[0] {
				t.Fatalf("writers saw different documents: %v", docIDs)
			}
		}

		versions, err := db.ListVersionsByDocument(ctx, docIDs[0])
		if err != nil {
			t.Fatalf("ListVersionsByDocument() error = %v", err)
		}
		if len(versions) != writers {
			t.Errorf("stored %d versions, want %d", len(versions), writers)
		}
	})
}

func TestSQLiteDatabase_FindVersions(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when not found", func(t *testing.T) {
		db := newTestDB(t)

		v, err := db.FindVersionByID(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("FindVersionByID() error = %v", err)
		}
		if v != nil {
			t.Errorf("FindVersionByID() = %v, want nil", v)
		}

		v, err = db.FindVersionByNumber(ctx, "nonexistent", 1)
		if err != nil {
			t.Fatalf("FindVersionByNumber() error = %v", err)
		}
		if v != nil {
			t.Errorf("FindVersionByNumber() = %v, want nil", v)
		}
	})

	t.Run("lists versions newest number first", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := db.AppendVersion(ctx, newVersion(doc.ID, fmt.Sprintf("hash-%d", i))); err != nil {
				t.Fatalf("AppendVersion(%d) error = %v", i, err)
			}
		}

		versions, err := db.ListVersionsByDocument(ctx, doc.ID)
		if err != nil {
			t.Fatalf("ListVersionsByDocument() error = %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("ListVersionsByDocument() returned %d versions, want 3", len(versions))
		}
		for i, v := range versions {
			if want := int64(3 - i); v.VersionNumber != want {
				t.Errorf("versions[%d].VersionNumber = %d, want %d", i, v.VersionNumber, want)
			}
		}
	})

	t.Run("finds versions by hash latest created first", func(t *testing.T) {
		db := newTestDB(t)

		docA := newDocument("alice", "/a.txt")
		docB := newDocument("bob", "/b.txt")
		if err := db.CreateDocument(ctx, docA); err != nil {
			t.Fatalf("CreateDocument(a) error = %v", err)
		}
		if err := db.CreateDocument(ctx, docB); err != nil {
			t.Fatalf("CreateDocument(b) error = %v", err)
		}

		older := newVersion(docA.ID, "shared-hash")
		newer := newVersion(docB.ID, "shared-hash")
		newer.CreatedAt = older.CreatedAt.Add(time.Hour)
		other := newVersion(docA.ID, "other-hash")

		for _, v := range []*model.Version{older, other, newer} {
			if _, err := db.AppendVersion(ctx, v); err != nil {
				t.Fatalf("AppendVersion() error = %v", err)
			}
		}

		versions, err := db.FindVersionsByHash(ctx, "shared-hash")
		if err != nil {
			t.Fatalf("FindVersionsByHash() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("FindVersionsByHash() returned %d versions, want 2", len(versions))
		}
		if versions[0].ID != newer.ID || versions[1].ID != older.ID {
			t.Errorf("order = [%s %s], want newest created first", versions[0].ID, versions[1].ID)
		}
		if versions[0].OwnerID != "bob" {
			t.Errorf("OwnerID = %s, want bob", versions[0].OwnerID)
		}
	})
}

func TestSQLiteDatabase_ReplaceGrants(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces both sets and loads them sorted", func(t *testing.T) {
		db := newTestDB(t)

		doc := newDocument("alice", "/doc.txt")
		if err := db.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument() error = %v", err)
		}
		v, err := db.AppendVersion(ctx, newVersion(doc.ID, "hash-a"))
		if err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}

		if err := db.ReplaceGrants(ctx, v.ID, []string{"carol", "bob"}, []string{"dave"}); err != nil {
			t.Fatalf("ReplaceGrants() error = %v", err)
		}

		found, err := db.FindVersionByID(ctx, v.ID)
		if err != nil {
			t.Fatalf("FindVersionByID() error = %v", err)
		}
		if len(found.ReadGrants) != 2 || found.ReadGrants[0] != "bob" || found.ReadGrants[1] != "carol" {
			t.Errorf("ReadGrants = %v, want [bob carol]", found.ReadGrants)
		}
		if len(found.WriteGrants) != 1 || found.WriteGrants[0] != "dave" {
			t.Errorf("WriteGrants = %v, want [dave]", found.WriteGrants)
		}

		// Second replacement discards the first sets entirely.
		if err := db.ReplaceGrants(ctx, v.ID, nil, []string{"erin"}); err != nil {
			t.Fatalf("second ReplaceGrants() error = %v", err)
		}
		found, err = db.FindVersionByID(ctx, v.ID)
		if err != nil {
			t.Fatalf("FindVersionByID() error = %v", err)
		}
		if len(found.ReadGrants) != 0 {
			t.Errorf("ReadGrants = %v, want empty", found.ReadGrants)
		}
		if len(found.WriteGrants) != 1 || found.WriteGrants[0] != "erin" {
			t.Errorf("WriteGrants = %v, want [erin]", found.WriteGrants)
		}
	})

	t.Run("fails for a missing version", func(t *testing.T) {
		db := newTestDB(t)

		err := db.ReplaceGrants(ctx, "nonexistent", []string{"bob"}, nil)
		if !errors.Is(err, dms.ErrNotFound) {
			t.Errorf("ReplaceGrants() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()

	t.Run("records and finishes an operation", func(t *testing.T) {
		db := newTestDB(t)

		op, err := db.CreateOperation(ctx, "Put", "path=/doc.txt")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		if op.ID == 0 {
			t.Error("operation ID is zero")
		}

		if err := db.FinishOperation(ctx, op.ID, "success"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, err := db.ListOperations(ctx, 10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("ListOperations() returned %d operations, want 1", len(ops))
		}
		if ops[0].Status != "success" {
			t.Errorf("Status = %s, want success", ops[0].Status)
		}
		if ops[0].FinishedAt == nil {
			t.Error("FinishedAt is nil after FinishOperation")
		}
	})

	t.Run("lists newest first with limit", func(t *testing.T) {
		db := newTestDB(t)

		for i := 0; i < 3; i++ {
			if _, err := db.CreateOperation(ctx, fmt.Sprintf("Op%d", i), ""); err != nil {
				t.Fatalf("CreateOperation(%d) error = %v", i, err)
			}
		}

		ops, err := db.ListOperations(ctx, 2)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("ListOperations() returned %d operations, want 2", len(ops))
		}
		if ops[0].Operation != "Op2" || ops[1].Operation != "Op1" {
			t.Errorf("order = [%s %s], want [Op2 Op1]", ops[0].Operation, ops[1].Operation)
		}
	})
}
