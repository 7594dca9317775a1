package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dms-go/internal/blob"
	"dms-go/internal/config"
	"dms-go/internal/database"
	"dms-go/internal/dms"
	"dms-go/internal/encryption"
	"dms-go/internal/model"
)

// App wires configuration into a ready-to-use document store: database,
// blob store, optional at-rest encryption, logging, and the core service.
// It also carries the operation audit row for the running command.
type App struct {
	Config   *config.Config
	Database dms.Database
	Service  *dms.Service

	blobs     dms.BlobStore
	encryptor dms.Encryptor
	encStore  *blob.EncryptedStore
	logger    *slog.Logger
	logFile   *os.File
	op        *StoreOperation
}

// NewApp builds an App from configuration. The database must be fully
// migrated; a pending migration is an error directing the user to run
// `dms migrate`.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if m, ok := db.(interface{ CheckMigrations() error }); ok {
		if err := m.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database is not up to date, run `dms migrate`: %w", err)
		}
	}

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.Blob)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring encryption: %w", err)
	}

	var encStore *blob.EncryptedStore
	if encryptor != nil {
		encStore = blob.NewEncryptedStore(blobs, encryptor)
		blobs = encStore
	}

	opID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102-150405"))
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, err
	}

	service := dms.NewService(db, blobs, &slogAdapter{l: logger}, dms.RealClock{}, dms.UUIDGenerator{})

	return &App{
		Config:    cfg,
		Database:  db,
		Service:   service,
		blobs:     blobs,
		encryptor: encryptor,
		encStore:  encStore,
		logger:    logger,
		logFile:   logFile,
		op:        NewStoreOperation(operation, ""),
	}, nil
}

// EncryptionEnabled reports whether blob content is encrypted at rest.
// When true, read paths require Unlock before content can be fetched.
func (a *App) EncryptionEnabled() bool {
	return a.encStore != nil
}

// Unlock decrypts the private key with the passphrase and arms the
// encrypted blob store for reads. A no-op when encryption is disabled.
func (a *App) Unlock(passphrase string) error {
	if a.encStore == nil {
		return nil
	}
	dctx, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	a.encStore.Unlock(dctx)
	return nil
}

// beginOperation persists the audit row for a store-mutating command.
func (a *App) beginOperation(ctx context.Context, parameters string) error {
	op, err := a.Database.CreateOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}
	a.op.ID = op.ID
	a.op.Parameters = parameters
	return nil
}

// fail marks the running operation as failed and returns err unchanged.
func (a *App) fail(err error) error {
	a.op.Status = "error"
	a.logger.Error("operation failed", "operation", a.op.Operation, "error", err)
	return err
}

// Put stores content as a new version of the document at (owner, path),
// creating the document if it does not exist. When user differs from owner
// the document must already exist and user must hold a write grant on its
// latest version.
func (a *App) Put(ctx context.Context, user, owner, path, contentType, fileName string, content []byte) (*model.Document, *model.Version, error) {
	params := fmt.Sprintf("owner=%s path=%s size=%d", owner, path, len(content))
	if err := a.beginOperation(ctx, params); err != nil {
		return nil, nil, err
	}

	if user == owner {
		doc, version, err := a.Service.CreateOrAppend(ctx, owner, path, contentType, content, fileName)
		if err != nil {
			return nil, nil, a.fail(err)
		}
		return doc, version, nil
	}

	// Cross-owner append: authorize against the latest version.
	doc, latest, err := a.latestVersion(ctx, owner, path)
	if err != nil {
		return nil, nil, a.fail(err)
	}
	if !dms.CanWrite(user, latest) {
		// Inaccessible documents are reported as absent.
		return nil, nil, a.fail(fmt.Errorf("document %s: %w", path, dms.ErrNotFound))
	}

	version, err := a.Service.AppendVersion(ctx, doc.ID, content, fileName)
	if err != nil {
		return nil, nil, a.fail(err)
	}
	return doc, version, nil
}

// Documents lists the documents owned by user, most recent first.
func (a *App) Documents(ctx context.Context, user string) ([]*model.Document, error) {
	return a.Service.ListDocuments(ctx, user)
}

// Versions lists the versions of the document at (owner, path) that user
// may read, newest first. Versions outside user's access are omitted; a
// document with no readable versions is reported as absent.
func (a *App) Versions(ctx context.Context, user, owner, path string) ([]*model.Version, error) {
	doc, err := a.Service.Document(ctx, owner, path)
	if err != nil {
		return nil, err
	}
	versions, err := a.Service.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	readable := dms.FilterReadable(user, versions)
	if user != owner && len(readable) == 0 {
		return nil, fmt.Errorf("document %s: %w", path, dms.ErrNotFound)
	}
	return readable, nil
}

// Content fetches the bytes of one version of the document at (owner,
// path). number 0 selects the latest version. A version user may not read
// is reported as absent, never as denied.
func (a *App) Content(ctx context.Context, user, owner, path string, number int64) (*model.Version, []byte, error) {
	doc, err := a.Service.Document(ctx, owner, path)
	if err != nil {
		return nil, nil, err
	}

	var version *model.Version
	if number == 0 {
		_, version, err = a.latestVersion(ctx, owner, path)
	} else {
		version, err = a.Service.Version(ctx, doc.ID, number)
	}
	if err != nil {
		return nil, nil, err
	}

	if !dms.CanRead(user, version) {
		return nil, nil, fmt.Errorf("version %d of %s: %w", version.VersionNumber, path, dms.ErrNotFound)
	}

	content, err := a.Service.VersionContent(ctx, version)
	if err != nil {
		return nil, nil, err
	}
	return version, content, nil
}

// Resolve returns the version with the latest CreatedAt among all versions
// whose content hashes to hash and that user may read.
func (a *App) Resolve(ctx context.Context, user, hash string) (*model.Version, error) {
	return a.Service.ResolveByHash(ctx, hash, user)
}

// Grant replaces the read and write grant sets of one version of the
// document at (owner, path). Only the owner may call this, and user must
// be the owner here since the document is addressed by their own path.
func (a *App) Grant(ctx context.Context, user, path string, number int64, readGrants, writeGrants []string) error {
	params := fmt.Sprintf("path=%s version=%d", path, number)
	if err := a.beginOperation(ctx, params); err != nil {
		return err
	}

	doc, err := a.Service.Document(ctx, user, path)
	if err != nil {
		return a.fail(err)
	}
	version, err := a.Service.Version(ctx, doc.ID, number)
	if err != nil {
		return a.fail(err)
	}
	if err := a.Service.SetGrants(ctx, version.ID, user, readGrants, writeGrants); err != nil {
		return a.fail(err)
	}
	return nil
}

// History returns the most recent store operations, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.Database.ListOperations(ctx, limit)
}

// latestVersion returns the document at (owner, path) and its newest
// version. A document with no versions yet is reported as absent.
func (a *App) latestVersion(ctx context.Context, owner, path string) (*model.Document, *model.Version, error) {
	doc, err := a.Service.Document(ctx, owner, path)
	if err != nil {
		return nil, nil, err
	}
	versions, err := a.Service.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(versions) == 0 {
		return nil, nil, fmt.Errorf("document %s has no versions: %w", path, dms.ErrNotFound)
	}
	return doc, versions[0], nil
}

// Close finishes the audit row for a persisted operation and releases the
// database connection and log file.
func (a *App) Close() error {
	if a.op.Persisted() {
		if err := a.Database.FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			a.logger.Warn("finishing operation", "error", err)
		}
	}

	var firstErr error
	if err := a.Database.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
