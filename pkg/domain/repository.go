package domain

import (
	"context"
	"errors"
	"io"
)

// BackendType identifies a concrete storage technology.
type BackendType string

const (
	BackendFlatFile BackendType = "flatfile" // delimited text files
	BackendSQLite   BackendType = "sqlite"   // embedded sqlite file
	BackendPostgres BackendType = "postgres" // PostgreSQL server
)

// Sentinel errors shared across backends. Drivers wrap them with entity
// and backend context; callers test with errors.Is.
var (
	// ErrNotFound reports a record that does not exist in present storage.
	ErrNotFound = errors.New("record not found")
	// ErrStorageNotFound reports an operation against storage that was
	// never provisioned. Distinct from ErrNotFound by design: a missing
	// table is not a missing row.
	ErrStorageNotFound = errors.New("storage not found")
	// ErrStorageNotEmpty is returned by DropStorage without force while
	// records are still present.
	ErrStorageNotEmpty = errors.New("storage not empty")
	// ErrUnsupportedBackend reports a backend type with no registered driver.
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	// ErrInvalidIdentifier reports a malformed or checksum-mismatched
	// identifier rejected before reaching any backend.
	ErrInvalidIdentifier = errors.New("invalid record identifier")
	// ErrRelationshipsUnsupported is returned by backends that declined
	// the relationship capability.
	ErrRelationshipsUnsupported = errors.New("backend does not support relationships")
)

// Repository is the storage contract every backend driver implements.
// All operations are synchronous and block the caller; the layer takes
// no locks around file rewrites or bulk writes, so concurrent writers to
// the same entity need external serialization.
type Repository interface {
	// Backend returns the driver's backend type.
	Backend() BackendType

	// Exists reports whether the entity's storage location is present.
	Exists(ctx context.Context, entity string) (bool, error)

	// CreateStorage idempotently provisions storage matching spec.
	CreateStorage(ctx context.Context, spec Spec) error

	// DropStorage removes the entity's storage. Without force it refuses
	// with ErrStorageNotEmpty while records are present.
	DropStorage(ctx context.Context, entity string, force bool) error

	// HasData reports whether the entity holds at least one record.
	HasData(ctx context.Context, entity string) (bool, error)

	// Create persists one record and returns its identifier. A preset
	// identifier carried on the record (a migration transfer) is stored
	// verbatim; otherwise a fresh one is minted.
	Create(ctx context.Context, spec Spec, rec Record) (string, error)

	// BulkCreate persists records as a single logical write (one
	// transaction or one file rewrite). Per-record failures are reported
	// individually in the result slice rather than aborting the batch.
	BulkCreate(ctx context.Context, spec Spec, recs []Record) ([]BulkResult, error)

	// ReadAll returns every record in stable order: insertion order for
	// flat files, rowid/primary-key order for SQL backends. Legacy
	// records without an identifier get one assigned in memory, flagged
	// PendingID, and persisted on the record's next write.
	ReadAll(ctx context.Context, spec Spec) ([]Record, error)

	// ReadByID returns the record with the given identifier or ErrNotFound.
	ReadByID(ctx context.Context, spec Spec, id string) (Record, error)

	// Update replaces all field values of the record at the positional
	// index. Positions of other records and every identifier are
	// untouched. Positional addressing is kept for parity with the
	// legacy contract; prefer UpdateByID.
	Update(ctx context.Context, spec Spec, index int, values map[string]any) error

	// UpdateByID replaces all field values of the identified record.
	UpdateByID(ctx context.Context, spec Spec, id string, values map[string]any) error

	// Delete removes exactly the record at the positional index. Later
	// records shift position but keep their data and identifiers.
	Delete(ctx context.Context, spec Spec, index int) error

	// DeleteByID removes the identified record.
	DeleteByID(ctx context.Context, spec Spec, id string) error

	// Close releases connections or handles held by the driver.
	Close() error
}

// Snapshotter is an optional capability: backends that can produce a
// byte-level copy of an entity's storage implement it, and the migration
// backup step prefers it over the generic JSON export.
type Snapshotter interface {
	// SnapshotStorage streams the entity's storage and reports the file
	// extension the artifact should carry (".txt", ".db", ...).
	SnapshotStorage(ctx context.Context, entity string) (io.ReadCloser, string, error)
}

// RelationshipCapable is an optional capability interface. Backends that
// can host typed links between records implement it; callers discover
// support through a type assertion instead of attribute probing.
type RelationshipCapable interface {
	RelationshipRepository() (RelationshipStore, error)
}
