// Package backup stores migration backup artifacts: immutable,
// timestamped copies of a source backend's storage taken before any
// destructive migration step. Artifacts are write-once; drivers exist
// for a local directory, an S3-compatible bucket and in-memory tests.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// Driver identifies a backup store implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	// ErrNotFound reports a missing artifact key.
	ErrNotFound = errors.New("backup: artifact not found")
	// ErrExists reports an attempt to overwrite an artifact. Backups are
	// immutable once written.
	ErrExists = errors.New("backup: artifact already exists")
)

// Info describes a stored artifact.
type Info struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the interface for backup artifact backends.
type Store interface {
	Driver() Driver
	// Put writes a new artifact. Existing keys are rejected with ErrExists.
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	// Get streams an artifact back for restoration.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns artifacts whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Delete removes an artifact, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// Open selects a backup store from the configuration document.
func Open(ctx context.Context, cfg config.BackupConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backup driver %s", cfg.Driver)
	}
}

// ArtifactKey builds the canonical artifact name for a migration backup:
// <entity>_<oldBackend>_to_migration_<timestamp> plus the extension
// reported by the source backend's snapshot.
func ArtifactKey(entity string, oldBackend domain.BackendType, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_to_migration_%s%s", entity, oldBackend, at.UTC().Format("20060102T150405"), ext)
}
