// Package migration moves an entity's records between storage backends.
// The manager runs a fixed sequence: preflight, backup, read, provision,
// transfer, verify, then commit or rollback. The source is never
// mutated; rollback only drops the half-written destination. Failures
// come back as a Result with a reason, never as a raw error, so a
// broken migration leaves the caller with the source still serving.
package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/internal/backup"
	"github.com/RMSantista/VibeCForms-sub002/internal/metrics"
	"github.com/RMSantista/VibeCForms-sub002/internal/repository"
	"github.com/RMSantista/VibeCForms-sub002/internal/schema"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// Result reports the outcome of one migration run.
type Result struct {
	Success   bool          `json:"success"`
	Reason    string        `json:"reason,omitempty"`
	Records   int           `json:"records"`
	Failures  int           `json:"failures"`
	BackupKey string        `json:"backup_key,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Manager orchestrates migrations over the repository factory and the
// backup store.
type Manager struct {
	factory *repository.Factory
	backups backup.Store
	tracker *Tracker
	log     *slog.Logger
	rec     metrics.Recorder
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs the structured logger used for phase logging.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics installs the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(m *Manager) { m.rec = rec }
}

// New builds a migration manager.
func New(factory *repository.Factory, backups backup.Store, tracker *Tracker, opts ...Option) *Manager {
	m := &Manager{
		factory: factory,
		backups: backups,
		tracker: tracker,
		log:     slog.Default(),
		rec:     metrics.Nop{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// maxFailureRatio is the per-record error budget: a transfer losing
// more than this share of its records is rolled back.
const maxFailureRatio = 0.10

// Migrate moves every record of the entity described by spec from one
// backend to another. The destination table or file is provisioned on
// demand; identifiers survive the move unchanged.
func (m *Manager) Migrate(ctx context.Context, spec domain.Spec, from, to domain.BackendType) Result {
	started := m.now()
	log := m.log.With("entity", spec.Entity, "from", string(from), "to", string(to))
	finish := func(res Result) Result {
		res.Duration = m.now().Sub(started)
		m.rec.Observe(ctx, "migrate", res.Success, res.Duration)
		if res.Success {
			log.Info("migration finished", "records", res.Records, "failures", res.Failures, "duration", res.Duration)
		} else {
			log.Error("migration failed", "reason", res.Reason, "duration", res.Duration)
		}
		return res
	}

	// Preflight. An unsupported destination must fail before any backup
	// or storage is touched.
	if from == to {
		return finish(Result{Success: false, Reason: fmt.Sprintf("source and destination are both %s", from)})
	}
	dest, err := m.factory.ForBackend(to)
	if err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("destination backend: %v", err)})
	}
	source, err := m.factory.ForBackend(from)
	if err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("source backend: %v", err)})
	}
	exists, err := source.Exists(ctx, spec.Entity)
	if err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("preflight: %v", err)})
	}
	if !exists {
		// Nothing to move. Record the new binding and stop.
		log.Info("source storage absent, trivial migration")
		if err := m.commit(spec, to, from, 0, ""); err != nil {
			return finish(Result{Success: false, Reason: fmt.Sprintf("commit: %v", err)})
		}
		return finish(Result{Success: true})
	}

	// Backup.
	key, err := m.takeBackup(ctx, source, spec, from)
	if err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("backup: %v", err)})
	}
	log.Info("backup stored", "key", key)

	// Read.
	recs, err := source.ReadAll(ctx, spec)
	if err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("read source: %v", err), BackupKey: key})
	}

	// Provision.
	if err := dest.CreateStorage(ctx, spec); err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("provision destination: %v", err), BackupKey: key})
	}

	// Transfer. Zero records means there is nothing to verify either.
	failures := 0
	if len(recs) > 0 {
		results, err := dest.BulkCreate(ctx, spec, recs)
		if err != nil {
			m.rollback(ctx, dest, spec.Entity, log)
			return finish(Result{Success: false, Reason: fmt.Sprintf("transfer: %v", err), BackupKey: key})
		}
		failures = domain.Failed(results)
		if float64(failures) > maxFailureRatio*float64(len(recs)) {
			m.rollback(ctx, dest, spec.Entity, log)
			reason := fmt.Sprintf("transfer: %d of %d records failed, over the error budget", failures, len(recs))
			return finish(Result{Success: false, Reason: reason, Records: len(recs), Failures: failures, BackupKey: key})
		}

		// Verify.
		moved, err := dest.ReadAll(ctx, spec)
		if err != nil {
			m.rollback(ctx, dest, spec.Entity, log)
			return finish(Result{Success: false, Reason: fmt.Sprintf("verify: %v", err), Records: len(recs), Failures: failures, BackupKey: key})
		}
		if len(moved) != len(recs)-failures {
			m.rollback(ctx, dest, spec.Entity, log)
			reason := fmt.Sprintf("verify: destination holds %d records, expected %d", len(moved), len(recs)-failures)
			return finish(Result{Success: false, Reason: reason, Records: len(recs), Failures: failures, BackupKey: key})
		}
	}

	// Commit. The source stays intact; dropping it is the operator's
	// decision after inspecting the result.
	if err := m.commit(spec, to, from, len(recs)-failures, key); err != nil {
		return finish(Result{Success: false, Reason: fmt.Sprintf("commit: %v", err), Records: len(recs), Failures: failures, BackupKey: key})
	}
	return finish(Result{Success: true, Records: len(recs), Failures: failures, BackupKey: key})
}

// takeBackup writes an immutable copy of the source storage to the
// backup store. Backends with byte-level snapshots stream them; others
// get a JSON export of their records.
func (m *Manager) takeBackup(ctx context.Context, source domain.Repository, spec domain.Spec, from domain.BackendType) (string, error) {
	var body io.Reader
	var ext string
	if snap, ok := source.(domain.Snapshotter); ok {
		rc, snapExt, err := snap.SnapshotStorage(ctx, spec.Entity)
		if err != nil {
			return "", err
		}
		defer func() { _ = rc.Close() }()
		body, ext = rc, snapExt
	} else {
		recs, err := source.ReadAll(ctx, spec)
		if err != nil {
			return "", err
		}
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode export: %w", err)
		}
		body, ext = bytes.NewReader(data), ".json"
	}
	key := backup.ArtifactKey(spec.Entity, from, m.now(), ext)
	if _, err := m.backups.Put(ctx, key, body); err != nil {
		return "", err
	}
	return key, nil
}

// rollback removes the half-written destination storage. The source is
// never touched here; failing to roll back is logged and swallowed
// because the primary failure reason is already on its way out.
func (m *Manager) rollback(ctx context.Context, dest domain.Repository, entity string, log *slog.Logger) {
	err := dest.DropStorage(ctx, entity, true)
	if err != nil && !errors.Is(err, domain.ErrStorageNotFound) {
		log.Error("rollback failed, destination left behind", "error", err)
		return
	}
	log.Info("rolled back destination storage")
}

func (m *Manager) commit(spec domain.Spec, to, from domain.BackendType, records int, key string) error {
	if m.tracker == nil {
		return nil
	}
	return m.tracker.Record(spec.Entity, Entry{
		Backend:    to,
		Records:    records,
		SpecHash:   schema.Hash(spec),
		UpdatedAt:  m.now(),
		BackupKey:  key,
		FromBackup: from,
	})
}
