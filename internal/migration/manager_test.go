package migration_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/internal/backup"
	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/internal/migration"
	"github.com/RMSantista/VibeCForms-sub002/internal/repository"
	_ "github.com/RMSantista/VibeCForms-sub002/internal/repository/drivers"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

func testSpec() domain.Spec {
	return domain.Spec{
		Entity: "clientes",
		Fields: []domain.FieldSpec{
			{Name: "nome", Type: domain.FieldText, Required: true},
			{Name: "idade", Type: domain.FieldInteger},
		},
	}
}

type fixture struct {
	factory *repository.Factory
	backups *backup.Memory
	tracker *migration.Tracker
	manager *migration.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.FlatFile.Dir = filepath.Join(dir, "data")
	cfg.SQLite.Path = filepath.Join(dir, "forms.db")

	f := repository.NewFactory(cfg)
	t.Cleanup(func() { _ = f.Invalidate() })
	backups := backup.NewMemory()
	tracker := migration.NewTracker(filepath.Join(dir, "tracking.json"))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{
		factory: f,
		backups: backups,
		tracker: tracker,
		manager: migration.New(f, backups, tracker, migration.WithLogger(quiet)),
	}
}

func TestMigrateFlatFileToSQLite(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	spec := testSpec()

	source, err := fx.factory.ForBackend(domain.BackendFlatFile)
	if err != nil {
		t.Fatalf("source repo: %v", err)
	}
	if err := source.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	var ids []string
	for _, nome := range []string{"Ana", "Beto", "Carla"} {
		id, err := source.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": nome, "idade": "30"}})
		if err != nil {
			t.Fatalf("seed %s: %v", nome, err)
		}
		ids = append(ids, id)
	}

	res := fx.manager.Migrate(ctx, spec, domain.BackendFlatFile, domain.BackendSQLite)
	if !res.Success {
		t.Fatalf("migration failed: %s", res.Reason)
	}
	if res.Records != 3 || res.Failures != 0 {
		t.Fatalf("Records=%d Failures=%d, want 3/0", res.Records, res.Failures)
	}
	if !strings.HasPrefix(res.BackupKey, "clientes_flatfile_to_migration_") {
		t.Fatalf("backup key %q", res.BackupKey)
	}

	// Identifiers survive the move.
	dest, err := fx.factory.ForBackend(domain.BackendSQLite)
	if err != nil {
		t.Fatalf("dest repo: %v", err)
	}
	moved, err := dest.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll destination: %v", err)
	}
	if len(moved) != 3 {
		t.Fatalf("destination holds %d records", len(moved))
	}
	for i, rec := range moved {
		if rec.ID != ids[i] {
			t.Fatalf("record %d id %q, want %q", i, rec.ID, ids[i])
		}
	}

	// The source stays intact.
	kept, err := source.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll source: %v", err)
	}
	if len(kept) != 3 {
		t.Fatalf("source holds %d records after migration", len(kept))
	}

	// Backup artifact exists and tracking points at the destination.
	infos, err := fx.backups.List(ctx, "clientes_")
	if err != nil || len(infos) != 1 {
		t.Fatalf("backup list = %v, %v", infos, err)
	}
	entry, ok, err := fx.tracker.Get("clientes")
	if err != nil || !ok {
		t.Fatalf("tracker entry: %v %v", ok, err)
	}
	if entry.Backend != domain.BackendSQLite || entry.Records != 3 {
		t.Fatalf("tracking entry %+v", entry)
	}
}

func TestMigrateMissingSourceSucceedsTrivially(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	res := fx.manager.Migrate(ctx, testSpec(), domain.BackendFlatFile, domain.BackendSQLite)
	if !res.Success {
		t.Fatalf("trivial migration failed: %s", res.Reason)
	}
	if res.Records != 0 || res.BackupKey != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	infos, err := fx.backups.List(ctx, "")
	if err != nil || len(infos) != 0 {
		t.Fatalf("backup store touched: %v, %v", infos, err)
	}
}

func TestMigrateUnsupportedDestinationFailsBeforeBackup(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	spec := testSpec()

	source, err := fx.factory.ForBackend(domain.BackendFlatFile)
	if err != nil {
		t.Fatalf("source repo: %v", err)
	}
	if err := source.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	if _, err := source.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "Ana"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := fx.manager.Migrate(ctx, spec, domain.BackendFlatFile, domain.BackendType("oracle"))
	if res.Success {
		t.Fatal("migration to unregistered backend succeeded")
	}
	if !strings.Contains(res.Reason, "destination backend") {
		t.Fatalf("reason %q", res.Reason)
	}
	// No backup taken, source untouched.
	infos, err := fx.backups.List(ctx, "")
	if err != nil || len(infos) != 0 {
		t.Fatalf("backup written before preflight: %v, %v", infos, err)
	}
	kept, err := source.ReadAll(ctx, spec)
	if err != nil || len(kept) != 1 {
		t.Fatalf("source changed: %v, %v", kept, err)
	}
}

func TestMigrateSameBackendRejected(t *testing.T) {
	fx := newFixture(t)
	res := fx.manager.Migrate(context.Background(), testSpec(), domain.BackendSQLite, domain.BackendSQLite)
	if res.Success {
		t.Fatal("same-backend migration succeeded")
	}
}

func TestMigrateOverErrorBudgetRollsBack(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	spec := testSpec()

	source, err := fx.factory.ForBackend(domain.BackendFlatFile)
	if err != nil {
		t.Fatalf("source repo: %v", err)
	}
	if err := source.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	// One of two records carries a non-numeric value in an integer
	// field, which the SQL destination rejects at transfer time.
	if _, err := source.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "Ok", "idade": "44"}}); err != nil {
		t.Fatalf("seed ok: %v", err)
	}
	if _, err := source.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "Bad", "idade": "quarenta"}}); err != nil {
		t.Fatalf("seed bad: %v", err)
	}

	res := fx.manager.Migrate(ctx, spec, domain.BackendFlatFile, domain.BackendSQLite)
	if res.Success {
		t.Fatal("migration over the error budget succeeded")
	}
	if res.Failures != 1 || res.Records != 2 {
		t.Fatalf("Records=%d Failures=%d, want 2/1", res.Records, res.Failures)
	}
	if res.BackupKey == "" {
		t.Fatal("no backup key on a post-backup failure")
	}

	// Destination rolled back, source intact.
	dest, err := fx.factory.ForBackend(domain.BackendSQLite)
	if err != nil {
		t.Fatalf("dest repo: %v", err)
	}
	exists, err := dest.Exists(ctx, spec.Entity)
	if err != nil || exists {
		t.Fatalf("destination still exists after rollback: %v, %v", exists, err)
	}
	kept, err := source.ReadAll(ctx, spec)
	if err != nil || len(kept) != 2 {
		t.Fatalf("source changed: %d records, %v", len(kept), err)
	}
}

func TestTrackerRoundTrip(t *testing.T) {
	tracker := migration.NewTracker(filepath.Join(t.TempDir(), "nested", "tracking.json"))
	if _, ok, err := tracker.Get("clientes"); err != nil || ok {
		t.Fatalf("Get on empty tracker = %v, %v", ok, err)
	}
	entry := migration.Entry{
		Backend:   domain.BackendSQLite,
		Records:   7,
		SpecHash:  "abc",
		UpdatedAt: time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC),
	}
	if err := tracker.Record("clientes", entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, ok, err := tracker.Get("clientes")
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if got.Backend != entry.Backend || got.Records != 7 || got.SpecHash != "abc" {
		t.Fatalf("entry %+v", got)
	}
	if !got.UpdatedAt.Equal(entry.UpdatedAt) {
		t.Fatalf("UpdatedAt %v", got.UpdatedAt)
	}
}
