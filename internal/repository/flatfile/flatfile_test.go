package flatfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
	"github.com/RMSantista/VibeCForms-sub002/pkg/recid"
)

func testSpec() domain.Spec {
	return domain.Spec{
		Entity: "clientes",
		Fields: []domain.FieldSpec{
			{Name: "nome", Type: domain.FieldText, Required: true},
			{Name: "email", Type: domain.FieldEmail},
			{Name: "idade", Type: domain.FieldInteger},
		},
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ";")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}

	id, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{
		"nome": "Maria", "email": "maria@example.com", "idade": 31,
	}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !recid.Validate(id) {
		t.Fatalf("Create returned invalid identifier %q", id)
	}

	recs, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ReadAll returned %d records, want 1", len(recs))
	}
	if recs[0].ID != id {
		t.Fatalf("record id = %q, want %q", recs[0].ID, id)
	}
	if recs[0].Values["nome"] != "Maria" || recs[0].Values["idade"] != "31" {
		t.Fatalf("unexpected values: %v", recs[0].Values)
	}

	got, err := s.ReadByID(ctx, spec, strings.ToLower(id))
	if err != nil {
		t.Fatalf("ReadByID with lowercase id: %v", err)
	}
	if got.ID != id {
		t.Fatalf("ReadByID returned id %q, want %q", got.ID, id)
	}
}

func TestCreateStorageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	for i := 0; i < 2; i++ {
		if err := s.CreateStorage(ctx, spec); err != nil {
			t.Fatalf("CreateStorage call %d: %v", i+1, err)
		}
	}
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestReadMissingStorage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.ReadAll(ctx, testSpec())
	if !errors.Is(err, domain.ErrStorageNotFound) {
		t.Fatalf("ReadAll on missing file: %v, want ErrStorageNotFound", err)
	}
}

func TestLegacyLinesGetStableIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	path := filepath.Join(s.dir, "clientes.txt")
	legacy := "Ana;ana@example.com;25\nBeto;beto@example.com;40\n"
	if err := os.WriteFile(path, []byte(legacy), 0o640); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	first, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("got %d records, want 2", len(first))
	}
	for i, rec := range first {
		if !rec.PendingID {
			t.Fatalf("record %d: PendingID = false, want true", i)
		}
		if !recid.Validate(rec.ID) {
			t.Fatalf("record %d: invalid assigned id %q", i, rec.ID)
		}
	}

	second, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("second ReadAll: %v", err)
	}
	for i := range first {
		if second[i].ID != first[i].ID {
			t.Fatalf("record %d id changed between reads: %q then %q", i, first[i].ID, second[i].ID)
		}
	}

	// A write persists the assignments.
	if err := s.Update(ctx, spec, 0, map[string]any{"nome": "Ana", "email": "ana@example.com", "idade": "26"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file has %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		idField := strings.SplitN(line, ";", 2)[0]
		if idField != first[i].ID {
			t.Fatalf("line %d persisted id %q, want %q", i, idField, first[i].ID)
		}
	}
	third, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("third ReadAll: %v", err)
	}
	for i, rec := range third {
		if rec.PendingID {
			t.Fatalf("record %d still pending after rewrite", i)
		}
	}
}

func TestUpdateAndDeleteByPosition(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	for _, nome := range []string{"A", "B", "C"} {
		if _, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": nome}}); err != nil {
			t.Fatalf("Create %s: %v", nome, err)
		}
	}

	if err := s.Update(ctx, spec, 1, map[string]any{"nome": "B2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Delete(ctx, spec, 0); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 || recs[0].Values["nome"] != "B2" || recs[1].Values["nome"] != "C" {
		t.Fatalf("unexpected state after update+delete: %v", recs)
	}

	if err := s.Update(ctx, spec, 5, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update out of range: %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, spec, -1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete negative index: %v, want ErrNotFound", err)
	}
}

func TestUpdateAndDeleteByID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	id, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "Dora"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.UpdateByID(ctx, spec, id, map[string]any{"nome": "Dora Prado"}); err != nil {
		t.Fatalf("UpdateByID: %v", err)
	}
	rec, err := s.ReadByID(ctx, spec, id)
	if err != nil {
		t.Fatalf("ReadByID: %v", err)
	}
	if rec.Values["nome"] != "Dora Prado" {
		t.Fatalf("nome = %q after UpdateByID", rec.Values["nome"])
	}

	if err := s.DeleteByID(ctx, spec, id); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if _, err := s.ReadByID(ctx, spec, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ReadByID after delete: %v, want ErrNotFound", err)
	}

	if err := s.UpdateByID(ctx, spec, "not-an-id", nil); !errors.Is(err, domain.ErrInvalidIdentifier) {
		t.Fatalf("UpdateByID with junk id: %v, want ErrInvalidIdentifier", err)
	}
}

func TestBulkCreatePreservesIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	a, b := recid.Generate(), recid.Generate()
	results, err := s.BulkCreate(ctx, spec, []domain.Record{
		{ID: a, Values: map[string]any{"nome": "A"}},
		{ID: b, Values: map[string]any{"nome": "B"}},
		{ID: a, Values: map[string]any{"nome": "Dup"}},
		{Values: map[string]any{"email": "missing-name@example.com"}},
	})
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	if results[0].ID != a || results[1].ID != b {
		t.Fatalf("identifiers not preserved: %+v", results[:2])
	}
	if results[2].Err == nil {
		t.Fatal("duplicate identifier accepted")
	}
	if results[3].Err == nil {
		t.Fatal("missing required field accepted")
	}
	if domain.Failed(results) != 2 {
		t.Fatalf("Failed = %d, want 2", domain.Failed(results))
	}
	recs, err := s.ReadAll(ctx, spec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(recs))
	}
}

func TestDropStorageGuardsData(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	if _, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "X"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.DropStorage(ctx, spec.Entity, false); !errors.Is(err, domain.ErrStorageNotEmpty) {
		t.Fatalf("DropStorage without force: %v, want ErrStorageNotEmpty", err)
	}
	if err := s.DropStorage(ctx, spec.Entity, true); err != nil {
		t.Fatalf("DropStorage with force: %v", err)
	}
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil || ok {
		t.Fatalf("Exists after drop = %v, %v; want false, nil", ok, err)
	}
}

func TestValueWithDelimiterRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	_, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "a;b"}})
	if err == nil {
		t.Fatal("value containing the delimiter accepted")
	}
}

func TestSnapshotStorage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	spec := testSpec()
	if err := s.CreateStorage(ctx, spec); err != nil {
		t.Fatalf("CreateStorage: %v", err)
	}
	if _, err := s.Create(ctx, spec, domain.Record{Values: map[string]any{"nome": "Snap"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rc, ext, err := s.SnapshotStorage(ctx, spec.Entity)
	if err != nil {
		t.Fatalf("SnapshotStorage: %v", err)
	}
	defer rc.Close()
	if ext != ".txt" {
		t.Fatalf("ext = %q, want .txt", ext)
	}
	data := make([]byte, 4096)
	n, _ := rc.Read(data)
	if !strings.Contains(string(data[:n]), "Snap") {
		t.Fatal("snapshot does not contain the stored record")
	}

	if _, _, err := s.SnapshotStorage(ctx, "nope"); !errors.Is(err, domain.ErrStorageNotFound) {
		t.Fatalf("SnapshotStorage missing entity: %v, want ErrStorageNotFound", err)
	}
}
