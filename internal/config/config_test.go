package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Default.Backend != domain.BackendFlatFile {
		t.Fatalf("default backend = %s", cfg.Default.Backend)
	}
	if cfg.FlatFile.Delimiter != ";" {
		t.Fatalf("delimiter = %q", cfg.FlatFile.Delimiter)
	}
	if cfg.SQLite.BusyTimeout != 5*time.Second {
		t.Fatalf("busy timeout = %v", cfg.SQLite.BusyTimeout)
	}
	if cfg.Relationships.SyncStrategy != domain.SyncLazy {
		t.Fatalf("sync strategy = %s", cfg.Relationships.SyncStrategy)
	}
}

func TestLoadDocument(t *testing.T) {
	doc := `
[default]
backend = "sqlite"

[flatfile]
dir = "records"
delimiter = "|"

[sqlite]
path = "records/forms.db"

[backup]
driver = "fs"
dir = "records/backups"

[relationships]
sync_strategy = "eager"
replace_one_to_one = true

[relationships.cardinality]
"clientes.vendedor" = "one_to_one"

[entities.clientes]
backend = "flatfile"
`
	path := filepath.Join(t.TempDir(), "forms.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.BackendFor("clientes"); got != domain.BackendFlatFile {
		t.Fatalf("clientes backend = %s", got)
	}
	if got := cfg.BackendFor("produtos"); got != domain.BackendSQLite {
		t.Fatalf("fallback backend = %s", got)
	}
	if cfg.FlatFile.Delimiter != "|" {
		t.Fatalf("delimiter = %q", cfg.FlatFile.Delimiter)
	}
	if cfg.Relationships.SyncStrategy != domain.SyncEager {
		t.Fatalf("sync strategy = %s", cfg.Relationships.SyncStrategy)
	}
	if got := cfg.CardinalityFor("clientes", "vendedor"); got != domain.OneToOne {
		t.Fatalf("cardinality = %s", got)
	}
	if got := cfg.CardinalityFor("clientes", "other"); got != domain.OneToMany {
		t.Fatalf("default cardinality = %s", got)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	doc := `
[default]
backend = "mongodb"
`
	path := filepath.Join(t.TempDir(), "forms.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsBadCardinality(t *testing.T) {
	doc := `
[relationships.cardinality]
"a.b" = "many_to_one"
`
	path := filepath.Join(t.TempDir(), "forms.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}
