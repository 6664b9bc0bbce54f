// Package sqlitestore implements the repository contract on an embedded
// SQLite database: one table per entity, a text primary-key column
// holding the identifier, one column per spec field. Bulk writes run in
// a single transaction; per-row failures are collected, not escalated.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/internal/relationship"
	"github.com/RMSantista/VibeCForms-sub002/internal/repository"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
	"github.com/RMSantista/VibeCForms-sub002/pkg/recid"
)

func init() {
	repository.Register(domain.BackendSQLite, func(cfg *config.Config) (domain.Repository, error) {
		return New(cfg.SQLite.Path, cfg.SQLite.BusyTimeout, cfg.Relationships)
	})
}

// Store is the embedded-SQL driver. One database file hosts every
// entity's table.
type Store struct {
	db      *sql.DB
	path    string
	relCfg  config.RelationshipConfig
	pending map[string]map[int64]string // entity -> rowid -> assigned id
}

var (
	_ domain.Repository          = (*Store)(nil)
	_ domain.Snapshotter         = (*Store)(nil)
	_ domain.RelationshipCapable = (*Store)(nil)
)

// New opens (creating if needed) the database file.
func New(path string, busyTimeout time.Duration, relCfg config.RelationshipConfig) (*Store, error) {
	if path == "" {
		path = "data/forms.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if busyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	return &Store{db: db, path: path, relCfg: relCfg, pending: make(map[string]map[int64]string)}, nil
}

func (s *Store) Backend() domain.BackendType { return domain.BackendSQLite }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// columnType maps a field type onto its SQLite column type.
func columnType(t domain.FieldType) string {
	switch t {
	case domain.FieldInteger:
		return "INTEGER"
	case domain.FieldNumber, domain.FieldDecimal:
		return "REAL"
	case domain.FieldBoolean:
		return "INTEGER"
	default:
		// text, email, tel, date, datetime and relationship all store
		// text; relationship cells hold a target identifier or a
		// serialized {identifier,label} list for many-valued links.
		return "TEXT"
	}
}

func (s *Store) Exists(ctx context.Context, entity string) (bool, error) {
	if err := checkIdent(entity); err != nil {
		return false, err
	}
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, entity).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite %s: exists: %w", entity, err)
	}
	return true, nil
}

func (s *Store) CreateStorage(ctx context.Context, spec domain.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := checkIdent(spec.Entity); err != nil {
		return err
	}
	cols := make([]string, 0, len(spec.Fields)+1)
	cols = append(cols, "id TEXT PRIMARY KEY")
	for _, f := range spec.Fields {
		if err := checkIdent(f.Name); err != nil {
			return fmt.Errorf("sqlite %s: %w", spec.Entity, err)
		}
		cols = append(cols, fmt.Sprintf("%s %s", f.Name, columnType(f.Type)))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.Entity, strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite %s: create storage: %w", spec.Entity, err)
	}
	return nil
}

func (s *Store) DropStorage(ctx context.Context, entity string, force bool) error {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotFound)
	}
	if !force {
		hasData, err := s.HasData(ctx, entity)
		if err != nil {
			return err
		}
		if hasData {
			return fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotEmpty)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", entity)); err != nil {
		return fmt.Errorf("sqlite %s: drop storage: %w", entity, err)
	}
	delete(s.pending, entity)
	return nil
}

func (s *Store) HasData(ctx context.Context, entity string) (bool, error) {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotFound)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", entity)).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlite %s: count: %w", entity, err)
	}
	return count > 0, nil
}

func (s *Store) Create(ctx context.Context, spec domain.Spec, rec domain.Record) (string, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("sqlite %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	id, args, err := prepareInsert(spec, rec)
	if err != nil {
		return "", fmt.Errorf("sqlite %s: %w", spec.Entity, err)
	}
	if _, err := s.db.ExecContext(ctx, insertStmt(spec), args...); err != nil {
		return "", fmt.Errorf("sqlite %s: insert: %w", spec.Entity, err)
	}
	return id, nil
}

func (s *Store) BulkCreate(ctx context.Context, spec domain.Spec, recs []domain.Record) ([]domain.BulkResult, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sqlite %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite %s: begin: %w", spec.Entity, err)
	}
	stmt := insertStmt(spec)
	results := make([]domain.BulkResult, len(recs))
	for i, rec := range recs {
		id, args, err := prepareInsert(spec, rec)
		if err != nil {
			results[i] = domain.BulkResult{Err: err}
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			results[i] = domain.BulkResult{Err: err}
			continue
		}
		results[i] = domain.BulkResult{ID: id}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite %s: commit: %w", spec.Entity, err)
	}
	return results, nil
}

func (s *Store) ReadAll(ctx context.Context, spec domain.Spec) ([]domain.Record, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sqlite %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	cols := append([]string{"rowid", "id"}, spec.FieldNames()...)
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(cols, ", "), spec.Entity)
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("sqlite %s: select: %w", spec.Entity, err)
	}
	defer func() { _ = rows.Close() }()
	var recs []domain.Record
	for rows.Next() {
		rec, _, err := s.scanRecord(spec, rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite %s: rows: %w", spec.Entity, err)
	}
	return recs, nil
}

func (s *Store) ReadByID(ctx context.Context, spec domain.Spec, id string) (domain.Record, error) {
	norm, err := normalizeID(id)
	if err != nil {
		return domain.Record{}, err
	}
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, fmt.Errorf("sqlite %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	cols := append([]string{"rowid", "id"}, spec.FieldNames()...)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(cols, ", "), spec.Entity)
	rows, err := s.db.QueryContext(ctx, stmt, norm)
	if err != nil {
		return domain.Record{}, fmt.Errorf("sqlite %s: select: %w", spec.Entity, err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("sqlite %s: %s: %w", spec.Entity, norm, domain.ErrNotFound)
	}
	rec, _, err := s.scanRecord(spec, rows)
	return rec, err
}

func (s *Store) Update(ctx context.Context, spec domain.Spec, index int, values map[string]any) error {
	rowid, err := s.rowidAt(ctx, spec.Entity, index)
	if err != nil {
		return err
	}
	return s.updateRow(ctx, spec, rowid, values)
}

func (s *Store) UpdateByID(ctx context.Context, spec domain.Spec, id string, values map[string]any) error {
	rowid, err := s.rowidFor(ctx, spec.Entity, id)
	if err != nil {
		return err
	}
	return s.updateRow(ctx, spec, rowid, values)
}

func (s *Store) Delete(ctx context.Context, spec domain.Spec, index int) error {
	rowid, err := s.rowidAt(ctx, spec.Entity, index)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", spec.Entity), rowid); err != nil {
		return fmt.Errorf("sqlite %s: delete: %w", spec.Entity, err)
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, spec domain.Spec, id string) error {
	rowid, err := s.rowidFor(ctx, spec.Entity, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", spec.Entity), rowid); err != nil {
		return fmt.Errorf("sqlite %s: delete: %w", spec.Entity, err)
	}
	return nil
}

// SnapshotStorage streams the whole database file; SQLite backups are
// taken per file, not per table.
func (s *Store) SnapshotStorage(ctx context.Context, entity string) (io.ReadCloser, string, error) {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotFound)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite %s: open database file: %w", entity, err)
	}
	return f, ".db", nil
}

// RelationshipRepository exposes the relationship capability backed by
// the same database file.
func (s *Store) RelationshipRepository() (domain.RelationshipStore, error) {
	return relationship.New(s.db, relationship.DialectSQLite, s.relCfg)
}

// updateRow replaces every field value of one row. A row carrying an
// in-memory identifier gets it persisted by the same statement, which is
// the durable half of the lazy backfill.
func (s *Store) updateRow(ctx context.Context, spec domain.Spec, rowid int64, values map[string]any) error {
	sets := make([]string, 0, len(spec.Fields)+1)
	args := make([]any, 0, len(spec.Fields)+2)
	for _, f := range spec.Fields {
		v, err := coerce(f, values[f.Name])
		if err != nil {
			return fmt.Errorf("sqlite %s: %w", spec.Entity, err)
		}
		sets = append(sets, f.Name+" = ?")
		args = append(args, v)
	}
	if byRow, ok := s.pending[spec.Entity]; ok {
		if id, ok := byRow[rowid]; ok {
			sets = append(sets, "id = ?")
			args = append(args, id)
			delete(byRow, rowid)
		}
	}
	args = append(args, rowid)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE rowid = ?", spec.Entity, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlite %s: update: %w", spec.Entity, err)
	}
	return nil
}

// rowidAt resolves a positional index to a rowid.
func (s *Store) rowidAt(ctx context.Context, entity string, index int) (int64, error) {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotFound)
	}
	if index < 0 {
		return 0, fmt.Errorf("sqlite %s: position %d: %w", entity, index, domain.ErrNotFound)
	}
	var rowid int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT rowid FROM %s ORDER BY rowid LIMIT 1 OFFSET ?", entity), index).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite %s: position %d: %w", entity, index, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite %s: rowid: %w", entity, err)
	}
	return rowid, nil
}

// rowidFor resolves an identifier to a rowid.
func (s *Store) rowidFor(ctx context.Context, entity, id string) (int64, error) {
	norm, err := normalizeID(id)
	if err != nil {
		return 0, err
	}
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("sqlite %s: %w", entity, domain.ErrStorageNotFound)
	}
	var rowid int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT rowid FROM %s WHERE id = ?", entity), norm).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite %s: %s: %w", entity, norm, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite %s: rowid: %w", entity, err)
	}
	return rowid, nil
}

// scanRecord reads one row from a rowid-prefixed result set, assigning
// an in-memory identifier when the stored one is missing or malformed.
func (s *Store) scanRecord(spec domain.Spec, rows *sql.Rows) (domain.Record, int64, error) {
	dest := make([]any, len(spec.Fields)+2)
	var rowid int64
	var storedID sql.NullString
	dest[0] = &rowid
	dest[1] = &storedID
	for i := range spec.Fields {
		var v any
		dest[i+2] = &v
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Record{}, 0, fmt.Errorf("sqlite %s: scan: %w", spec.Entity, err)
	}
	rec := domain.Record{Values: make(map[string]any, len(spec.Fields))}
	if storedID.Valid && recid.Validate(storedID.String) {
		rec.ID = recid.Normalize(storedID.String)
	} else {
		rec.ID = s.backfillID(spec.Entity, rowid)
		rec.PendingID = true
	}
	for i, f := range spec.Fields {
		raw := *(dest[i+2].(*any))
		rec.Values[f.Name] = fromColumn(f, raw)
	}
	return rec, rowid, nil
}

// backfillID returns the identifier already assigned to a legacy row, or
// mints and remembers one. It becomes durable on the row's next update.
func (s *Store) backfillID(entity string, rowid int64) string {
	byRow, ok := s.pending[entity]
	if !ok {
		byRow = make(map[int64]string)
		s.pending[entity] = byRow
	}
	if id, ok := byRow[rowid]; ok {
		return id
	}
	id := recid.Generate()
	byRow[rowid] = id
	return id
}

func insertStmt(spec domain.Spec) string {
	cols := append([]string{"id"}, spec.FieldNames()...)
	marks := strings.Repeat("?, ", len(cols))
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.Entity, strings.Join(cols, ", "), marks[:len(marks)-2])
}

// prepareInsert validates the record and builds the insert arguments.
func prepareInsert(spec domain.Spec, rec domain.Record) (string, []any, error) {
	id := rec.ID
	if id != "" {
		norm, err := normalizeID(id)
		if err != nil {
			return "", nil, err
		}
		id = norm
	} else {
		id = recid.Generate()
	}
	args := make([]any, 0, len(spec.Fields)+1)
	args = append(args, id)
	for _, f := range spec.Fields {
		v, err := coerce(f, rec.Values[f.Name])
		if err != nil {
			return "", nil, err
		}
		if f.Required && v == nil {
			return "", nil, fmt.Errorf("field %s: required value missing", f.Name)
		}
		args = append(args, v)
	}
	return id, args, nil
}

// coerce converts a value into the driver type for the field's column.
// String inputs are parsed so records transferred from a flat file land
// typed; empty strings become NULL.
func coerce(f domain.FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case domain.FieldInteger:
		switch value := v.(type) {
		case int:
			return int64(value), nil
		case int64:
			return value, nil
		case float64:
			return int64(value), nil
		case string:
			if value == "" {
				return nil, nil
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not an integer", f.Name, value)
			}
			return n, nil
		}
	case domain.FieldNumber, domain.FieldDecimal:
		switch value := v.(type) {
		case int:
			return float64(value), nil
		case int64:
			return float64(value), nil
		case float64:
			return value, nil
		case string:
			if value == "" {
				return nil, nil
			}
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not a number", f.Name, value)
			}
			return n, nil
		}
	case domain.FieldBoolean:
		switch value := v.(type) {
		case bool:
			return boolToInt(value), nil
		case int64:
			return value, nil
		case string:
			if value == "" {
				return nil, nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not a boolean", f.Name, value)
			}
			return boolToInt(b), nil
		}
	default:
		switch value := v.(type) {
		case string:
			if value == "" {
				return nil, nil
			}
			return value, nil
		default:
			return fmt.Sprintf("%v", value), nil
		}
	}
	return nil, fmt.Errorf("field %s: unsupported value type %T", f.Name, v)
}

// fromColumn converts a scanned column value back into the record shape.
func fromColumn(f domain.FieldSpec, raw any) any {
	if raw == nil {
		return nil
	}
	if f.Type == domain.FieldBoolean {
		if n, ok := raw.(int64); ok {
			return n != 0
		}
	}
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func normalizeID(id string) (string, error) {
	norm := recid.Normalize(id)
	if !recid.Validate(norm) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}
	return norm, nil
}
