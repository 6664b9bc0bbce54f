// Package postgres implements the repository contract on a PostgreSQL
// server, mirroring the embedded-SQL table layout with an explicit
// sequence column standing in for SQLite's rowid ordering.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/internal/relationship"
	"github.com/RMSantista/VibeCForms-sub002/internal/repository"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
	"github.com/RMSantista/VibeCForms-sub002/pkg/recid"
)

func init() {
	repository.Register(domain.BackendPostgres, func(cfg *config.Config) (domain.Repository, error) {
		return New(cfg.Postgres.DSN, cfg.Relationships)
	})
}

// Store is the networked SQL driver.
type Store struct {
	db      *sql.DB
	relCfg  config.RelationshipConfig
	pending map[string]map[int64]string // entity -> seq -> assigned id
}

var (
	_ domain.Repository          = (*Store)(nil)
	_ domain.RelationshipCapable = (*Store)(nil)
)

// New connects to the server and verifies the connection.
func New(dsn string, relCfg config.RelationshipConfig) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, relCfg: relCfg, pending: make(map[string]map[int64]string)}, nil
}

func (s *Store) Backend() domain.BackendType { return domain.BackendPostgres }

func (s *Store) Close() error { return s.db.Close() }

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func columnType(t domain.FieldType) string {
	switch t {
	case domain.FieldInteger:
		return "BIGINT"
	case domain.FieldNumber, domain.FieldDecimal:
		return "DOUBLE PRECISION"
	case domain.FieldBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (s *Store) Exists(ctx context.Context, entity string) (bool, error) {
	if err := checkIdent(entity); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		strings.ToLower(entity)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres %s: exists: %w", entity, err)
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
	cols := make([]string, 0, len(spec.Fields)+2)
	cols = append(cols, "seq BIGSERIAL", "id TEXT PRIMARY KEY")
	for _, f := range spec.Fields {
		if err := checkIdent(f.Name); err != nil {
			return fmt.Errorf("postgres %s: %w", spec.Entity, err)
		}
		cols = append(cols, fmt.Sprintf("%s %s", f.Name, columnType(f.Type)))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.Entity, strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("postgres %s: create storage: %w", spec.Entity, err)
	}
	return nil
}

func (s *Store) DropStorage(ctx context.Context, entity string, force bool) error {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("postgres %s: %w", entity, domain.ErrStorageNotFound)
	}
	if !force {
		hasData, err := s.HasData(ctx, entity)
		if err != nil {
			return err
		}
		if hasData {
			return fmt.Errorf("postgres %s: %w", entity, domain.ErrStorageNotEmpty)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", entity)); err != nil {
		return fmt.Errorf("postgres %s: drop storage: %w", entity, err)
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
		return false, fmt.Errorf("postgres %s: %w", entity, domain.ErrStorageNotFound)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", entity)).Scan(&count); err != nil {
		return false, fmt.Errorf("postgres %s: count: %w", entity, err)
	}
	return count > 0, nil
}

func (s *Store) Create(ctx context.Context, spec domain.Spec, rec domain.Record) (string, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("postgres %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	id, args, err := prepareInsert(spec, rec)
	if err != nil {
		return "", fmt.Errorf("postgres %s: %w", spec.Entity, err)
	}
	if _, err := s.db.ExecContext(ctx, insertStmt(spec), args...); err != nil {
		return "", fmt.Errorf("postgres %s: insert: %w", spec.Entity, err)
	}
	return id, nil
}

func (s *Store) BulkCreate(ctx context.Context, spec domain.Spec, recs []domain.Record) ([]domain.BulkResult, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("postgres %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres %s: begin: %w", spec.Entity, err)
	}
	stmt := insertStmt(spec)
	results := make([]domain.BulkResult, len(recs))
	for i, rec := range recs {
		id, args, err := prepareInsert(spec, rec)
		if err != nil {
			results[i] = domain.BulkResult{Err: err}
			continue
		}
		// Savepoints keep one bad row from poisoning the transaction.
		if _, err := tx.ExecContext(ctx, "SAVEPOINT bulk_row"); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("postgres %s: savepoint: %w", spec.Entity, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			results[i] = domain.BulkResult{Err: err}
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT bulk_row"); err != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("postgres %s: rollback savepoint: %w", spec.Entity, err)
			}
			continue
		}
		results[i] = domain.BulkResult{ID: id}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres %s: commit: %w", spec.Entity, err)
	}
	return results, nil
}

func (s *Store) ReadAll(ctx context.Context, spec domain.Spec) ([]domain.Record, error) {
	ok, err := s.Exists(ctx, spec.Entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("postgres %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	cols := append([]string{"seq", "id"}, spec.FieldNames()...)
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY seq", strings.Join(cols, ", "), spec.Entity)
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("postgres %s: select: %w", spec.Entity, err)
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
		return nil, fmt.Errorf("postgres %s: rows: %w", spec.Entity, err)
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
		return domain.Record{}, fmt.Errorf("postgres %s: %w", spec.Entity, domain.ErrStorageNotFound)
	}
	cols := append([]string{"seq", "id"}, spec.FieldNames()...)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(cols, ", "), spec.Entity)
	rows, err := s.db.QueryContext(ctx, stmt, norm)
	if err != nil {
		return domain.Record{}, fmt.Errorf("postgres %s: select: %w", spec.Entity, err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("postgres %s: %s: %w", spec.Entity, norm, domain.ErrNotFound)
	}
	rec, _, err := s.scanRecord(spec, rows)
	return rec, err
}

func (s *Store) Update(ctx context.Context, spec domain.Spec, index int, values map[string]any) error {
	seq, err := s.seqAt(ctx, spec.Entity, index)
	if err != nil {
		return err
	}
	return s.updateRow(ctx, spec, seq, values)
}

func (s *Store) UpdateByID(ctx context.Context, spec domain.Spec, id string, values map[string]any) error {
	seq, err := s.seqFor(ctx, spec.Entity, id)
	if err != nil {
		return err
	}
	return s.updateRow(ctx, spec, seq, values)
}

func (s *Store) Delete(ctx context.Context, spec domain.Spec, index int) error {
	seq, err := s.seqAt(ctx, spec.Entity, index)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE seq = $1", spec.Entity), seq); err != nil {
		return fmt.Errorf("postgres %s: delete: %w", spec.Entity, err)
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, spec domain.Spec, id string) error {
	seq, err := s.seqFor(ctx, spec.Entity, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE seq = $1", spec.Entity), seq); err != nil {
		return fmt.Errorf("postgres %s: delete: %w", spec.Entity, err)
	}
	return nil
}

// RelationshipRepository exposes the relationship capability backed by
// the same database.
func (s *Store) RelationshipRepository() (domain.RelationshipStore, error) {
	return relationship.New(s.db, relationship.DialectPostgres, s.relCfg)
}

func (s *Store) updateRow(ctx context.Context, spec domain.Spec, seq int64, values map[string]any) error {
	sets := make([]string, 0, len(spec.Fields)+1)
	args := make([]any, 0, len(spec.Fields)+2)
	n := 0
	for _, f := range spec.Fields {
		v, err := coerce(f, values[f.Name])
		if err != nil {
			return fmt.Errorf("postgres %s: %w", spec.Entity, err)
		}
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Name, n))
		args = append(args, v)
	}
	if byRow, ok := s.pending[spec.Entity]; ok {
		if id, ok := byRow[seq]; ok {
			n++
			sets = append(sets, fmt.Sprintf("id = $%d", n))
			args = append(args, id)
			delete(byRow, seq)
		}
	}
	args = append(args, seq)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE seq = $%d", spec.Entity, strings.Join(sets, ", "), n+1)
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("postgres %s: update: %w", spec.Entity, err)
	}
	return nil
}

func (s *Store) seqAt(ctx context.Context, entity string, index int) (int64, error) {
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("postgres %s: %w", entity, domain.ErrStorageNotFound)
	}
	if index < 0 {
		return 0, fmt.Errorf("postgres %s: position %d: %w", entity, index, domain.ErrNotFound)
	}
	var seq int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT seq FROM %s ORDER BY seq LIMIT 1 OFFSET $1", entity), index).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("postgres %s: position %d: %w", entity, index, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres %s: seq: %w", entity, err)
	}
	return seq, nil
}

func (s *Store) seqFor(ctx context.Context, entity, id string) (int64, error) {
	norm, err := normalizeID(id)
	if err != nil {
		return 0, err
	}
	ok, err := s.Exists(ctx, entity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("postgres %s: %w", entity, domain.ErrStorageNotFound)
	}
	var seq int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT seq FROM %s WHERE id = $1", entity), norm).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("postgres %s: %s: %w", entity, norm, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres %s: seq: %w", entity, err)
	}
	return seq, nil
}

func (s *Store) scanRecord(spec domain.Spec, rows *sql.Rows) (domain.Record, int64, error) {
	dest := make([]any, len(spec.Fields)+2)
	var seq int64
	var storedID sql.NullString
	dest[0] = &seq
	dest[1] = &storedID
	for i := range spec.Fields {
		var v any
		dest[i+2] = &v
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Record{}, 0, fmt.Errorf("postgres %s: scan: %w", spec.Entity, err)
	}
	rec := domain.Record{Values: make(map[string]any, len(spec.Fields))}
	if storedID.Valid && recid.Validate(storedID.String) {
		rec.ID = recid.Normalize(storedID.String)
	} else {
		rec.ID = s.backfillID(spec.Entity, seq)
		rec.PendingID = true
	}
	for i, f := range spec.Fields {
		raw := *(dest[i+2].(*any))
		if b, ok := raw.([]byte); ok {
			raw = string(b)
		}
		rec.Values[f.Name] = raw
	}
	return rec, seq, nil
}

func (s *Store) backfillID(entity string, seq int64) string {
	byRow, ok := s.pending[entity]
	if !ok {
		byRow = make(map[int64]string)
		s.pending[entity] = byRow
	}
	if id, ok := byRow[seq]; ok {
		return id
	}
	id := recid.Generate()
	byRow[seq] = id
	return id
}

func insertStmt(spec domain.Spec) string {
	cols := append([]string{"id"}, spec.FieldNames()...)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.Entity, strings.Join(cols, ", "), strings.Join(marks, ", "))
}

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

// coerce converts a value into the native type for the field's column so
// records transferred from a flat file land typed.
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
			return value, nil
		case string:
			if value == "" {
				return nil, nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not a boolean", f.Name, value)
			}
			return b, nil
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

func normalizeID(id string) (string, error) {
	norm := recid.Normalize(id)
	if !recid.Validate(norm) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}
	return norm, nil
}
