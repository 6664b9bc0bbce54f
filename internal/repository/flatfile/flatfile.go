// Package flatfile implements the repository contract over delimited
// text files: one file per entity, one record per line, identifier as
// the first field. Every mutation rewrites the file through a temp file
// and rename so a failed write never corrupts the previous state.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/internal/repository"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
	"github.com/RMSantista/VibeCForms-sub002/pkg/recid"
)

func init() {
	repository.Register(domain.BackendFlatFile, func(cfg *config.Config) (domain.Repository, error) {
		return New(cfg.FlatFile.Dir, cfg.FlatFile.Delimiter)
	})
}

// Store is the flat-file driver. It keeps the identifiers assigned to
// legacy records in memory, per entity and line position, so repeated
// reads stay stable until the next write makes them durable.
type Store struct {
	dir       string
	delimiter string
	pending   map[string]map[int]string
}

var (
	_ domain.Repository  = (*Store)(nil)
	_ domain.Snapshotter = (*Store)(nil)
)

// New returns a flat-file store rooted at dir.
func New(dir, delimiter string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if delimiter == "" {
		delimiter = ";"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, delimiter: delimiter, pending: make(map[string]map[int]string)}, nil
}

func (s *Store) Backend() domain.BackendType { return domain.BackendFlatFile }

func (s *Store) Close() error { return nil }

func (s *Store) path(entity string) string {
	return filepath.Join(s.dir, entity+".txt")
}

func (s *Store) Exists(ctx context.Context, entity string) (bool, error) {
	_, err := os.Stat(s.path(entity))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateStorage(ctx context.Context, spec domain.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	path := s.path(spec.Entity)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("flatfile %s: create storage: %w", spec.Entity, err)
	}
	return f.Close()
}

func (s *Store) DropStorage(ctx context.Context, entity string, force bool) error {
	recs, err := s.readAll(entity, domain.Spec{Entity: entity})
	if err != nil {
		return err
	}
	if !force && len(recs) > 0 {
		return fmt.Errorf("flatfile %s: %w", entity, domain.ErrStorageNotEmpty)
	}
	if err := os.Remove(s.path(entity)); err != nil {
		return fmt.Errorf("flatfile %s: drop storage: %w", entity, err)
	}
	delete(s.pending, entity)
	return nil
}

func (s *Store) HasData(ctx context.Context, entity string) (bool, error) {
	recs, err := s.readAll(entity, domain.Spec{Entity: entity})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

func (s *Store) Create(ctx context.Context, spec domain.Spec, rec domain.Record) (string, error) {
	recs, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return "", err
	}
	prepared, err := s.prepare(spec, rec, recs, nil)
	if err != nil {
		return "", fmt.Errorf("flatfile %s: %w", spec.Entity, err)
	}
	if err := s.writeAll(spec, append(recs, prepared)); err != nil {
		return "", err
	}
	return prepared.ID, nil
}

func (s *Store) BulkCreate(ctx context.Context, spec domain.Spec, recs []domain.Record) ([]domain.BulkResult, error) {
	existing, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return nil, err
	}
	results := make([]domain.BulkResult, len(recs))
	batch := make(map[string]struct{})
	accepted := existing
	for i, rec := range recs {
		prepared, err := s.prepare(spec, rec, existing, batch)
		if err != nil {
			results[i] = domain.BulkResult{Err: err}
			continue
		}
		batch[prepared.ID] = struct{}{}
		accepted = append(accepted, prepared)
		results[i] = domain.BulkResult{ID: prepared.ID}
	}
	// One file rewrite for the whole batch.
	if err := s.writeAll(spec, accepted); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) ReadAll(ctx context.Context, spec domain.Spec) ([]domain.Record, error) {
	return s.readAll(spec.Entity, spec)
}

func (s *Store) ReadByID(ctx context.Context, spec domain.Spec, id string) (domain.Record, error) {
	norm, err := normalizeID(id)
	if err != nil {
		return domain.Record{}, err
	}
	recs, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return domain.Record{}, err
	}
	for _, rec := range recs {
		if rec.ID == norm {
			return rec, nil
		}
	}
	return domain.Record{}, fmt.Errorf("flatfile %s: %s: %w", spec.Entity, norm, domain.ErrNotFound)
}

func (s *Store) Update(ctx context.Context, spec domain.Spec, index int, values map[string]any) error {
	recs, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(recs) {
		return fmt.Errorf("flatfile %s: position %d: %w", spec.Entity, index, domain.ErrNotFound)
	}
	recs[index].Values = values
	return s.writeAll(spec, recs)
}

func (s *Store) UpdateByID(ctx context.Context, spec domain.Spec, id string, values map[string]any) error {
	index, recs, err := s.findByID(spec, id)
	if err != nil {
		return err
	}
	recs[index].Values = values
	return s.writeAll(spec, recs)
}

func (s *Store) Delete(ctx context.Context, spec domain.Spec, index int) error {
	recs, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(recs) {
		return fmt.Errorf("flatfile %s: position %d: %w", spec.Entity, index, domain.ErrNotFound)
	}
	return s.writeAll(spec, append(recs[:index], recs[index+1:]...))
}

func (s *Store) DeleteByID(ctx context.Context, spec domain.Spec, id string) error {
	index, recs, err := s.findByID(spec, id)
	if err != nil {
		return err
	}
	return s.writeAll(spec, append(recs[:index], recs[index+1:]...))
}

// SnapshotStorage streams the entity's file for the migration backup.
func (s *Store) SnapshotStorage(ctx context.Context, entity string) (io.ReadCloser, string, error) {
	f, err := os.Open(s.path(entity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("flatfile %s: %w", entity, domain.ErrStorageNotFound)
	}
	if err != nil {
		return nil, "", err
	}
	return f, ".txt", nil
}

// findByID validates id and locates it in the current records.
func (s *Store) findByID(spec domain.Spec, id string) (int, []domain.Record, error) {
	norm, err := normalizeID(id)
	if err != nil {
		return 0, nil, err
	}
	recs, err := s.readAll(spec.Entity, spec)
	if err != nil {
		return 0, nil, err
	}
	for i, rec := range recs {
		if rec.ID == norm {
			return i, recs, nil
		}
	}
	return 0, nil, fmt.Errorf("flatfile %s: %s: %w", spec.Entity, norm, domain.ErrNotFound)
}

// prepare validates one record for insertion, minting or normalizing its
// identifier. existing and batch guard identifier uniqueness.
func (s *Store) prepare(spec domain.Spec, rec domain.Record, existing []domain.Record, batch map[string]struct{}) (domain.Record, error) {
	out := rec.Clone()
	if out.ID != "" {
		norm, err := normalizeID(out.ID)
		if err != nil {
			return domain.Record{}, err
		}
		out.ID = norm
	} else {
		out.ID = recid.Generate()
	}
	for _, prior := range existing {
		if prior.ID == out.ID {
			return domain.Record{}, fmt.Errorf("duplicate identifier %s", out.ID)
		}
	}
	if batch != nil {
		if _, dup := batch[out.ID]; dup {
			return domain.Record{}, fmt.Errorf("duplicate identifier %s", out.ID)
		}
	}
	for _, f := range spec.Fields {
		v := out.Values[f.Name]
		text, err := formatValue(v, s.delimiter)
		if err != nil {
			return domain.Record{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if f.Required && text == "" {
			return domain.Record{}, fmt.Errorf("field %s: required value missing", f.Name)
		}
	}
	out.PendingID = false
	return out, nil
}

// readAll loads and parses the entity's file, assigning in-memory
// identifiers to legacy lines that lack one. The assignment is kept in
// the pending map so repeated reads agree; it becomes durable on the
// next write of the file.
func (s *Store) readAll(entity string, spec domain.Spec) ([]domain.Record, error) {
	data, err := os.ReadFile(s.path(entity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("flatfile %s: %w", entity, domain.ErrStorageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("flatfile %s: read: %w", entity, err)
	}
	var recs []domain.Record
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		recs = append(recs, s.parseLine(entity, spec, len(recs), line))
	}
	return recs, nil
}

// parseLine splits one stored line. A valid identifier in the first slot
// claims it; otherwise the whole line is legacy field data.
func (s *Store) parseLine(entity string, spec domain.Spec, index int, line string) domain.Record {
	parts := strings.Split(line, s.delimiter)
	rec := domain.Record{Values: make(map[string]any, len(spec.Fields))}
	fieldParts := parts
	if recid.Validate(parts[0]) {
		rec.ID = recid.Normalize(parts[0])
		fieldParts = parts[1:]
	} else {
		rec.ID = s.pendingID(entity, index)
		rec.PendingID = true
	}
	for i, f := range spec.Fields {
		if i < len(fieldParts) {
			rec.Values[f.Name] = fieldParts[i]
		} else {
			rec.Values[f.Name] = ""
		}
	}
	return rec
}

// pendingID returns the identifier already assigned to a legacy line, or
// mints and remembers a new one.
func (s *Store) pendingID(entity string, index int) string {
	byLine, ok := s.pending[entity]
	if !ok {
		byLine = make(map[int]string)
		s.pending[entity] = byLine
	}
	if id, ok := byLine[index]; ok {
		return id
	}
	id := recid.Generate()
	byLine[index] = id
	return id
}

// writeAll rewrites the entity's file atomically. Pending identifiers
// are persisted by the rewrite and forgotten afterwards.
func (s *Store) writeAll(spec domain.Spec, recs []domain.Record) error {
	var sb strings.Builder
	for _, rec := range recs {
		fields := make([]string, 0, len(spec.Fields)+1)
		fields = append(fields, rec.ID)
		for _, f := range spec.Fields {
			text, err := formatValue(rec.Values[f.Name], s.delimiter)
			if err != nil {
				return fmt.Errorf("flatfile %s: field %s: %w", spec.Entity, f.Name, err)
			}
			fields = append(fields, text)
		}
		sb.WriteString(strings.Join(fields, s.delimiter))
		sb.WriteByte('\n')
	}
	path := s.path(spec.Entity)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("flatfile %s: temp file: %w", spec.Entity, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flatfile %s: write: %w", spec.Entity, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("flatfile %s: replace: %w", spec.Entity, err)
	}
	delete(s.pending, spec.Entity)
	return nil
}

func normalizeID(id string) (string, error) {
	norm := recid.Normalize(id)
	if !recid.Validate(norm) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}
	return norm, nil
}

// formatValue renders a value for one delimited cell.
func formatValue(v any, delimiter string) (string, error) {
	var text string
	switch value := v.(type) {
	case nil:
		text = ""
	case string:
		text = value
	case bool:
		text = strconv.FormatBool(value)
	case int:
		text = strconv.Itoa(value)
	case int64:
		text = strconv.FormatInt(value, 10)
	case float64:
		text = strconv.FormatFloat(value, 'f', -1, 64)
	default:
		text = fmt.Sprintf("%v", value)
	}
	if strings.Contains(text, delimiter) {
		return "", fmt.Errorf("value %q contains the delimiter %q", text, delimiter)
	}
	if strings.ContainsAny(text, "\n\r") {
		return "", fmt.Errorf("value %q contains a line break", text)
	}
	return text, nil
}
