// Package relationship manages typed links between records on top of a
// relationship-capable SQL backend. Links are soft-deleted only, so the
// audit trail of who linked what, and when, survives removal. A
// denormalized display value is cached next to each target identifier;
// the configured sync strategy decides when it is refreshed, and the
// identifier stays authoritative regardless.
package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
	"github.com/RMSantista/VibeCForms-sub002/pkg/recid"
)

// Dialect selects the SQL placeholder style of the hosting backend.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// ErrCardinalityViolation reports an insert rejected by the cardinality
// rule for the relationship's entity/field pair.
var ErrCardinalityViolation = errors.New("relationship: cardinality violation")

// LookupFunc resolves the display value of a target record. It is
// injected by the composition point; a nil lookup disables display
// value refresh without affecting link correctness.
type LookupFunc func(ctx context.Context, entity, id string) (string, error)

const table = "form_relationships"

// Store implements domain.RelationshipStore over a shared *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	cfg     config.RelationshipConfig
	lookup  LookupFunc
	now     func() time.Time
}

var _ domain.RelationshipStore = (*Store)(nil)

// New provisions the relationship table if needed and returns the store.
func New(db *sql.DB, dialect Dialect, cfg config.RelationshipConfig) (*Store, error) {
	s := &Store{db: db, dialect: dialect, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
	ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT PRIMARY KEY,
		source_entity TEXT NOT NULL,
		source_id TEXT NOT NULL,
		name TEXT NOT NULL,
		target_entity TEXT NOT NULL,
		target_id TEXT NOT NULL,
		display_value TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		removed_by TEXT,
		removed_at TEXT
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("relationship: create table: %w", err)
	}
	return s, nil
}

// SetLookup installs the display value resolver.
func (s *Store) SetLookup(fn LookupFunc) { s.lookup = fn }

// Strategy returns the configured sync strategy.
func (s *Store) Strategy() domain.SyncStrategy { return s.cfg.SyncStrategy }

// rebind rewrites ? placeholders for the postgres dialect.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (s *Store) cardinalityFor(entity, field string) domain.Cardinality {
	if card, ok := s.cfg.Cardinality[entity+"."+field]; ok {
		return card
	}
	return domain.OneToMany
}

// Create inserts an active relationship row. One-to-one rules replace or
// reject a second link on the same source and name, per configuration;
// exact duplicates of an active link are always rejected.
func (s *Store) Create(ctx context.Context, rel domain.Relationship) (domain.Relationship, error) {
	for _, id := range []string{rel.SourceID, rel.TargetID} {
		if !recid.Validate(id) {
			return domain.Relationship{}, fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
		}
	}
	if rel.Name == "" {
		return domain.Relationship{}, fmt.Errorf("relationship: empty name")
	}
	rel.SourceID = recid.Normalize(rel.SourceID)
	rel.TargetID = recid.Normalize(rel.TargetID)

	existing, err := s.activeLinks(ctx, rel.SourceEntity, rel.SourceID, rel.Name)
	if err != nil {
		return domain.Relationship{}, err
	}
	for _, prior := range existing {
		if prior.TargetEntity == rel.TargetEntity && prior.TargetID == rel.TargetID {
			return domain.Relationship{}, fmt.Errorf("%w: duplicate active link %s", ErrCardinalityViolation, rel.Name)
		}
	}
	if len(existing) > 0 && s.cardinalityFor(rel.SourceEntity, rel.Name) == domain.OneToOne {
		if !s.cfg.ReplaceOneToOne {
			return domain.Relationship{}, fmt.Errorf("%w: %s.%s is one-to-one", ErrCardinalityViolation, rel.SourceEntity, rel.Name)
		}
		for _, prior := range existing {
			if err := s.Remove(ctx, prior.ID, rel.CreatedBy); err != nil {
				return domain.Relationship{}, err
			}
		}
	}

	rel.ID = recid.Generate()
	rel.CreatedAt = s.now()
	rel.RemovedAt = nil
	rel.RemovedBy = ""
	if s.lookup != nil {
		display, err := s.lookup(ctx, rel.TargetEntity, rel.TargetID)
		if err != nil {
			return domain.Relationship{}, fmt.Errorf("relationship: resolve display value: %w", err)
		}
		rel.DisplayValue = display
	}
	stmt := s.rebind(`INSERT INTO ` + table + `
		(id, source_entity, source_id, name, target_entity, target_id, display_value, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, stmt,
		rel.ID, rel.SourceEntity, rel.SourceID, rel.Name,
		rel.TargetEntity, rel.TargetID, rel.DisplayValue,
		rel.CreatedBy, rel.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.Relationship{}, fmt.Errorf("relationship: insert: %w", err)
	}
	return rel, nil
}

// Remove soft-deletes a link: the row stays, stamped with the removal
// actor and time.
func (s *Store) Remove(ctx context.Context, id, actor string) error {
	stmt := s.rebind(`UPDATE ` + table + ` SET removed_at = ?, removed_by = ? WHERE id = ? AND removed_at IS NULL`)
	res, err := s.db.ExecContext(ctx, stmt, s.now().Format(time.RFC3339Nano), actor, id)
	if err != nil {
		return fmt.Errorf("relationship: remove: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListActive returns the active links from one source record. Under the
// lazy strategy display values are refreshed before returning.
func (s *Store) ListActive(ctx context.Context, sourceEntity, sourceID string) ([]domain.Relationship, error) {
	if s.cfg.SyncStrategy == domain.SyncLazy && s.lookup != nil {
		if err := s.refreshSource(ctx, sourceEntity, sourceID); err != nil {
			return nil, err
		}
	}
	return s.activeLinks(ctx, sourceEntity, sourceID, "")
}

// History returns every link from one source record, removed rows
// included, for audit display.
func (s *Store) History(ctx context.Context, sourceEntity, sourceID string) ([]domain.Relationship, error) {
	stmt := s.rebind(selectColumns + ` FROM ` + table + ` WHERE source_entity = ? AND source_id = ? ORDER BY created_at`)
	return s.queryLinks(ctx, stmt, sourceEntity, sourceID)
}

// NotifyTargetUpdated is called after a write to a referenced record.
// Under the eager strategy it refreshes the cached display values; other
// strategies defer.
func (s *Store) NotifyTargetUpdated(ctx context.Context, targetEntity, targetID string) error {
	if s.cfg.SyncStrategy != domain.SyncEager {
		return nil
	}
	return s.RefreshDisplayValues(ctx, targetEntity, targetID)
}

// RefreshDisplayValues recomputes the cached display value of every
// active link targeting the given record.
func (s *Store) RefreshDisplayValues(ctx context.Context, targetEntity, targetID string) error {
	if s.lookup == nil {
		return nil
	}
	display, err := s.lookup(ctx, targetEntity, targetID)
	if err != nil {
		return fmt.Errorf("relationship: resolve display value: %w", err)
	}
	stmt := s.rebind(`UPDATE ` + table + ` SET display_value = ? WHERE target_entity = ? AND target_id = ? AND removed_at IS NULL`)
	if _, err := s.db.ExecContext(ctx, stmt, display, targetEntity, targetID); err != nil {
		return fmt.Errorf("relationship: refresh: %w", err)
	}
	return nil
}

// RefreshAll recomputes display values for every active link. It exists
// for the scheduled strategy's periodic job.
func (s *Store) RefreshAll(ctx context.Context) error {
	if s.lookup == nil {
		return nil
	}
	stmt := s.rebind(`SELECT DISTINCT target_entity, target_id FROM ` + table + ` WHERE removed_at IS NULL`)
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("relationship: list targets: %w", err)
	}
	type target struct{ entity, id string }
	var targets []target
	for rows.Next() {
		var tg target
		if err := rows.Scan(&tg.entity, &tg.id); err != nil {
			_ = rows.Close()
			return err
		}
		targets = append(targets, tg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	for _, tg := range targets {
		if err := s.RefreshDisplayValues(ctx, tg.entity, tg.id); err != nil {
			return err
		}
	}
	return nil
}

const selectColumns = `SELECT id, source_entity, source_id, name, target_entity, target_id,
	display_value, created_by, created_at, removed_by, removed_at`

// activeLinks lists active rows from a source, optionally filtered by name.
func (s *Store) activeLinks(ctx context.Context, sourceEntity, sourceID, name string) ([]domain.Relationship, error) {
	stmt := selectColumns + ` FROM ` + table + ` WHERE source_entity = ? AND source_id = ? AND removed_at IS NULL`
	args := []any{sourceEntity, sourceID}
	if name != "" {
		stmt += ` AND name = ?`
		args = append(args, name)
	}
	stmt += ` ORDER BY created_at`
	return s.queryLinks(ctx, s.rebind(stmt), args...)
}

func (s *Store) queryLinks(ctx context.Context, stmt string, args ...any) ([]domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("relationship: select: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var rels []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		var display, removedBy, removedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&rel.ID, &rel.SourceEntity, &rel.SourceID, &rel.Name,
			&rel.TargetEntity, &rel.TargetID, &display, &rel.CreatedBy, &createdAt,
			&removedBy, &removedAt); err != nil {
			return nil, fmt.Errorf("relationship: scan: %w", err)
		}
		rel.DisplayValue = display.String
		rel.RemovedBy = removedBy.String
		created, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("relationship: parse created_at: %w", err)
		}
		rel.CreatedAt = created
		if removedAt.Valid {
			removed, err := time.Parse(time.RFC3339Nano, removedAt.String)
			if err != nil {
				return nil, fmt.Errorf("relationship: parse removed_at: %w", err)
			}
			rel.RemovedAt = &removed
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rels, nil
}

// refreshSource refreshes display values for the targets referenced by
// one source record (the lazy strategy's read path).
func (s *Store) refreshSource(ctx context.Context, sourceEntity, sourceID string) error {
	stmt := s.rebind(`SELECT DISTINCT target_entity, target_id FROM ` + table + ` WHERE source_entity = ? AND source_id = ? AND removed_at IS NULL`)
	rows, err := s.db.QueryContext(ctx, stmt, sourceEntity, sourceID)
	if err != nil {
		return fmt.Errorf("relationship: list targets: %w", err)
	}
	type target struct{ entity, id string }
	var targets []target
	for rows.Next() {
		var tg target
		if err := rows.Scan(&tg.entity, &tg.id); err != nil {
			_ = rows.Close()
			return err
		}
		targets = append(targets, tg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	for _, tg := range targets {
		if err := s.RefreshDisplayValues(ctx, tg.entity, tg.id); err != nil {
			return err
		}
	}
	return nil
}
