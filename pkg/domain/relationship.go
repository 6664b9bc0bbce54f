package domain

import (
	"context"
	"time"
)

// Cardinality classifies the allowed multiplicity of a relationship.
type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToMany Cardinality = "many_to_many"
)

// SyncStrategy governs when the denormalized display value cached next
// to a foreign identifier is refreshed. It affects staleness only; the
// identifier itself is always authoritative.
type SyncStrategy string

const (
	// SyncEager recomputes display values on every write to the
	// referenced entity.
	SyncEager SyncStrategy = "eager"
	// SyncLazy recomputes display values on the next read of the
	// referencing entity.
	SyncLazy SyncStrategy = "lazy"
	// SyncScheduled defers refresh to a periodic job outside this core.
	SyncScheduled SyncStrategy = "scheduled"
)

// Relationship is a directed link between two records. Rows are
// soft-deleted only, preserving the audit trail.
type Relationship struct {
	ID           string     `json:"id"`
	SourceEntity string     `json:"source_entity"`
	SourceID     string     `json:"source_id"`
	Name         string     `json:"name"`
	TargetEntity string     `json:"target_entity"`
	TargetID     string     `json:"target_id"`
	DisplayValue string     `json:"display_value"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	RemovedBy    string     `json:"removed_by,omitempty"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
}

// Active reports whether the relationship has not been soft-deleted.
func (r Relationship) Active() bool { return r.RemovedAt == nil }

// RelationshipStore manages typed links between entities on top of a
// relationship-capable backend.
type RelationshipStore interface {
	// Create inserts an active relationship row. For a one-to-one rule
	// an existing active row with the same source and name is either
	// replaced or rejected, per the configured policy.
	Create(ctx context.Context, rel Relationship) (Relationship, error)

	// Remove soft-deletes the relationship: it records the removal
	// actor and timestamp and keeps the row.
	Remove(ctx context.Context, id, actor string) error

	// ListActive returns the active links originating from a source
	// record, ordered by creation time.
	ListActive(ctx context.Context, sourceEntity, sourceID string) ([]Relationship, error)

	// RefreshDisplayValues recomputes cached display values for every
	// active link targeting the given record.
	RefreshDisplayValues(ctx context.Context, targetEntity, targetID string) error
}
