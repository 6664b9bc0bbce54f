// Package schema detects changes between a previously recorded entity
// specification and the current one, and classifies each field-level
// difference by whether it risks losing or corrupting live data.
// Confirmation is gated on that risk, not on "did anything change":
// additive, backward-compatible edits proceed silently.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// ChangeKind classifies one field-level difference.
type ChangeKind string

const (
	AddField       ChangeKind = "add_field"
	RemoveField    ChangeKind = "remove_field"
	ChangeType     ChangeKind = "change_type"
	ChangeRequired ChangeKind = "change_required"
)

// FieldChange is one classified difference between two specs.
type FieldChange struct {
	Kind    ChangeKind
	Field   string
	OldType domain.FieldType
	NewType domain.FieldType
	// Compatible is set for type changes the compatibility table allows.
	Compatible bool
	// RequiresConfirmation marks changes that must be acknowledged
	// before they are applied.
	RequiresConfirmation bool
	// DataLossRisk marks changes that can destroy stored values.
	DataLossRisk bool
}

// Change is the full set of classified differences for one entity.
type Change struct {
	Entity  string
	HasData bool
	Changes []FieldChange
}

// Empty reports whether the two specs were structurally identical.
func (c Change) Empty() bool { return len(c.Changes) == 0 }

// RequiresConfirmation reports whether the entity has data and at least
// one change in the set is itself flagged for confirmation.
func (c Change) RequiresConfirmation() bool {
	if !c.HasData {
		return false
	}
	for _, fc := range c.Changes {
		if fc.RequiresConfirmation {
			return true
		}
	}
	return false
}

// BackendChange records a backend transition for one entity.
type BackendChange struct {
	Entity      string
	OldBackend  domain.BackendType
	NewBackend  domain.BackendType
	RecordCount int
	// RequiresConfirmation is set when records exist to migrate.
	RequiresConfirmation bool
}

// Hash computes the canonical digest of a spec: field name, type and
// required flag, sorted by name so field reordering does not register as
// a change. It lets "has anything changed since last recorded" be
// answered without storing the full old spec.
func Hash(spec domain.Spec) string {
	lines := make([]string, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		lines = append(lines, fmt.Sprintf("%s:%s:%t", f.Name, f.Type, f.Required))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// typeGroups clusters field types that store interchangeable values.
var typeGroups = map[domain.FieldType]string{
	domain.FieldText:     "text",
	domain.FieldEmail:    "text",
	domain.FieldTel:      "text",
	domain.FieldNumber:   "numeric",
	domain.FieldInteger:  "numeric",
	domain.FieldDecimal:  "numeric",
	domain.FieldDate:     "temporal",
	domain.FieldDatetime: "temporal",
}

// compatible reports whether stored values survive a declared type
// change. Within a group the change is lossless; widening any non-text
// type to plain text keeps the rendered value; the reverse narrowing
// (text to number and friends) is flagged.
func compatible(from, to domain.FieldType) bool {
	if from == to {
		return true
	}
	fg, fok := typeGroups[from]
	tg, tok := typeGroups[to]
	if fok && tok && fg == tg {
		return true
	}
	if to == domain.FieldText {
		return true
	}
	return false
}

// DetectChanges diffs two specs field by field. hasData flags whether
// the entity currently holds records; it drives the data-loss and
// confirmation classification.
func DetectChanges(entity string, oldSpec, newSpec domain.Spec, hasData bool) Change {
	change := Change{Entity: entity, HasData: hasData}

	oldFields := make(map[string]domain.FieldSpec, len(oldSpec.Fields))
	for _, f := range oldSpec.Fields {
		oldFields[f.Name] = f
	}
	newFields := make(map[string]domain.FieldSpec, len(newSpec.Fields))
	for _, f := range newSpec.Fields {
		newFields[f.Name] = f
	}

	for _, f := range newSpec.Fields {
		if _, ok := oldFields[f.Name]; !ok {
			change.Changes = append(change.Changes, FieldChange{
				Kind:    AddField,
				Field:   f.Name,
				NewType: f.Type,
			})
		}
	}

	for _, f := range oldSpec.Fields {
		nf, ok := newFields[f.Name]
		if !ok {
			change.Changes = append(change.Changes, FieldChange{
				Kind:                 RemoveField,
				Field:                f.Name,
				OldType:              f.Type,
				RequiresConfirmation: true,
				DataLossRisk:         hasData,
			})
			continue
		}
		if f.Type != nf.Type {
			ok := compatible(f.Type, nf.Type)
			change.Changes = append(change.Changes, FieldChange{
				Kind:                 ChangeType,
				Field:                f.Name,
				OldType:              f.Type,
				NewType:              nf.Type,
				Compatible:           ok,
				RequiresConfirmation: !ok,
				DataLossRisk:         !ok && hasData,
			})
		}
		if f.Required != nf.Required {
			change.Changes = append(change.Changes, FieldChange{
				Kind:    ChangeRequired,
				Field:   f.Name,
				OldType: f.Type,
				NewType: nf.Type,
			})
		}
	}

	return change
}

// DetectBackendChange returns nil when the backend types are equal,
// otherwise a transition descriptor whose confirmation flag is set iff
// records exist at detection time.
func DetectBackendChange(entity string, oldBackend, newBackend domain.BackendType, recordCount int) *BackendChange {
	if oldBackend == newBackend {
		return nil
	}
	return &BackendChange{
		Entity:               entity,
		OldBackend:           oldBackend,
		NewBackend:           newBackend,
		RecordCount:          recordCount,
		RequiresConfirmation: recordCount > 0,
	}
}
