package schema

import (
	"testing"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

func spec(entity string, fields ...domain.FieldSpec) domain.Spec {
	return domain.Spec{Entity: entity, Fields: fields}
}

func TestHashStableUnderReordering(t *testing.T) {
	a := spec("clientes",
		domain.FieldSpec{Name: "nome", Type: domain.FieldText, Required: true},
		domain.FieldSpec{Name: "email", Type: domain.FieldEmail},
	)
	b := spec("clientes",
		domain.FieldSpec{Name: "email", Type: domain.FieldEmail},
		domain.FieldSpec{Name: "nome", Type: domain.FieldText, Required: true},
	)
	if Hash(a) != Hash(b) {
		t.Fatalf("hash changed under field reordering")
	}
}

func TestHashChangesWithFieldEdit(t *testing.T) {
	a := spec("clientes", domain.FieldSpec{Name: "nome", Type: domain.FieldText})
	b := spec("clientes", domain.FieldSpec{Name: "nome", Type: domain.FieldText, Required: true})
	if Hash(a) == Hash(b) {
		t.Fatalf("hash ignored required flag change")
	}
}

func TestDetectChangesIdenticalSpecs(t *testing.T) {
	s := spec("clientes",
		domain.FieldSpec{Name: "nome", Type: domain.FieldText, Required: true},
		domain.FieldSpec{Name: "email", Type: domain.FieldEmail},
	)
	change := DetectChanges("clientes", s, s, true)
	if !change.Empty() {
		t.Fatalf("expected no changes, got %+v", change.Changes)
	}
	if change.RequiresConfirmation() {
		t.Fatalf("identical specs must not require confirmation")
	}
}

func TestDetectChangesAddFieldNeverConfirms(t *testing.T) {
	oldSpec := spec("clientes", domain.FieldSpec{Name: "nome", Type: domain.FieldText})
	newSpec := spec("clientes",
		domain.FieldSpec{Name: "nome", Type: domain.FieldText},
		domain.FieldSpec{Name: "telefone", Type: domain.FieldTel},
	)
	change := DetectChanges("clientes", oldSpec, newSpec, true)
	if len(change.Changes) != 1 || change.Changes[0].Kind != AddField {
		t.Fatalf("expected one add_field, got %+v", change.Changes)
	}
	if change.RequiresConfirmation() {
		t.Fatalf("add_field must never require confirmation")
	}
}

func TestDetectChangesRemoveFieldWithData(t *testing.T) {
	oldSpec := spec("clientes",
		domain.FieldSpec{Name: "nome", Type: domain.FieldText},
		domain.FieldSpec{Name: "email", Type: domain.FieldEmail},
	)
	newSpec := spec("clientes", domain.FieldSpec{Name: "nome", Type: domain.FieldText})
	change := DetectChanges("clientes", oldSpec, newSpec, true)
	if len(change.Changes) != 1 {
		t.Fatalf("expected one change, got %+v", change.Changes)
	}
	fc := change.Changes[0]
	if fc.Kind != RemoveField || fc.Field != "email" {
		t.Fatalf("unexpected change %+v", fc)
	}
	if !fc.RequiresConfirmation || !fc.DataLossRisk {
		t.Fatalf("remove_field with data must flag confirmation and data loss: %+v", fc)
	}
	if !change.RequiresConfirmation() {
		t.Fatalf("change set must require confirmation")
	}
}

func TestDetectChangesRemoveFieldWithoutData(t *testing.T) {
	oldSpec := spec("clientes", domain.FieldSpec{Name: "email", Type: domain.FieldEmail})
	newSpec := spec("clientes")
	change := DetectChanges("clientes", oldSpec, newSpec, false)
	fc := change.Changes[0]
	if fc.DataLossRisk {
		t.Fatalf("no data, no data loss risk")
	}
	if change.RequiresConfirmation() {
		t.Fatalf("empty entity never requires confirmation")
	}
}

func TestDetectChangesTypeCompatibility(t *testing.T) {
	cases := []struct {
		name       string
		from, to   domain.FieldType
		compatible bool
	}{
		{"text to email", domain.FieldText, domain.FieldEmail, true},
		{"email to tel", domain.FieldEmail, domain.FieldTel, true},
		{"integer to decimal", domain.FieldInteger, domain.FieldDecimal, true},
		{"number to integer", domain.FieldNumber, domain.FieldInteger, true},
		{"date to datetime", domain.FieldDate, domain.FieldDatetime, true},
		{"number to text", domain.FieldNumber, domain.FieldText, true},
		{"boolean to text", domain.FieldBoolean, domain.FieldText, true},
		{"text to number", domain.FieldText, domain.FieldNumber, false},
		{"text to date", domain.FieldText, domain.FieldDate, false},
		{"boolean to number", domain.FieldBoolean, domain.FieldNumber, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oldSpec := spec("e", domain.FieldSpec{Name: "f", Type: tc.from})
			newSpec := spec("e", domain.FieldSpec{Name: "f", Type: tc.to})
			change := DetectChanges("e", oldSpec, newSpec, true)
			if len(change.Changes) != 1 {
				t.Fatalf("expected one change, got %+v", change.Changes)
			}
			fc := change.Changes[0]
			if fc.Kind != ChangeType {
				t.Fatalf("expected change_type, got %s", fc.Kind)
			}
			if fc.Compatible != tc.compatible {
				t.Fatalf("compatible = %t, want %t", fc.Compatible, tc.compatible)
			}
			if fc.RequiresConfirmation == tc.compatible {
				t.Fatalf("incompatible changes and only those require confirmation")
			}
		})
	}
}

func TestDetectChangesRequiredFlag(t *testing.T) {
	oldSpec := spec("e", domain.FieldSpec{Name: "f", Type: domain.FieldText})
	newSpec := spec("e", domain.FieldSpec{Name: "f", Type: domain.FieldText, Required: true})
	change := DetectChanges("e", oldSpec, newSpec, true)
	if len(change.Changes) != 1 || change.Changes[0].Kind != ChangeRequired {
		t.Fatalf("expected change_required, got %+v", change.Changes)
	}
	if change.RequiresConfirmation() {
		t.Fatalf("required flag flip must not require confirmation")
	}
}

func TestDetectBackendChange(t *testing.T) {
	if got := DetectBackendChange("e", domain.BackendFlatFile, domain.BackendFlatFile, 10); got != nil {
		t.Fatalf("equal backends must yield nil, got %+v", got)
	}
	bc := DetectBackendChange("e", domain.BackendFlatFile, domain.BackendSQLite, 0)
	if bc == nil || bc.RequiresConfirmation {
		t.Fatalf("empty entity transition must not require confirmation: %+v", bc)
	}
	bc = DetectBackendChange("e", domain.BackendFlatFile, domain.BackendSQLite, 3)
	if bc == nil || !bc.RequiresConfirmation || bc.RecordCount != 3 {
		t.Fatalf("populated transition must require confirmation: %+v", bc)
	}
}
