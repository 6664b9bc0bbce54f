package domain

import (
	"errors"
	"testing"
)

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "valid",
			spec: Spec{Entity: "clientes", Fields: []FieldSpec{
				{Name: "nome", Type: FieldText, Required: true},
				{Name: "email", Type: FieldEmail},
			}},
		},
		{
			name:    "empty entity",
			spec:    Spec{Fields: []FieldSpec{{Name: "a", Type: FieldText}}},
			wantErr: true,
		},
		{
			name: "duplicate field",
			spec: Spec{Entity: "x", Fields: []FieldSpec{
				{Name: "a", Type: FieldText},
				{Name: "a", Type: FieldText},
			}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			spec:    Spec{Entity: "x", Fields: []FieldSpec{{Name: "a", Type: "blob"}}},
			wantErr: true,
		},
		{
			name:    "empty field name",
			spec:    Spec{Entity: "x", Fields: []FieldSpec{{Type: FieldText}}},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestRecordClone(t *testing.T) {
	rec := Record{ID: "x", Values: map[string]any{"nome": "Ana"}}
	cp := rec.Clone()
	cp.Values["nome"] = "Beto"
	if rec.Values["nome"] != "Ana" {
		t.Fatal("Clone shares the values map")
	}
}

func TestFailedCounts(t *testing.T) {
	results := []BulkResult{
		{ID: "a"},
		{Err: errors.New("boom")},
		{ID: "b"},
		{Err: errors.New("boom again")},
	}
	if got := Failed(results); got != 2 {
		t.Fatalf("Failed = %d, want 2", got)
	}
	if got := Failed(nil); got != 0 {
		t.Fatalf("Failed(nil) = %d, want 0", got)
	}
}
