// Package domain holds the shared vocabulary of the storage core: entity
// specifications, records, backend identifiers and the repository
// contract every backend driver implements.
package domain

import "fmt"

// FieldType is the semantic type of a form field. Backends map it onto
// their native column or cell representation.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldEmail        FieldType = "email"
	FieldTel          FieldType = "tel"
	FieldNumber       FieldType = "number"
	FieldInteger      FieldType = "integer"
	FieldDecimal      FieldType = "decimal"
	FieldBoolean      FieldType = "boolean"
	FieldDate         FieldType = "date"
	FieldDatetime     FieldType = "datetime"
	FieldRelationship FieldType = "relationship"
)

// Known reports whether t is one of the declared field types.
func (t FieldType) Known() bool {
	switch t {
	case FieldText, FieldEmail, FieldTel, FieldNumber, FieldInteger,
		FieldDecimal, FieldBoolean, FieldDate, FieldDatetime, FieldRelationship:
		return true
	}
	return false
}

// FieldSpec describes one field of an entity specification.
type FieldSpec struct {
	Name     string    `json:"name" toml:"name"`
	Type     FieldType `json:"type" toml:"type"`
	Required bool      `json:"required" toml:"required"`
}

// Spec is the ordered field list of one entity. Field names are unique
// within the entity. A Spec is immutable for the duration of a single
// repository operation but may evolve between application runs.
type Spec struct {
	Entity string      `json:"entity"`
	Fields []FieldSpec `json:"fields"`
}

// Validate checks field name uniqueness and type validity.
func (s Spec) Validate() error {
	if s.Entity == "" {
		return fmt.Errorf("spec: empty entity name")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("spec %s: field with empty name", s.Entity)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("spec %s: duplicate field %s", s.Entity, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.Known() {
			return fmt.Errorf("spec %s: field %s has unknown type %q", s.Entity, f.Name, f.Type)
		}
	}
	return nil
}

// Field returns the spec for the named field.
func (s Spec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns the field names in declaration order.
func (s Spec) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}
