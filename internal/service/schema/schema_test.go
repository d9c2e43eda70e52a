package schema

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
)

func newTestValidator(t *testing.T) Validator {
	t.Helper()
	v, err := New([]string{"integer", "string"}, []string{"required", "optional"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return v
}

func ageNoteSchema() []domain.FieldSchema {
	return []domain.FieldSchema{
		{Name: "age", Type: domain.FieldTypeInteger, Presence: domain.PresenceRequired},
		{Name: "note", Type: domain.FieldTypeString, Presence: domain.PresenceOptional},
	}
}

func TestNewRejectsTypesWithoutDecoder(t *testing.T) {
	if _, err := New([]string{"integer", "float"}, []string{"required"}); err == nil {
		t.Fatalf("expected error for undecodable type")
	}
	if _, err := New([]string{"integer"}, []string{"optional"}); err == nil {
		t.Fatalf("expected error when required presence is not allowed")
	}
}

func TestValidateSchemaAcceptsWellFormedDeclarations(t *testing.T) {
	v := newTestValidator(t)
	fields, err := v.ValidateSchema([]Declaration{
		{"name": "age", "type": "integer", "presence": "required"},
		{"name": "note", "type": "string", "presence": "optional"},
	})
	if err != nil {
		t.Fatalf("ValidateSchema returned error: %v", err)
	}
	if len(fields) != 2 || fields[0].Name != "age" || fields[1].Type != domain.FieldTypeString {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestValidateSchemaRejections(t *testing.T) {
	v := newTestValidator(t)
	cases := []struct {
		name  string
		decls []Declaration
		want  error
		field string
	}{
		{
			name:  "extra key",
			decls: []Declaration{{"name": "age", "type": "integer", "presence": "required", "label": "Age"}},
			want:  ErrMalformedField,
			field: "age",
		},
		{
			name:  "missing key",
			decls: []Declaration{{"name": "age", "type": "integer"}},
			want:  ErrMalformedField,
			field: "age",
		},
		{
			name:  "renamed key",
			decls: []Declaration{{"name": "age", "kind": "integer", "presence": "required"}},
			want:  ErrMalformedField,
			field: "age",
		},
		{
			name:  "non string type",
			decls: []Declaration{{"name": "age", "type": 3.0, "presence": "required"}},
			want:  ErrMalformedField,
			field: "age",
		},
		{
			name:  "empty name",
			decls: []Declaration{{"name": "", "type": "integer", "presence": "required"}},
			want:  ErrMalformedField,
		},
		{
			name:  "unsupported type",
			decls: []Declaration{{"name": "when", "type": "date", "presence": "required"}},
			want:  ErrUnsupportedType,
			field: "when",
		},
		{
			name:  "unsupported presence",
			decls: []Declaration{{"name": "age", "type": "integer", "presence": "sometimes"}},
			want:  ErrUnsupportedPresence,
			field: "age",
		},
		{
			name: "duplicate name",
			decls: []Declaration{
				{"name": "age", "type": "integer", "presence": "required"},
				{"name": "age", "type": "string", "presence": "optional"},
			},
			want:  ErrDuplicateField,
			field: "age",
		},
		{
			name:  "no required field",
			decls: []Declaration{{"name": "note", "type": "string", "presence": "optional"}},
			want:  ErrNoRequiredField,
		},
		{
			name:  "empty schema",
			decls: nil,
			want:  ErrNoRequiredField,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.ValidateSchema(tc.decls)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestValidateSchemaHonoursConfiguredTypes(t *testing.T) {
	v, err := New([]string{"string"}, []string{"required"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, err = v.ValidateSchema([]Declaration{{"name": "age", "type": "integer", "presence": "required"}})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	_, err = v.ValidateSchema([]Declaration{
		{"name": "name", "type": "string", "presence": "required"},
		{"name": "note", "type": "string", "presence": "optional"},
	})
	if !errors.Is(err, ErrUnsupportedPresence) {
		t.Fatalf("expected ErrUnsupportedPresence, got %v", err)
	}
}

func TestValidateValuesFieldSetMismatch(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string][]RawValue{
		"omission": {{Name: "age", Value: ""}},
		"addition": {{Name: "age", Value: "5"}, {Name: "note", Value: ""}, {Name: "extra", Value: "x"}},
		"both":     {{Name: "age", Value: "5"}, {Name: "other", Value: ""}},
		"repeated": {{Name: "age", Value: "5"}, {Name: "age", Value: "6"}},
		"empty":    nil,
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.ValidateValues(ageNoteSchema(), values); !errors.Is(err, ErrFieldSetMismatch) {
				t.Fatalf("expected ErrFieldSetMismatch, got %v", err)
			}
		})
	}
}

func TestValidateValuesRequiredFieldMissing(t *testing.T) {
	v := newTestValidator(t)
	_, err := v.ValidateValues(ageNoteSchema(), []RawValue{{Name: "age", Value: ""}, {Name: "note", Value: ""}})
	if !errors.Is(err, ErrRequiredFieldMissing) {
		t.Fatalf("expected ErrRequiredFieldMissing, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "age" {
		t.Fatalf("expected field age, got %v", err)
	}
	_, err = v.ValidateValues(ageNoteSchema(), []RawValue{{Name: "age", Value: nil}, {Name: "note", Value: "hi"}})
	if !errors.Is(err, ErrRequiredFieldMissing) {
		t.Fatalf("expected ErrRequiredFieldMissing for null, got %v", err)
	}
}

func TestValidateValuesTypeMismatch(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string][]RawValue{
		"text for integer":     {{Name: "age", Value: "five"}, {Name: "note", Value: ""}},
		"fraction for integer": {{Name: "age", Value: json.Number("5.5")}, {Name: "note", Value: ""}},
		"float for integer":    {{Name: "age", Value: 5.5}, {Name: "note", Value: ""}},
		"number for string":    {{Name: "age", Value: "5"}, {Name: "note", Value: json.Number("7")}},
		"bool for integer":     {{Name: "age", Value: true}, {Name: "note", Value: ""}},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.ValidateValues(ageNoteSchema(), values); !errors.Is(err, ErrTypeMismatch) {
				t.Fatalf("expected ErrTypeMismatch, got %v", err)
			}
		})
	}
}

func TestValidateValuesDecodesInSchemaOrder(t *testing.T) {
	v := newTestValidator(t)
	out, err := v.ValidateValues(ageNoteSchema(), []RawValue{
		{Name: "note", Value: ""},
		{Name: "age", Value: "5"},
	})
	if err != nil {
		t.Fatalf("ValidateValues returned error: %v", err)
	}
	if len(out) != 2 || out[0].Name != "age" || out[1].Name != "note" {
		t.Fatalf("unexpected order: %+v", out)
	}
	if out[0].Value != domain.IntegerValue(5) {
		t.Fatalf("expected integer 5, got %+v", out[0].Value)
	}
	if !out[1].Value.IsEmpty() {
		t.Fatalf("expected empty optional value, got %+v", out[1].Value)
	}

	out, err = v.ValidateValues(ageNoteSchema(), []RawValue{
		{Name: "age", Value: json.Number("42")},
		{Name: "note", Value: "see you"},
	})
	if err != nil {
		t.Fatalf("ValidateValues returned error: %v", err)
	}
	if out[0].Value != domain.IntegerValue(42) || out[1].Value != domain.TextValue("see you") {
		t.Fatalf("unexpected values: %+v", out)
	}
}

func TestDecodeValueEmptyForAnyType(t *testing.T) {
	for _, typ := range []domain.FieldType{domain.FieldTypeInteger, domain.FieldTypeString} {
		value, err := DecodeValue(typ, "")
		if err != nil || !value.IsEmpty() {
			t.Fatalf("expected empty value for %s, got %+v (%v)", typ, value, err)
		}
	}
}

func TestDecodeValueIntegerRange(t *testing.T) {
	if _, err := DecodeValue(domain.FieldTypeInteger, float64(1<<63)); err == nil {
		t.Fatalf("expected 2^63 to be rejected")
	}
	value, err := DecodeValue(domain.FieldTypeInteger, float64(math.MinInt64))
	if err != nil || value != domain.IntegerValue(math.MinInt64) {
		t.Fatalf("expected MinInt64 to decode, got %+v (%v)", value, err)
	}
	if _, err := DecodeValue(domain.FieldTypeInteger, json.Number("9223372036854775808")); err == nil {
		t.Fatalf("expected overflowing number to be rejected")
	}
}
