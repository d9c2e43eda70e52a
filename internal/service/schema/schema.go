package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
)

var (
	ErrMalformedField       = errors.New("malformed field")
	ErrUnsupportedType      = errors.New("unsupported field type")
	ErrUnsupportedPresence  = errors.New("unsupported field presence")
	ErrDuplicateField       = errors.New("duplicate field name")
	ErrNoRequiredField      = errors.New("schema requires at least one required field")
	ErrFieldSetMismatch     = errors.New("submitted fields do not match event fields")
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrTypeMismatch         = errors.New("field value does not match declared type")
)

// ValidationError ties a rule violation to the field that caused it.
type ValidationError struct {
	Err   error
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %q", e.Err, e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, field string) error {
	return &ValidationError{Err: err, Field: field}
}

// Declaration is one JSON-decoded field declaration as received from a host.
type Declaration map[string]any

// RawValue is one JSON-decoded field value as received from a respondent.
// Value holds nil, a string, a json.Number, a float64 or an integer.
type RawValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

var declarationKeys = []string{"name", "type", "presence"}

// decodable lists the field types the value decoder understands.
var decodable = map[domain.FieldType]struct{}{
	domain.FieldTypeInteger: {},
	domain.FieldTypeString:  {},
}

var knownPresences = map[domain.Presence]struct{}{
	domain.PresenceRequired: {},
	domain.PresenceOptional: {},
}

// Validator checks schemas and submissions against the configured type and presence sets.
type Validator struct {
	types     map[domain.FieldType]struct{}
	presences map[domain.Presence]struct{}
}

// New builds a Validator. Every configured type and presence must be one the engine can enforce.
func New(types, presences []string) (Validator, error) {
	v := Validator{
		types:     make(map[domain.FieldType]struct{}),
		presences: make(map[domain.Presence]struct{}),
	}
	for _, raw := range types {
		t := domain.FieldType(strings.ToLower(strings.TrimSpace(raw)))
		if t == "" {
			continue
		}
		if _, ok := decodable[t]; !ok {
			return Validator{}, fmt.Errorf("field type %q has no value decoder", raw)
		}
		v.types[t] = struct{}{}
	}
	for _, raw := range presences {
		p := domain.Presence(strings.ToLower(strings.TrimSpace(raw)))
		if p == "" {
			continue
		}
		if _, ok := knownPresences[p]; !ok {
			return Validator{}, fmt.Errorf("presence %q is not supported", raw)
		}
		v.presences[p] = struct{}{}
	}
	if len(v.types) == 0 {
		return Validator{}, errors.New("at least one field type must be allowed")
	}
	if _, ok := v.presences[domain.PresenceRequired]; !ok {
		return Validator{}, errors.New("presence \"required\" must be allowed")
	}
	return v, nil
}

// ValidateSchema turns raw declarations into a field schema, rejecting anything that does not
// conform. The first offending field in declaration order is reported.
func (v Validator) ValidateSchema(decls []Declaration) ([]domain.FieldSchema, error) {
	fields := make([]domain.FieldSchema, 0, len(decls))
	seen := make(map[string]struct{}, len(decls))
	hasRequired := false
	for _, decl := range decls {
		field, err := parseDeclaration(decl)
		if err != nil {
			return nil, err
		}
		if _, ok := v.types[field.Type]; !ok {
			return nil, invalid(ErrUnsupportedType, field.Name)
		}
		if _, ok := v.presences[field.Presence]; !ok {
			return nil, invalid(ErrUnsupportedPresence, field.Name)
		}
		if _, dup := seen[field.Name]; dup {
			return nil, invalid(ErrDuplicateField, field.Name)
		}
		seen[field.Name] = struct{}{}
		if field.Required() {
			hasRequired = true
		}
		fields = append(fields, field)
	}
	if !hasRequired {
		return nil, invalid(ErrNoRequiredField, "")
	}
	return fields, nil
}

func parseDeclaration(decl Declaration) (domain.FieldSchema, error) {
	name, _ := decl["name"].(string)
	if len(decl) != len(declarationKeys) {
		return domain.FieldSchema{}, invalid(ErrMalformedField, name)
	}
	values := make([]string, 0, len(declarationKeys))
	for _, key := range declarationKeys {
		raw, ok := decl[key]
		if !ok {
			return domain.FieldSchema{}, invalid(ErrMalformedField, name)
		}
		s, ok := raw.(string)
		if !ok {
			return domain.FieldSchema{}, invalid(ErrMalformedField, name)
		}
		values = append(values, s)
	}
	if strings.TrimSpace(values[0]) == "" {
		return domain.FieldSchema{}, invalid(ErrMalformedField, name)
	}
	return domain.FieldSchema{
		Name:     values[0],
		Type:     domain.FieldType(values[1]),
		Presence: domain.Presence(values[2]),
	}, nil
}

// ValidateValues checks a submission against the event schema and returns the values decoded
// to their declared types, in schema order.
func (v Validator) ValidateValues(fields []domain.FieldSchema, values []RawValue) ([]domain.FieldValue, error) {
	byName := make(map[string]any, len(values))
	for _, value := range values {
		if _, dup := byName[value.Name]; dup {
			return nil, invalid(ErrFieldSetMismatch, "")
		}
		byName[value.Name] = value.Value
	}
	if len(byName) != len(fields) {
		return nil, invalid(ErrFieldSetMismatch, "")
	}
	for _, field := range fields {
		if _, ok := byName[field.Name]; !ok {
			return nil, invalid(ErrFieldSetMismatch, "")
		}
	}

	out := make([]domain.FieldValue, 0, len(fields))
	for _, field := range fields {
		decoded, err := DecodeValue(field.Type, byName[field.Name])
		if err != nil {
			return nil, invalid(ErrTypeMismatch, field.Name)
		}
		if decoded.IsEmpty() && field.Required() {
			return nil, invalid(ErrRequiredFieldMissing, field.Name)
		}
		out = append(out, domain.FieldValue{Name: field.Name, Value: decoded})
	}
	return out, nil
}

func isEmptyRaw(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}

// DecodeValue converts a JSON-decoded scalar into the variant the declared type calls for.
// nil and "" decode to the empty value for every type.
func DecodeValue(t domain.FieldType, raw any) (domain.Value, error) {
	if isEmptyRaw(raw) {
		return domain.Value{}, nil
	}
	switch t {
	case domain.FieldTypeString:
		s, ok := raw.(string)
		if !ok {
			return domain.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return domain.TextValue(s), nil
	case domain.FieldTypeInteger:
		n, err := decodeInteger(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.IntegerValue(n), nil
	default:
		return domain.Value{}, fmt.Errorf("no decoder for type %q", t)
	}
}

func decodeInteger(raw any) (int64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case json.Number:
		return strconv.ParseInt(v.String(), 10, 64)
	case float64:
		if v != math.Trunc(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}
