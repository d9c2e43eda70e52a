package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags which variant a Value holds.
type ValueKind uint8

const (
	ValueEmpty ValueKind = iota
	ValueInteger
	ValueText
)

// Value is a decoded field value: empty, an integer or text.
type Value struct {
	Kind ValueKind
	Int  int64
	Text string
}

// IntegerValue wraps an integer.
func IntegerValue(v int64) Value {
	return Value{Kind: ValueInteger, Int: v}
}

// TextValue wraps a string. The empty string is the empty value.
func TextValue(v string) Value {
	if v == "" {
		return Value{}
	}
	return Value{Kind: ValueText, Text: v}
}

// IsEmpty reports whether no value was supplied.
func (v Value) IsEmpty() bool {
	return v.Kind == ValueEmpty
}

// MarshalJSON encodes integers as numbers, text as strings and the empty value as "".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueInteger:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case ValueText:
		return json.Marshal(v.Text)
	default:
		return []byte(`""`), nil
	}
}

// UnmarshalJSON reverses MarshalJSON. It is used for stored forms whose values were
// already normalized, so a JSON number always decodes to an integer.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("decode stored value %s: %w", data, err)
	}
	*v = IntegerValue(n)
	return nil
}

// FieldValue is one named value of a submitted form.
type FieldValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Form is one respondent's submission against an event.
type Form struct {
	ID          string
	HostID      string
	EventTitle  string
	Values      []FieldValue
	SubmittedAt time.Time
}
