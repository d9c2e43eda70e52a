package domain

import "time"

// FieldType names the scalar type a field value must decode to.
type FieldType string

// Presence states whether a field must carry a value.
type Presence string

const (
	FieldTypeInteger FieldType = "integer"
	FieldTypeString  FieldType = "string"

	PresenceRequired Presence = "required"
	PresenceOptional Presence = "optional"
)

// FieldSchema declares one named, typed field of an event.
type FieldSchema struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Presence Presence  `json:"presence"`
}

// Required reports whether submissions must provide a non-empty value.
func (f FieldSchema) Required() bool {
	return f.Presence == PresenceRequired
}

// Event is a host-scoped, self-expiring resource that forms are submitted against.
type Event struct {
	HostID    string
	Title     string
	HostName  string
	Schema    []FieldSchema
	CreatedAt time.Time
}

// ExpiresAt returns the instant the event stops being live.
func (e Event) ExpiresAt(lifetime time.Duration) time.Time {
	return e.CreatedAt.Add(lifetime)
}

// Expired reports whether the event is past its lifetime at now.
func (e Event) Expired(now time.Time, lifetime time.Duration) bool {
	return !now.Before(e.ExpiresAt(lifetime))
}

// ExpiryCutoff returns the latest creation time that counts as expired at now.
func ExpiryCutoff(now time.Time, lifetime time.Duration) time.Time {
	return now.Add(-lifetime)
}
