package repository

import (
	"context"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
)

// EventRepository persists events. Events created at or before a cutoff are expired.
type EventRepository interface {
	// CreateEvent inserts the event. An expired event with the same host and title is purged
	// together with its forms in the same transaction; a live one yields ErrConflict.
	CreateEvent(ctx context.Context, event *domain.Event, expiredCutoff time.Time) error
	GetEvent(ctx context.Context, hostID, title string) (*domain.Event, error)
	ListEventsByHost(ctx context.Context, hostID string) ([]domain.Event, error)
	ListEventsCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Event, error)
	// DeleteEvent removes the event and its forms atomically and reports whether the event existed.
	DeleteEvent(ctx context.Context, hostID, title string) (bool, error)
	// DeleteEventCreatedBefore behaves like DeleteEvent but only when the stored event was created
	// at or before cutoff, so a replacement created meanwhile survives.
	DeleteEventCreatedBefore(ctx context.Context, hostID, title string, cutoff time.Time) (bool, error)
}

// FormRepository persists form submissions.
type FormRepository interface {
	// InsertForm yields ErrConflict for a repeated identity key and ErrNotFound when the parent
	// event is gone.
	InsertForm(ctx context.Context, form *domain.Form) error
	GetForm(ctx context.Context, hostID, eventTitle, id string) (*domain.Form, error)
	ListForms(ctx context.Context, hostID, eventTitle string) ([]domain.Form, error)
	CountForms(ctx context.Context, hostID, eventTitle string) (int, error)
}
