package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
	"github.com/adenalhardan/punchcard-backend/pkg/config"
)

const defaultLifetime = 24 * time.Hour

var (
	ErrDuplicateTitle = errors.New("event title already in use")
	ErrNotFound       = errors.New("event not found")
	ErrPartialDelete  = errors.New("event delete did not complete")
)

// CreateInput carries the host supplied attributes of a new event.
type CreateInput struct {
	HostID   string
	Title    string
	HostName string
	Fields   []schema.Declaration
}

// Service manages the event registry.
type Service struct {
	repo      repository.EventRepository
	validator schema.Validator
	logger    *slog.Logger
	lifetime  time.Duration
	now       func() time.Time
}

// New constructs a Service. A non-positive lifetime falls back to one day.
func New(repo repository.EventRepository, validator schema.Validator, logger *slog.Logger, cfg config.APIConfig) Service {
	lifetime := cfg.EventLifetime
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	return Service{
		repo:      repo,
		validator: validator,
		logger:    logger,
		lifetime:  lifetime,
		now:       time.Now,
	}
}

// Lifetime returns how long an event stays live after creation.
func (s Service) Lifetime() time.Duration {
	return s.lifetime
}

// ExpiresAt returns the instant the event stops accepting and serving forms.
func (s Service) ExpiresAt(event domain.Event) time.Time {
	return event.ExpiresAt(s.lifetime)
}

// Create validates and registers a new event for the host.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Event, error) {
	hostID := strings.TrimSpace(input.HostID)
	title := strings.TrimSpace(input.Title)
	if hostID == "" || title == "" {
		return nil, fmt.Errorf("%w: host_id and title are required", domain.ErrInvalidInput)
	}

	now := s.now().UTC()
	existing, err := s.repo.GetEvent(ctx, hostID, title)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, s.storeFailure("get event", err)
	case !existing.Expired(now, s.lifetime):
		return nil, ErrDuplicateTitle
	}

	fields, err := s.validator.ValidateSchema(input.Fields)
	if err != nil {
		return nil, err
	}

	event := &domain.Event{
		HostID:    hostID,
		Title:     title,
		HostName:  strings.TrimSpace(input.HostName),
		Schema:    fields,
		CreatedAt: now,
	}
	if err := s.repo.CreateEvent(ctx, event, domain.ExpiryCutoff(now, s.lifetime)); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrDuplicateTitle
		case errors.Is(err, repository.ErrInvalidArgument):
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		default:
			return nil, s.storeFailure("create event", err)
		}
	}
	s.logger.Info("event created", "host_id", hostID, "title", title, "fields", len(fields))
	return event, nil
}

// List returns the host's live events in creation order.
func (s Service) List(ctx context.Context, hostID string) ([]domain.Event, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return []domain.Event{}, nil
	}
	events, err := s.repo.ListEventsByHost(ctx, hostID)
	if err != nil {
		return nil, s.storeFailure("list events", err)
	}
	now := s.now()
	live := make([]domain.Event, 0, len(events))
	for _, event := range events {
		if !event.Expired(now, s.lifetime) {
			live = append(live, event)
		}
	}
	return live, nil
}

// Get returns a live event. Expired events are reported as not found.
func (s Service) Get(ctx context.Context, hostID, title string) (*domain.Event, error) {
	event, err := s.repo.GetEvent(ctx, hostID, title)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storeFailure("get event", err)
	}
	if event.Expired(s.now(), s.lifetime) {
		return nil, ErrNotFound
	}
	return event, nil
}

// Delete removes an event, live or expired, together with every form submitted against it.
func (s Service) Delete(ctx context.Context, hostID, title string) error {
	hostID = strings.TrimSpace(hostID)
	title = strings.TrimSpace(title)
	if hostID == "" || title == "" {
		return fmt.Errorf("%w: host_id and event_title are required", domain.ErrInvalidInput)
	}
	if _, err := s.repo.GetEvent(ctx, hostID, title); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeFailure("get event", err)
	}
	deleted, err := s.repo.DeleteEvent(ctx, hostID, title)
	if err != nil {
		s.logger.Error("event delete failed", "host_id", hostID, "title", title, "error", err)
		return fmt.Errorf("%w: %v", ErrPartialDelete, err)
	}
	if deleted {
		s.logger.Info("event deleted", "host_id", hostID, "title", title)
	}
	return nil
}

func (s Service) storeFailure(op string, err error) error {
	s.logger.Error("event store failure", "op", op, "error", err)
	return domain.Unavailable(op, err)
}
