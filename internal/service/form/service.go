package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrDuplicateSubmission = errors.New("form already submitted")
)

// EventLookup resolves live events.
type EventLookup interface {
	Get(ctx context.Context, hostID, title string) (*domain.Event, error)
}

// Publisher fans accepted forms out to live watchers.
type Publisher interface {
	Broadcast(key string, payload []byte)
}

// SubmitInput carries one respondent's raw submission.
type SubmitInput struct {
	ID         string
	HostID     string
	EventTitle string
	Values     []schema.RawValue
}

// Service validates and stores form submissions.
type Service struct {
	events    EventLookup
	repo      repository.FormRepository
	validator schema.Validator
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Service. publisher may be nil.
func New(events EventLookup, repo repository.FormRepository, validator schema.Validator, publisher Publisher, logger *slog.Logger) Service {
	return Service{
		events:    events,
		repo:      repo,
		validator: validator,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// StreamKey identifies the live stream of one event.
func StreamKey(hostID, eventTitle string) string {
	return hostID + "\x00" + eventTitle
}

// Submit validates a submission against its event's schema and stores it once per submitter id.
func (s Service) Submit(ctx context.Context, input SubmitInput) (*domain.Form, error) {
	id := strings.TrimSpace(input.ID)
	hostID := strings.TrimSpace(input.HostID)
	title := strings.TrimSpace(input.EventTitle)
	if id == "" || hostID == "" || title == "" {
		return nil, fmt.Errorf("%w: id, host_id and event_title are required", domain.ErrInvalidInput)
	}

	ev, err := s.events.Get(ctx, hostID, title)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	if _, err := s.repo.GetForm(ctx, hostID, title, id); err == nil {
		return nil, ErrDuplicateSubmission
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, s.storeFailure("get form", err)
	}

	values, err := s.validator.ValidateValues(ev.Schema, input.Values)
	if err != nil {
		return nil, err
	}

	form := &domain.Form{
		ID:          id,
		HostID:      hostID,
		EventTitle:  title,
		Values:      values,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.repo.InsertForm(ctx, form); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrDuplicateSubmission
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrEventNotFound
		default:
			return nil, s.storeFailure("insert form", err)
		}
	}
	s.logger.Info("form submitted", "host_id", hostID, "event_title", title, "form_id", id)
	s.broadcast(*form)
	return form, nil
}

// List returns the forms of a live event in submission order; expired or missing events have none.
func (s Service) List(ctx context.Context, hostID, eventTitle string) ([]domain.Form, error) {
	live, err := s.live(ctx, hostID, eventTitle)
	if err != nil || !live {
		return []domain.Form{}, err
	}
	forms, err := s.repo.ListForms(ctx, hostID, eventTitle)
	if err != nil {
		return nil, s.storeFailure("list forms", err)
	}
	return forms, nil
}

// Count returns how many forms a live event has received.
func (s Service) Count(ctx context.Context, hostID, eventTitle string) (int, error) {
	live, err := s.live(ctx, hostID, eventTitle)
	if err != nil || !live {
		return 0, err
	}
	count, err := s.repo.CountForms(ctx, hostID, eventTitle)
	if err != nil {
		return 0, s.storeFailure("count forms", err)
	}
	return count, nil
}

func (s Service) live(ctx context.Context, hostID, eventTitle string) (bool, error) {
	if _, err := s.events.Get(ctx, hostID, eventTitle); err != nil {
		if errors.Is(err, event.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s Service) broadcast(form domain.Form) {
	if s.publisher == nil {
		return
	}
	data, err := MarshalForm(form)
	if err != nil {
		s.logger.Warn("failed to marshal form payload", "error", err)
		return
	}
	s.publisher.Broadcast(StreamKey(form.HostID, form.EventTitle), data)
}

func (s Service) storeFailure(op string, err error) error {
	s.logger.Error("form store failure", "op", op, "error", err)
	return domain.Unavailable(op, err)
}

// View is the wire representation of a form.
type View struct {
	ID          string              `json:"id"`
	HostID      string              `json:"host_id"`
	EventTitle  string              `json:"event_title"`
	Values      []domain.FieldValue `json:"values"`
	SubmittedAt string              `json:"submitted_at"`
}

// NewView formats a form for responses and streams.
func NewView(form domain.Form) View {
	values := form.Values
	if values == nil {
		values = []domain.FieldValue{}
	}
	return View{
		ID:          form.ID,
		HostID:      form.HostID,
		EventTitle:  form.EventTitle,
		Values:      values,
		SubmittedAt: form.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

// MarshalForm encodes a form for streaming payloads.
func MarshalForm(form domain.Form) ([]byte, error) {
	return json.Marshal(NewView(form))
}
