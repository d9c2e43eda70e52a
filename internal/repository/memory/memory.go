package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
)

type eventKey struct {
	hostID string
	title  string
}

type formKey struct {
	event eventKey
	id    string
}

// Repository keeps events and forms in process memory. It enforces the same identity keys and
// cascade rules as the PostgreSQL repository and is used for local runs and tests.
type Repository struct {
	mu     sync.RWMutex
	events map[eventKey]domain.Event
	forms  map[formKey]domain.Form
	seq    map[formKey]int64
	next   int64
}

var (
	_ repository.EventRepository = (*Repository)(nil)
	_ repository.FormRepository  = (*Repository)(nil)
)

// New returns an empty Repository.
func New() *Repository {
	return &Repository{
		events: make(map[eventKey]domain.Event),
		forms:  make(map[formKey]domain.Form),
		seq:    make(map[formKey]int64),
	}
}

func (r *Repository) CreateEvent(ctx context.Context, event *domain.Event, expiredCutoff time.Time) error {
	if event == nil {
		return repository.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey{hostID: event.HostID, title: event.Title}
	if existing, ok := r.events[key]; ok {
		if existing.CreatedAt.After(expiredCutoff) {
			return repository.ErrConflict
		}
		r.deleteCascadeLocked(key)
	}
	r.events[key] = cloneEvent(*event)
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, hostID, title string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventKey{hostID: hostID, title: title}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneEvent(event)
	return &out, nil
}

func (r *Repository) ListEventsByHost(ctx context.Context, hostID string) ([]domain.Event, error) {
	return r.listEvents(ctx, func(e domain.Event) bool { return e.HostID == hostID })
}

func (r *Repository) ListEventsCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Event, error) {
	return r.listEvents(ctx, func(e domain.Event) bool { return !e.CreatedAt.After(cutoff) })
}

func (r *Repository) listEvents(ctx context.Context, match func(domain.Event) bool) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]domain.Event, 0)
	for _, event := range r.events {
		if match(event) {
			events = append(events, cloneEvent(event))
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].Title < events[j].Title
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (r *Repository) DeleteEvent(ctx context.Context, hostID, title string) (bool, error) {
	return r.deleteIf(ctx, hostID, title, func(domain.Event) bool { return true })
}

func (r *Repository) DeleteEventCreatedBefore(ctx context.Context, hostID, title string, cutoff time.Time) (bool, error) {
	return r.deleteIf(ctx, hostID, title, func(e domain.Event) bool { return !e.CreatedAt.After(cutoff) })
}

func (r *Repository) deleteIf(ctx context.Context, hostID, title string, match func(domain.Event) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := eventKey{hostID: hostID, title: title}
	event, ok := r.events[key]
	if !ok || !match(event) {
		return false, nil
	}
	r.deleteCascadeLocked(key)
	return true, nil
}

func (r *Repository) deleteCascadeLocked(key eventKey) {
	for fk := range r.forms {
		if fk.event == key {
			delete(r.forms, fk)
			delete(r.seq, fk)
		}
	}
	delete(r.events, key)
}

func (r *Repository) InsertForm(ctx context.Context, form *domain.Form) error {
	if form == nil {
		return repository.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ek := eventKey{hostID: form.HostID, title: form.EventTitle}
	if _, ok := r.events[ek]; !ok {
		return repository.ErrNotFound
	}
	key := formKey{event: ek, id: form.ID}
	if _, dup := r.forms[key]; dup {
		return repository.ErrConflict
	}
	r.forms[key] = cloneForm(*form)
	r.next++
	r.seq[key] = r.next
	return nil
}

func (r *Repository) GetForm(ctx context.Context, hostID, eventTitle, id string) (*domain.Form, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	form, ok := r.forms[formKey{event: eventKey{hostID: hostID, title: eventTitle}, id: id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneForm(form)
	return &out, nil
}

func (r *Repository) ListForms(ctx context.Context, hostID, eventTitle string) ([]domain.Form, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ek := eventKey{hostID: hostID, title: eventTitle}
	keys := make([]formKey, 0)
	for key := range r.forms {
		if key.event == ek {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return r.seq[keys[i]] < r.seq[keys[j]] })
	forms := make([]domain.Form, 0, len(keys))
	for _, key := range keys {
		forms = append(forms, cloneForm(r.forms[key]))
	}
	return forms, nil
}

func (r *Repository) CountForms(ctx context.Context, hostID, eventTitle string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ek := eventKey{hostID: hostID, title: eventTitle}
	count := 0
	for key := range r.forms {
		if key.event == ek {
			count++
		}
	}
	return count, nil
}

func cloneEvent(e domain.Event) domain.Event {
	e.Schema = append([]domain.FieldSchema(nil), e.Schema...)
	return e
}

func cloneForm(f domain.Form) domain.Form {
	f.Values = append([]domain.FieldValue(nil), f.Values...)
	return f
}
