package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.EventRepository = (*Repository)(nil)
	_ repository.FormRepository  = (*Repository)(nil)
)

const (
	eventColumns = `host_id, title, host_name, schema, created_at`
	formColumns  = `host_id, event_title, id, field_values, submitted_at`
)

// CreateEvent inserts an event, first purging an expired predecessor with the same key.
func (r *Repository) CreateEvent(ctx context.Context, event *domain.Event, expiredCutoff time.Time) error {
	if event == nil {
		return repository.ErrInvalidArgument
	}
	schema, err := json.Marshal(event.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var createdAt time.Time
	err = tx.QueryRow(ctx, `SELECT created_at FROM events WHERE host_id = $1 AND title = $2 FOR UPDATE`,
		event.HostID, event.Title).Scan(&createdAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	case createdAt.After(expiredCutoff):
		return repository.ErrConflict
	default:
		if err := deleteCascade(ctx, tx, event.HostID, event.Title); err != nil {
			return err
		}
	}

	const insert = `INSERT INTO events (` + eventColumns + `) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, event.HostID, event.Title, event.HostName, string(schema), event.CreatedAt.UTC()); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit(ctx)
}

// GetEvent fetches an event regardless of expiry.
func (r *Repository) GetEvent(ctx context.Context, hostID, title string) (*domain.Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events WHERE host_id = $1 AND title = $2`
	event, err := scanEvent(r.pool.QueryRow(ctx, query, hostID, title))
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListEventsByHost returns a host's events in creation order.
func (r *Repository) ListEventsByHost(ctx context.Context, hostID string) ([]domain.Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events WHERE host_id = $1 ORDER BY created_at, title`
	return r.queryEvents(ctx, query, hostID)
}

// ListEventsCreatedBefore returns events across all hosts created at or before cutoff.
func (r *Repository) ListEventsCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events WHERE created_at <= $1 ORDER BY created_at`
	return r.queryEvents(ctx, query, cutoff.UTC())
}

// DeleteEvent removes an event and its forms in one transaction.
func (r *Repository) DeleteEvent(ctx context.Context, hostID, title string) (bool, error) {
	const lock = `SELECT 1 FROM events WHERE host_id = $1 AND title = $2 FOR UPDATE`
	return r.deleteLocked(ctx, hostID, title, lock, hostID, title)
}

// DeleteEventCreatedBefore removes an event and its forms only if it was created at or before cutoff.
func (r *Repository) DeleteEventCreatedBefore(ctx context.Context, hostID, title string, cutoff time.Time) (bool, error) {
	const lock = `SELECT 1 FROM events WHERE host_id = $1 AND title = $2 AND created_at <= $3 FOR UPDATE`
	return r.deleteLocked(ctx, hostID, title, lock, hostID, title, cutoff.UTC())
}

func (r *Repository) deleteLocked(ctx context.Context, hostID, title, lock string, args ...any) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var one int
	if err := tx.QueryRow(ctx, lock, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := deleteCascade(ctx, tx, hostID, title); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// deleteCascade removes forms before their event so the foreign key holds at every step.
func deleteCascade(ctx context.Context, tx pgx.Tx, hostID, title string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM forms WHERE host_id = $1 AND event_title = $2`, hostID, title); err != nil {
		return fmt.Errorf("delete forms: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE host_id = $1 AND title = $2`, hostID, title); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// InsertForm stores a submission; the primary key enforces one form per submitter id.
func (r *Repository) InsertForm(ctx context.Context, form *domain.Form) error {
	if form == nil {
		return repository.ErrInvalidArgument
	}
	values, err := json.Marshal(form.Values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	const query = `INSERT INTO forms (` + formColumns + `) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, form.HostID, form.EventTitle, form.ID, string(values), form.SubmittedAt.UTC()); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetForm fetches one submission by its identity key.
func (r *Repository) GetForm(ctx context.Context, hostID, eventTitle, id string) (*domain.Form, error) {
	const query = `SELECT ` + formColumns + ` FROM forms WHERE host_id = $1 AND event_title = $2 AND id = $3`
	return scanForm(r.pool.QueryRow(ctx, query, hostID, eventTitle, id))
}

// ListForms returns the submissions for an event in submission order.
func (r *Repository) ListForms(ctx context.Context, hostID, eventTitle string) ([]domain.Form, error) {
	const query = `SELECT ` + formColumns + ` FROM forms WHERE host_id = $1 AND event_title = $2 ORDER BY submitted_at, id`
	rows, err := r.pool.Query(ctx, query, hostID, eventTitle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forms := make([]domain.Form, 0)
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, *form)
	}
	return forms, rows.Err()
}

// CountForms counts the submissions for an event.
func (r *Repository) CountForms(ctx context.Context, hostID, eventTitle string) (int, error) {
	const query = `SELECT COUNT(1) FROM forms WHERE host_id = $1 AND event_title = $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, hostID, eventTitle).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		event  domain.Event
		schema []byte
	)
	if err := row.Scan(&event.HostID, &event.Title, &event.HostName, &schema, &event.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(schema, &event.Schema); err != nil {
		return nil, fmt.Errorf("decode schema for %s/%s: %w", event.HostID, event.Title, err)
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return &event, nil
}

func scanForm(row pgx.Row) (*domain.Form, error) {
	var (
		form   domain.Form
		values []byte
	)
	if err := row.Scan(&form.HostID, &form.EventTitle, &form.ID, &values, &form.SubmittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(values, &form.Values); err != nil {
		return nil, fmt.Errorf("decode values for form %s: %w", form.ID, err)
	}
	form.SubmittedAt = form.SubmittedAt.UTC()
	return &form, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}
