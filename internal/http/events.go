package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
)

type eventView struct {
	HostID    string               `json:"host_id"`
	Title     string               `json:"title"`
	HostName  string               `json:"host_name"`
	Fields    []domain.FieldSchema `json:"fields"`
	CreatedAt string               `json:"created_at"`
	ExpiresAt string               `json:"expires_at"`
}

func (r *Router) newEventView(ev domain.Event) eventView {
	fields := ev.Schema
	if fields == nil {
		fields = []domain.FieldSchema{}
	}
	return eventView{
		HostID:    ev.HostID,
		Title:     ev.Title,
		HostName:  ev.HostName,
		Fields:    fields,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt: r.events.ExpiresAt(ev).UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/events:write", r.limits.eventWrite, r.createEvent)(w, req)
	case http.MethodGet:
		r.withRateLimit("/events:read", r.limits.read, r.listEvents)(w, req)
	case http.MethodDelete:
		r.withRateLimit("/events:write", r.limits.eventWrite, r.deleteEvent)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) createEvent(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		HostID   string          `json:"host_id"`
		Title    string          `json:"title"`
		HostName string          `json:"host_name"`
		Fields   json.RawMessage `json:"fields"`
	}
	if err := decodeBody(w, req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var fields []schema.Declaration
	if err := decodeEmbedded(payload.Fields, "fields", &fields); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	_, err := r.events.Create(req.Context(), event.CreateInput{
		HostID:   payload.HostID,
		Title:    payload.Title,
		HostName: payload.HostName,
		Fields:   fields,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusCreated)
}

func (r *Router) listEvents(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	hostID := strings.TrimSpace(query.Get("host_id"))
	if title := strings.TrimSpace(query.Get("event_title")); title != "" {
		ev, err := r.events.Get(req.Context(), hostID, title)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, r.newEventView(*ev))
		return
	}
	events, err := r.events.List(req.Context(), hostID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, r.newEventView(ev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) deleteEvent(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	if err := r.events.Delete(req.Context(), query.Get("host_id"), query.Get("event_title")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK)
}
