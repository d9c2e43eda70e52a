package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/adenalhardan/punchcard-backend/internal/service/form"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
	"github.com/adenalhardan/punchcard-backend/internal/ws"
)

func (r *Router) handleForms(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/forms:write", r.limits.formWrite, r.submitForm)(w, req)
	case http.MethodGet:
		r.withRateLimit("/forms:read", r.limits.read, r.listForms)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) submitForm(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		ID         string          `json:"id"`
		HostID     string          `json:"host_id"`
		EventTitle string          `json:"event_title"`
		Values     json.RawMessage `json:"values"`
	}
	if err := decodeBody(w, req, &payload); err != nil {
		r.rejectForm(w, req, err)
		return
	}
	var values []schema.RawValue
	if err := decodeEmbedded(payload.Values, "values", &values); err != nil {
		r.rejectForm(w, req, err)
		return
	}
	_, err := r.forms.Submit(req.Context(), form.SubmitInput{
		ID:         payload.ID,
		HostID:     payload.HostID,
		EventTitle: payload.EventTitle,
		Values:     values,
	})
	if err != nil {
		r.rejectForm(w, req, err)
		return
	}
	writeSuccess(w, http.StatusCreated)
}

func (r *Router) rejectForm(w http.ResponseWriter, req *http.Request, err error) {
	_, code := classify(err)
	r.recordFormRejected(code)
	r.writeServiceError(w, req, err)
}

func (r *Router) listForms(w http.ResponseWriter, req *http.Request) {
	hostID, title := eventQuery(req)
	forms, err := r.forms.List(req.Context(), hostID, title)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]form.View, 0, len(forms))
	for _, f := range forms {
		views = append(views, form.NewView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleFormCount(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	hostID, title := eventQuery(req)
	count, err := r.forms.Count(req.Context(), hostID, title)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (r *Router) handleFormsWS(w http.ResponseWriter, req *http.Request) {
	hostID, title, ok := r.eventParams(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	key := form.StreamKey(hostID, title)
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(key, client)
	go r.keepAlive(key, client)
}

// keepAlive pings a websocket watcher every heartbeat and unregisters it once it stops answering.
func (r *Router) keepAlive(key string, client *ws.Client) {
	defer func() {
		r.hub.Unregister(key, client)
		client.Close()
	}()
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = client.Listen(r.heartbeat + pongGrace)
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleFormsSSE(w http.ResponseWriter, req *http.Request) {
	hostID, title, ok := r.eventParams(w, req)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", codeInternal)
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	key := form.StreamKey(hostID, title)
	client := ws.NewSSEClient(w, r.logger)
	if err := client.Heartbeat(); err != nil {
		return
	}
	r.hub.Register(key, client)
	// the hub delivers from its own goroutine; no write may reach w after this handler returns
	defer func() {
		r.hub.Unregister(key, client)
		client.Close()
		client.Wait()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func eventQuery(req *http.Request) (string, string) {
	query := req.URL.Query()
	return strings.TrimSpace(query.Get("host_id")), strings.TrimSpace(query.Get("event_title"))
}

// eventParams requires both identifiers; streams cannot attach to an unnamed event.
func (r *Router) eventParams(w http.ResponseWriter, req *http.Request) (string, string, bool) {
	hostID, title := eventQuery(req)
	if hostID == "" || title == "" {
		writeError(w, http.StatusBadRequest, "host_id and event_title query parameters required", codeInvalidInput)
		return "", "", false
	}
	return hostID, title, true
}
