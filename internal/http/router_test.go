package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository/memory"
	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/form"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
	"github.com/adenalhardan/punchcard-backend/internal/service/sweeper"
	"github.com/adenalhardan/punchcard-backend/internal/ws"
	"github.com/adenalhardan/punchcard-backend/pkg/config"
	"github.com/adenalhardan/punchcard-backend/pkg/idgen"
)

const testAdminToken = "sweep-secret"

type testEnv struct {
	router *Router
	repo   *memory.Repository
	hub    *ws.Hub
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{EventLifetime: time.Hour, SweepInterval: time.Minute}
	validator, err := schema.New([]string{"integer", "string"}, []string{"required", "optional"})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	names, err := idgen.New("punchcard:", 5)
	if err != nil {
		t.Fatalf("idgen.New: %v", err)
	}
	repo := memory.New()
	hub := ws.NewHub(logger)
	events := event.New(repo, validator, logger, cfg)
	forms := form.New(events, repo, validator, hub, logger)
	router := NewRouter(logger, events, forms, sweeper.New(repo, logger, cfg), hub, names, NewMemoryRateLimiter(), Options{
		AdminToken:      testAdminToken,
		StreamHeartbeat: 50 * time.Millisecond,
	})
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return testEnv{router: router, repo: repo, hub: hub}
}

func (e testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

var ageNoteFields = []map[string]string{
	{"name": "age", "type": "integer", "presence": "required"},
	{"name": "note", "type": "string", "presence": "optional"},
}

func createMeetup(t *testing.T, env testEnv) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/events", map[string]any{
		"host_id":   "h1",
		"title":     "Meetup",
		"host_name": "Ada",
		"fields":    ageNoteFields,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func submitForm(env testEnv, t *testing.T, id string, values any) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, "/forms", map[string]any{
		"id":          id,
		"host_id":     "h1",
		"event_title": "Meetup",
		"values":      values,
	})
}

func TestRootAndGetName(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "its all good") {
		t.Fatalf("unexpected root response: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	if rec := env.do(t, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/get-name", nil)
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(payload.Name, "punchcard:") || len(payload.Name) != len("punchcard:")+5 {
		t.Fatalf("unexpected name %q", payload.Name)
	}
}

func TestCreateEventFlow(t *testing.T) {
	env := newTestEnv(t)
	createMeetup(t, env)

	rec := env.do(t, http.MethodPost, "/events", map[string]any{
		"host_id": "h1", "title": "Meetup", "host_name": "Ada", "fields": ageNoteFields,
	})
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != "DuplicateTitle" {
		t.Fatalf("expected DuplicateTitle 409, got %d %s", rec.Code, rec.Body.String())
	}

	encoded, _ := json.Marshal(ageNoteFields)
	rec = env.do(t, http.MethodPost, "/events", map[string]any{
		"host_id": "h1", "title": "Party", "host_name": "Ada", "fields": string(encoded),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected JSON-encoded fields to be accepted, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/events", map[string]any{
		"host_id": "h1", "title": "Quiet", "fields": []map[string]string{{"name": "note", "type": "string", "presence": "optional"}},
	})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "NoRequiredField" {
		t.Fatalf("expected NoRequiredField 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/events", map[string]any{
		"host_id": "h1", "title": "Typed", "fields": []map[string]string{{"name": "when", "type": "date", "presence": "required"}},
	})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "UnsupportedType" {
		t.Fatalf("expected UnsupportedType 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/events?host_id=h1", nil)
	var events []eventView
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Title != "Meetup" || len(events[0].Fields) != 2 || events[0].ExpiresAt == "" {
		t.Fatalf("unexpected events: %+v", events)
	}

	rec = env.do(t, http.MethodGet, "/events?host_id=nobody", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitFormFlow(t *testing.T) {
	env := newTestEnv(t)
	createMeetup(t, env)

	rec := submitForm(env, t, "u1", []map[string]any{{"name": "age", "value": "5"}, {"name": "note", "value": ""}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	cases := []struct {
		name   string
		id     string
		values any
		status int
		code   string
	}{
		{"duplicate", "u1", []map[string]any{{"name": "age", "value": 7}, {"name": "note", "value": ""}}, http.StatusConflict, "DuplicateSubmission"},
		{"omission", "u2", []map[string]any{{"name": "age", "value": ""}}, http.StatusBadRequest, "FieldSetMismatch"},
		{"required missing", "u3", []map[string]any{{"name": "age", "value": ""}, {"name": "note", "value": "hi"}}, http.StatusBadRequest, "RequiredFieldMissing"},
		{"fraction", "u4", []map[string]any{{"name": "age", "value": 5.5}, {"name": "note", "value": ""}}, http.StatusBadRequest, "TypeMismatch"},
		{"encoded string", "u5", `[{"name":"age","value":"6"},{"name":"note","value":"late"}]`, http.StatusCreated, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := submitForm(env, t, tc.id, tc.values)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.code != "" && decodeError(t, rec).Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, rec.Body.String())
			}
		})
	}

	rec = env.do(t, http.MethodPost, "/forms", map[string]any{
		"id": "u1", "host_id": "h1", "event_title": "Missing", "values": []map[string]any{{"name": "age", "value": "5"}},
	})
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "EventNotFound" {
		t.Fatalf("expected EventNotFound 404, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/forms?host_id=h1&event_title=Meetup", nil)
	var forms []struct {
		ID     string `json:"id"`
		Values []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"values"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &forms); err != nil {
		t.Fatalf("decode forms: %v", err)
	}
	if len(forms) != 2 || forms[0].ID != "u1" || forms[0].Values[0].Value != float64(5) {
		t.Fatalf("unexpected forms: %+v", forms)
	}

	rec = env.do(t, http.MethodGet, "/forms/count?host_id=h1&event_title="+url.QueryEscape("Meetup"), nil)
	if strings.TrimSpace(rec.Body.String()) != `{"count":2}` {
		t.Fatalf("unexpected count body: %s", rec.Body.String())
	}
}

func TestDeleteEventCascades(t *testing.T) {
	env := newTestEnv(t)
	createMeetup(t, env)
	submitForm(env, t, "u1", []map[string]any{{"name": "age", "value": "5"}, {"name": "note", "value": ""}})

	rec := env.do(t, http.MethodDelete, "/events?host_id=h1&event_title=Meetup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if count, _ := env.repo.CountForms(context.Background(), "h1", "Meetup"); count != 0 {
		t.Fatalf("expected forms removed, got %d", count)
	}
	rec = env.do(t, http.MethodDelete, "/events?host_id=h1&event_title=Meetup", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestAdminSweep(t *testing.T) {
	env := newTestEnv(t)
	old := &domain.Event{HostID: "h1", Title: "Old", CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	if err := env.repo.CreateEvent(context.Background(), old, old.CreatedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/admin/sweep", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"purged":1}` {
		t.Fatalf("unexpected sweep response: %d %s", rr.Code, rr.Body.String())
	}
}

func TestEventWritesAreRateLimited(t *testing.T) {
	env := newTestEnv(t)
	var last int
	for i := 0; i <= defaultEventWriteLimit; i++ {
		last = env.do(t, http.MethodPost, "/events", map[string]any{"host_id": "h1"}).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d writes, got %d", defaultEventWriteLimit, last)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t)
	limited := 0
	for i := 0; i < 3*defaultEventWriteLimit; i++ {
		raw, _ := json.Marshal(map[string]any{"host_id": "h1"})
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i%250))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 2*defaultEventWriteLimit {
		t.Fatalf("expected %d limited writes from one socket, got %d", 2*defaultEventWriteLimit, limited)
	}
}

func TestClientIPHonoursTrustedProxiesOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := &Router{logger: logger}
	for _, entry := range []string{"192.0.2.0/24", "10.0.0.7", "not-an-ip"} {
		if prefix, err := parseProxy(entry); err == nil {
			router.proxies = append(router.proxies, prefix)
		}
	}

	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer", "198.51.100.9:5000", "203.0.113.1", "198.51.100.9"},
		{"trusted peer", "192.0.2.1:1234", "203.0.113.1", "203.0.113.1"},
		{"trusted chain", "192.0.2.1:1234", "203.0.113.1, 198.51.100.2, 10.0.0.7", "198.51.100.2"},
		{"trusted without header", "192.0.2.1:1234", "", "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := router.clientIP(req); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRouteLimitsFromOptions(t *testing.T) {
	limits := newRateLimits(RouteLimits{EventWrite: 2, Read: -1})
	if limits.eventWrite.limit != 2 || limits.read.limit != -1 {
		t.Fatalf("configured limits not applied: %+v", limits)
	}
	if limits.formWrite.limit != defaultFormWriteLimit || limits.stream.window != rateWindowRealtime {
		t.Fatalf("defaults not applied: %+v", limits)
	}
}

func waitForSubscribers(t *testing.T, hub *ws.Hub, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(key) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFormStreamOverSSE(t *testing.T) {
	env := newTestEnv(t)
	createMeetup(t, env)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/sse/forms?host_id=h1&event_title=Meetup", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	waitForSubscribers(t, env.hub, form.StreamKey("h1", "Meetup"))
	submitForm(env, t, "u1", []map[string]any{{"name": "age", "value": "5"}, {"name": "note", "value": ""}})

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"id":"u1"`) {
				t.Fatalf("unexpected event payload: %s", line)
			}
			return
		}
	}
}

func TestFormStreamOverWebsocket(t *testing.T) {
	env := newTestEnv(t)
	createMeetup(t, env)
	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/forms?host_id=h1&event_title=Meetup"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, env.hub, form.StreamKey("h1", "Meetup"))
	submitForm(env, t, "u1", []map[string]any{{"name": "age", "value": "5"}, {"name": "note", "value": ""}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var view form.View
	if err := json.Unmarshal(message, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "u1" || view.HostID != "h1" {
		t.Fatalf("unexpected payload: %+v", view)
	}

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, _ = conn.ReadMessage()
	select {
	case <-pinged:
	default:
		t.Fatalf("expected keepalive pings from the server")
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers(form.StreamKey("h1", "Meetup")) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("closed websocket watcher was never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamsRequireEventParams(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/ws/forms?host_id=h1", "/sse/forms?event_title=x"} {
		if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}
