package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the punchcard API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	adminToken string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAdminToken sets the secret sent to maintenance endpoints.
func WithAdminToken(token string) Option {
	return func(c *Client) {
		c.adminToken = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given reason code.
func IsCode(err error, code string) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Field declares one field of an event schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Presence string `json:"presence"`
}

// Value is one submitted field value. Value holds a string or a number.
type Value struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// CreateEventRequest is the body of POST /events.
type CreateEventRequest struct {
	HostID   string  `json:"host_id"`
	Title    string  `json:"title"`
	HostName string  `json:"host_name"`
	Fields   []Field `json:"fields"`
}

// SubmitFormRequest is the body of POST /forms.
type SubmitFormRequest struct {
	ID         string  `json:"id"`
	HostID     string  `json:"host_id"`
	EventTitle string  `json:"event_title"`
	Values     []Value `json:"values"`
}

// Event reflects API event payloads.
type Event struct {
	HostID    string  `json:"host_id"`
	Title     string  `json:"title"`
	HostName  string  `json:"host_name"`
	Fields    []Field `json:"fields"`
	CreatedAt string  `json:"created_at"`
	ExpiresAt string  `json:"expires_at"`
}

// Form reflects API form payloads.
type Form struct {
	ID          string  `json:"id"`
	HostID      string  `json:"host_id"`
	EventTitle  string  `json:"event_title"`
	Values      []Value `json:"values"`
	SubmittedAt string  `json:"submitted_at"`
}

// Health reflects the /healthz payload.
type Health struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
	Timestamp  string         `json:"timestamp"`
}

// Name generates a display name.
func (c *Client) Name(ctx context.Context) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-name", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// CreateEvent publishes a new event.
func (c *Client) CreateEvent(ctx context.Context, req CreateEventRequest) error {
	return c.do(ctx, http.MethodPost, "/events", req, nil, nil)
}

// ListEvents returns the host's live events.
func (c *Client) ListEvents(ctx context.Context, hostID string) ([]Event, error) {
	var events []Event
	if err := c.do(ctx, http.MethodGet, "/events?"+url.Values{"host_id": {hostID}}.Encode(), nil, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent returns a single live event.
func (c *Client) GetEvent(ctx context.Context, hostID, title string) (Event, error) {
	var ev Event
	err := c.do(ctx, http.MethodGet, "/events?"+eventQuery(hostID, title), nil, nil, &ev)
	return ev, err
}

// DeleteEvent removes an event and its forms.
func (c *Client) DeleteEvent(ctx context.Context, hostID, title string) error {
	return c.do(ctx, http.MethodDelete, "/events?"+eventQuery(hostID, title), nil, nil, nil)
}

// SubmitForm sends one respondent's values.
func (c *Client) SubmitForm(ctx context.Context, req SubmitFormRequest) error {
	return c.do(ctx, http.MethodPost, "/forms", req, nil, nil)
}

// ListForms returns the forms submitted to an event.
func (c *Client) ListForms(ctx context.Context, hostID, title string) ([]Form, error) {
	var forms []Form
	if err := c.do(ctx, http.MethodGet, "/forms?"+eventQuery(hostID, title), nil, nil, &forms); err != nil {
		return nil, err
	}
	return forms, nil
}

// CountForms returns how many forms an event has received.
func (c *Client) CountForms(ctx context.Context, hostID, title string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/forms/count?"+eventQuery(hostID, title), nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Sweep triggers an expiry pass and returns the number of purged events.
func (c *Client) Sweep(ctx context.Context) (int, error) {
	if c.adminToken == "" {
		return 0, errors.New("admin token required")
	}
	var resp struct {
		Purged int `json:"purged"`
	}
	headers := map[string]string{"X-Admin-Token": c.adminToken}
	if err := c.do(ctx, http.MethodPost, "/admin/sweep", nil, headers, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// Health fetches the service health report. A degraded service returns its report with an APIError.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &health)
	return health, err
}

func eventQuery(hostID, title string) string {
	return url.Values{"host_id": {hostID}, "event_title": {title}}.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := extractError(resp.StatusCode, data)
		if v != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, v)
		}
		return apiErr
	}
	if v == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, data []byte) APIError {
	apiErr := APIError{Status: status}
	if len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Code = payload.Code
	return apiErr
}
