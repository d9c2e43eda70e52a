package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/form"
	"github.com/adenalhardan/punchcard-backend/internal/ws"
	"github.com/adenalhardan/punchcard-backend/pkg/idgen"
)

// Sweeper runs an on-demand expiry pass.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Options carries router settings that are not services.
type Options struct {
	AdminToken      string
	StreamHeartbeat time.Duration
	DBHealth        func(context.Context) error
	Limits          RouteLimits
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For header is honoured.
	TrustedProxies  []string
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	events     event.Service
	forms      form.Service
	sweeper    Sweeper
	hub        *ws.Hub
	names      idgen.Generator
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	limits     rateLimits
	proxies    []netip.Prefix
	adminToken string
	heartbeat  time.Duration
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	formsRejected      *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 15 * time.Second
	pongGrace          = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, eventSvc event.Service, formSvc form.Service, sweeper Sweeper, hub *ws.Hub, names idgen.Generator, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		events:  eventSvc,
		forms:   formSvc,
		sweeper: sweeper,
		hub:     hub,
		names:   names,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		limits:     newRateLimits(opts.Limits),
		adminToken: strings.TrimSpace(opts.AdminToken),
		heartbeat:  opts.StreamHeartbeat,
		dbHealth:   opts.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultHeartbeat
	}
	for _, entry := range opts.TrustedProxies {
		prefix, err := parseProxy(entry)
		if err != nil {
			logger.Warn("ignoring trusted proxy entry", "entry", entry, "error", err)
			continue
		}
		r.proxies = append(r.proxies, prefix)
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("/", r.handleRoot)
	r.handle("/healthz", r.handleHealthz)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.handle("/get-name", r.withRateLimit("/get-name", r.limits.read, r.handleGetName))
	r.handle("/events", r.handleEvents)
	r.handle("/forms", r.handleForms)
	r.handle("/forms/count", r.withRateLimit("/forms/count", r.limits.read, r.handleFormCount))
	r.handle("/ws/forms", r.withRateLimit("/ws/forms", r.limits.stream, r.handleFormsWS))
	r.handle("/sse/forms", r.withRateLimit("/sse/forms", r.limits.stream, r.handleFormsSSE))
	if r.adminToken != "" && r.sweeper != nil {
		r.handle("/admin/sweep", r.withRateLimit("/admin/sweep", r.limits.admin, r.handleAdminSweep))
	}
}

func (r *Router) handle(route string, next http.HandlerFunc) {
	r.mux.HandleFunc(route, r.audit(route, next))
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "its all good"})
}

func (r *Router) handleGetName(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	name, err := r.names.Name()
	if err != nil {
		r.logger.Error("name generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not generate name", codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (r *Router) handleAdminSweep(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyAdminToken(w, req) {
		return
	}
	purged, err := r.sweeper.Sweep(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["stream"] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if hostID := req.URL.Query().Get("host_id"); hostID != "" {
			fields = append(fields, "host_id", hostID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP returns the socket peer, or the nearest untrusted X-Forwarded-For hop when the peer is
// a trusted proxy.
func (r *Router) clientIP(req *http.Request) string {
	remote := remoteHost(req)
	if !r.trustedProxy(remote) {
		return remote
	}
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !r.trustedProxy(hop) {
			return hop
		}
	}
	return remote
}

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) trustedProxy(ip string) bool {
	if len(r.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseProxy accepts a single address or a CIDR range.
func parseProxy(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyAdminToken ensures maintenance calls include the configured secret.
func (r *Router) verifyAdminToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.adminToken
	token := strings.TrimSpace(req.Header.Get("X-Admin-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("admin token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid admin token", codeUnauthorized)
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", codeMethodNotAllowed)
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found", codeNotFound)
}
