package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/attendsync/internal/attendance"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	sourceHeader  = "X-Attendsync-Source"
	outcomeHeader = "X-Attendsync-Outcome"
)

type ServerConfig struct {
	AdminSecret     string
	EnforceAdmin    bool
	AdminTokenTTL   time.Duration
	PublicURL       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// ExportLocation is the zone used for the Week and Time columns of the CSV export.
	ExportLocation *time.Location
	// MetricsGatherer enables GET /metrics when set.
	MetricsGatherer prometheus.Gatherer
	Logger          attendance.Logger
}

type Server struct {
	service     *attendance.Service
	cfg         ServerConfig
	rateLimiter *rateLimiter
	writeSchema *jsonschema.Schema
	adminHash   []byte
	metrics     http.Handler
	now         func() time.Time
}

type rateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	entries   map[string]rateEntry
	nextSweep time.Time
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type writeEnvelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type loginRequest struct {
	Password string `json:"password"`
}

func NewServer(service *attendance.Service) *Server {
	return NewServerWithConfig(service, ServerConfig{})
}

func NewServerWithConfig(service *attendance.Service, cfg ServerConfig) *Server {
	if cfg.AdminSecret == "" {
		cfg.AdminSecret = "admin123"
	}
	if cfg.AdminTokenTTL <= 0 {
		cfg.AdminTokenTTL = defaultAdminTTL
	}
	if strings.TrimSpace(cfg.PublicURL) == "" {
		cfg.PublicURL = "http://localhost:3000"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ExportLocation == nil {
		cfg.ExportLocation = time.Local
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	var metrics http.Handler
	if cfg.MetricsGatherer != nil {
		metrics = promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{})
	}
	return &Server{
		service:     service,
		cfg:         cfg,
		rateLimiter: limiter,
		writeSchema: mustWriteEnvelopeSchema(),
		adminHash:   hashAdminSecret(cfg.AdminSecret),
		metrics:     metrics,
		now:         time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	switch r.URL.Path {
	case "/", "/dashboard":
		s.handleDashboard(w, r, correlationID)
	case "/health":
		if !allowMethods(w, r, correlationID, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "/api/sync":
		if !allowMethods(w, r, correlationID, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodGet {
			s.handleRead(w, r, correlationID)
			return
		}
		if !s.allowRate(w, r, correlationID) {
			return
		}
		s.handleWrite(w, r, correlationID)
	case "/api/store-check", "/api/redis-test":
		if !allowMethods(w, r, correlationID, http.MethodGet, http.MethodPost) {
			return
		}
		s.handleStoreCheck(w, r)
	case "/api/admin/login":
		if !allowMethods(w, r, correlationID, http.MethodPost) {
			return
		}
		if !s.allowRate(w, r, correlationID) {
			return
		}
		s.handleAdminLogin(w, r, correlationID)
	case "/api/admin/backends":
		if !allowMethods(w, r, correlationID, http.MethodGet) || !s.requireAdmin(w, r, correlationID) {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Coordinator().Status())
	case "/api/session/link":
		if !allowMethods(w, r, correlationID, http.MethodGet) {
			return
		}
		s.handleSessionLink(w, r, correlationID)
	case "/api/session/qr.png":
		if !allowMethods(w, r, correlationID, http.MethodGet) {
			return
		}
		s.handleSessionQR(w, r, correlationID)
	case "/api/records/export.csv":
		if !allowMethods(w, r, correlationID, http.MethodGet) || !s.requireAdmin(w, r, correlationID) {
			return
		}
		s.handleExport(w, r, correlationID)
	case "/metrics":
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
			return
		}
		s.metrics.ServeHTTP(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, correlationID string) {
	loaded, err := s.service.State(r.Context())
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set(sourceHeader, string(loaded.Source))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, loaded.Database)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if err := s.writeSchema.Validate(instance); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", schemaErrorMessage(err), correlationID)
		return
	}
	var envelope writeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	mutation, err := attendance.ParseMutation(envelope.Action, envelope.Payload)
	if err != nil {
		code := "invalid_payload"
		if errors.Is(err, attendance.ErrUnknownAction) {
			code = "unknown_action"
		}
		writeError(w, http.StatusBadRequest, code, err.Error(), correlationID)
		return
	}
	if s.cfg.EnforceAdmin && mutation.Kind().AdminOnly() && !s.requireAdmin(w, r, correlationID) {
		return
	}

	result, err := s.service.Apply(r.Context(), mutation)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set(outcomeHeader, string(result.Outcome))
	w.Header().Set(sourceHeader, string(result.Source))
	writeJSON(w, http.StatusOK, result.Database)
}

func (s *Server) handleStoreCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Coordinator().CheckDurable(r.Context())
	if errors.Is(err, attendance.ErrDurableNotConfigured) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": result})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req loginRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if authErr := checkAdminPassword(s.adminHash, req.Password); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	token, expiresAt, err := issueAdminToken(s.cfg.AdminSecret, s.now().UTC(), s.cfg.AdminTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue admin token", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSessionLink(w http.ResponseWriter, r *http.Request, correlationID string) {
	session, ok := s.activeSession(w, r, correlationID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     attendance.StudentLink(s.cfg.PublicURL, session),
		"session": session,
	})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request, correlationID string) {
	size := parseBoundedInt(r.URL.Query().Get("size"), attendance.DefaultQRSize, attendance.MinQRSize, attendance.MaxQRSize)
	session, ok := s.activeSession(w, r, correlationID)
	if !ok {
		return
	}
	png, err := attendance.QRCodePNG(attendance.StudentLink(s.cfg.PublicURL, session), size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to render qr code", correlationID)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, correlationID string) {
	loaded, err := s.service.State(r.Context())
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	var buf bytes.Buffer
	if err := attendance.WriteCSV(&buf, loaded.Database.Records, s.cfg.ExportLocation); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to render export", correlationID)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attendance.ExportFileName))
	w.Header().Set(sourceHeader, string(loaded.Source))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request, correlationID string) (attendance.SessionInfo, bool) {
	loaded, err := s.service.State(r.Context())
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return attendance.SessionInfo{}, false
	}
	if loaded.Database.ActiveSession == nil {
		writeError(w, http.StatusNotFound, "no_active_session", "no session is active", correlationID)
		return attendance.SessionInfo{}, false
	}
	return *loaded.Database.ActiveSession, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, correlationID string) bool {
	if !s.cfg.EnforceAdmin {
		return true
	}
	if authErr := authorizeAdmin(r.Header.Get("Authorization"), s.cfg.AdminSecret, s.now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return false
	}
	return true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, correlationID string) bool {
	if s.rateLimiter == nil {
		return true
	}
	if s.rateLimiter.allow(clientKey(r), s.now().UTC()) {
		return true
	}
	retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
	return false
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	s.logf("[attendsync] request %s failed: %v", correlationID, err)
	switch {
	case errors.Is(err, attendance.ErrReliabilityFailure), errors.Is(err, attendance.ErrFallbackUnreadable):
		writeError(w, http.StatusInternalServerError, "reliability_failure", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func allowMethods(w http.ResponseWriter, r *http.Request, correlationID string, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
	return false
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func schemaErrorMessage(err error) string {
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		return strings.Join(strings.Fields(validationErr.Error()), " ")
	}
	return err.Error()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Expired windows are dropped at most once per window.
	if now.After(r.nextSweep) {
		for k, e := range r.entries {
			if now.After(e.resetAt) {
				delete(r.entries, k)
			}
		}
		r.nextSweep = now.Add(r.window)
	}

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
