// Package proxy implements the authenticated chat endpoint: it verifies the caller's
// Firebase identity token, validates and bounds the payload, and relays one upstream call.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bionicotaku/tastesig-proxy"
	"github.com/bionicotaku/tastesig-proxy/upstream"
)

// TokenVerifier verifies bearer identity tokens. *jwtx.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtx.Claims, error)
}

// Completer performs the upstream call. *upstream.Client satisfies it.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Handler serves the chat proxy endpoint. It holds no per-request state and is safe
// for concurrent use.
type Handler struct {
	cfg      Config
	origins  map[string]struct{}
	verifier TokenVerifier
	upstream Completer
	limiter  *subjectLimiter
	logger   *zap.Logger
	metrics  *Metrics
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// New builds a Handler from cfg.
func New(cfg Config, verifier TokenVerifier, completer Completer, opts ...Option) (*Handler, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if verifier == nil && cfg.DevBypass == nil {
		return nil, errors.New("token verifier is required")
	}
	if completer == nil {
		return nil, errors.New("upstream completer is required")
	}

	h := &Handler{
		cfg:      cfg,
		origins:  make(map[string]struct{}, len(cfg.AllowedOrigins)),
		verifier: verifier,
		upstream: completer,
		limiter:  newSubjectLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger:   zap.NewNop(),
	}
	for _, origin := range cfg.AllowedOrigins {
		h.origins[origin] = struct{}{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP runs the gate sequence and writes exactly one response.
func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w := &trackingWriter{ResponseWriter: rw}
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)
	log := h.logger.With(zap.String("request_id", requestID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while handling chat request",
				zap.Any("panic", rec), zap.Bool("response_started", w.started), zap.Stack("stack"))
			if w.started {
				h.metrics.observeRequest(string(TypeServer))
				return
			}
			h.reject(w, http.StatusInternalServerError, TypeServer, msgInternal)
		}
	}()

	h.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		h.reject(w, http.StatusMethodNotAllowed, TypeInvalidRequest, msgMethodNotAllowed)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	caller, ok := h.authenticate(w, r, log)
	if !ok {
		return
	}
	ctx := jwtx.BindPrincipal(r.Context(), caller)
	log = log.With(zap.String("uid", caller.Principal.Subject))

	if allowed, wait := h.limiter.allow(caller.Principal.Subject); !allowed {
		log.Warn("rate limit exceeded", zap.Duration("retry_after", wait))
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		h.reject(w, http.StatusTooManyRequests, TypeRateLimit, msgRateLimited)
		return
	}

	if !h.upstream.Configured() {
		log.Error("upstream api key is not configured")
		h.reject(w, http.StatusServiceUnavailable, TypeConfiguration, msgNotConfigured)
		return
	}

	chat, err := decodeChatRequest(body)
	if err == nil {
		var req upstream.Request
		req, err = chat.toUpstream(h.cfg)
		if err == nil {
			h.forward(ctx, w, req, log)
			return
		}
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		h.reject(w, http.StatusBadRequest, TypeInvalidRequest, reqErr.message)
		return
	}
	log.Error("unexpected request validation failure", zap.Error(err))
	h.reject(w, http.StatusInternalServerError, TypeServer, msgInternal)
}

// readBody enforces the body-size ceiling before any authentication or parsing.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	tooLarge := func() ([]byte, bool) {
		h.reject(w, http.StatusBadRequest, TypeInvalidRequest,
			"Request body exceeds maximum size of "+strconv.Itoa(h.cfg.MaxBodyBytes)+" bytes")
		return nil, false
	}
	if r.ContentLength > int64(h.cfg.MaxBodyBytes) {
		return tooLarge()
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.cfg.MaxBodyBytes)+1))
	if err != nil {
		h.reject(w, http.StatusBadRequest, TypeInvalidRequest, "Unable to read request body")
		return nil, false
	}
	if len(body) > h.cfg.MaxBodyBytes {
		return tooLarge()
	}
	return body, true
}

// authenticate separates a missing bearer credential from one that fails verification.
// Which check failed is logged but never returned to the caller.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, log *zap.Logger) (jwtx.CallerPrincipal, bool) {
	if h.cfg.DevBypass != nil {
		log.Debug("authentication bypassed for development")
		return h.cfg.DevBypass.ToCallerPrincipal(), true
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		h.reject(w, http.StatusUnauthorized, TypeAuthentication, msgAuthRequired)
		return jwtx.CallerPrincipal{}, false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	claims, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		code := jwtx.CodeOf(err)
		log.Warn("token verification failed", zap.String("code", string(code)), zap.Error(err))
		h.metrics.observeVerificationFailure(string(code))
		h.reject(w, http.StatusUnauthorized, TypeAuthentication, msgAuthInvalid)
		return jwtx.CallerPrincipal{}, false
	}

	principal := claims.Principal()
	log.Info("authenticated request", zap.String("uid", principal.Subject))
	return jwtx.CallerPrincipal{Principal: principal}, true
}

func (h *Handler) forward(ctx context.Context, w http.ResponseWriter, req upstream.Request, log *zap.Logger) {
	start := time.Now()
	resp, err := h.upstream.Complete(ctx, req)
	elapsed := time.Since(start)

	switch {
	case upstream.IsTimeout(err):
		h.metrics.observeUpstream(string(TypeTimeout), elapsed)
		log.Warn("upstream call timed out", zap.Duration("elapsed", elapsed))
		h.reject(w, http.StatusRequestTimeout, TypeTimeout, msgTimeout)
		return
	case err != nil:
		h.metrics.observeUpstream(string(TypeServer), elapsed)
		log.Error("upstream call failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		h.reject(w, http.StatusInternalServerError, TypeServer, msgInternal)
		return
	}
	h.metrics.observeUpstream(outcomeOK, elapsed)

	if !json.Valid(resp.Body) {
		log.Error("upstream returned a non-JSON body", zap.Int("status", resp.Status), zap.Int("bytes", len(resp.Body)))
		h.reject(w, http.StatusInternalServerError, TypeServer, msgInternal)
		return
	}

	log.Info("upstream call completed",
		zap.Int("status", resp.Status),
		zap.String("model", req.Model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Duration("elapsed", elapsed),
	)
	h.metrics.observeRequest(outcomeOK)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) reject(w http.ResponseWriter, status int, typ ErrorType, message string) {
	h.metrics.observeRequest(string(typ))
	writeError(w, status, typ, message)
}

// trackingWriter records whether any part of the response has been sent.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.started = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
