package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"chongmu/internal/core"
	applog "chongmu/internal/log"
	"chongmu/internal/middleware/auth"
	"chongmu/internal/middleware/ratelimit"
	"chongmu/internal/middleware/security"
	"chongmu/internal/middleware/trace"
	"chongmu/internal/services"
	"chongmu/internal/store"
)

// SessionAPI is the set of session operations the handlers call.
type SessionAPI interface {
	CreateSession(ctx context.Context, title, owner string) (core.Snapshot, error)
	GetSession(ctx context.Context, id string) (core.Snapshot, error)
	ListSessions(ctx context.Context, owner string) ([]store.SessionInfo, error)
	DeleteSession(ctx context.Context, id string) error
	RenameSession(ctx context.Context, id, title string) (core.Snapshot, error)
	AddParticipant(ctx context.Context, sessionID, name string) (core.Snapshot, core.Participant, error)
	RenameParticipant(ctx context.Context, sessionID, participantID, name string) (core.Snapshot, error)
	RemoveParticipant(ctx context.Context, sessionID, participantID string) (core.Snapshot, error)
	AddExpense(ctx context.Context, sessionID string, in services.ExpenseInput) (core.Snapshot, core.Expense, error)
	UpdateExpense(ctx context.Context, sessionID, expenseID string, in services.ExpenseInput) (core.Snapshot, core.Expense, error)
	DeleteExpense(ctx context.Context, sessionID, expenseID string) (core.Snapshot, error)
	Reset(ctx context.Context, sessionID string) (core.Snapshot, error)
	Summary(ctx context.Context, sessionID string) (core.Snapshot, core.Summary, error)
	Import(ctx context.Context, data []byte, owner string) (core.Snapshot, error)
	Export(ctx context.Context, sessionID string) ([]byte, error)
}

var _ SessionAPI = (*services.SessionService)(nil)

// Options configure the middleware stack.
type Options struct {
	Logger             *applog.Logger
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	// JWTSecret enables bearer authentication on /api when set.
	JWTSecret string
	// Ready backs /readyz; nil always reports ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	sessions SessionAPI
	auth     *auth.Authenticator
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	ready    func(ctx context.Context) error
	logger   *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, sessions SessionAPI, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		sessions: sessions,
		auth:     auth.New(opts.JWTSecret),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			Methods:           []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP, logger.Slog()),
		ready:    opts.Ready,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(r, "route not found").Write(w)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError(r).Write(w)
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/statusz", s.handleStatus).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed", applog.FieldError, err)
		UnauthorizedError(r, err.Error()).Write(w)
	}))

	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/import", s.handleImport).Methods(http.MethodPost)

	session := api.PathPrefix("/sessions/{id}").Subrouter()
	session.Use(s.requireSessionAccess)
	session.HandleFunc("", s.handleGetSession).Methods(http.MethodGet)
	session.HandleFunc("", s.handleRenameSession).Methods(http.MethodPatch)
	session.HandleFunc("", s.handleDeleteSession).Methods(http.MethodDelete)
	session.HandleFunc("/participants", s.handleAddParticipant).Methods(http.MethodPost)
	session.HandleFunc("/participants/{pid}", s.handleRenameParticipant).Methods(http.MethodPatch)
	session.HandleFunc("/participants/{pid}", s.handleRemoveParticipant).Methods(http.MethodDelete)
	session.HandleFunc("/expenses", s.handleAddExpense).Methods(http.MethodPost)
	session.HandleFunc("/expenses/{eid}", s.handleUpdateExpense).Methods(http.MethodPut)
	session.HandleFunc("/expenses/{eid}", s.handleDeleteExpense).Methods(http.MethodDelete)
	session.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	session.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	session.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			"client_ip", detector.ExtractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path)
		TooManyRequestsError(r).Write(w)
	})(handler)
	handler = detector.Middleware(logger.WithComponent(applog.ComponentSecurity).Slog())(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = applog.RequestIDMiddleware(trace.FromRequest)(handler)
	handler = applog.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)
	handler = newCORS(opts.CORSAllowedOrigins).Handler(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// newCORS allows credentials only for an explicit origin list; a wildcard
// origin must not be combined with credentials.
func newCORS(origins []string) *cors.Cors {
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders:   []string{trace.RequestIDHeader, "Retry-After"},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
}

// Shutdown stops background work and drains the HTTP server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns the request counters served on /statusz and logged at
// shutdown.
func (s *Server) Metrics() (trace.Metrics, ratelimit.Metrics, security.DetectionMetrics) {
	return s.tracer.GetMetrics(), s.limiter.GetMetrics(), s.detector.GetMetrics()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tm, rm, dm := s.Metrics()
	NewJSONResponse().Body(map[string]any{
		"requests": map[string]int64{
			"total":           tm.TotalRequests,
			"server_errors":   tm.ServerErrors,
			"avg_response_us": tm.AverageResponseTime,
		},
		"rate_limit": map[string]int64{
			"rejected": rm.TotalHits,
			"clients":  rm.ClientCount,
		},
		"security": map[string]int64{
			"suspicious_requests": dm.SuspiciousRequests,
			"invalid_ip_attempts": dm.InvalidIPAttempts,
		},
	}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			ErrorResponse(r, http.StatusServiceUnavailable, "not_ready", "storage unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// requireSessionAccess hides sessions owned by someone else behind a 404
// when authentication is enabled.
func (s *Server) requireSessionAccess(next http.Handler) http.Handler {
	if !s.auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.sessions.GetSession(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		if snap.Owner != "" && snap.Owner != auth.Owner(r.Context()) {
			NotFoundError(r, store.ErrNotFound.Error()).Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
