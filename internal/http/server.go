// Package http serves the pages of the client as JSON endpoints: home,
// record, list, stats, challenges, settings, export and the login flow.
package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"savebuddy/internal/challenge"
	"savebuddy/internal/core"
	"savebuddy/internal/export"
	"savebuddy/internal/ledger"
	"savebuddy/internal/log"
	"savebuddy/internal/middleware/ratelimit"
	"savebuddy/internal/middleware/security"
	"savebuddy/internal/middleware/trace"
	"savebuddy/internal/records"
	"savebuddy/internal/session"
)

// SheetAppender pushes an export to an online spreadsheet.
type SheetAppender interface {
	Append(ctx context.Context, s export.Sheet) (string, error)
}

// Check is a readiness check of one dependency.
type Check func(ctx context.Context) error

// Deps are the stores and services the pages read from.
type Deps struct {
	Session   *session.Holder
	Guard     *session.Guard
	Savings   *records.Store
	Expenses  *records.Store
	Catalog   *challenge.Catalog
	Evaluator *challenge.Evaluator
	Ledger    *ledger.Ledger

	// Sheets is optional; without it the spreadsheet push is unavailable.
	Sheets SheetAppender

	// Checks are run by /readyz.
	Checks map[string]Check

	Logger *log.Logger
	Now    func() time.Time

	// RequestsPerMinute limits mutating requests per client; zero means
	// the limiter default.
	RequestsPerMinute int
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	now      func() time.Time
	started  time.Time
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	resolveOnce  sync.Once
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		deps:     deps,
		logger:   logger.WithComponent(log.ComponentHTTP),
		now:      now,
		started:  now(),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RequestsPerMinute}),
		detector: security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /oauth2/redirect", s.handleOAuthRedirect)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /{$}", s.protected(s.handleHome))
	mux.Handle("GET /record", s.protected(s.handleRecordPage))
	mux.Handle("GET /records/{kind}", s.protected(s.handleListRecords))
	mux.Handle("POST /records/{kind}", s.protected(s.handleCreateRecord))
	mux.Handle("DELETE /records/{kind}/{id}", s.protected(s.handleDeleteRecord))
	mux.Handle("GET /stats/{kind}", s.protected(s.handleStats))
	mux.Handle("GET /challenges", s.protected(s.handleChallenges))
	mux.Handle("GET /challenges/{id}", s.protected(s.handleChallenge))
	mux.Handle("POST /challenges/evaluate", s.protected(s.handleEvaluate))
	mux.Handle("GET /settings", s.protected(s.handleSettings))
	mux.Handle("PUT /settings/monthly-target", s.protected(s.handleMonthlyTarget))
	mux.Handle("GET /export/{kind}", s.protected(s.handleExport))
	mux.Handle("POST /export/{kind}/sheets", s.protected(s.handleExportSheets))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, isMutation, s.onRateLimit)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func isMutation(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request, retry time.Duration) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "요청이 너무 많습니다. 잠시 후 다시 시도해주세요.").
		RetryAfter(retry).
		Write(w, r)
}

// loadingBody is what a protected page answers while the session resolves.
type loadingBody struct {
	Status session.Decision `json:"status"`
}

// protected gates a page on the session guard. While the session is
// unresolved the first request starts resolving it.
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch s.deps.Guard.Decide(r.URL) {
		case session.DecisionAllow:
			h(w, r)
		case session.DecisionLoading:
			if s.deps.Session.State().Status == session.StatusUnresolved {
				s.resolveSession()
			}
			NewResponse().
				Status(http.StatusAccepted).
				RetryAfter(s.deps.Guard.RetryAfter()).
				JSON(loadingBody{Status: session.DecisionLoading}).
				Write(w, r)
		default:
			http.Redirect(w, r, "/login?next="+url.QueryEscape(urlPath(r)), http.StatusSeeOther)
		}
	})
}

func urlPath(r *http.Request) string {
	p := r.URL.Path
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "/"
	}
	return p
}

// resolveSession asks the server who the caller is, once, in the
// background. Errors are kept in the session state.
func (s *Server) resolveSession() {
	s.resolveOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.deps.Session.GetCurrentUser(ctx); err != nil {
				s.logger.Warn("Session resolution failed", log.FieldError, err)
			}
		}()
	})
}

// currentUser returns the signed-in user; protected handlers only run when
// there is one.
func (s *Server) currentUser() core.User {
	u, _ := s.deps.Session.User()
	return u
}

func (s *Server) store(kind core.RecordKind) *records.Store {
	if kind == core.Expense {
		return s.deps.Expenses
	}
	return s.deps.Savings
}

// Shutdown gracefully shuts down the server and its background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
