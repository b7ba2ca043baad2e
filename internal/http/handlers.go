package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"savebuddy/internal/api"
	"savebuddy/internal/core"
	"savebuddy/internal/log"
	"savebuddy/internal/session"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := s.tracer.GetMetrics()
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
		"requests":  metrics.TotalRequests,
		"rateLimit": s.limiter.GetMetrics(),
	}).Write(w, r)
}

// handleReady runs every registered dependency check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks)+1)

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	checks["session"] = string(s.deps.Session.State().Status)

	if httpStatus != http.StatusOK {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "checks", checks)
	}
	NewResponse().Status(httpStatus).JSON(map[string]any{
		"status": status,
		"checks": checks,
	}).Write(w, r)
}

type sessionBody struct {
	session.State
	Decision session.Decision `json:"decision"`
	LoginURL string           `json:"loginUrl"`
}

// handleSession reports the session and what a protected page would do.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session.State().Status == session.StatusUnresolved {
		s.resolveSession()
	}
	NewResponse().JSON(sessionBody{
		State:    s.deps.Session.State(),
		Decision: s.deps.Guard.Decide(r.URL),
		LoginURL: s.deps.Session.LoginURL(),
	}).Write(w, r)
}

// handleLoginPage is where anonymous visitors are redirected to.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":   s.deps.Session.State().Status,
		"loginUrl": s.deps.Session.LoginURL(),
		"next":     r.URL.Query().Get("next"),
	}).Write(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("잘못된 요청 형식입니다.").Write(w, r)
		return
	}
	username, password := p.Get("username"), p.Get("password")
	if username == "" || password == "" {
		UnprocessableEntityError("아이디와 비밀번호를 입력해주세요.").Write(w, r)
		return
	}

	user, err := s.deps.Session.Login(r.Context(), username, password)
	if err != nil {
		msg := s.deps.Session.State().Error
		if errors.Is(err, api.ErrUnauthorized) {
			ErrorResponse(http.StatusUnauthorized, msg).Write(w, r)
			return
		}
		BadGatewayError(msg).Write(w, r)
		return
	}
	s.afterSignIn(r.Context())
	NewResponse().JSON(user).Write(w, r)
}

// handleOAuthRedirect is the landing of the federated login; the server
// hands the credential over in the token query parameter.
func (s *Server) handleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		BadRequestError("로그인 토큰이 없습니다.").Write(w, r)
		return
	}
	user, err := s.deps.Session.AcceptToken(r.Context(), token)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		ErrorResponse(http.StatusUnauthorized, "로그인에 실패했습니다.").Write(w, r)
		return
	case err != nil:
		BadGatewayError(s.deps.Session.State().Error).Write(w, r)
		return
	}
	s.afterSignIn(r.Context())
	NewResponse().JSON(user).Write(w, r)
}

// afterSignIn loads the signed-in user's records so the first page is
// populated.
func (s *Server) afterSignIn(ctx context.Context) {
	s.deps.Savings.FetchAll(ctx)
	s.deps.Expenses.FetchAll(ctx)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.Logout(r.Context()); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Logout failed", log.FieldError, err)
		InternalServerError("로그아웃에 실패했습니다.").Write(w, r)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w, r)
}

type settingsPage struct {
	User          core.User `json:"user"`
	MonthlyTarget core.Won  `json:"monthlyTarget"`
	LoginType     string    `json:"loginType,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	u := s.currentUser()
	NewResponse().JSON(settingsPage{User: u, MonthlyTarget: u.MonthlyTarget, LoginType: u.LoginType}).Write(w, r)
}

func (s *Server) handleMonthlyTarget(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("잘못된 요청 형식입니다.").Write(w, r)
		return
	}
	target, err := core.ParseWon(p.Get("target"))
	if err != nil {
		UnprocessableEntityError("목표 금액은 0보다 커야 합니다.").Write(w, r)
		return
	}

	user, err := s.deps.Session.SetMonthlyTarget(r.Context(), target)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to set monthly target", log.FieldError, err)
		storeFailure(err, "목표 금액 설정에 실패했습니다.").Write(w, r)
		return
	}
	NewResponse().JSON(settingsPage{User: user, MonthlyTarget: user.MonthlyTarget, LoginType: user.LoginType}).Write(w, r)
}
