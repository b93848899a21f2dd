package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Code string `json:"code" binding:"required"`
}

type errorBody struct {
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type userView struct {
	SubjectID   string `json:"subject_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id,omitempty"`
	ClassName   string `json:"class_name,omitempty"`
	XP          int64  `json:"xp"`
	Level       int    `json:"level"`
	Streak      int    `json:"streak"`
	MFAPending  bool   `json:"mfa_pending"`
	Degraded    bool   `json:"degraded,omitempty"`
}

type sessionView struct {
	SignedIn bool      `json:"signed_in"`
	User     *userView `json:"user,omitempty"`
}

type enrollmentView struct {
	FactorID string `json:"factor_id"`
	Secret   string `json:"secret"`
	URI      string `json:"uri"`
}

type mfaView struct {
	Required    bool            `json:"required"`
	State       string          `json:"state"`
	Enrollment  *enrollmentView `json:"enrollment,omitempty"`
	SecondsLeft int             `json:"seconds_left,omitempty"`
	Error       string          `json:"error,omitempty"`
	Resume      string          `json:"resume,omitempty"`
}

func viewOf(u *goGate.ResolvedUser) *userView {
	return &userView{
		SubjectID:   u.Identity.SubjectID,
		Email:       u.Identity.Email,
		DisplayName: u.Profile.DisplayName,
		AvatarRef:   u.Profile.AvatarRef,
		Role:        u.Claims.Role.String(),
		TenantID:    u.Claims.TenantID,
		ClassName:   u.Profile.ClassName,
		XP:          u.Profile.XP,
		Level:       u.Profile.Level,
		Streak:      u.Profile.Streak,
		MFAPending:  u.MFAPending,
		Degraded:    u.Degraded,
	}
}

// writeError maps engine errors onto statuses. Only UserMessage text is
// returned to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	body := errorBody{Message: goGate.UserMessage(err)}
	status := http.StatusServiceUnavailable

	var rl *goGate.RateLimitedError
	switch {
	case errors.As(err, &rl):
		status, body.Code, body.RetryAfter = http.StatusTooManyRequests, "rate_limited", rl.Seconds()
		c.Header("Retry-After", strconv.Itoa(rl.Seconds()))
	case errors.Is(err, goGate.ErrRateLimited):
		status, body.Code = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, goGate.ErrInvalidCredentials):
		status, body.Code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, goGate.ErrValidation):
		status, body.Code = http.StatusBadRequest, "validation"
	case errors.Is(err, goGate.ErrMFACodeFormat):
		status, body.Code = http.StatusBadRequest, "mfa_code_format"
	case errors.Is(err, goGate.ErrMFAVerificationFailed):
		status, body.Code = http.StatusUnprocessableEntity, "mfa_verification_failed"
	case errors.Is(err, goGate.ErrInvalidMFATransition):
		status, body.Code = http.StatusConflict, "mfa_state"
	case errors.Is(err, goGate.ErrEngineNotReady):
		body.Code = "not_ready"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Code = "cancelled"
	default:
		body.Code = "unavailable"
		s.log.Warn("request failed", zap.String("route", routeOf(c)), zap.Error(err))
	}
	c.JSON(status, body)
}

func (s *Server) signIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, goGate.ErrValidation)
		return
	}
	ctx := goGate.WithUserAgent(goGate.WithClientIP(c.Request.Context(), c.ClientIP()), c.Request.UserAgent())
	if err := s.engine.SignIn(ctx, req.Email, req.Password); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) signUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, goGate.ErrValidation)
		return
	}
	ctx := goGate.WithUserAgent(goGate.WithClientIP(c.Request.Context(), c.ClientIP()), c.Request.UserAgent())
	if err := s.engine.SignUp(ctx, req.Email, req.Password, req.DisplayName); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.engine.SignOut(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// passwordReset answers 202 whatever happens so the response never reveals
// whether an account exists.
func (s *Server) passwordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Email != "" {
		_ = s.engine.RequestPasswordReset(c.Request.Context(), req.Email)
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) session(c *gin.Context) {
	snap := s.engine.Snapshot()
	if snap.Loading {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, errorBody{Code: string(goGate.DecisionLoading)})
		return
	}
	if snap.User == nil {
		c.JSON(http.StatusOK, sessionView{})
		return
	}
	c.JSON(http.StatusOK, sessionView{SignedIn: true, User: viewOf(snap.User)})
}

func (s *Server) mfaStatus(c *gin.Context) {
	u := s.engine.CurrentUser()
	if u == nil {
		c.JSON(http.StatusUnauthorized, errorBody{Code: string(goGate.DecisionSignedOut)})
		return
	}
	if !u.MFAPending {
		c.JSON(http.StatusOK, mfaView{State: string(goGate.MFAVerified)})
		return
	}

	gate := s.engine.MFAGate()
	if gate == nil {
		c.JSON(http.StatusUnauthorized, errorBody{Code: string(goGate.DecisionSignedOut)})
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 15*time.Second)
	defer cancel()
	if err := gate.Init(ctx); err != nil {
		// A failed gate stays in checking, so the next request starts over.
		s.engine.NewMFAGate()
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gateView(gate))
}

func (s *Server) mfaVerify(c *gin.Context) {
	gate := s.engine.MFAGate()
	if gate == nil {
		if s.engine.CurrentUser() == nil {
			c.JSON(http.StatusUnauthorized, errorBody{Code: string(goGate.DecisionSignedOut)})
			return
		}
		s.writeError(c, goGate.ErrInvalidMFATransition)
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, goGate.ErrMFACodeFormat)
		return
	}
	if err := gate.Submit(c.Request.Context(), req.Code); err != nil {
		s.writeError(c, err)
		return
	}
	view := gateView(gate)
	view.Resume, _ = s.engine.ResumeIntent(c.Request.Context())
	c.JSON(http.StatusOK, view)
}

func gateView(g *goGate.MFAGate) mfaView {
	state := g.State()
	v := mfaView{
		Required: true,
		State:    string(state),
		Error:    g.LastError(),
	}
	if state != goGate.MFAVerified {
		v.SecondsLeft = g.SecondsLeft()
	}
	if e := g.Enrollment(); e != nil {
		v.Enrollment = &enrollmentView{FactorID: e.Factor.ID, Secret: e.Secret, URI: e.URI}
	}
	return v
}
