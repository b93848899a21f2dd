package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/fanout"
	"github.com/MrEthical07/goGate/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultSessionKey = "session"
	defaultTimeout    = 10 * time.Second
	maxErrorBody      = 64 << 10
)

// Config holds the backend endpoint and project key.
type Config struct {
	// BaseURL is the auth root, e.g. https://project.example.com/auth/v1.
	BaseURL string `yaml:"base_url"`
	// APIKey is the public (anon) project key sent as the apikey header.
	APIKey string `yaml:"api_key"`
	// SessionKey is the store key of the cached session. Defaults to "session".
	SessionKey string        `yaml:"session_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock overrides the clock used for access-token expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider implements goGate.IdentityProvider over HTTP.
type Provider struct {
	base       *url.URL
	apiKey     string
	sessionKey string
	local      store.Store
	http       *http.Client
	log        *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	events     *fanout.Hub
}

var _ goGate.IdentityProvider = (*Provider)(nil)

// New validates cfg and returns a provider caching its session in local.
func New(cfg Config, local store.Store, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gotrue: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gotrue: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gotrue: unsupported scheme %q", base.Scheme)
	}
	if local == nil {
		return nil, errors.New("gotrue: local session store required")
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = defaultSessionKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &Provider{
		base:       base,
		apiKey:     cfg.APIKey,
		sessionKey: cfg.SessionKey,
		local:      local,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        zap.NewNop(),
		tracer:     otel.Tracer("github.com/MrEthical07/goGate/provider/gotrue"),
		now:        time.Now,
		events:     fanout.New(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

/*
====================================
WIRE
====================================
*/

// apiError covers both the legacy OAuth-style and the current error body.
type apiError struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

var retryAfterText = regexp.MustCompile(`after (\d+) seconds?`)

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	bearer string
}

// do sends req and decodes a 2xx body into out. Any other status becomes a
// classified *goGate.ProviderError.
func (p *Provider) do(ctx context.Context, req request, out any) error {
	ctx, span := p.tracer.Start(ctx, "gotrue."+req.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := p.roundTrip(ctx, req, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, goGate.KindOf(err).String())
	}
	return err
}

func (p *Provider) roundTrip(ctx context.Context, req request, out any) error {
	u := *p.base
	u.Path = u.Path + req.path
	if req.query != nil {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return goGate.NewProviderError(goGate.KindValidation, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return goGate.NewProviderError(goGate.KindValidation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("apikey", p.apiKey)
	}
	switch {
	case req.bearer != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	case p.apiKey != "":
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return goGate.NewProviderError(goGate.KindUnavailable, err)
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goGate.NewProviderError(goGate.KindUnavailable, fmt.Errorf("decode %s response: %w", req.op, err))
		}
		return nil
	}

	var apiErr apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &apiErr)
	classified := classify(req.op, resp.StatusCode, resp.Header.Get("Retry-After"), apiErr)
	p.log.Debug("gotrue request failed",
		zap.String("op", req.op),
		zap.Int("status", resp.StatusCode),
		zap.String("kind", goGate.KindOf(classified).String()),
	)
	return classified
}

// classify maps an HTTP failure onto a provider error kind.
func classify(op string, status int, retryAfter string, body apiError) error {
	msg := body.text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	cause := fmt.Errorf("%s: %d %s", op, status, msg)

	switch {
	case status == http.StatusTooManyRequests || body.ErrorCode == "over_request_rate_limit" || body.ErrorCode == "over_email_send_rate_limit":
		pe := goGate.NewProviderError(goGate.KindRateLimited, cause)
		pe.RetryAfter = parseRetryAfter(retryAfter, msg)
		return pe
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return goGate.NewProviderError(goGate.KindUnauthorized, cause)
	case status == http.StatusBadRequest && op == opSignIn &&
		(body.ErrorCode == "invalid_credentials" || body.Error == "invalid_grant"):
		return goGate.NewProviderError(goGate.KindInvalidCredentials, cause)
	case status == http.StatusBadRequest && op == opRefresh:
		return goGate.NewProviderError(goGate.KindUnauthorized, cause)
	case body.ErrorCode == "session_not_found" || body.ErrorCode == "bad_jwt" ||
		(body.ErrorCode == "user_not_found" && op == opGetUser):
		return goGate.NewProviderError(goGate.KindUnauthorized, cause)
	case body.ErrorCode == "mfa_verification_failed" || body.ErrorCode == "mfa_challenge_expired":
		return goGate.NewProviderError(goGate.KindInvalidCredentials, cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusNotFound:
		return goGate.NewProviderError(goGate.KindValidation, cause)
	case status == 499:
		return goGate.NewProviderError(goGate.KindAborted, cause)
	default:
		return goGate.NewProviderError(goGate.KindUnavailable, cause)
	}
}

// parseRetryAfter reads delta-seconds from the header, falling back to the
// "after N seconds" phrasing of the backend message.
func parseRetryAfter(header, msg string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if m := retryAfterText.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}
