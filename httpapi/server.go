package httpapi

import (
	"net/http"

	goGate "github.com/MrEthical07/goGate"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and handler logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceName names the server in spans and metric namespaces.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.service = name
		}
	}
}

// WithRegisterer records HTTP request metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// Server is the HTTP shell around one engine.
type Server struct {
	engine     *goGate.Engine
	log        *zap.Logger
	service    string
	registerer prometheus.Registerer
	metrics    http.Handler
	router     *gin.Engine
}

// New builds the router. It fails only when request metrics cannot be
// registered.
func New(engine *goGate.Engine, opts ...Option) (*Server, error) {
	s := &Server{
		engine:  engine,
		log:     zap.NewNop(),
		service: "gogate",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.service))
	r.Use(requestLogger(s.log))
	if s.registerer != nil {
		m, err := newHTTPMetrics(s.service, s.registerer)
		if err != nil {
			return nil, err
		}
		r.Use(m.handler())
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	auth := r.Group("/auth")
	{
		auth.POST("/sign-in", s.signIn)
		auth.POST("/sign-up", s.signUp)
		auth.POST("/sign-out", s.signOut)
		auth.POST("/password-reset", s.passwordReset)
		auth.GET("/session", s.session)
		auth.GET("/mfa", s.mfaStatus)
		auth.POST("/mfa/verify", s.mfaVerify)
	}

	s.router = r
	return s, nil
}

// Router exposes the gin engine so applications can mount their own
// routes behind RequireAccess.
func (s *Server) Router() *gin.Engine { return s.router }

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.router }
