// Package api serves the listings admin over HTTP. Record routes sit behind
// the bearer-token guard; health, metrics, sign-in and media do not.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"estatedesk/internal/auth"
	"estatedesk/internal/blob"
	"estatedesk/internal/config"
	"estatedesk/internal/guard"
	"estatedesk/internal/media"
	"estatedesk/internal/metrics"
	"estatedesk/pkg/listing"
)

// Records is the orchestration surface behind the record routes.
type Records interface {
	List(ctx context.Context, schema listing.Schema) ([]listing.Record, error)
	Create(ctx context.Context, schema listing.Schema, values listing.Values, images []string) (listing.Record, error)
	Update(ctx context.Context, schema listing.Schema, id string, values listing.Values) error
	AttachImages(ctx context.Context, schema listing.Schema, id string, current []string, files []media.File) ([]string, error)
	DetachImage(ctx context.Context, schema listing.Schema, id string, current []string, url string) ([]string, error)
	Delete(ctx context.Context, schema listing.Schema, rec listing.Record) error
}

// Authenticator validates bearer tokens and issues new ones.
type Authenticator interface {
	guard.TokenAuthenticator
	IssueSession(ctx context.Context, email, password string) (*auth.Session, error)
}

// Options wires the server's collaborators. Records and Auth are required.
type Options struct {
	Records   Records
	Auth      Authenticator
	Blobs     blob.Store // serves /media/*; nil disables the route
	GuardMode guard.Mode
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // nil disables /metrics
	Logger    *zap.Logger
	Config    config.Server
}

// Server is the HTTP admin API.
type Server struct {
	echo *echo.Echo
	opts Options
	log  *zap.Logger
}

// NewServer builds the echo instance and registers every route.
func NewServer(opts Options) (*Server, error) {
	if opts.Records == nil {
		return nil, errors.New("api: records service is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("api: authenticator is required")
	}
	if opts.GuardMode == "" {
		opts.GuardMode = guard.ModeRedirect
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(log))
	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}
	if opts.Config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(opts.Config.RateLimit))))
	}
	if opts.Config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.Config.BodyLimit))
	}

	s := &Server{echo: e, opts: opts, log: log}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.opts.Blobs != nil {
		s.echo.GET("/media/*", s.handleMedia)
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/auth/sign-in", s.handleSignIn)

	g := v1.Group("", guard.Middleware(s.opts.Auth, s.opts.GuardMode))
	g.GET("/kinds", s.handleKinds)
	g.GET("/:kind/records", s.handleList)
	g.POST("/:kind/records", s.handleCreate)
	g.PUT("/:kind/records/:id", s.handleUpdate)
	g.DELETE("/:kind/records/:id", s.handleDelete)
	g.POST("/:kind/records/:id/images", s.handleAttachImages)
	g.DELETE("/:kind/records/:id/images", s.handleDetachImage)
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := s.opts.Config.Addr()
	s.log.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}
