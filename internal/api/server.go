package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"voice2action/internal/credentials"
	"voice2action/internal/durable"
	"voice2action/internal/logging"
	"voice2action/internal/schedule"
	"voice2action/internal/services"
	"voice2action/internal/tracker"
)

// TickHandler receives delivered ticks.
type TickHandler interface {
	OnTick(ctx context.Context, messageID string, payload []byte) schedule.Result
}

// InstanceReader reads orchestration instances.
type InstanceReader interface {
	Status(ctx context.Context, id string) (*durable.Instance, error)
	List(ctx context.Context) ([]*durable.Instance, error)
}

// FileLister lists inbox marker states.
type FileLister interface {
	List(ctx context.Context) ([]tracker.State, error)
}

// ConsentFlow drives the OAuth authorization code round trip.
type ConsentFlow interface {
	AuthorizationURL(redirectURI, state string) (string, error)
	RedeemAuthorizationCode(ctx context.Context, code, redirectURI string) error
	Describe(ctx context.Context) (credentials.Status, error)
}

// Dependencies wires the server to the daemon's components. Consent may be
// nil when the daemon runs without Graph credentials.
type Dependencies struct {
	Ticks     TickHandler
	Instances InstanceReader
	Files     FileLister
	Consent   ConsentFlow
	// Token enables bearer authentication when non-empty.
	Token  string
	Logger *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	bind   string
	deps   Dependencies
	logger *slog.Logger
	echo   *echo.Echo
	states *consentStates

	listener net.Listener
	server   *http.Server
}

// NewServer builds the router. Call Start to listen.
func NewServer(bind string, deps Dependencies) *Server {
	s := &Server{
		bind:   strings.TrimSpace(bind),
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "api"),
		states: newConsentStates(10 * time.Minute),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("api request",
				logging.String("method", v.Method),
				logging.String("uri", v.URI),
				logging.Int("status", v.Status),
				logging.Duration("latency", v.Latency),
				logging.String(logging.FieldCorrelationID, v.RequestID),
			)
			return nil
		},
	}))

	if token := strings.TrimSpace(deps.Token); token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool {
				switch c.Path() {
				case "/healthz", "/auth/start", "/auth/callback":
					return true
				}
				return false
			},
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
			},
		}))
	}

	e.GET("/healthz", s.handleHealth)
	e.POST("/schedule-voice2action", s.handleTick)
	e.GET("/instances", s.handleInstances)
	e.GET("/instances/:id", s.handleInstance)
	e.GET("/files", s.handleFiles)
	e.GET("/auth/start", s.handleAuthStart)
	e.GET("/auth/callback", s.handleAuthCallback)
	e.GET("/auth/status", s.handleAuthStatus)

	s.echo = e
	s.server = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is cancelled
// or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return services.Wrap(services.ErrConfiguration, "api", "listen", "api.bind is empty", nil)
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logging.WarnWithContext(s.logger, "api request failed", "api_request_failed",
			logging.String("path", c.Path()),
			logging.Error(err),
		)
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Kind: services.FailureKind(err)})
}
