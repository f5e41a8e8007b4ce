package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"voice2action/internal/logging"
	"voice2action/internal/schedule"
	"voice2action/internal/services"
)

// HeaderMessageID carries the tick message id in binary CloudEvents mode.
const HeaderMessageID = "ce-id"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTick(c echo.Context) error {
	if s.deps.Ticks == nil {
		return s.writeError(c, services.Wrap(services.ErrConfiguration, "api", "tick", "dispatcher not wired", nil))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.writeError(c, services.Wrap(services.ErrValidation, "api", "tick", "read body", err))
	}

	messageID := strings.TrimSpace(c.Request().Header.Get(HeaderMessageID))
	payload := body
	if messageID == "" {
		var envelope TickEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return c.JSON(http.StatusOK, TickResponse{
				Status:  DeliveryDrop,
				Outcome: string(schedule.OutcomeRejected),
				Error:   "body must be a tick envelope {id, data} when no ce-id header is set",
			})
		}
		messageID = envelope.ID
		payload = envelope.Data
	}

	resp := FromTickResult(s.deps.Ticks.OnTick(c.Request().Context(), messageID, payload))
	status := http.StatusOK
	if resp.Status == DeliveryRetry {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func (s *Server) handleInstances(c echo.Context) error {
	if s.deps.Instances == nil {
		return s.writeError(c, services.Wrap(services.ErrConfiguration, "api", "instances", "engine not wired", nil))
	}
	instances, err := s.deps.Instances.List(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	resp := FromInstances(instances)
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		filtered := resp.Instances[:0]
		for _, inst := range resp.Instances {
			if inst.Status == status {
				filtered = append(filtered, inst)
			}
		}
		resp.Instances = filtered
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInstance(c echo.Context) error {
	if s.deps.Instances == nil {
		return s.writeError(c, services.Wrap(services.ErrConfiguration, "api", "instances", "engine not wired", nil))
	}
	inst, err := s.deps.Instances.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, InstanceResponse{Instance: FromInstance(inst, true)})
}

func (s *Server) handleFiles(c echo.Context) error {
	if s.deps.Files == nil {
		return s.writeError(c, services.Wrap(services.ErrConfiguration, "api", "files", "tracker not wired", nil))
	}
	states, err := s.deps.Files.List(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, FromFileStates(states))
}

func (s *Server) handleAuthStart(c echo.Context) error {
	if s.deps.Consent == nil {
		return s.writeError(c, consentUnavailable())
	}
	state := s.states.issue()
	target, err := s.deps.Consent.AuthorizationURL(c.QueryParam("redirect_uri"), state)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

func (s *Server) handleAuthCallback(c echo.Context) error {
	if s.deps.Consent == nil {
		return s.writeError(c, consentUnavailable())
	}
	if providerErr := c.QueryParam("error"); providerErr != "" {
		detail := strings.TrimSpace(providerErr + ": " + c.QueryParam("error_description"))
		return s.writeError(c, services.Wrap(services.ErrValidation, "api", "consent", detail, nil))
	}
	if !s.states.consume(c.QueryParam("state")) {
		return s.writeError(c, services.Wrap(services.ErrValidation, "api", "consent", "unknown or expired consent state; restart at /auth/start", nil))
	}
	if err := s.deps.Consent.RedeemAuthorizationCode(c.Request().Context(), c.QueryParam("code"), ""); err != nil {
		return s.writeError(c, err)
	}
	s.logger.Info("consent completed", logging.String(logging.FieldEventType, "consent_completed"))
	status, err := s.deps.Consent.Describe(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, FromAuthStatus(status))
}

func (s *Server) handleAuthStatus(c echo.Context) error {
	if s.deps.Consent == nil {
		return s.writeError(c, consentUnavailable())
	}
	status, err := s.deps.Consent.Describe(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, FromAuthStatus(status))
}

func consentUnavailable() error {
	return services.Wrap(services.ErrConfiguration, "api", "consent", "graph credentials are not configured (local mode)", nil)
}

// consentStates tracks issued OAuth state values until they are redeemed or
// expire.
type consentStates struct {
	mu     sync.Mutex
	ttl    time.Duration
	issued map[string]time.Time
	now    func() time.Time
}

func newConsentStates(ttl time.Duration) *consentStates {
	return &consentStates{ttl: ttl, issued: make(map[string]time.Time), now: time.Now}
}

func (c *consentStates) issue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for state, at := range c.issued {
		if now.Sub(at) > c.ttl {
			delete(c.issued, state)
		}
	}
	state := uuid.NewString()
	c.issued[state] = now
	return state
}

func (c *consentStates) consume(state string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.issued[state]
	if !ok {
		return false
	}
	delete(c.issued, state)
	return c.now().Sub(at) <= c.ttl
}
