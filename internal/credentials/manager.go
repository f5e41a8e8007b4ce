package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"voice2action/internal/config"
	"voice2action/internal/logging"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

// ErrConsentRequired is returned when delegated access has never been granted
// and no refresh token is available.
var ErrConsentRequired = errors.New("graph consent required")

const stageName = "credentials"

// Option customises Manager construction.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used against the token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.NewComponentLogger(logger, "credentials")
	}
}

// Manager produces valid Graph bearer tokens on demand.
type Manager struct {
	cfg        config.Graph
	store      statestore.Store
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
	margin     time.Duration

	stateMu sync.RWMutex
	state   State
	loaded  bool
}

// NewManager builds a Manager for the configured Graph identity.
func NewManager(cfg config.Graph, store statestore.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("credentials: state store is nil")
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: time.Duration(max(cfg.RequestTimeout, 1)) * time.Second},
		now:        time.Now,
		logger:     logging.NewComponentLogger(nil, "credentials"),
		margin:     time.Duration(cfg.RefreshMarginSeconds) * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ValidToken returns an access token with more than the refresh margin of
// validity left, refreshing or acquiring one first when needed.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	if token, ok := m.cachedToken(); ok {
		return token, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) cachedToken() (string, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.loaded && m.fresh(m.state) {
		return m.state.AccessToken, true
	}
	return "", false
}

// fresh applies the strict margin rule: a token with exactly margin remaining
// is still usable.
func (m *Manager) fresh(state State) bool {
	return state.AccessToken != "" && state.Remaining(m.now()) >= m.margin
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	// Another process (CLI consent, another replica) may have written newer state.
	if err := m.reloadLocked(ctx); err != nil {
		return "", err
	}
	if m.fresh(m.state) {
		return m.state.AccessToken, nil
	}

	var (
		next State
		err  error
	)
	switch {
	case strings.TrimSpace(m.state.RefreshToken) != "":
		next, err = m.refreshGrant(ctx, m.state.RefreshToken)
	case m.cfg.Grant == config.GrantClientCredentials:
		next, err = m.clientCredentialsGrant(ctx)
	default:
		return "", services.Wrap(services.ErrConfiguration, stageName, "acquire token",
			"no refresh token cached; run `voice2action auth url` and complete consent, or set MS_GRAPH_TOKEN", ErrConsentRequired)
	}
	if err != nil {
		return "", err
	}

	if err := saveState(ctx, m.store, next); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "persist token", "", err)
	}
	m.state = next
	m.logger.Info("graph token acquired",
		logging.String(logging.FieldEventType, "token_refreshed"),
		logging.Int64("expires_at", next.ExpiresAt),
		logging.Bool("has_refresh_token", next.RefreshToken != ""),
	)
	return next.AccessToken, nil
}

func (m *Manager) reloadLocked(ctx context.Context) error {
	state, ok, err := loadState(ctx, m.store)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "load token", "", err)
	}
	if !ok && strings.TrimSpace(m.cfg.BootstrapToken) != "" {
		seeded, parseErr := ParseBootstrap(m.cfg.BootstrapToken, m.now())
		if parseErr != nil {
			return services.Wrap(services.ErrConfiguration, stageName, "bootstrap", "MS_GRAPH_TOKEN is not usable", parseErr)
		}
		if err := saveState(ctx, m.store, seeded); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "bootstrap", "", err)
		}
		m.logger.Info("graph token seeded from bootstrap token",
			logging.String(logging.FieldEventType, "token_bootstrapped"),
		)
		state = seeded
	}
	m.state = state
	m.loaded = true
	return nil
}

func (m *Manager) oauthConfig(redirectURI string) (*oauth2.Config, error) {
	if strings.TrimSpace(m.cfg.ClientID) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "oauth config",
			"graph.client_id is not set (or set MS_GRAPH_CLIENT_ID)", nil)
	}
	return &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       append([]string(nil), m.cfg.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.AuthorizeURL(),
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) refreshGrant(ctx context.Context, refreshToken string) (State, error) {
	conf, err := m.oauthConfig(m.cfg.RedirectURI)
	if err != nil {
		return State{}, err
	}
	token, err := conf.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return State{}, classifyTokenError("refresh token", err)
	}
	return m.stateFromToken(token, refreshToken), nil
}

func (m *Manager) clientCredentialsGrant(ctx context.Context) (State, error) {
	if strings.TrimSpace(m.cfg.ClientID) == "" || strings.TrimSpace(m.cfg.ClientSecret) == "" {
		return State{}, services.Wrap(services.ErrConfiguration, stageName, "client credentials",
			"graph.client_id and graph.client_secret are required (or set MS_GRAPH_CLIENT_ID / MS_GRAPH_CLIENT_SECRET)", nil)
	}
	conf := clientcredentials.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		TokenURL:     m.cfg.TokenURL,
		Scopes:       appOnlyScopes(m.cfg.Scopes),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	token, err := conf.Token(m.clientContext(ctx))
	if err != nil {
		return State{}, classifyTokenError("client credentials", err)
	}
	return m.stateFromToken(token, ""), nil
}

// RedeemAuthorizationCode exchanges a consent code and persists the resulting
// token immediately.
func (m *Manager) RedeemAuthorizationCode(ctx context.Context, code, redirectURI string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return services.Wrap(services.ErrValidation, stageName, "redeem code", "authorization code is empty", nil)
	}
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = m.cfg.RedirectURI
	}
	conf, err := m.oauthConfig(redirectURI)
	if err != nil {
		return err
	}
	token, err := conf.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return classifyTokenError("redeem code", err)
	}
	next := m.stateFromToken(token, "")

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if err := saveState(ctx, m.store, next); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "persist token", "", err)
	}
	m.state = next
	m.loaded = true
	m.logger.Info("graph consent redeemed",
		logging.String(logging.FieldEventType, "token_redeemed"),
		logging.Bool("has_refresh_token", next.RefreshToken != ""),
	)
	return nil
}

// AuthorizationURL returns the consent URL the operator opens in a browser.
func (m *Manager) AuthorizationURL(redirectURI, state string) (string, error) {
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = m.cfg.RedirectURI
	}
	conf, err := m.oauthConfig(redirectURI)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query")), nil
}

// Status describes the cached credential without refreshing it.
type Status struct {
	Present         bool
	ExpiresAt       time.Time
	Remaining       time.Duration
	HasRefreshToken bool
	NeedsRefresh    bool
}

// Describe reports the persisted credential state.
func (m *Manager) Describe(ctx context.Context) (Status, error) {
	state, ok, err := loadState(ctx, m.store)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, nil
	}
	now := m.now()
	return Status{
		Present:         state.AccessToken != "",
		ExpiresAt:       time.Unix(state.ExpiresAt, 0).UTC(),
		Remaining:       state.Remaining(now),
		HasRefreshToken: state.RefreshToken != "",
		NeedsRefresh:    !m.fresh(state),
	}, nil
}

// stateFromToken converts an oauth2 token. oauth2 stamps Expiry with the real
// wall clock, so the remaining lifetime is re-anchored on the manager's clock.
// A previous refresh token is kept when the endpoint does not rotate it.
func (m *Manager) stateFromToken(token *oauth2.Token, previousRefresh string) State {
	lifetime := time.Hour
	if !token.Expiry.IsZero() {
		lifetime = time.Until(token.Expiry)
	}
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return State{
		AccessToken:  token.AccessToken,
		ExpiresAt:    m.now().Add(lifetime).Round(time.Second).Unix(),
		RefreshToken: refresh,
	}
}

// classifyTokenError tags token endpoint failures as transient so the enclosing
// step retries them.
func classifyTokenError(operation string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		detail := fmt.Sprintf("token endpoint returned %d", status)
		if retrieve.ErrorCode != "" {
			detail += " (" + retrieve.ErrorCode + ")"
		}
		return services.Wrap(services.ErrTransient, stageName, operation, detail, err)
	}
	return services.Wrap(services.ErrTransient, stageName, operation, "token request failed", err)
}

func appOnlyScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == "offline_access" {
			continue
		}
		out = append(out, scope)
	}
	return out
}
