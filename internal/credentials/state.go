package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voice2action/internal/statestore"
)

// TokenStateKey is the state store key holding the serialized token.
const TokenStateKey = "ms_graph_token_state"

// rawTokenLifetime is assumed for bootstrap tokens supplied without metadata.
const rawTokenLifetime = time.Hour

// State is the persisted credential cache.
type State struct {
	AccessToken  string `json:"access_token"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether no token has been acquired yet.
func (s State) Empty() bool {
	return strings.TrimSpace(s.AccessToken) == "" && strings.TrimSpace(s.RefreshToken) == ""
}

// Remaining returns how long the access token stays valid after now.
func (s State) Remaining(now time.Time) time.Duration {
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}

func loadState(ctx context.Context, store statestore.Store) (State, bool, error) {
	raw, ok, err := store.Get(ctx, TokenStateKey)
	if err != nil {
		return State{}, false, fmt.Errorf("load token state: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return State{}, false, nil
	}
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return State{}, false, fmt.Errorf("decode token state: %w", err)
	}
	return state, true, nil
}

func saveState(ctx context.Context, store statestore.Store, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	if err := store.Set(ctx, TokenStateKey, string(data)); err != nil {
		return fmt.Errorf("persist token state: %w", err)
	}
	return nil
}

// ParseBootstrap turns an operator-supplied token into State. The value is
// either the JSON form of State or a bare access token, which is assumed to be
// valid for one hour from now.
func ParseBootstrap(raw string, now time.Time) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}, fmt.Errorf("bootstrap token is empty")
	}
	if strings.HasPrefix(raw, "{") {
		var state State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return State{}, fmt.Errorf("decode bootstrap token: %w", err)
		}
		if state.Empty() {
			return State{}, fmt.Errorf("bootstrap token has neither access_token nor refresh_token")
		}
		return state, nil
	}
	return State{AccessToken: raw, ExpiresAt: now.Add(rawTokenLifetime).Unix()}, nil
}
