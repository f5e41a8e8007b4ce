package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"voice2action/internal/config"
	"voice2action/internal/credentials"
	"voice2action/internal/durable"
	"voice2action/internal/logging"
	"voice2action/internal/statestore"
	"voice2action/internal/tracker"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase returns the daemon API base URL.
func (c *commandContext) apiBase() (string, error) {
	addr := ""
	if c.apiFlag != nil {
		addr = strings.TrimSpace(*c.apiFlag)
	}
	if addr == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return "", err
		}
		addr = cfg.API.Bind
	}
	if addr == "" {
		return "", fmt.Errorf("daemon api address unknown; set api.bind or pass --api")
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/"), nil
}

// withStore opens the configured state store for the duration of fn.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(context.Context, statestore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := statestore.Open(ctx, cfg.State.DSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func (c *commandContext) withTracker(cmd *cobra.Command, fn func(context.Context, *tracker.Tracker, *durable.Engine) error) error {
	return c.withStore(cmd, func(ctx context.Context, store statestore.Store) error {
		return fn(ctx, tracker.New(store, logging.NewNop()), durable.NewEngine(store, durable.WithLogger(logging.NewNop())))
	})
}

func (c *commandContext) withCredentials(cmd *cobra.Command, fn func(context.Context, *config.Config, *credentials.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(cmd, func(ctx context.Context, store statestore.Store) error {
		manager, err := credentials.NewManager(cfg.Graph, store, credentials.WithLogger(logging.NewNop()))
		if err != nil {
			return err
		}
		return fn(ctx, cfg, manager)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
