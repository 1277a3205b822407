// Package chatlink provides a high-level façade over the turn orchestrator
// and its collaborators (sessions, tool servers, generation backends &
// logging). Most applications interact with this package by:
//  1. Creating a Chatlink via New() from a config.Config (or option overrides)
//  2. Calling Start() to connect tool servers
//  3. Submitting prompts with ProcessQuery and managing sessions via the
//     session helpers
//
// The façade delegates turn execution to engine.Orchestrator while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a SQLite session store and a
// structured logger.
package chatlink

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/chatlink/config"
	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/engine"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/model"
	"github.com/hupe1980/chatlink/model/anthropic"
	"github.com/hupe1980/chatlink/model/openai"
	"github.com/hupe1980/chatlink/pool"
	"github.com/hupe1980/chatlink/session"
	"github.com/hupe1980/chatlink/task"
	"github.com/hupe1980/chatlink/tool"
)

// Options configures the Chatlink instance. Any component left nil is built
// from Config.
type Options struct {
	// Config drives component construction. Defaults to config.Default().
	Config *config.Config

	// Store overrides session persistence.
	Store core.SessionStore

	// Pool overrides tool server access.
	Pool core.ToolServerPool

	// Generator overrides the direct generation model. Ignored for the
	// remote backend.
	Generator model.Generator

	// Presenter receives streaming output and status updates. Defaults to
	// the no-op presenter.
	Presenter core.Presenter

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Chatlink is the high-level façade aggregating the orchestrator and its
// services.
type Chatlink struct {
	orchestrator *engine.Orchestrator
	backend      engine.Backend
	store        core.SessionStore
	pool         core.ToolServerPool
	mcp          *pool.MCPPool
	sqlite       *session.SQLiteStore
	logger       logging.Logger
}

// New assembles a Chatlink from configuration with optional overrides.
func New(optFns ...func(o *Options)) (*Chatlink, error) {
	opts := Options{
		Config:    config.Default(),
		Presenter: core.NoOpPresenter{},
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Chatlink{logger: opts.Logger}

	if err := c.buildStore(cfg, opts.Store); err != nil {
		return nil, err
	}
	c.buildPool(cfg, opts.Pool)

	machine := task.NewMachine(opts.Presenter, opts.Logger)

	backend, err := buildBackend(cfg, machine, opts)
	if err != nil {
		c.closeStores()
		return nil, err
	}
	c.backend = backend

	var filter *tool.RelevanceFilter
	if c.pool != nil && (cfg.Tools.RankerServerID != "" || len(cfg.Tools.ForcedTools) > 0) {
		filter = tool.NewRelevanceFilter(c.pool, func(o *tool.FilterOptions) {
			o.RankerServerID = cfg.Tools.RankerServerID
			o.ForcedTools = cfg.Tools.ForcedTools
			o.Logger = opts.Logger
		})
	}

	var invoker *tool.Invoker
	if c.pool != nil {
		invoker = tool.NewInvoker(c.pool, func(o *tool.InvokerOptions) {
			o.CallTimeout = cfg.Tools.CallTimeout.Std()
			o.Logger = opts.Logger
		})
	}

	c.orchestrator = engine.New(backend, machine, func(o *engine.Options) {
		o.Config = engine.Config{
			MaxToolIterations: cfg.Tools.MaxIterations,
			TurnTimeout:       cfg.TurnTimeout.Std(),
		}
		o.Store = c.store
		o.Pool = c.pool
		o.Presenter = opts.Presenter
		o.Filter = filter
		o.Invoker = invoker
		o.Logger = opts.Logger
	})

	if c.pool != nil {
		go c.forwardPoolStatus(opts.Presenter)
	}

	return c, nil
}

// forwardPoolStatus relays tool server status transitions to the presenter
// as out-of-band notes on the active session. The goroutine exits when the
// pool shuts down and its status channel closes.
func (c *Chatlink) forwardPoolStatus(presenter core.Presenter) {
	for ev := range c.pool.Subscribe() {
		presenter.PushSystemMessage(c.store.ActiveID(), fmt.Sprintf("Tool server %s is %s.", ev.ServerID, ev.Status))
	}
}

// Start connects managed tool servers. It is a no-op when the pool was
// supplied externally or no servers are configured.
func (c *Chatlink) Start(ctx context.Context) error {
	if c.mcp == nil {
		return nil
	}
	return c.mcp.Connect(ctx)
}

// ProcessQuery runs one complete turn against the active session.
func (c *Chatlink) ProcessQuery(ctx context.Context, query string) error {
	return c.orchestrator.ProcessQuery(ctx, query)
}

// Store exposes session management.
func (c *Chatlink) Store() core.SessionStore { return c.store }

// Pool exposes tool server access, or nil when none is configured.
func (c *Chatlink) Pool() core.ToolServerPool { return c.pool }

// Callbacks exposes turn lifecycle hooks.
func (c *Chatlink) Callbacks() *engine.CallbackRegistry { return c.orchestrator.Callbacks() }

// NewSession creates a fresh session and makes it active, returning its id.
func (c *Chatlink) NewSession() (string, error) {
	return c.store.CreateSession()
}

// SwitchSession makes an existing session active.
func (c *Chatlink) SwitchSession(sessionID string) error {
	return c.store.SwitchActive(sessionID)
}

// Close releases the backend, tool servers and persistent stores.
func (c *Chatlink) Close() error {
	var firstErr error

	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			firstErr = err
		}
	}

	if c.mcp != nil {
		c.mcp.Close()
	}

	if err := c.closeStores(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (c *Chatlink) buildStore(cfg *config.Config, override core.SessionStore) error {
	if override != nil {
		c.store = override
		return nil
	}

	if cfg.Session.StorePath == "" {
		c.store = session.NewInMemoryStore(func(o *session.Options) {
			o.MaxSessions = cfg.Session.MaxSessions
		})
		return nil
	}

	store, err := session.NewSQLiteStore(cfg.Session.StorePath, func(o *session.Options) {
		o.MaxSessions = cfg.Session.MaxSessions
	})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	c.sqlite = store
	c.store = store

	return nil
}

func (c *Chatlink) buildPool(cfg *config.Config, override core.ToolServerPool) {
	if override != nil {
		c.pool = override
		return
	}

	if len(cfg.Tools.Servers) == 0 {
		return
	}

	c.mcp = pool.NewMCPPool(cfg.Tools.Servers, func(o *pool.MCPOptions) {
		o.Logger = c.logger
	})
	c.pool = c.mcp
}

func (c *Chatlink) closeStores() error {
	if c.sqlite != nil {
		return c.sqlite.Close()
	}
	return nil
}

func buildBackend(cfg *config.Config, machine *task.Machine, opts Options) (engine.Backend, error) {
	if cfg.Backend.Kind == "remote" {
		return engine.NewRemoteBackend(cfg.Backend.ServerAddr, machine, opts.Presenter, func(o *engine.RemoteOptions) {
			o.Logger = opts.Logger
		}), nil
	}

	gen := opts.Generator
	if gen == nil {
		switch cfg.Backend.Kind {
		case "openai":
			gen = openai.NewGenerator(func(o *openai.Options) {
				if cfg.Backend.Model != "" {
					o.Model = cfg.Backend.Model
				}
			})
		case "anthropic":
			gen = anthropic.NewGenerator(func(o *anthropic.Options) {
				if cfg.Backend.Model != "" {
					o.Model = anthropicsdk.Model(cfg.Backend.Model)
				}
			})
		default:
			return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
		}
	}

	return engine.NewDirectBackend(gen, machine, func(o *engine.DirectOptions) {
		o.Instructions = cfg.Backend.Instructions
		o.Logger = opts.Logger
	}), nil
}
