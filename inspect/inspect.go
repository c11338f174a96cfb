// Package inspect assembles a complete inspection session: the in-page
// agent over a parsed document, the host store, and the origin-checked
// channel linking them. The two halves model independent execution
// contexts; they share nothing but the channel.
package inspect

import (
	"context"
	"log/slog"

	"github.com/visualctx/vci/inspect/internal/agent"
	"github.com/visualctx/vci/inspect/internal/channel"
	"github.com/visualctx/vci/inspect/internal/dom"
	"github.com/visualctx/vci/inspect/internal/raster"
	"github.com/visualctx/vci/inspect/internal/store"
	"github.com/visualctx/vci/inspect/protocol"
)

// Session is one live inspection session over one loaded page.
type Session struct {
	doc   *dom.Document
	agent *agent.Agent
	store *store.Store

	hostEP  *channel.Endpoint
	agentEP *channel.Endpoint
	log     *slog.Logger
}

// SessionOption configures a session at build time.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	hostOrigin  string
	agentOrigin string
	route       string
	log         *slog.Logger
	raster      raster.Capturer
	styles      raster.StyleResolver
	sheets      agent.SheetLoader
}

// WithOrigins sets the two origins of the trust boundary. They default to
// distinct localhost origins.
func WithOrigins(host, agent string) SessionOption {
	return func(c *sessionConfig) { c.hostOrigin, c.agentOrigin = host, agent }
}

// WithRoute sets the route the agent reports for the page.
func WithRoute(route string) SessionOption {
	return func(c *sessionConfig) { c.route = route }
}

// WithRasterBackend attaches a screenshot capturer.
func WithRasterBackend(r raster.Capturer) SessionOption {
	return func(c *sessionConfig) { c.raster = r }
}

// WithStyleBackend attaches a computed-style resolver.
func WithStyleBackend(r raster.StyleResolver) SessionOption {
	return func(c *sessionConfig) { c.styles = r }
}

// WithSheetLoader lets screenshot sanitization inline linked stylesheets.
func WithSheetLoader(l agent.SheetLoader) SessionOption {
	return func(c *sessionConfig) { c.sheets = l }
}

// WithSessionLogger sets the logger for both session halves.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.log = l }
}

// NewSession parses pageHTML and wires an agent and a store over an
// in-process channel. Start must be called to announce agent readiness.
func NewSession(pageHTML string, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		hostOrigin:  "http://localhost:3001",
		agentOrigin: "http://localhost:3000",
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc, err := dom.ParseString(pageHTML)
	if err != nil {
		return nil, err
	}

	s := &Session{doc: doc, log: cfg.log}

	hostT, agentT := channel.Pair(cfg.hostOrigin, cfg.agentOrigin)

	s.store = store.New(func(cmd protocol.Command) {
		if err := s.hostEP.SendCommand(cmd); err != nil {
			cfg.log.Warn("inspect: command dropped", "action", cmd.Action(), "err", err)
		}
	}, store.WithLogger(cfg.log))

	agentOpts := []agent.Option{
		agent.WithLogger(cfg.log),
		agent.WithRoute(cfg.route),
	}
	if cfg.raster != nil {
		agentOpts = append(agentOpts, agent.WithRaster(cfg.raster))
	}
	if cfg.styles != nil {
		agentOpts = append(agentOpts, agent.WithStyleResolver(cfg.styles))
	}
	if cfg.sheets != nil {
		agentOpts = append(agentOpts, agent.WithSheetLoader(cfg.sheets))
	}
	s.agent = agent.New(doc, func(ev protocol.Event) {
		if err := s.agentEP.SendEvent(ev); err != nil {
			cfg.log.Warn("inspect: event dropped", "action", ev.Action(), "err", err)
		}
	}, agentOpts...)

	// Each endpoint expects frames from the opposite context's origin.
	s.hostEP = channel.NewEndpoint(hostT, cfg.agentOrigin,
		channel.WithLogger(cfg.log),
		channel.OnEvent(s.store.HandleEvent),
	)
	s.agentEP = channel.NewEndpoint(agentT, cfg.hostOrigin,
		channel.WithLogger(cfg.log),
		channel.OnCommand(func(cmd protocol.Command) {
			s.agent.HandleCommand(context.Background(), cmd)
		}),
	)

	return s, nil
}

// Start announces agent readiness, which prompts the store to push its
// desired mode across.
func (s *Session) Start() {
	s.agent.Start()
}

// Store returns the host half.
func (s *Session) Store() *store.Store { return s.store }

// Click simulates a pointer click on the element selector resolves to.
// Unresolvable selectors are ignored, like clicks on empty space.
func (s *Session) Click(selector string) {
	if n := s.doc.Query(selector); n != nil {
		s.agent.Click(n)
	}
}

// Hover simulates a pointer-over on the element selector resolves to.
func (s *Session) Hover(selector string) {
	if n := s.doc.Query(selector); n != nil {
		s.agent.Hover(n)
	}
}

// PageHTML renders the document in its current state, edits included.
func (s *Session) PageHTML() string {
	return dom.OuterHTML(s.doc.Root)
}

// Close tears down both channel endpoints.
func (s *Session) Close() error {
	err := s.hostEP.Close()
	if err2 := s.agentEP.Close(); err == nil {
		err = err2
	}
	return err
}
