// Package connectivity dispatches pagesnap's messaging actions
// (captureFullPage, getScreenshot, keepAlive, ...) by name.
//
// Handlers are registered locally by the coordinator. A routes table in
// SQLite can redirect an action to a remote pagesnap over HTTP, or turn it
// into a no-op, without a restart:
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	coordinator.RegisterConnectivity(router)
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "captureFullPage", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic action: JSON bytes in, JSON bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. The close
// function, which may be nil, runs when the route is replaced or removed.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

type route struct {
	Action   string
	Strategy string
	Endpoint string
	Config   json.RawMessage
}

func (rt route) fingerprint() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remoteEntry struct {
	handler Handler
	close   func()
}

// Router dispatches actions. Safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	local     map[string]Handler
	remote    map[string]remoteEntry
	routes    map[string]route
	factories map[string]TransportFactory
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		local:     make(map[string]Handler),
		remote:    make(map[string]remoteEntry),
		routes:    make(map[string]route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers the in-process handler for an action,
// replacing any previous one.
func (r *Router) RegisterLocal(action string, h Handler) {
	r.mu.Lock()
	r.local[action] = h
	r.mu.Unlock()
}

// RegisterTransport registers a factory for a route strategy ("http").
func (r *Router) RegisterTransport(strategy string, f TransportFactory) {
	r.mu.Lock()
	r.factories[strategy] = f
	r.mu.Unlock()
}

// Actions lists the actions with a local handler, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.local))
	for a := range r.local {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Call dispatches an action. A noop route succeeds with a nil response, a
// remote route wins over the local handler, and an action with neither is
// an *ErrActionNotFound.
func (r *Router) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	entry, hasRemote := r.remote[action]
	h := r.local[action]
	rt, hasRoute := r.routes[action]
	r.mu.RUnlock()

	if hasRoute && rt.Strategy == "noop" {
		r.logger.DebugContext(ctx, "connectivity: noop", "action", action)
		return nil, nil
	}
	if hasRemote {
		r.logger.DebugContext(ctx, "connectivity: remote", "action", action, "endpoint", rt.Endpoint)
		return entry.handler(ctx, payload)
	}
	if h != nil {
		return h(ctx, payload)
	}
	return nil, &ErrActionNotFound{Action: action}
}

// Reload rebuilds remote handlers from the routes table. Unchanged routes
// keep their handler; replaced or removed ones are closed.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT action, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes`)
	if err != nil {
		return fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	next := make(map[string]route)
	for rows.Next() {
		var rt route
		var cfg string
		if err := rows.Scan(&rt.Action, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		next[rt.Action] = rt
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("connectivity: rows: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]remoteEntry, len(next))
	for name, rt := range next {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.fingerprint() == rt.fingerprint() {
			if e, ok := r.remote[name]; ok {
				entries[name] = e
				continue
			}
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: route skipped", "error", &ErrNoFactory{Action: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: route skipped", "error",
				&ErrFactoryFailed{Action: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		entries[name] = remoteEntry{handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "action", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remote {
		if old.close == nil {
			continue
		}
		if _, kept := entries[name]; !kept || next[name].fingerprint() != r.routes[name].fingerprint() {
			old.close()
		}
	}

	r.remote = entries
	r.routes = next
	r.logger.Debug("connectivity: routes reloaded", "total", len(next), "remote", len(entries))
	return nil
}

// Close shuts down every remote handler.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.remote {
		if e.close != nil {
			e.close()
		}
	}
	r.remote = make(map[string]remoteEntry)
	r.routes = make(map[string]route)
	return nil
}
