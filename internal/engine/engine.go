// Package engine ties discovery, the device registry and device sessions
// together behind one caller-owned object.
//
// An Engine owns a Registry, a discovery Listener, a session Reactor and the
// open Sessions. Run drives the listener and the reactor until the context
// is cancelled. There is no package-level state: two engines in one process
// are independent.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/queue"
	"github.com/muurk/tuyalink/internal/session"
)

// ErrUnknownDevice is returned for devices that are neither discovered nor
// configured.
var ErrUnknownDevice = discovery.ErrUnknownDevice

// Config configures an Engine.
type Config struct {
	// DiscoveryAddr is the UDP address to listen on; empty disables
	// discovery
	DiscoveryAddr string

	// IPPolicy decides whether a device that moves is followed
	IPPolicy discovery.IPPolicy

	// PollInterval bounds the reactor wait
	PollInterval time.Duration

	// Session is the template for every session; its Handler is replaced
	Session session.Options

	// AutoOpen opens a session as soon as a device with a known key is
	// discovered
	AutoOpen bool

	// QueryOnConnect sends a status query whenever a session connects
	QueryOnConnect bool
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	return Config{
		DiscoveryAddr:  discovery.DefaultListenAddr,
		IPPolicy:       discovery.IPPolicyKeep,
		PollInterval:   session.DefaultPollInterval,
		QueryOnConnect: true,
	}
}

// SessionEvent is a session event tagged with its device.
type SessionEvent struct {
	DeviceID string
	Event    session.Event
}

// Engine is the top-level protocol engine.
type Engine struct {
	cfg      Config
	registry *discovery.Registry
	listener *discovery.Listener
	reactor  *session.Reactor

	mu       sync.Mutex
	keys     map[string][]byte
	sessions map[string]*session.Session
	handlers []func(SessionEvent)
}

// New creates an engine. Nothing runs until Run is called.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: discovery.NewRegistry(cfg.IPPolicy),
		reactor:  session.NewReactor(),
		keys:     make(map[string][]byte),
		sessions: make(map[string]*session.Session),
	}
	e.reactor.PollInterval = cfg.PollInterval

	if cfg.DiscoveryAddr != "" {
		e.listener = discovery.NewListener(e.registry)
		e.listener.Addr = cfg.DiscoveryAddr
	}

	e.registry.Subscribe(discovery.MatchAll(), e.onDevice)
	return e
}

// Registry returns the engine's device registry.
func (e *Engine) Registry() *discovery.Registry {
	return e.registry
}

// Run serves discovery and all sessions until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if e.listener != nil {
		g.Go(func() error {
			return e.listener.Run(ctx)
		})
	}
	g.Go(func() error {
		return e.reactor.Run(ctx)
	})

	logging.Info("Engine started",
		zap.String("discovery_addr", e.cfg.DiscoveryAddr),
		zap.Stringer("ip_policy", e.cfg.IPPolicy))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine stopped: %w", err)
	}
	return nil
}

// SetLocalKey records the key for a device, discovered or not.
func (e *Engine) SetLocalKey(id string, key []byte) {
	e.mu.Lock()
	e.keys[id] = bytes.Clone(key)
	e.mu.Unlock()

	// Unknown devices get the key when they are discovered.
	_ = e.registry.SetLocalKey(id, key)
}

// AddDevice registers a device at a fixed address, for networks where
// broadcasts do not arrive.
func (e *Engine) AddDevice(rec discovery.DeviceRecord) {
	if rec.HasKey() {
		e.SetLocalKey(rec.ID, rec.LocalKey)
	}
	e.registry.Upsert(rec)
}

// onDevice runs for every registry event.
func (e *Engine) onDevice(ev discovery.Event) {
	id := ev.Record.ID

	e.mu.Lock()
	key, hasKey := e.keys[id]
	s := e.sessions[id]
	e.mu.Unlock()

	switch ev.Kind {
	case discovery.DeviceFound:
		if hasKey && !ev.Record.HasKey() {
			_ = e.registry.SetLocalKey(id, key)
		}
		if hasKey && e.cfg.AutoOpen && s == nil {
			if _, err := e.Open(id); err != nil {
				logging.Warn("Failed to open session",
					zap.String("device_id", id),
					zap.Error(err))
			}
		}
	case discovery.DeviceUpdated:
		if s != nil {
			s.Retarget(ev.Record.IP)
		}
	}
}

// Open returns the session for id, creating and starting it if needed.
func (e *Engine) Open(id string) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[id]; ok {
		return s, nil
	}

	rec, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if !rec.HasKey() {
		rec.LocalKey = e.keys[id]
	}

	opts := e.cfg.Session
	opts.Handler = e.dispatch
	s, err := session.NewSession(e.reactor, rec, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for %s: %w", id, err)
	}

	e.sessions[id] = s
	s.Start()
	return s, nil
}

// Session returns the open session for id.
func (e *Engine) Session(id string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns every open session.
func (e *Engine) Sessions() []*session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops and forgets the session for id.
func (e *Engine) Close(id string) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if ok {
		s.Stop()
	}
}

// Send queues item on the session for id, opening it if needed.
func (e *Engine) Send(id string, item queue.Item) (queue.Result, error) {
	s, err := e.Open(id)
	if err != nil {
		return queue.Full, err
	}
	return s.SendItem(item), nil
}

// OnSessionEvent registers fn for events from every session. fn runs on
// the reactor goroutine and must not block.
func (e *Engine) OnSessionEvent(fn func(SessionEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Engine) dispatch(s *session.Session, ev session.Event) {
	if _, ok := ev.(session.ConnectedEvent); ok && e.cfg.QueryOnConnect {
		s.SendItem(dps.StatusQuery(s.ID()))
	}

	e.mu.Lock()
	handlers := slices.Clone(e.handlers)
	e.mu.Unlock()

	out := SessionEvent{DeviceID: s.ID(), Event: ev}
	for _, fn := range handlers {
		fn(out)
	}
}
