package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/bridge"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/logging"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8668"

// Config holds the server configuration
type Config struct {
	Addr      string
	CertPath  string // Serve HTTPS when both CertPath and KeyPath are set
	KeyPath   string
	Advertise bool   // Announce the feed over mDNS
	Instance  string // mDNS instance name, defaults to the host name
}

// Server serves the device API and the WebSocket event feed.
type Server struct {
	config    Config
	engine    *engine.Engine
	bridge    *bridge.Bridge
	router    chi.Router
	http      *http.Server
	hub       *hub
	tlsConfig *tls.Config

	mu       sync.Mutex
	listener net.Listener
	zc       *zeroconf.Server
}

// New creates a server for eng. Events reach the feed through b, so New
// must run before b.Attach for the initial device list to be broadcast.
func New(config Config, eng *engine.Engine, b *bridge.Bridge) (*Server, error) {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	var tlsConfig *tls.Config
	if config.CertPath != "" || config.KeyPath != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:    config,
		engine:    eng,
		bridge:    b,
		hub:       newHub(),
		tlsConfig: tlsConfig,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	b.AddSink(s.hub.broadcast)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen opens the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens, serves and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve serves on the socket opened by Listen until ctx is cancelled,
// then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	logging.Info("Starting event feed server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
	)
	if s.tlsConfig != nil {
		logging.Debug("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}

	if s.config.Advertise {
		if err := s.advertise(ln.Addr()); err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down event feed server...")

	s.mu.Lock()
	zc := s.zc
	s.zc = nil
	s.mu.Unlock()
	if zc != nil {
		zc.Shutdown()
	}

	err := s.http.Shutdown(ctx)

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.closeAll()

	done := make(chan struct{})
	go func() {
		s.hub.wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All feed clients closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// ClientCount returns the number of connected feed clients
func (s *Server) ClientCount() int {
	return s.hub.count()
}

func portOf(addr net.Addr) (int, error) {
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
