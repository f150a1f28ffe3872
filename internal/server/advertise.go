package server

import (
	"fmt"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/version"
)

const (
	// ServiceType is the mDNS service the feed is announced as.
	ServiceType = "_tuyalink._tcp"
	domain      = "local."
)

// advertise registers the feed with mDNS until Shutdown.
func (s *Server) advertise(addr net.Addr) error {
	port, err := portOf(addr)
	if err != nil {
		return fmt.Errorf("failed to determine port: %w", err)
	}

	instance := s.config.Instance
	if instance == "" {
		if instance, err = os.Hostname(); err != nil {
			instance = "tuyalink"
		}
	}

	txt := []string{
		"version=" + version.Version,
		"path=/ws",
	}
	if s.tlsConfig != nil {
		txt = append(txt, "tls=1")
	}

	zc, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}

	s.mu.Lock()
	s.zc = zc
	s.mu.Unlock()

	logging.Info("Advertising event feed",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return nil
}
