package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/protocol"
)

const (
	// DefaultListenAddr is the encrypted broadcast port. Version 3.1 devices
	// broadcast plaintext on 6666; that port is not supported.
	DefaultListenAddr = ":6667"

	// DefaultReadTimeout bounds how long a read blocks before the listener
	// checks for cancellation.
	DefaultReadTimeout = 2 * time.Second

	// DefaultReopenDelay is the wait before rebinding after a socket error.
	DefaultReopenDelay = 5 * time.Second

	maxDatagramSize = 4096
)

// announcement is the JSON body of a UDP broadcast.
type announcement struct {
	IP         string `json:"ip"`
	GwID       string `json:"gwId"`
	Active     int    `json:"active"`
	Ability    int    `json:"ability"`
	Mode       int    `json:"mode"`
	Encrypt    bool   `json:"encrypt"`
	ProductKey string `json:"productKey"`
	Version    string `json:"version"`
}

// Listener receives device announcements and records them in a Registry.
type Listener struct {
	// Addr is the UDP address to bind
	Addr string

	// ReadTimeout is the socket read deadline
	ReadTimeout time.Duration

	// ReopenDelay is the wait before rebinding after an error
	ReopenDelay time.Duration

	registry *Registry
	codec    *protocol.Codec
}

// NewListener creates a listener with default settings that feeds registry.
func NewListener(registry *Registry) *Listener {
	return &Listener{
		Addr:        DefaultListenAddr,
		ReadTimeout: DefaultReadTimeout,
		ReopenDelay: DefaultReopenDelay,
		registry:    registry,
		codec:       protocol.NewDiscoveryCodec(),
	}
}

// Run binds the listener and serves until ctx is cancelled. Socket errors
// close the socket and rebind it after ReopenDelay. Run returns nil on
// cancellation.
func (l *Listener) Run(ctx context.Context) error {
	for {
		conn, err := net.ListenPacket("udp4", l.Addr)
		if err != nil {
			logging.Warn("Failed to bind discovery socket",
				zap.String("addr", l.Addr),
				zap.Error(err))
		} else {
			logging.Info("Listening for device broadcasts", zap.String("addr", conn.LocalAddr().String()))
			err = l.Serve(ctx, conn)
			conn.Close()
			if err != nil {
				logging.Warn("Discovery socket failed, reopening",
					zap.Duration("delay", l.ReopenDelay),
					zap.Error(err))
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.ReopenDelay):
		}
	}
}

// Serve reads datagrams from conn until ctx is cancelled or a socket error
// occurs. It does not close conn. It returns nil on cancellation.
func (l *Listener) Serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.ReadTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read datagram: %w", err)
		}

		if err := l.HandlePacket(buf[:n], from); err != nil {
			logging.Debug("Ignoring datagram",
				zap.Stringer("from", from),
				zap.Int("length", n),
				zap.Error(err))
		}
	}
}

// HandlePacket decodes one datagram and upserts every announcement in it.
// from supplies the device address when the announcement omits one.
func (l *Listener) HandlePacket(data []byte, from net.Addr) error {
	msgs, decodeErr := l.codec.Decode(data)
	errs := []error{decodeErr}

	for _, msg := range msgs {
		rec, err := parseAnnouncement(msg, from)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		l.registry.Upsert(rec)
	}

	return errors.Join(errs...)
}

func parseAnnouncement(msg protocol.Message, from net.Addr) (DeviceRecord, error) {
	var a announcement
	if err := msg.Unmarshal(&a); err != nil {
		return DeviceRecord{}, err
	}
	if a.GwID == "" {
		return DeviceRecord{}, fmt.Errorf("announcement without gwId: %s", msg.Text)
	}

	ip := a.IP
	if ip == "" {
		if ua, ok := from.(*net.UDPAddr); ok {
			ip = ua.IP.String()
		}
	}

	return DeviceRecord{
		ID:         a.GwID,
		IP:         ip,
		Version:    a.Version,
		ProductKey: a.ProductKey,
		Encrypted:  a.Encrypt,
		Active:     a.Active,
		Ability:    a.Ability,
		Mode:       a.Mode,
	}, nil
}
