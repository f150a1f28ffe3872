package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/logging"
)

const (
	clientName     = "tuyalink"
	reconnectWait  = 2 * time.Second
	connectTimeout = 5 * time.Second
)

// Publisher is the part of *nats.Conn the event sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server. The connection reconnects forever.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logging.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// NATSSink publishes every event to its subject under prefix.
func NATSSink(pub Publisher, prefix string) Sink {
	return func(ev Event) {
		data, err := ev.Marshal()
		if err != nil {
			logging.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
			return
		}
		subject := ev.Subject(prefix)
		if err := pub.Publish(subject, data); err != nil {
			logging.Warn("Failed to publish event",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
}

// Serve accepts set commands from nc until ctx is cancelled. A request
// with a reply subject is answered with the queue result or the error.
func (b *Bridge) Serve(ctx context.Context, nc *nats.Conn) error {
	subject := DeviceSubject(b.prefix, "*", "set")
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := b.handleMsg(msg.Subject, msg.Data)
		if msg.Reply != "" {
			if err := msg.Respond([]byte(reply)); err != nil {
				logging.Warn("Failed to answer command", zap.Error(err))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	logging.Info("Accepting commands", zap.String("subject", subject))
	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil && nc.IsConnected() {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// handleMsg runs one command and returns the reply text.
func (b *Bridge) handleMsg(subject string, data []byte) string {
	id, ok := b.deviceFromSubject(subject)
	if !ok {
		logging.Warn("Ignoring command on unexpected subject", zap.String("subject", subject))
		return "error: bad subject"
	}

	res, err := b.HandleCommand(id, data)
	if err != nil {
		logging.Warn("Command failed",
			zap.String("device_id", id),
			zap.Error(err))
		return "error: " + err.Error()
	}

	logging.Debug("Command queued",
		zap.String("device_id", id),
		zap.Stringer("result", res))
	return res.String()
}

// deviceFromSubject extracts the device id from <prefix>.device.<id>.set.
func (b *Bridge) deviceFromSubject(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, b.prefix+".device.")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ".set")
	if !ok || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}
