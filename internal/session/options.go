package session

import (
	"time"

	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/queue"
)

// Session defaults.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMissedHeartbeats  = 3
	DefaultRetryInterval     = time.Second
	DefaultMaxRetries        = 3
	DefaultCooldown          = 30 * time.Second
	DefaultDialTimeout       = 5 * time.Second
	DefaultWriteTimeout      = 2 * time.Second
)

// Options configures a Session. Zero fields take the defaults above.
type Options struct {
	// Port is the device TCP port
	Port int

	// HeartbeatInterval is how often a heartbeat is queued
	HeartbeatInterval time.Duration

	// MissedHeartbeats is how many unanswered heartbeats fail the session
	MissedHeartbeats int

	// QueueSize is the outbound queue capacity
	QueueSize int

	// RetryInterval is the first reconnect delay; it doubles per attempt
	RetryInterval time.Duration

	// MaxRetries is how many exponential retries run before Cooldown;
	// negative means none
	MaxRetries int

	// Cooldown is the delay between retries after MaxRetries
	Cooldown time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Handler receives session events
	Handler Handler
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = discovery.DefaultDevicePort
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MissedHeartbeats <= 0 {
		o.MissedHeartbeats = DefaultMissedHeartbeats
	}
	if o.QueueSize <= 0 {
		o.QueueSize = queue.DefaultCapacity
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Handler == nil {
		o.Handler = func(*Session, Event) {}
	}
	return o
}
