package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/muurk/tuyalink/internal/cipher"
	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/session"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config represents the entire configuration file.
type Config struct {
	Version int                `yaml:"version"`
	Devices map[string]*Device `yaml:"devices,omitempty"` // Keyed by gwId
	Engine  *Engine            `yaml:"engine,omitempty"`
	NATS    *NATS              `yaml:"nats,omitempty"`
	HTTP    *HTTP              `yaml:"http,omitempty"`
}

// Device holds what the network does not tell us about a device.
type Device struct {
	Name     string `yaml:"name,omitempty"`    // User-friendly name
	LocalKey string `yaml:"local_key"`         // 16-character device key
	Version  string `yaml:"version,omitempty"` // Protocol version, defaults to 3.3
	IP       string `yaml:"ip,omitempty"`      // Fixed address when broadcasts do not arrive
	Profile  string `yaml:"profile,omitempty"` // Data point profile, defaults to powerplug
}

// Engine tunes discovery and sessions. Zero values take the defaults.
type Engine struct {
	DiscoveryAddr     string        `yaml:"discovery_addr,omitempty"`
	DevicePort        int           `yaml:"device_port,omitempty"`
	IPPolicy          string        `yaml:"ip_policy,omitempty"` // keep or refresh
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	MissedHeartbeats  int           `yaml:"missed_heartbeats,omitempty"`
	QueueSize         int           `yaml:"queue_size,omitempty"`
	RetryInterval     time.Duration `yaml:"retry_interval,omitempty"`
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	Cooldown          time.Duration `yaml:"cooldown,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
}

// NATS configures the event bridge.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// HTTP configures the event feed server.
type HTTP struct {
	Addr      string `yaml:"addr"`
	Advertise bool   `yaml:"advertise"` // Announce the feed over mDNS
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Devices: make(map[string]*Device),
		Engine: &Engine{
			DiscoveryAddr:     discovery.DefaultListenAddr,
			DevicePort:        discovery.DefaultDevicePort,
			IPPolicy:          discovery.IPPolicyKeep.String(),
			HeartbeatInterval: session.DefaultHeartbeatInterval,
			MissedHeartbeats:  session.DefaultMissedHeartbeats,
			RetryInterval:     session.DefaultRetryInterval,
			MaxRetries:        session.DefaultMaxRetries,
			Cooldown:          session.DefaultCooldown,
			PollInterval:      session.DefaultPollInterval,
		},
	}
}

// Validate checks every device entry and the engine settings.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}

	var errs []error
	for id, d := range c.Devices {
		if d == nil {
			errs = append(errs, fmt.Errorf("device %s: empty entry", id))
			continue
		}
		if len(d.LocalKey) != cipher.KeySize {
			errs = append(errs, fmt.Errorf("device %s: local_key must be %d characters, got %d", id, cipher.KeySize, len(d.LocalKey)))
		}
		if d.Version != "" {
			if err := protocol.CheckVersion(d.Version); err != nil {
				errs = append(errs, fmt.Errorf("device %s: %w", id, err))
			}
		}
		if _, err := dps.Lookup(d.Profile); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", id, err))
		}
	}

	if c.Engine != nil {
		if _, err := discovery.ParseIPPolicy(c.Engine.IPPolicy); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}

	return errors.Join(errs...)
}

// EngineConfig converts the engine settings to an engine.Config.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	e := c.Engine
	if e == nil {
		return cfg, nil
	}

	policy, err := discovery.ParseIPPolicy(e.IPPolicy)
	if err != nil {
		return cfg, err
	}
	cfg.IPPolicy = policy

	if e.DiscoveryAddr != "" {
		cfg.DiscoveryAddr = e.DiscoveryAddr
	}
	if e.PollInterval > 0 {
		cfg.PollInterval = e.PollInterval
	}
	cfg.Session = session.Options{
		Port:              e.DevicePort,
		HeartbeatInterval: e.HeartbeatInterval,
		MissedHeartbeats:  e.MissedHeartbeats,
		QueueSize:         e.QueueSize,
		RetryInterval:     e.RetryInterval,
		MaxRetries:        e.MaxRetries,
		Cooldown:          e.Cooldown,
	}
	return cfg, nil
}

// Record returns the registry record for a configured device. The version
// defaults to 3.3.
func (d *Device) Record(id string) discovery.DeviceRecord {
	version := d.Version
	if version == "" {
		version = protocol.Version
	}
	return discovery.DeviceRecord{
		ID:        id,
		IP:        d.IP,
		Version:   version,
		Encrypted: true,
		LocalKey:  []byte(d.LocalKey),
	}
}

// DisplayName returns the name, or id when no name is set.
func (d *Device) DisplayName(id string) string {
	if d.Name != "" {
		return d.Name
	}
	return id
}

// EnsureDevice returns the entry for id, creating an empty one if needed.
func (c *Config) EnsureDevice(id string) *Device {
	if c.Devices == nil {
		c.Devices = make(map[string]*Device)
	}
	if d, ok := c.Devices[id]; ok {
		return d
	}
	d := &Device{}
	c.Devices[id] = d
	return d
}
