package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/queue"
	"github.com/muurk/tuyalink/internal/session"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "tuya"

// ErrBadCommand is returned for command bodies that do not decode.
var ErrBadCommand = errors.New("bridge: malformed command")

// Sink receives every event. It runs on engine goroutines and must not
// block.
type Sink func(Event)

// Command is the body of a set request.
type Command struct {
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`
}

// Bridge translates engine activity into Events.
type Bridge struct {
	eng    *engine.Engine
	prefix string
	now    func() time.Time

	mu       sync.Mutex
	profiles map[string]dps.Profile
	states   map[string]*dps.State
	sinks    []Sink

	subID    uuid.UUID
	attached atomic.Bool
}

// New creates a bridge for eng. Nothing is delivered until Attach.
func New(eng *engine.Engine, prefix string) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bridge{
		eng:      eng,
		prefix:   prefix,
		now:      time.Now,
		profiles: make(map[string]dps.Profile),
		states:   make(map[string]*dps.State),
	}
}

// Prefix returns the subject prefix.
func (b *Bridge) Prefix() string {
	return b.prefix
}

// SetProfile sets the data point profile for a device. Devices without one
// use the default profile.
func (b *Bridge) SetProfile(id string, p dps.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[id] = p
	delete(b.states, id)
}

// Profile returns the profile used for id.
func (b *Bridge) Profile(id string) dps.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profileLocked(id)
}

func (b *Bridge) profileLocked(id string) dps.Profile {
	if p, ok := b.profiles[id]; ok {
		return p
	}
	p, _ := dps.Lookup(dps.DefaultProfile)
	return p
}

func (b *Bridge) state(id string) *dps.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[id]
	if !ok {
		st = dps.NewState(b.profileLocked(id))
		b.states[id] = st
	}
	return st
}

// Snapshot returns the last known property values of id.
func (b *Bridge) Snapshot(id string) map[string]any {
	return b.state(id).Snapshot()
}

// AddSink registers a sink. Add sinks before Attach so the registry replay
// reaches them.
func (b *Bridge) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Attach starts translating engine activity. Devices already in the
// registry are reported as found.
func (b *Bridge) Attach() {
	if !b.attached.CompareAndSwap(false, true) {
		return
	}
	b.eng.OnSessionEvent(b.onSession)
	b.subID = b.eng.Registry().Subscribe(discovery.MatchAll(), b.onDevice)
}

// Detach stops delivery.
func (b *Bridge) Detach() {
	if !b.attached.CompareAndSwap(true, false) {
		return
	}
	b.eng.Registry().Unsubscribe(b.subID)
}

func (b *Bridge) emit(ev Event) {
	if !b.attached.Load() {
		return
	}
	ev.Time = b.now()

	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	for _, s := range sinks {
		s(ev)
	}
}

func (b *Bridge) onDevice(ev discovery.Event) {
	typ := TypeFound
	if ev.Kind == discovery.DeviceUpdated {
		typ = TypeUpdated
	}
	b.emit(Event{Type: typ, DeviceID: ev.Record.ID, Device: NewDeviceInfo(ev.Record)})
}

func (b *Bridge) onSession(se engine.SessionEvent) {
	id := se.DeviceID

	switch ev := se.Event.(type) {
	case session.ConnectedEvent:
		b.emit(Event{Type: TypeConnected, DeviceID: id})
	case session.DisconnectedEvent:
		b.emit(Event{Type: TypeDisconnected, DeviceID: id})
	case session.ConnectionError:
		b.emit(Event{Type: TypeError, DeviceID: id, Error: ev.Err.Error()})
	case session.MessageReceived:
		status, err := dps.ParseStatus(ev.Message)
		if err != nil {
			logging.Debug("Ignoring undecodable message",
				zap.String("device_id", id),
				zap.Stringer("kind", ev.Message.Kind),
				zap.Error(err))
			return
		}
		if len(status.DPS) == 0 {
			return
		}
		b.state(id).Apply(status, func(c dps.Change) {
			out := Event{Type: TypeState, DeviceID: id, Property: c.Property.Name, Value: c.Value}
			if c.Known {
				out.Previous = c.Previous
			}
			b.emit(out)
		})
	}
}

// HandleCommand decodes a set request for id and queues it on the device.
func (b *Bridge) HandleCommand(id string, data []byte) (queue.Result, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return queue.Full, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return b.Apply(id, cmd)
}

// Apply queues cmd on id.
func (b *Bridge) Apply(id string, cmd Command) (queue.Result, error) {
	if cmd.Property == "" || len(cmd.Value) == 0 {
		return queue.Full, fmt.Errorf("%w: property and value are required", ErrBadCommand)
	}
	return b.Set(id, cmd.Property, commandValue(cmd.Value))
}

// Set queues a write of property on id. input is in the profile's user
// form, for example "on", "50%" or "ff8000".
func (b *Bridge) Set(id, property, input string) (queue.Result, error) {
	item, err := b.Profile(id).Command(id, property, input, b.now())
	if err != nil {
		return queue.Full, err
	}
	return b.eng.Send(id, item)
}

// commandValue accepts both JSON strings and bare literals such as true
// or 0.5.
func commandValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
