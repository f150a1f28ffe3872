package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/logging"
)

// ErrUnknownDevice is returned for operations on an ID that has not been
// registered.
var ErrUnknownDevice = errors.New("discovery: unknown device")

// IPPolicy decides what the registry does when a known device announces
// itself from a new address.
type IPPolicy int

const (
	// IPPolicyKeep keeps the first address forever.
	IPPolicyKeep IPPolicy = iota
	// IPPolicyRefresh updates the address and emits DeviceUpdated.
	IPPolicyRefresh
)

func (p IPPolicy) String() string {
	switch p {
	case IPPolicyKeep:
		return "keep"
	case IPPolicyRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseIPPolicy parses "keep" or "refresh". The empty string is "keep".
func ParseIPPolicy(s string) (IPPolicy, error) {
	switch s {
	case "", "keep":
		return IPPolicyKeep, nil
	case "refresh":
		return IPPolicyRefresh, nil
	default:
		return IPPolicyKeep, fmt.Errorf("invalid ip policy %q (expected keep or refresh)", s)
	}
}

// EventKind tags a registry Event.
type EventKind int

const (
	// DeviceFound is emitted once per device ID, and on replay to new
	// subscribers.
	DeviceFound EventKind = iota
	// DeviceUpdated is emitted when IPPolicyRefresh changes a device's
	// address.
	DeviceUpdated
)

func (k EventKind) String() string {
	switch k {
	case DeviceFound:
		return "found"
	case DeviceUpdated:
		return "updated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a registry notification. Record is a copy owned by the receiver.
type Event struct {
	Kind   EventKind
	Record DeviceRecord
}

// Matcher selects which devices a subscriber hears about.
type Matcher func(DeviceRecord) bool

// MatchID matches a single device.
func MatchID(id string) Matcher {
	return func(r DeviceRecord) bool { return r.ID == id }
}

// MatchAll matches every device.
func MatchAll() Matcher {
	return func(DeviceRecord) bool { return true }
}

type subscription struct {
	match Matcher
	fn    func(Event)
}

// Registry is the set of known devices, keyed by ID. It is safe for
// concurrent use.
//
// Callbacks run synchronously on the goroutine that caused the event, one at
// a time. A callback may read the registry but must not call Upsert or
// Subscribe.
type Registry struct {
	policy IPPolicy
	now    func() time.Time

	// notifyMu serializes mutation plus delivery so a subscriber never sees
	// events out of order or a replay interleaved with a live event.
	notifyMu sync.Mutex

	mu      sync.RWMutex
	devices map[string]*DeviceRecord
	subs    map[uuid.UUID]subscription
}

// NewRegistry creates an empty registry with the given IP policy.
func NewRegistry(policy IPPolicy) *Registry {
	return &Registry{
		policy:  policy,
		now:     time.Now,
		devices: make(map[string]*DeviceRecord),
		subs:    make(map[uuid.UUID]subscription),
	}
}

// Policy returns the registry's IP policy.
func (r *Registry) Policy() IPPolicy {
	return r.policy
}

// Upsert records an announcement. It returns the event delivered to
// subscribers, or false when nothing observable changed.
func (r *Registry) Upsert(rec DeviceRecord) (Event, bool) {
	if rec.ID == "" {
		return Event{}, false
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	ev, changed := r.apply(rec)
	if !changed {
		return Event{}, false
	}

	switch ev.Kind {
	case DeviceFound:
		logging.Info("Device discovered",
			zap.String("device_id", ev.Record.ID),
			zap.String("ip", ev.Record.IP),
			zap.String("version", ev.Record.Version))
	case DeviceUpdated:
		logging.Info("Device address changed",
			zap.String("device_id", ev.Record.ID),
			zap.String("ip", ev.Record.IP))
	}

	r.deliver(ev)
	return ev, true
}

func (r *Registry) apply(rec DeviceRecord) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.devices[rec.ID]
	if !ok {
		stored := rec.Clone()
		stored.LastSeen = now
		r.devices[rec.ID] = &stored
		return Event{Kind: DeviceFound, Record: stored.Clone()}, true
	}

	existing.LastSeen = now
	if rec.IP == "" || rec.IP == existing.IP || r.policy == IPPolicyKeep {
		return Event{}, false
	}

	existing.IP = rec.IP
	return Event{Kind: DeviceUpdated, Record: existing.Clone()}, true
}

func (r *Registry) deliver(ev Event) {
	r.mu.RLock()
	targets := make([]func(Event), 0, len(r.subs))
	for _, s := range r.subs {
		if s.match(ev.Record) {
			targets = append(targets, s.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range targets {
		fn(Event{Kind: ev.Kind, Record: ev.Record.Clone()})
	}
}

// Subscribe registers fn for events on devices selected by match. Every
// already known matching device is replayed as DeviceFound before Subscribe
// returns. The returned ID is passed to Unsubscribe.
func (r *Registry) Subscribe(match Matcher, fn func(Event)) uuid.UUID {
	if match == nil {
		match = MatchAll()
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	id := uuid.New()

	r.mu.Lock()
	r.subs[id] = subscription{match: match, fn: fn}
	var replay []DeviceRecord
	for _, d := range r.devices {
		if match(*d) {
			replay = append(replay, d.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(replay, func(i, j int) bool { return replay[i].ID < replay[j].ID })
	for _, rec := range replay {
		fn(Event{Kind: DeviceFound, Record: rec})
	}

	logging.Debug("Registry subscriber added",
		zap.String("subscription_id", id.String()),
		zap.Int("replayed", len(replay)))
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (r *Registry) Unsubscribe(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return DeviceRecord{}, false
	}
	return d.Clone(), true
}

// All returns copies of every record, sorted by ID.
func (r *Registry) All() []DeviceRecord {
	r.mu.RLock()
	out := make([]DeviceRecord, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLocalKey attaches the device key to a registered device.
func (r *Registry) SetLocalKey(id string, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	d.LocalKey = bytes.Clone(key)
	return nil
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
