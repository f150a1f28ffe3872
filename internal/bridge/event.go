package bridge

import (
	"encoding/json"
	"time"

	"github.com/muurk/tuyalink/internal/discovery"
)

// Event types.
const (
	TypeFound        = "found"
	TypeUpdated      = "updated"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeError        = "error"
	TypeState        = "state"
)

// Event is the JSON form of one engine occurrence.
type Event struct {
	Type     string      `json:"type"`
	DeviceID string      `json:"device_id"`
	Time     time.Time   `json:"time"`
	Device   *DeviceInfo `json:"device,omitempty"`
	Property string      `json:"property,omitempty"`
	Value    any         `json:"value,omitempty"`
	Previous any         `json:"previous,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// DeviceInfo is the public part of a registry record. The local key is
// never included.
type DeviceInfo struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Version    string    `json:"version"`
	ProductKey string    `json:"product_key,omitempty"`
	Encrypted  bool      `json:"encrypted"`
	HasKey     bool      `json:"has_key"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// NewDeviceInfo converts a registry record.
func NewDeviceInfo(rec discovery.DeviceRecord) *DeviceInfo {
	return &DeviceInfo{
		ID:         rec.ID,
		IP:         rec.IP,
		Version:    rec.Version,
		ProductKey: rec.ProductKey,
		Encrypted:  rec.Encrypted,
		HasKey:     rec.HasKey(),
		LastSeen:   rec.LastSeen,
	}
}

// Subject returns the NATS subject for the event under prefix.
func (e Event) Subject(prefix string) string {
	return DeviceSubject(prefix, e.DeviceID, e.Type)
}

// Marshal returns the JSON encoding of the event.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DeviceSubject returns <prefix>.device.<id>.<suffix>.
func DeviceSubject(prefix, id, suffix string) string {
	return prefix + ".device." + id + "." + suffix
}
