package dps

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/queue"
)

// controlPayload is the body of a CONTROL frame.
type controlPayload struct {
	DevID string         `json:"devId"`
	DPS   map[string]any `json:"dps"`
	T     int64          `json:"t"`
}

// statusQuery is the body of a DP_QUERY frame.
type statusQuery struct {
	GwID  string `json:"gwId"`
	DevID string `json:"devId"`
}

// Status is a decoded STATUS or CONTROL reply body.
type Status struct {
	DevID string         `json:"devId"`
	DPS   map[string]any `json:"dps"`
	T     int64          `json:"t"`
}

// ConflictKey returns the queue conflict key for a write to dp on devID.
func ConflictKey(devID, dp string) string {
	return devID + "/" + dp
}

// Control builds a CONTROL item writing values to devID. Values are keyed
// by data point and must already be in wire form. The conflict key is that
// of primaryDP.
func Control(devID, primaryDP string, values map[string]any, now time.Time) (queue.Item, error) {
	payload, err := json.Marshal(controlPayload{DevID: devID, DPS: values, T: now.Unix()})
	if err != nil {
		return queue.Item{}, fmt.Errorf("failed to encode control payload: %w", err)
	}
	return queue.Item{
		Payload:     payload,
		Kind:        protocol.CommandControl,
		ConflictKey: ConflictKey(devID, primaryDP),
	}, nil
}

// Command builds the CONTROL item that sets property to input on devID.
func (p Profile) Command(devID, property, input string, now time.Time) (queue.Item, error) {
	prop, ok := p.Property(property)
	if !ok {
		return queue.Item{}, fmt.Errorf("%w: %s has no %q", ErrUnknownProperty, p.Name, property)
	}

	wire, err := prop.Encode(input)
	if err != nil {
		return queue.Item{}, err
	}

	values := map[string]any{prop.DP: wire}
	if prop.implies != nil {
		for dp, v := range prop.implies(wire) {
			values[dp] = v
		}
	}
	return Control(devID, prop.DP, values, now)
}

// StatusQuery builds the DP_QUERY item asking devID for all data points.
func StatusQuery(devID string) queue.Item {
	payload, _ := json.Marshal(statusQuery{GwID: devID, DevID: devID})
	return queue.Item{
		Payload:     payload,
		Kind:        protocol.CommandDPQuery,
		ConflictKey: ConflictKey(devID, "query"),
	}
}

// ParseStatus decodes the dps body of a message. Messages without a dps
// object return an empty Status and no error.
func ParseStatus(msg protocol.Message) (Status, error) {
	var st Status
	if !msg.IsText() {
		return st, nil
	}
	if err := msg.Unmarshal(&st); err != nil {
		return Status{}, err
	}
	return st, nil
}
