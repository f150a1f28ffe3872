package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/queue"
	"github.com/muurk/tuyalink/internal/session"
)

var testKey = []byte("0123456789abcdef")

type published struct {
	subject string
	event   Event
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, event: ev})
	return p.err
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestBridge(t *testing.T) (*Bridge, *engine.Engine, *fakePublisher) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.DiscoveryAddr = ""
	eng := engine.New(cfg)

	b := New(eng, "")
	b.now = func() time.Time { return time.Unix(1700000000, 0) }
	pub := &fakePublisher{}
	b.AddSink(NATSSink(pub, b.Prefix()))
	return b, eng, pub
}

func statusEvent(id, text string) engine.SessionEvent {
	return engine.SessionEvent{
		DeviceID: id,
		Event: session.MessageReceived{Message: protocol.Message{
			Kind:    protocol.CommandStatus,
			Payload: []byte(text),
			Text:    text,
		}},
	}
}

func TestAttachReplaysRegistry(t *testing.T) {
	b, eng, pub := newTestBridge(t)
	eng.AddDevice(discovery.DeviceRecord{ID: "bf01", IP: "192.168.1.20", Version: "3.3", LocalKey: testKey})

	b.Attach()
	defer b.Detach()

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tuya.device.bf01.found", msgs[0].subject)
	require.NotNil(t, msgs[0].event.Device)
	assert.Equal(t, "192.168.1.20", msgs[0].event.Device.IP)
	assert.True(t, msgs[0].event.Device.HasKey)
}

func TestRegistryUpdates(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.DiscoveryAddr = ""
	cfg.IPPolicy = discovery.IPPolicyRefresh
	eng := engine.New(cfg)
	b := New(eng, "home")
	pub := &fakePublisher{}
	b.AddSink(NATSSink(pub, b.Prefix()))
	b.Attach()
	defer b.Detach()

	eng.Registry().Upsert(discovery.DeviceRecord{ID: "bf01", IP: "192.168.1.20", Version: "3.3"})
	eng.Registry().Upsert(discovery.DeviceRecord{ID: "bf01", IP: "192.168.1.21", Version: "3.3"})

	msgs := pub.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "home.device.bf01.found", msgs[0].subject)
	assert.Equal(t, "home.device.bf01.updated", msgs[1].subject)
	assert.Equal(t, "192.168.1.21", msgs[1].event.Device.IP)
}

func TestSessionEvents(t *testing.T) {
	b, _, pub := newTestBridge(t)
	b.Attach()
	defer b.Detach()

	b.onSession(engine.SessionEvent{DeviceID: "bf01", Event: session.ConnectedEvent{}})
	b.onSession(engine.SessionEvent{DeviceID: "bf01", Event: session.ConnectionError{Err: session.ErrHeartbeatTimeout}})
	b.onSession(engine.SessionEvent{DeviceID: "bf01", Event: session.DisconnectedEvent{}})

	msgs := pub.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, TypeConnected, msgs[0].event.Type)
	assert.Equal(t, TypeError, msgs[1].event.Type)
	assert.Equal(t, session.ErrHeartbeatTimeout.Error(), msgs[1].event.Error)
	assert.Equal(t, "tuya.device.bf01.disconnected", msgs[2].subject)
	assert.Equal(t, int64(1700000000), msgs[2].event.Time.Unix())
}

func TestStateChanges(t *testing.T) {
	b, _, pub := newTestBridge(t)
	colorled, err := dps.Lookup("colorled")
	require.NoError(t, err)
	b.SetProfile("bf01", colorled)
	b.Attach()
	defer b.Detach()

	b.onSession(statusEvent("bf01", `{"devId":"bf01","dps":{"1":true,"3":255}}`))
	// Unchanged power, changed brightness.
	b.onSession(statusEvent("bf01", `{"devId":"bf01","dps":{"1":true,"3":0}}`))

	msgs := pub.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, "tuya.device.bf01.state", msgs[0].subject)
	assert.Equal(t, "power", msgs[0].event.Property)
	assert.Equal(t, true, msgs[0].event.Value)
	assert.Nil(t, msgs[0].event.Previous)

	assert.Equal(t, "brightness", msgs[2].event.Property)
	assert.Equal(t, 0.0, msgs[2].event.Value)
	assert.Equal(t, 1.0, msgs[2].event.Previous)

	snap := b.Snapshot("bf01")
	assert.Equal(t, true, snap["power"])
}

func TestIgnoredMessages(t *testing.T) {
	b, _, pub := newTestBridge(t)
	b.Attach()
	defer b.Detach()

	b.onSession(statusEvent("bf01", "data format error"))
	b.onSession(statusEvent("bf01", `{"devId":"bf01"}`))
	b.onSession(engine.SessionEvent{DeviceID: "bf01", Event: session.MessageReceived{Message: protocol.Message{Kind: protocol.CommandHeartbeat}}})

	assert.Empty(t, pub.all())
}

func TestDetachStopsDelivery(t *testing.T) {
	b, eng, pub := newTestBridge(t)
	b.Attach()
	b.Detach()
	b.Detach()

	eng.Registry().Upsert(discovery.DeviceRecord{ID: "bf02", IP: "192.168.1.30", Version: "3.3"})
	b.onSession(engine.SessionEvent{DeviceID: "bf02", Event: session.ConnectedEvent{}})

	assert.Empty(t, pub.all())
}

func TestPublishFailureIsLogged(t *testing.T) {
	b, _, pub := newTestBridge(t)
	pub.err = errors.New("nats: connection closed")
	b.Attach()
	defer b.Detach()

	assert.NotPanics(t, func() {
		b.onSession(engine.SessionEvent{DeviceID: "bf01", Event: session.ConnectedEvent{}})
	})
}

func TestHandleCommand(t *testing.T) {
	b, eng, _ := newTestBridge(t)
	eng.AddDevice(discovery.DeviceRecord{ID: "bf01", IP: "127.0.0.1", Version: "3.3", LocalKey: testKey})
	t.Cleanup(func() { eng.Close("bf01") })

	res, err := b.HandleCommand("bf01", []byte(`{"property":"power","value":"on"}`))
	require.NoError(t, err)
	assert.Equal(t, queue.Enqueued, res)

	// A bare literal replaces the pending write to the same data point.
	res, err = b.HandleCommand("bf01", []byte(`{"property":"power","value":false}`))
	require.NoError(t, err)
	assert.Equal(t, queue.Coalesced, res)

	s, ok := eng.Session("bf01")
	require.True(t, ok)
	assert.Equal(t, 1, s.QueueLen())
}

func TestHandleCommandErrors(t *testing.T) {
	b, eng, _ := newTestBridge(t)
	eng.AddDevice(discovery.DeviceRecord{ID: "bf01", IP: "127.0.0.1", Version: "3.3", LocalKey: testKey})
	t.Cleanup(func() { eng.Close("bf01") })

	tests := []struct {
		name    string
		id      string
		body    string
		wantErr error
	}{
		{name: "not json", id: "bf01", body: `power on`, wantErr: ErrBadCommand},
		{name: "missing value", id: "bf01", body: `{"property":"power"}`, wantErr: ErrBadCommand},
		{name: "unknown property", id: "bf01", body: `{"property":"volume","value":"low"}`, wantErr: dps.ErrUnknownProperty},
		{name: "unknown device", id: "bf99", body: `{"property":"power","value":"on"}`, wantErr: engine.ErrUnknownDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.HandleCommand(tt.id, []byte(tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDeviceFromSubject(t *testing.T) {
	b := New(nil, "tuya")

	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"tuya.device.bf01.set", "bf01", true},
		{"tuya.device..set", "", false},
		{"tuya.device.bf01.state", "", false},
		{"other.device.bf01.set", "", false},
		{"tuya.device.a.b.set", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got, ok := b.deviceFromSubject(tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleMsgReply(t *testing.T) {
	b, eng, _ := newTestBridge(t)
	eng.AddDevice(discovery.DeviceRecord{ID: "bf01", IP: "127.0.0.1", Version: "3.3", LocalKey: testKey})
	t.Cleanup(func() { eng.Close("bf01") })

	assert.Equal(t, "enqueued", b.handleMsg("tuya.device.bf01.set", []byte(`{"property":"power","value":"on"}`)))
	assert.Contains(t, b.handleMsg("tuya.device.bf01.set", []byte(`nope`)), "error:")
	assert.Equal(t, "error: bad subject", b.handleMsg("tuya.bf01", nil))
}
