package engine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testKey = []byte("0123456789abcdef")

// device accepts one connection at a time and records every frame kind it
// receives.
type device struct {
	ln    net.Listener
	codec *protocol.Codec
	kinds chan protocol.Message
	wg    sync.WaitGroup

	mu    sync.Mutex
	conns []net.Conn
}

func newDevice(t *testing.T) *device {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	codec, err := protocol.NewCodec(protocol.Version, testKey)
	require.NoError(t, err)

	d := &device{ln: ln, codec: codec, kinds: make(chan protocol.Message, 64)}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			d.mu.Lock()
			d.conns = append(d.conns, conn)
			d.mu.Unlock()
			d.wg.Add(1)
			go d.serve(conn)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		d.mu.Lock()
		for _, c := range d.conns {
			c.Close()
		}
		d.mu.Unlock()
		d.wg.Wait()
	})
	return d
}

func (d *device) serve(conn net.Conn) {
	defer d.wg.Done()
	buf := make([]byte, 1024)
	var rx []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		rx = append(rx, buf[:n]...)
		msgs, used, _ := d.codec.DecodeStream(rx)
		rx = append(rx[:0], rx[used:]...)
		for _, m := range msgs {
			d.kinds <- m
		}
	}
}

func (d *device) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *device) expect(t *testing.T, kind protocol.CommandKind) protocol.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-d.kinds:
			if m.Kind == kind {
				return m
			}
		case <-timeout:
			t.Fatalf("device did not receive %s", kind)
			return protocol.Message{}
		}
	}
}

func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return e
}

func testConfig(d *device) Config {
	cfg := DefaultConfig()
	cfg.DiscoveryAddr = ""
	cfg.PollInterval = 20 * time.Millisecond
	cfg.Session.Port = d.port()
	cfg.Session.RetryInterval = 20 * time.Millisecond
	return cfg
}

func localDevice() discovery.DeviceRecord {
	return discovery.DeviceRecord{ID: "bf01", IP: "127.0.0.1", Version: "3.3"}
}

func TestOpenQueriesStatus(t *testing.T) {
	d := newDevice(t)
	e := startEngine(t, testConfig(d))

	e.Registry().Upsert(localDevice())
	e.SetLocalKey("bf01", testKey)

	s, err := e.Open("bf01")
	require.NoError(t, err)

	query := d.expect(t, protocol.CommandDPQuery)
	assert.JSONEq(t, `{"gwId":"bf01","devId":"bf01"}`, query.Text)

	again, err := e.Open("bf01")
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestOpenErrors(t *testing.T) {
	e := New(Config{})

	_, err := e.Open("missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	e.Registry().Upsert(localDevice())
	_, err = e.Open("bf01")
	assert.ErrorIs(t, err, session.ErrMissingKey)
}

func TestSendAndEvents(t *testing.T) {
	d := newDevice(t)
	e := startEngine(t, testConfig(d))

	var mu sync.Mutex
	var names []string
	e.OnSessionEvent(func(ev SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, ev.DeviceID+":"+ev.Event.Name())
	})

	rec := localDevice()
	rec.LocalKey = testKey
	e.AddDevice(rec)

	profile, err := dps.Lookup("powerplug")
	require.NoError(t, err)
	item, err := profile.Command("bf01", "power", "on", time.Now())
	require.NoError(t, err)

	_, err = e.Send("bf01", item)
	require.NoError(t, err)

	msg := d.expect(t, protocol.CommandControl)
	assert.Contains(t, msg.Text, `"dps":{"1":true}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) > 0 && names[0] == "bf01:connected"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, e.reactor.Len())

	e.Close("bf01")
	_, ok := e.Session("bf01")
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return e.reactor.Len() == 0 && names[len(names)-1] == "bf01:disconnected"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAutoOpen(t *testing.T) {
	d := newDevice(t)
	cfg := testConfig(d)
	cfg.AutoOpen = true
	e := startEngine(t, cfg)

	e.SetLocalKey("bf01", testKey)
	e.Registry().Upsert(localDevice())

	d.expect(t, protocol.CommandDPQuery)
	assert.Len(t, e.Sessions(), 1)
}

func TestRetargetOnAddressChange(t *testing.T) {
	d := newDevice(t)
	cfg := testConfig(d)
	cfg.IPPolicy = discovery.IPPolicyRefresh
	e := startEngine(t, cfg)

	rec := localDevice()
	rec.LocalKey = testKey
	e.AddDevice(rec)

	s, err := e.Open("bf01")
	require.NoError(t, err)
	d.expect(t, protocol.CommandDPQuery)

	moved := localDevice()
	moved.IP = "127.0.0.3"
	e.Registry().Upsert(moved)

	require.Eventually(t, func() bool {
		host, _, _ := net.SplitHostPort(s.Addr())
		return host == "127.0.0.3"
	}, 2*time.Second, 5*time.Millisecond)
}
