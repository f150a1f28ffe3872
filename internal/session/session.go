package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/tuyalink/internal/cipher"
	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/queue"
)

var (
	// ErrUnsupportedVersion is returned by NewSession for devices that do
	// not speak protocol 3.3.
	ErrUnsupportedVersion = protocol.ErrUnsupportedVersion

	// ErrMissingKey is returned by NewSession for devices without a local
	// key.
	ErrMissingKey = errors.New("session: device has no local key")

	// ErrKeySize is returned by NewSession for keys that are not 16 bytes.
	ErrKeySize = cipher.ErrKeySize

	// ErrHeartbeatTimeout means too many heartbeats went unanswered.
	ErrHeartbeatTimeout = errors.New("session: heartbeat timeout")

	// ErrPeerClosed means the device closed the connection.
	ErrPeerClosed = errors.New("session: connection closed by device")

	// ErrQueueFull means the outbound queue overflowed while connected.
	ErrQueueFull = errors.New("session: outbound queue full")
)

// HeartbeatConflictKey coalesces pending heartbeats into one.
const HeartbeatConflictKey = "heartbeat"

type request int

const (
	reqStart request = iota
	reqStop
	reqRetarget
	reqQueueFull
)

// Session is the persistent connection to one device. All connection state
// is owned by the Reactor goroutine; the exported methods are safe to call
// from any goroutine, including from the session's own Handler.
type Session struct {
	id      string
	codec   *protocol.Codec
	opts    Options
	reactor *Reactor
	queue   *queue.Queue

	reqMu      sync.Mutex
	reqs       []request
	retargetIP string
	flushing   atomic.Bool

	// Mirrors of reactor-owned state for observers.
	state       atomic.Int32
	outstanding atomic.Int32
	retries     atomic.Int32
	addr        atomic.Value

	// Owned by the reactor goroutine.
	ip         string
	conn       net.Conn
	gen        uint64
	seq        uint32
	rx         []byte
	hbStop     chan struct{}
	retryTimer *time.Timer
	backoff    *retryPolicy
}

// NewSession creates a session for rec driven by reactor. The session is
// idle until Start or Send is called.
func NewSession(reactor *Reactor, rec discovery.DeviceRecord, opts Options) (*Session, error) {
	if err := protocol.CheckVersion(rec.Version); err != nil {
		return nil, fmt.Errorf("device %s: %w", rec.ID, err)
	}
	if !rec.HasKey() {
		return nil, fmt.Errorf("device %s: %w", rec.ID, ErrMissingKey)
	}
	if len(rec.LocalKey) != cipher.KeySize {
		return nil, fmt.Errorf("device %s: %w: got %d", rec.ID, ErrKeySize, len(rec.LocalKey))
	}

	codec, err := protocol.NewCodec(rec.Version, rec.LocalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec for %s: %w", rec.ID, err)
	}

	opts = opts.withDefaults()
	s := &Session{
		id:      rec.ID,
		codec:   codec,
		opts:    opts,
		reactor: reactor,
		queue:   queue.New(opts.QueueSize),
		ip:      rec.IP,
		backoff: newRetryPolicy(opts.RetryInterval, opts.MaxRetries, opts.Cooldown),
	}
	s.addr.Store(s.remoteAddr())
	return s, nil
}

// ID returns the device ID.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the device host:port.
func (s *Session) Addr() string {
	return s.addr.Load().(string)
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// OutstandingHeartbeats returns the number of heartbeats written and not
// yet answered on the current connection.
func (s *Session) OutstandingHeartbeats() int {
	return int(s.outstanding.Load())
}

// Retries returns the number of reconnect attempts since the last
// successful connect.
func (s *Session) Retries() int {
	return int(s.retries.Load())
}

// QueueLen returns the number of pending outbound items.
func (s *Session) QueueLen() int {
	return s.queue.Len()
}

// Start connects a disconnected session. It has no effect in any other
// state; a session in Error reconnects on its own schedule.
func (s *Session) Start() {
	s.post(reqStart)
}

// Stop closes the connection, cancels heartbeats and retries and drops
// the items pending when it is called. It is idempotent. Items sent after
// Stop are kept and reconnect the session.
func (s *Session) Stop() {
	s.reqMu.Lock()
	s.queue.Clear()
	s.reqs = append(s.reqs, reqStop)
	s.reqMu.Unlock()
	s.reactor.notify(s)
}

// Retarget moves the session to a new device address, reconnecting if it
// is connected.
func (s *Session) Retarget(ip string) {
	s.reqMu.Lock()
	s.retargetIP = ip
	s.reqMu.Unlock()
	s.post(reqRetarget)
}

// Send queues payload as a frame of the given kind. It never blocks.
func (s *Session) Send(payload []byte, kind protocol.CommandKind) queue.Result {
	return s.SendItem(queue.Item{Payload: payload, Kind: kind})
}

// SendItem queues item and connects the session if it is disconnected.
// A Full result on a connected session is treated as a stalled connection
// and fails it.
func (s *Session) SendItem(item queue.Item) queue.Result {
	// Enqueue under reqMu so the item lands either before a Stop's clear
	// or after it, never in between.
	s.reqMu.Lock()
	res := s.queue.Enqueue(item)
	s.reqMu.Unlock()

	if res == queue.Full {
		s.post(reqQueueFull)
		return res
	}

	if s.State() == Disconnected {
		s.post(reqStart)
	}
	s.wake()
	return res
}

func (s *Session) post(req request) {
	s.reqMu.Lock()
	s.reqs = append(s.reqs, req)
	s.reqMu.Unlock()
	s.reactor.notify(s)
}

// wake asks the reactor to write queued items. Concurrent wakes collapse
// into one.
func (s *Session) wake() {
	if s.flushing.CompareAndSwap(false, true) {
		s.reactor.notify(s)
	}
}

func (s *Session) takeRequests() ([]request, string) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	reqs := s.reqs
	s.reqs = nil
	return reqs, s.retargetIP
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) remoteAddr() string {
	return net.JoinHostPort(s.ip, strconv.Itoa(s.opts.Port))
}

// nextSequence returns the sequence number for the next frame. Zero means
// "no sequence" on the wire and is skipped.
func (s *Session) nextSequence() uint32 {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{%s at %s, %s}", s.id, s.Addr(), s.State())
}
