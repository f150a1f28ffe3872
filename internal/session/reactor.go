package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/queue"
)

const (
	// DefaultPollInterval bounds how long the reactor waits for an event
	// before it sweeps the sessions for pending writes.
	DefaultPollInterval = time.Second

	readBufferSize = 1024
	eventBuffer    = 64

	// maxPending caps the receive buffer. Anything longer cannot be the
	// start of a valid frame.
	maxPending = protocol.MaxPayloadSize + protocol.HeaderSize
)

// ErrReactorRunning is returned when Run is called twice.
var ErrReactorRunning = errors.New("session: reactor already running")

// ioEvent is posted to the reactor by helper goroutines. gen identifies the
// connection the event belongs to; events for older connections are stale.
type ioEvent struct {
	kind ioKind
	s    *Session
	gen  uint64
	conn net.Conn
	data []byte
	err  error
}

type ioKind int

const (
	ioConnected ioKind = iota
	ioConnectFailed
	ioData
	ioReadError
	ioHeartbeat
	ioRetry
)

// Reactor runs every Session on a single goroutine. Dials, socket reads,
// heartbeat ticks and retry timers happen on helper goroutines that only
// post events; all state transitions, decoding and writes happen in Run.
type Reactor struct {
	// PollInterval is the maximum wait between sweeps; set before Run
	PollInterval time.Duration

	events chan ioEvent
	signal chan struct{}
	done   chan struct{}

	dirtyMu sync.Mutex
	dirty   map[*Session]struct{}

	running atomic.Bool
	runCtx  context.Context
	wg      sync.WaitGroup
	tracked atomic.Int32

	// Owned by the Run goroutine. Holds every session that is not
	// Disconnected.
	sessions map[*Session]struct{}
}

// NewReactor creates a reactor with default settings.
func NewReactor() *Reactor {
	return &Reactor{
		PollInterval: DefaultPollInterval,
		events:       make(chan ioEvent, eventBuffer),
		signal:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		dirty:        make(map[*Session]struct{}),
		sessions:     make(map[*Session]struct{}),
	}
}

// Run services all sessions until ctx is cancelled, then stops every
// session and waits for its helper goroutines. A reactor runs once.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrReactorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.runCtx = ctx

	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Debug("Reactor started", zap.Duration("poll_interval", interval))
	r.drainRequests()

	for {
		select {
		case <-ctx.Done():
			r.shutdown(cancel)
			return nil
		case ev := <-r.events:
			r.handleIO(ev)
		case <-r.signal:
			r.drainRequests()
		case <-ticker.C:
			r.drainRequests()
			r.sweep()
		}
	}
}

// notify marks s as having pending requests and wakes the loop. It never
// blocks, so it is safe on the reactor goroutine.
func (r *Reactor) notify(s *Session) {
	r.dirtyMu.Lock()
	r.dirty[s] = struct{}{}
	r.dirtyMu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// post delivers an event from a helper goroutine. It returns false once the
// reactor has stopped.
func (r *Reactor) post(ev ioEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reactor) drainRequests() {
	r.dirtyMu.Lock()
	dirty := r.dirty
	r.dirty = make(map[*Session]struct{})
	r.dirtyMu.Unlock()

	for s := range dirty {
		reqs, ip := s.takeRequests()
		for _, req := range reqs {
			switch req {
			case reqStart:
				if s.State() == Disconnected {
					r.connect(s)
				}
			case reqStop:
				r.stop(s)
			case reqRetarget:
				r.retarget(s, ip)
			case reqQueueFull:
				if s.State() == Connected {
					r.fail(s, ErrQueueFull)
				}
			}
		}

		// Swap before looking at the queue so a wake that misses this pass
		// re-notifies.
		flushing := s.flushing.Swap(false)

		// Stop cleared the queue when it was called, so anything left was
		// sent afterwards and needs a connection.
		if s.State() == Disconnected && s.queue.Len() > 0 {
			r.connect(s)
		}

		if flushing {
			r.flush(s)
		}

		if s.State() == Disconnected {
			r.forget(s)
		} else {
			r.track(s)
		}
	}
}

func (r *Reactor) track(s *Session) {
	if _, ok := r.sessions[s]; !ok {
		r.sessions[s] = struct{}{}
		r.tracked.Add(1)
	}
}

func (r *Reactor) forget(s *Session) {
	if _, ok := r.sessions[s]; ok {
		delete(r.sessions, s)
		r.tracked.Add(-1)
	}
}

// Len returns the number of sessions the reactor is servicing. Stopped
// sessions are not counted.
func (r *Reactor) Len() int {
	return int(r.tracked.Load())
}

// sweep writes for sessions whose wake was lost or re-armed.
func (r *Reactor) sweep() {
	for s := range r.sessions {
		if s.State() == Connected && s.queue.Len() > 0 {
			r.flush(s)
		}
	}
}

func (r *Reactor) handleIO(ev ioEvent) {
	s := ev.s
	if ev.gen != s.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case ioConnected:
		r.connected(s, ev.conn)
	case ioConnectFailed:
		r.fail(s, ev.err)
	case ioData:
		r.receive(s, ev.data)
	case ioReadError:
		err := ev.err
		if errors.Is(err, io.EOF) {
			err = ErrPeerClosed
		}
		r.fail(s, err)
	case ioHeartbeat:
		r.heartbeat(s)
	case ioRetry:
		if s.State() == Error {
			r.connect(s)
		}
	}
}

func (r *Reactor) connect(s *Session) {
	r.cancelRetry(s)
	s.gen++
	s.setState(Connecting)

	addr := s.remoteAddr()
	gen := s.gen
	dialer := net.Dialer{Timeout: s.opts.DialTimeout}

	logging.LogSessionEvent(s.id, addr, "connecting", nil)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		conn, err := dialer.DialContext(r.runCtx, "tcp", addr)
		ev := ioEvent{kind: ioConnected, s: s, gen: gen, conn: conn}
		if err != nil {
			ev = ioEvent{kind: ioConnectFailed, s: s, gen: gen,
				err: fmt.Errorf("failed to connect to %s: %w", addr, err)}
		}
		if !r.post(ev) && conn != nil {
			conn.Close()
		}
	}()
}

func (r *Reactor) connected(s *Session, conn net.Conn) {
	if s.State() != Connecting {
		conn.Close()
		return
	}

	s.conn = conn
	s.rx = s.rx[:0]
	s.outstanding.Store(0)
	s.backoff.reset()
	s.retries.Store(0)
	s.setState(Connected)

	s.hbStop = make(chan struct{})
	r.wg.Add(2)
	go r.readLoop(s, conn, s.gen)
	go r.heartbeatLoop(s, s.gen, s.hbStop, s.opts.HeartbeatInterval)

	logging.LogSessionEvent(s.id, s.remoteAddr(), "connected", nil)
	s.opts.Handler(s, ConnectedEvent{})

	if s.State() == Connected {
		r.flush(s)
	}
}

// fail moves s to Error and schedules exactly one retry.
func (r *Reactor) fail(s *Session, err error) {
	r.closeConn(s)
	s.setState(Error)

	delay := s.backoff.next()
	s.retries.Store(int32(s.backoff.attempts))
	gen := s.gen
	s.retryTimer = time.AfterFunc(delay, func() {
		r.post(ioEvent{kind: ioRetry, s: s, gen: gen})
	})

	logging.Warn("Session connection failed",
		zap.String("device_id", s.id),
		zap.String("remote_addr", s.remoteAddr()),
		zap.Duration("retry_in", delay),
		zap.Int("attempt", s.backoff.attempts),
		zap.Error(err))
	s.opts.Handler(s, ConnectionError{Err: err})
}

// stop disconnects s. The queue was already cleared by Session.Stop, and
// anything queued since then belongs to a later Start.
func (r *Reactor) stop(s *Session) {
	r.cancelRetry(s)
	r.closeConn(s)
	s.backoff.reset()
	s.retries.Store(0)
	r.forget(s)

	if s.State() == Disconnected {
		return
	}
	s.setState(Disconnected)
	logging.LogSessionEvent(s.id, s.remoteAddr(), "disconnected", nil)
	s.opts.Handler(s, DisconnectedEvent{})
}

func (r *Reactor) retarget(s *Session, ip string) {
	if ip == "" || ip == s.ip {
		return
	}
	logging.Info("Session retargeted",
		zap.String("device_id", s.id),
		zap.String("old_ip", s.ip),
		zap.String("new_ip", ip))

	s.ip = ip
	s.addr.Store(s.remoteAddr())

	switch s.State() {
	case Connecting, Connected, Error:
		r.closeConn(s)
		r.connect(s)
	}
}

// closeConn tears down the current connection and invalidates its events.
func (r *Reactor) closeConn(s *Session) {
	s.gen++
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.rx = s.rx[:0]
	s.outstanding.Store(0)
}

func (r *Reactor) cancelRetry(s *Session) {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (r *Reactor) heartbeat(s *Session) {
	if s.State() != Connected {
		return
	}
	if s.OutstandingHeartbeats() >= s.opts.MissedHeartbeats {
		r.fail(s, fmt.Errorf("%w: %d unanswered", ErrHeartbeatTimeout, s.OutstandingHeartbeats()))
		return
	}
	if res := s.queue.Enqueue(queue.Item{Kind: protocol.CommandHeartbeat, ConflictKey: HeartbeatConflictKey}); res == queue.Full {
		r.fail(s, ErrQueueFull)
		return
	}
	r.flush(s)
}

// flush writes one queued item and re-arms the wake if more remain.
func (r *Reactor) flush(s *Session) {
	if s.State() != Connected {
		return
	}
	item, ok := s.queue.Dequeue()
	if !ok {
		return
	}

	if err := r.write(s, item); err != nil {
		r.fail(s, err)
		return
	}

	if s.queue.Len() > 0 {
		s.wake()
	}
}

func (r *Reactor) write(s *Session, item queue.Item) error {
	seq := s.nextSequence()
	frame, err := s.codec.Encode(item.Payload, item.Kind, seq)
	if err != nil {
		// An unencodable item is dropped; the connection is fine.
		logging.Error("Failed to encode frame",
			zap.String("device_id", s.id),
			zap.Stringer("kind", item.Kind),
			zap.Error(err))
		return nil
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", item.Kind, err)
	}

	if item.Kind == protocol.CommandHeartbeat {
		s.outstanding.Add(1)
	}
	logging.LogFrame(s.id, "tx", item.Kind.String(), seq, frame)
	return nil
}

func (r *Reactor) receive(s *Session, data []byte) {
	s.rx = append(s.rx, data...)

	msgs, n, err := s.codec.DecodeStream(s.rx)
	s.rx = append(s.rx[:0], s.rx[n:]...)
	if err != nil {
		logging.Debug("Dropped malformed frames",
			zap.String("device_id", s.id),
			zap.Error(err))
	}
	if len(s.rx) > maxPending {
		logging.Warn("Receive buffer overflow, discarding",
			zap.String("device_id", s.id),
			zap.Int("bytes", len(s.rx)))
		s.rx = s.rx[:0]
	}

	gen := s.gen
	for _, msg := range msgs {
		if msg.Kind == protocol.CommandHeartbeat && s.outstanding.Load() > 0 {
			s.outstanding.Add(-1)
		}
		logging.LogFrame(s.id, "rx", msg.Kind.String(), msg.Sequence, msg.Payload)
		s.opts.Handler(s, MessageReceived{Message: msg})

		// The handler may have stopped or retargeted the session.
		if s.gen != gen {
			return
		}
	}
}

func (r *Reactor) readLoop(s *Session, conn net.Conn, gen uint64) {
	defer r.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !r.post(ioEvent{kind: ioData, s: s, gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			r.post(ioEvent{kind: ioReadError, s: s, gen: gen, err: err})
			return
		}
	}
}

func (r *Reactor) heartbeatLoop(s *Session, gen uint64, stop <-chan struct{}, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.done:
			return
		case <-ticker.C:
			select {
			case r.events <- ioEvent{kind: ioHeartbeat, s: s, gen: gen}:
			case <-stop:
				return
			case <-r.done:
				return
			}
		}
	}
}

func (r *Reactor) shutdown(cancel context.CancelFunc) {
	cancel()
	close(r.done)

	r.drainRequests()
	n := len(r.sessions)
	for s := range r.sessions {
		s.queue.Clear()
		r.stop(s)
	}
	r.wg.Wait()

	logging.Debug("Reactor stopped", zap.Int("sessions", n))
}
