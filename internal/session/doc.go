// Package session keeps persistent encrypted TCP sessions to Tuya devices.
//
// A Session owns the connection to one device: its state machine, its
// outbound queue, its sequence counter and its heartbeat bookkeeping. A
// single Reactor goroutine drives every session.
//
// # State Machine
//
//	Disconnected --Start/Send--> Connecting --dial ok--> Connected
//	Connecting   --dial error--> Error
//	Connected    --socket error, peer close, heartbeat timeout--> Error
//	Error        --retry timer--> Connecting
//	any          --Stop--> Disconnected
//
// Every failure schedules exactly one retry. The first MaxRetries delays
// grow exponentially from RetryInterval; after that the session waits
// Cooldown between attempts. A successful connect resets the counter.
//
// # Heartbeats
//
// While connected a HEARTBEAT item is queued every HeartbeatInterval. Each
// written heartbeat raises the outstanding count and each HEARTBEAT frame
// from the device lowers it. When the count reaches MissedHeartbeats at a
// tick the connection is considered dead.
//
// # Reactor
//
// Go's netpoller is the readiness mechanism. Helper goroutines block in
// dial, Read and timers and post what happened to the reactor; the reactor
// goroutine makes every state transition, decodes every frame, writes every
// frame and calls every Handler. Handlers therefore run one at a time and
// must not block.
//
// # Usage Example
//
//	reactor := session.NewReactor()
//	go reactor.Run(ctx)
//
//	s, err := session.NewSession(reactor, record, session.Options{
//	    Handler: func(s *session.Session, ev session.Event) {
//	        if m, ok := ev.(session.MessageReceived); ok {
//	            fmt.Println(s.ID(), m.Message)
//	        }
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	s.Send([]byte(`{"devId":"bf01","dps":{"1":true},"t":1566481749}`), protocol.CommandControl)
//
// # Thread Safety
//
// Session methods are safe for concurrent use and never block.
package session
