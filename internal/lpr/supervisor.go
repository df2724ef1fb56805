package lpr

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint is the connection snapshot a supervisor was started with. The
// pool compares snapshots to decide between a hot reconfigure and a full
// restart.
type Endpoint struct {
	IP        string
	Port      int
	AuthToken string
}

func (e Endpoint) Addr() string { return fmt.Sprintf("%s:%d", e.IP, e.Port) }

// SupervisorState tracks where the retry loop is.
type SupervisorState int32

const (
	SupervisorIdle SupervisorState = iota
	SupervisorConnecting
	SupervisorLive
	SupervisorBackoff
	SupervisorStopped
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorConnecting:
		return "connecting"
	case SupervisorLive:
		return "live"
	case SupervisorBackoff:
		return "backoff"
	case SupervisorStopped:
		return "stopped"
	}
	return "unknown"
}

type SupervisorConfig struct {
	DeviceID   int64
	Endpoint   Endpoint
	HMACSecret []byte
	Assembler  *Assembler
	Events     Events
	Status     *StatusReporter

	// Dial overrides the transport dial. When nil, TLS must be set and a
	// mutual-TLS dial to Endpoint.Addr() is used.
	Dial Dialer
	TLS  *TLSProvider

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
	AuthTimeout    time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
}

// Supervisor owns the retry policy for one device. Its loop goroutine is the
// single place sessions are created, which makes connect attempts
// single-flight by construction.
type Supervisor struct {
	cfg   SupervisorConfig
	state atomic.Int32

	mu      sync.Mutex
	session *Session
	attempt int

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Dial == nil {
		addr := cfg.Endpoint.Addr()
		tlsProvider := cfg.TLS
		dialTimeout := cfg.DialTimeout
		cfg.Dial = func(ctx context.Context) (net.Conn, error) {
			return tlsProvider.DialContext(ctx, addr, dialTimeout)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Supervisor) State() SupervisorState { return SupervisorState(s.state.Load()) }

func (s *Supervisor) setState(st SupervisorState) { s.state.Store(int32(st)) }

// Endpoint returns the snapshot this supervisor connects to.
func (s *Supervisor) Endpoint() Endpoint { return s.cfg.Endpoint }

// Done is closed once the retry loop has fully exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) Start() {
	go s.loop()
}

func (s *Supervisor) loop() {
	defer close(s.done)
	defer s.setState(SupervisorStopped)

	delay := s.cfg.InitialBackoff
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.setState(SupervisorConnecting)

		streamed := make(chan struct{}, 1)
		sess := NewSession(SessionConfig{
			DeviceID:     s.cfg.DeviceID,
			AuthToken:    s.cfg.Endpoint.AuthToken,
			HMACSecret:   s.cfg.HMACSecret,
			Dial:         s.cfg.Dial,
			Assembler:    s.cfg.Assembler,
			Events:       s.cfg.Events,
			DialTimeout:  s.cfg.DialTimeout,
			AuthTimeout:  s.cfg.AuthTimeout,
			WriteTimeout: s.cfg.WriteTimeout,
			QueueSize:    s.cfg.QueueSize,
			OnStreaming: func() {
				s.setState(SupervisorLive)
				s.cfg.Status.SetConnected(s.cfg.DeviceID)
				select {
				case streamed <- struct{}{}:
				default:
				}
			},
			OnClosed: func(error) {
				s.cfg.Status.SetDisconnected(s.cfg.DeviceID)
			},
		})

		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()

		err := sess.Run(s.ctx)

		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()

		// Reaching Streaming resets the backoff even if the session
		// later died.
		select {
		case <-streamed:
			delay = s.cfg.InitialBackoff
			s.mu.Lock()
			s.attempt = 0
			s.mu.Unlock()
		default:
		}

		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		s.setState(SupervisorBackoff)
		log.Printf("[INFO] LPR %d: reconnect in %s (attempt %d, cause: %v)",
			s.cfg.DeviceID, delay, attempt, err)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
}

// Reconfigure pushes fresh settings on the live session without a
// reconnect. Returns ErrNotStreaming when no session is streaming.
func (s *Supervisor) Reconfigure(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ErrNotStreaming
	}
	return sess.Reconfigure(ctx)
}

// SendCommand forwards an operator command to the live session.
func (s *Supervisor) SendCommand(payload any) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ErrNotStreaming
	}
	return sess.SendCommand(payload)
}

// Stop cancels the retry loop and closes any live session. Idempotent; it
// returns once the loop has exited.
func (s *Supervisor) Stop() {
	s.initiateStop()
	<-s.done
}

// initiateStop begins shutdown without waiting.
func (s *Supervisor) initiateStop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		sess := s.session
		s.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
	})
}
