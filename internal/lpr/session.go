package lpr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-lpr/internal/codec"
	"github.com/technosupport/ts-lpr/internal/metrics"
)

// State is the session lifecycle position. Transitions are strictly
// Connecting -> Authenticating -> Configuring -> Streaming, with any failure
// dropping through Closing to Closed.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateConfiguring
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotStreaming = errors.New("lpr: session is not streaming")
	ErrAuthTimeout  = errors.New("lpr: authentication timed out")
)

// ProtocolError is a fatal wire violation. It closes the session; the
// supervisor retries with backoff.
type ProtocolError struct {
	DeviceID int64
	Reason   string
	Frame    []byte
}

func (e *ProtocolError) Error() string {
	frame := e.Frame
	if len(frame) > 256 {
		frame = frame[:256]
	}
	return fmt.Sprintf("lpr %d: protocol error: %s: %q", e.DeviceID, e.Reason, frame)
}

// Dialer opens the transport to a device. The default is a mutual-TLS dial;
// tests substitute an in-process pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

// SessionConfig carries everything one session needs. Zero timeout fields
// get the protocol defaults.
type SessionConfig struct {
	DeviceID   int64
	AuthToken  string
	HMACSecret []byte
	Dial       Dialer
	Assembler  *Assembler
	Events     Events

	DialTimeout  time.Duration
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	MaxFrameSize int

	// OnStreaming fires once when the session reaches Streaming.
	OnStreaming func()
	// OnClosed fires exactly once when the session is fully closed.
	OnClosed func(err error)
}

// Session is one live conversation with one device. It owns a single reader
// goroutine; writes from other goroutines are serialised by writeMu.
type Session struct {
	cfg   SessionConfig
	state atomic.Int32

	mu            sync.Mutex
	pendingAuthID string
	lastConfigID  string

	conn    net.Conn
	writeMu sync.Mutex

	inbound chan []byte
	readErr atomic.Value // error recorded by the reader before closing inbound

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = codec.DefaultMaxFrameSize
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents
	}
	return &Session{
		cfg:     cfg,
		inbound: make(chan []byte, cfg.QueueSize),
		closed:  make(chan struct{}),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Done is closed when the session has fully released its resources.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Run drives the session to completion. It returns the close cause (nil on
// a clean shutdown) after the transport is released and OnClosed has fired.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.setState(StateConnecting)
	dialCtx, dialCancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.cfg.Dial(dialCtx)
	dialCancel()
	if err != nil {
		metrics.ConnectAttemptsTotal.WithLabelValues("fail").Inc()
		return s.finish(fmt.Errorf("lpr %d: dial: %w", s.cfg.DeviceID, err))
	}
	metrics.ConnectAttemptsTotal.WithLabelValues("ok").Inc()
	s.conn = conn
	log.Printf("[INFO] LPR %d: connected to %s", s.cfg.DeviceID, conn.RemoteAddr())

	go s.readLoop()

	if err := s.authenticate(); err != nil {
		return s.finish(err)
	}

	authTimer := time.NewTimer(s.cfg.AuthTimeout)
	defer authTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.finish(nil)
		case <-authTimer.C:
			if s.State() == StateAuthenticating {
				metrics.SessionClosesTotal.WithLabelValues("auth_timeout").Inc()
				return s.finish(fmt.Errorf("lpr %d: %w", s.cfg.DeviceID, ErrAuthTimeout))
			}
		case frame, ok := <-s.inbound:
			if !ok {
				err, _ := s.readErr.Load().(error)
				if err == nil {
					err = fmt.Errorf("lpr %d: transport closed", s.cfg.DeviceID)
				}
				return s.finish(err)
			}
			if err := s.handleFrame(ctx, frame); err != nil {
				return s.finish(err)
			}
		}
	}
}

func (s *Session) authenticate() error {
	msg, authID, err := codec.NewAuthMessage(s.cfg.AuthToken)
	if err != nil {
		return fmt.Errorf("lpr %d: build auth frame: %w", s.cfg.DeviceID, err)
	}
	s.mu.Lock()
	s.pendingAuthID = authID
	s.mu.Unlock()
	s.setState(StateAuthenticating)

	if err := s.writeFrame(msg); err != nil {
		return fmt.Errorf("lpr %d: send auth: %w", s.cfg.DeviceID, err)
	}
	log.Printf("[INFO] LPR %d: authentication sent (id=%s)", s.cfg.DeviceID, authID)
	return nil
}

// readLoop is the single reader. It feeds decoded frames into the bounded
// inbound queue, dropping on overflow, and closes the queue when the
// transport dies or the stream violates framing.
func (s *Session) readLoop() {
	defer close(s.inbound)

	dec := codec.NewDecoder(s.cfg.MaxFrameSize)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			for _, f := range frames {
				select {
				case s.inbound <- f:
				default:
					metrics.FramesDroppedTotal.Inc()
					log.Printf("[WARN] LPR %d: inbound queue full, dropping frame", s.cfg.DeviceID)
				}
			}
			if ferr != nil {
				metrics.ProtocolErrorsTotal.WithLabelValues("frame_too_large").Inc()
				s.readErr.Store(error(&ProtocolError{DeviceID: s.cfg.DeviceID, Reason: ferr.Error()}))
				s.conn.Close()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	msg, err := codec.DecodeMessage(frame)
	if err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("malformed").Inc()
		return &ProtocolError{DeviceID: s.cfg.DeviceID, Reason: "malformed json", Frame: frame}
	}

	// Any inbound body carrying an hmac field must verify against the
	// shared secret.
	if err := s.verifyInbound(msg.MessageBody); err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("hmac").Inc()
		return &ProtocolError{DeviceID: s.cfg.DeviceID, Reason: "hmac mismatch", Frame: frame}
	}

	if msg.MessageType == "acknowledge" {
		return s.handleAck(ctx, msg, frame)
	}

	if s.State() != StateStreaming {
		log.Printf("[WARN] LPR %d: dropping %q frame in state %s", s.cfg.DeviceID, msg.MessageType, s.State())
		return nil
	}

	metrics.FramesTotal.WithLabelValues(msg.MessageType).Inc()
	switch msg.MessageType {
	case "plates_data":
		return s.handlePlates(msg.MessageBody, frame)
	case "live":
		return s.handleLive(msg.MessageBody, frame)
	case "command_response":
		// Reserved by the protocol; nothing to do yet.
		return nil
	default:
		log.Printf("[WARN] LPR %d: unknown message type %q", s.cfg.DeviceID, msg.MessageType)
		return nil
	}
}

func (s *Session) verifyInbound(body json.RawMessage) error {
	var probe struct {
		Data json.RawMessage `json:"data"`
		HMAC string          `json:"hmac"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.HMAC == "" {
		return nil // unsigned body
	}
	return codec.Verify(probe.Data, probe.HMAC, s.cfg.HMACSecret)
}

func (s *Session) handleAck(ctx context.Context, msg codec.Message, frame []byte) error {
	var body codec.AckBody
	if err := json.Unmarshal(msg.MessageBody, &body); err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("malformed").Inc()
		return &ProtocolError{DeviceID: s.cfg.DeviceID, Reason: "malformed acknowledge", Frame: frame}
	}

	s.mu.Lock()
	isAuthAck := s.State() == StateAuthenticating && body.ReplyTo == s.pendingAuthID
	if isAuthAck {
		s.pendingAuthID = ""
	}
	s.mu.Unlock()

	if !isAuthAck {
		log.Printf("[INFO] LPR %d: acknowledge for message %s", s.cfg.DeviceID, body.ReplyTo)
		return nil
	}

	log.Printf("[INFO] LPR %d: authenticated", s.cfg.DeviceID)
	s.setState(StateConfiguring)
	if err := s.configure(ctx); err != nil {
		return err
	}
	s.setState(StateStreaming)
	metrics.SessionsLive.Inc()
	log.Printf("[INFO] LPR %d: streaming", s.cfg.DeviceID)
	if s.cfg.OnStreaming != nil {
		s.cfg.OnStreaming()
	}
	return nil
}

// configure assembles the device configuration and pushes it as a signed
// lpr_settings frame.
func (s *Session) configure(ctx context.Context) error {
	payload, err := s.cfg.Assembler.Assemble(ctx, s.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("lpr %d: load settings: %w", s.cfg.DeviceID, err)
	}
	msg, id, err := codec.NewSignedMessage("lpr_settings", payload, s.cfg.HMACSecret)
	if err != nil {
		return fmt.Errorf("lpr %d: sign settings: %w", s.cfg.DeviceID, err)
	}
	if err := s.writeFrame(msg); err != nil {
		return fmt.Errorf("lpr %d: send settings: %w", s.cfg.DeviceID, err)
	}
	s.mu.Lock()
	s.lastConfigID = id
	s.mu.Unlock()
	log.Printf("[INFO] LPR %d: settings pushed (id=%s, cameras=%d)", s.cfg.DeviceID, id, len(payload.CamerasData))
	return nil
}

// Reconfigure re-sends the settings frame on the live session without
// touching the transport. Only legal while streaming.
func (s *Session) Reconfigure(ctx context.Context) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	return s.configure(ctx)
}

// SendCommand signs and writes an operator command. Only legal while
// streaming.
func (s *Session) SendCommand(payload any) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	msg, id, err := codec.NewSignedMessage("command", payload, s.cfg.HMACSecret)
	if err != nil {
		return fmt.Errorf("lpr %d: sign command: %w", s.cfg.DeviceID, err)
	}
	if err := s.writeFrame(msg); err != nil {
		return fmt.Errorf("lpr %d: send command: %w", s.cfg.DeviceID, err)
	}
	log.Printf("[INFO] LPR %d: command sent (id=%s)", s.cfg.DeviceID, id)
	return nil
}

func (s *Session) writeFrame(msg codec.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("lpr: transport not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return codec.WriteFrame(s.conn, msg)
}

type platesWire struct {
	CameraID  int64           `json:"camera_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	FullImage string          `json:"full_image"`
	Cars      []struct {
		Plate struct {
			Plate      string `json:"plate"`
			PlateImage string `json:"plate_image"`
		} `json:"plate"`
		OCRAccuracy  json.RawMessage `json:"ocr_accuracy"`
		VisionSpeed  json.RawMessage `json:"vision_speed"`
		VehicleClass json.RawMessage `json:"vehicle_class"`
		VehicleType  json.RawMessage `json:"vehicle_type"`
		VehicleColor json.RawMessage `json:"vehicle_color"`
	} `json:"cars"`
}

func (s *Session) handlePlates(body json.RawMessage, frame []byte) error {
	var wire platesWire
	if err := json.Unmarshal(body, &wire); err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("malformed").Inc()
		return &ProtocolError{DeviceID: s.cfg.DeviceID, Reason: "malformed plates_data", Frame: frame}
	}

	evt := PlatesEvent{
		MessageType: "plates_data",
		Timestamp:   wire.Timestamp,
		CameraID:    wire.CameraID,
		FullImage:   wire.FullImage,
		Cars:        make([]Car, 0, len(wire.Cars)),
	}
	for _, c := range wire.Cars {
		car := Car{
			PlateNumber:  c.Plate.Plate,
			PlateImage:   c.Plate.PlateImage,
			OCRAccuracy:  rawOr(c.OCRAccuracy, `"Unknown"`),
			VisionSpeed:  rawOr(c.VisionSpeed, `0.0`),
			VehicleClass: rawOr(c.VehicleClass, `{}`),
			VehicleType:  rawOr(c.VehicleType, `{}`),
			VehicleColor: rawOr(c.VehicleColor, `{}`),
		}
		if car.PlateNumber == "" {
			car.PlateNumber = "Unknown"
		}
		evt.Cars = append(evt.Cars, car)
	}
	s.cfg.Events.PlatesData(evt)
	return nil
}

func (s *Session) handleLive(body json.RawMessage, frame []byte) error {
	var wire struct {
		CameraID  int64  `json:"camera_id"`
		LiveImage string `json:"live_image"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		metrics.ProtocolErrorsTotal.WithLabelValues("malformed").Inc()
		return &ProtocolError{DeviceID: s.cfg.DeviceID, Reason: "malformed live", Frame: frame}
	}
	s.cfg.Events.Live(LiveEvent{
		MessageType: "live",
		CameraID:    wire.CameraID,
		LiveImage:   wire.LiveImage,
	})
	return nil
}

func rawOr(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

// Close initiates shutdown from outside the Run loop. It is idempotent and
// safe from any goroutine; Run observes the cancelled context or the closed
// transport and completes the transition.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.writeMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.writeMu.Unlock()
}

// finish performs the Closing -> Closed transition exactly once.
func (s *Session) finish(cause error) error {
	s.closeOnce.Do(func() {
		wasStreaming := s.State() == StateStreaming
		s.setState(StateClosing)
		s.mu.Lock()
		s.pendingAuthID = ""
		s.mu.Unlock()
		if s.conn != nil {
			s.conn.Close()
		}
		if wasStreaming {
			metrics.SessionsLive.Dec()
		}
		s.closeErr = cause
		var pe *ProtocolError
		switch {
		case cause == nil:
			metrics.SessionClosesTotal.WithLabelValues("shutdown").Inc()
		case errors.As(cause, &pe):
			metrics.SessionClosesTotal.WithLabelValues("protocol").Inc()
		case errors.Is(cause, ErrAuthTimeout):
			metrics.SessionClosesTotal.WithLabelValues("auth_timeout").Inc()
		default:
			metrics.SessionClosesTotal.WithLabelValues("transport").Inc()
		}
		s.setState(StateClosed)
		if cause != nil {
			log.Printf("[INFO] LPR %d: session closed: %v", s.cfg.DeviceID, cause)
		} else {
			log.Printf("[INFO] LPR %d: session closed", s.cfg.DeviceID)
		}
		if s.cfg.OnClosed != nil {
			s.cfg.OnClosed(cause)
		}
		close(s.closed)
	})
	return s.closeErr
}
