package lpr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var ErrPoolShutdown = errors.New("lpr: connection pool is shut down")

// PoolConfig is shared by every supervisor the pool creates.
type PoolConfig struct {
	Devices    DeviceStore
	Cameras    CameraStore
	HMACSecret []byte
	Events     Events
	Status     *StatusReporter
	TLS        *TLSProvider

	// DialFor overrides the transport per device; tests inject pipes here.
	DialFor func(e Endpoint) Dialer

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
	AuthTimeout    time.Duration
	WriteTimeout   time.Duration

	// DrainDeadline bounds Shutdown; sessions still alive afterwards are
	// force-closed.
	DrainDeadline time.Duration
}

// Pool is the process-wide registry of device supervisors. The mutex covers
// the map and the start/stop handshake only; it is never held across
// session I/O.
type Pool struct {
	cfg       PoolConfig
	assembler *Assembler

	mu          sync.Mutex
	supervisors map[int64]*Supervisor
	shutdown    bool
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = 10 * time.Second
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents
	}
	return &Pool{
		cfg:         cfg,
		assembler:   &Assembler{Devices: cfg.Devices, Cameras: cfg.Cameras},
		supervisors: make(map[int64]*Supervisor),
	}
}

func (p *Pool) newSupervisor(l endpointRecord) *Supervisor {
	cfg := SupervisorConfig{
		DeviceID:       l.id,
		Endpoint:       l.endpoint,
		HMACSecret:     p.cfg.HMACSecret,
		Assembler:      p.assembler,
		Events:         p.cfg.Events,
		Status:         p.cfg.Status,
		TLS:            p.cfg.TLS,
		InitialBackoff: p.cfg.InitialBackoff,
		MaxBackoff:     p.cfg.MaxBackoff,
		DialTimeout:    p.cfg.DialTimeout,
		AuthTimeout:    p.cfg.AuthTimeout,
		WriteTimeout:   p.cfg.WriteTimeout,
	}
	if p.cfg.DialFor != nil {
		cfg.Dial = p.cfg.DialFor(l.endpoint)
	}
	return NewSupervisor(cfg)
}

type endpointRecord struct {
	id       int64
	endpoint Endpoint
	active   bool
}

func (p *Pool) loadRecord(ctx context.Context, deviceID int64) (endpointRecord, error) {
	l, err := p.cfg.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return endpointRecord{}, fmt.Errorf("load lpr %d: %w", deviceID, err)
	}
	return endpointRecord{
		id:       l.ID,
		endpoint: Endpoint{IP: l.IP, Port: l.Port, AuthToken: l.AuthToken},
		active:   l.IsActive,
	}, nil
}

// Add loads the device record and starts a supervisor for it. Adding a
// device that is already present or inactive is a no-op.
func (p *Pool) Add(ctx context.Context, deviceID int64) error {
	rec, err := p.loadRecord(ctx, deviceID)
	if err != nil {
		return err
	}
	if !rec.active {
		log.Printf("[INFO] LPR %d: not adding connection, device inactive", deviceID)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrPoolShutdown
	}
	if _, exists := p.supervisors[deviceID]; exists {
		return nil
	}
	sup := p.newSupervisor(rec)
	p.supervisors[deviceID] = sup
	sup.Start()
	log.Printf("[INFO] LPR %d: connection added (%s)", deviceID, rec.endpoint.Addr())
	return nil
}

// Update reconciles a supervisor with the current device record. An
// endpoint or active-flag change restarts the connection; a settings-only
// change is pushed to the live session as a hot reconfigure.
func (p *Pool) Update(ctx context.Context, deviceID int64) error {
	rec, err := p.loadRecord(ctx, deviceID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	sup, exists := p.supervisors[deviceID]
	p.mu.Unlock()

	switch {
	case !exists:
		if !rec.active {
			return nil
		}
		return p.Add(ctx, deviceID)
	case !rec.active:
		return p.Remove(ctx, deviceID)
	case sup.Endpoint() != rec.endpoint:
		log.Printf("[INFO] LPR %d: endpoint changed, reconnecting", deviceID)
		if err := p.Remove(ctx, deviceID); err != nil {
			return err
		}
		return p.Add(ctx, deviceID)
	default:
		// Settings-only change; stay connected and push fresh config.
		err := sup.Reconfigure(ctx)
		if errors.Is(err, ErrNotStreaming) {
			// The next successful configure will read the new
			// settings anyway.
			log.Printf("[INFO] LPR %d: settings changed while offline, will apply on reconnect", deviceID)
			return nil
		}
		return err
	}
}

// Remove stops the device's supervisor and waits for its session to close.
// Removing an absent device is not an error.
func (p *Pool) Remove(ctx context.Context, deviceID int64) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	sup, exists := p.supervisors[deviceID]
	delete(p.supervisors, deviceID)
	p.mu.Unlock()

	if !exists {
		return nil
	}
	sup.Stop()
	log.Printf("[INFO] LPR %d: connection removed", deviceID)
	return nil
}

// ToggleActive adds or removes the connection to match the active flag.
func (p *Pool) ToggleActive(ctx context.Context, deviceID int64, active bool) error {
	if active {
		return p.Add(ctx, deviceID)
	}
	return p.Remove(ctx, deviceID)
}

// SendCommand forwards a signed command to the device's live session.
func (p *Pool) SendCommand(deviceID int64, payload any) error {
	p.mu.Lock()
	sup, exists := p.supervisors[deviceID]
	shutdown := p.shutdown
	p.mu.Unlock()

	if shutdown {
		return ErrPoolShutdown
	}
	if !exists {
		return fmt.Errorf("lpr %d: no connection", deviceID)
	}
	return sup.SendCommand(payload)
}

// Bootstrap starts a connection for every active device. Each device is
// added independently; one failure does not stop the loop.
func (p *Pool) Bootstrap(ctx context.Context) error {
	lprs, err := p.cfg.Devices.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list active lprs: %w", err)
	}
	for _, l := range lprs {
		if err := p.Add(ctx, l.ID); err != nil {
			log.Printf("[ERROR] Bootstrap: add LPR %d: %v", l.ID, err)
		}
	}
	log.Printf("[INFO] Bootstrap: %d active LPR connections requested", len(lprs))
	return nil
}

// Shutdown stops every supervisor and waits up to the drain deadline for
// their sessions to close. Supervisors still alive at the deadline have
// already had their transports force-closed by initiateStop, so this only
// abandons the wait. After Shutdown all mutating calls fail with
// ErrPoolShutdown.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	sups := make([]*Supervisor, 0, len(p.supervisors))
	for id, sup := range p.supervisors {
		sups = append(sups, sup)
		delete(p.supervisors, id)
	}
	p.mu.Unlock()

	for _, sup := range sups {
		sup.initiateStop()
	}

	deadline := time.NewTimer(p.cfg.DrainDeadline)
	defer deadline.Stop()
	for _, sup := range sups {
		select {
		case <-sup.Done():
		case <-deadline.C:
			log.Printf("[WARN] Pool shutdown: drain deadline reached, abandoning wait")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("[INFO] Pool shutdown: all connections drained")
	return nil
}
