package lpr_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-lpr/internal/lpr"
)

// dialRecorder wraps a Dialer and records attempt times.
type dialRecorder struct {
	mu       sync.Mutex
	attempts []time.Time
	inner    lpr.Dialer
}

func (d *dialRecorder) dial(ctx context.Context) (net.Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, time.Now())
	d.mu.Unlock()
	return d.inner(ctx)
}

func (d *dialRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func (d *dialRecorder) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

func TestSupervisorBackoffNonDecreasing(t *testing.T) {
	rec := &dialRecorder{inner: func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}}

	stores := newFakeStores()
	seedDevice(stores, 4)
	sup := lpr.NewSupervisor(lpr.SupervisorConfig{
		DeviceID:       4,
		Endpoint:       lpr.Endpoint{IP: "10.0.0.1", Port: 45, AuthToken: "tok"},
		HMACSecret:     testSecret,
		Assembler:      &lpr.Assembler{Devices: stores, Cameras: stores},
		Dial:           rec.dial,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool { return rec.count() >= 4 },
		3*time.Second, 5*time.Millisecond)
	sup.Stop()

	ts := rec.times()
	gap1 := ts[1].Sub(ts[0])
	gap2 := ts[2].Sub(ts[1])
	gap3 := ts[3].Sub(ts[2])

	// Delays double until success: ~20ms, ~40ms, ~80ms. Schedulers add
	// jitter, so only assert the non-decreasing invariant with slack.
	tolerance := 10 * time.Millisecond
	assert.GreaterOrEqual(t, gap2+tolerance, gap1)
	assert.GreaterOrEqual(t, gap3+tolerance, gap2)
	assert.GreaterOrEqual(t, gap1, 15*time.Millisecond)
	assert.GreaterOrEqual(t, gap3, 60*time.Millisecond)
}

func TestSupervisorBackoffResetsAfterStreaming(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)

	var mu sync.Mutex
	failures := 3
	serverCh := make(chan net.Conn, 1)

	rec := &dialRecorder{}
	rec.inner = func(ctx context.Context) (net.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		serverCh <- server
		return client, nil
	}

	sup := lpr.NewSupervisor(lpr.SupervisorConfig{
		DeviceID:       4,
		Endpoint:       lpr.Endpoint{IP: "10.0.0.1", Port: 45, AuthToken: "tok"},
		HMACSecret:     testSecret,
		Assembler:      &lpr.Assembler{Devices: stores, Cameras: stores},
		Dial:           rec.dial,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	})
	sup.Start()
	defer sup.Stop()

	// Fourth dial succeeds; complete the handshake so the session
	// reaches streaming, then drop the connection.
	var server net.Conn
	select {
	case server = <-serverCh:
	case <-time.After(3 * time.Second):
		t.Fatal("no successful dial")
	}
	dev := newFakeDevice(t, server)
	dev.completeHandshake()
	require.Eventually(t, func() bool { return sup.State() == lpr.SupervisorLive },
		time.Second, 5*time.Millisecond)
	closedAt := time.Now()
	server.Close()

	// After a successful streaming session the backoff resets, so the
	// next attempt comes within roughly the initial delay, not the
	// accumulated 80ms+.
	require.Eventually(t, func() bool { return rec.count() >= 5 },
		time.Second, time.Millisecond)
	ts := rec.times()
	assert.Less(t, ts[4].Sub(closedAt), 60*time.Millisecond)
}

func TestSupervisorStopIdempotent(t *testing.T) {
	rec := &dialRecorder{inner: func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}}
	stores := newFakeStores()
	seedDevice(stores, 4)
	sup := lpr.NewSupervisor(lpr.SupervisorConfig{
		DeviceID:       4,
		Endpoint:       lpr.Endpoint{IP: "10.0.0.1", Port: 45, AuthToken: "tok"},
		HMACSecret:     testSecret,
		Assembler:      &lpr.Assembler{Devices: stores, Cameras: stores},
		Dial:           rec.dial,
		InitialBackoff: 10 * time.Millisecond,
	})
	sup.Start()

	sup.Stop()
	sup.Stop()
	assert.Equal(t, lpr.SupervisorStopped, sup.State())

	// No further dial attempts after Stop returns.
	n := rec.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.count())
}

func TestSupervisorReconfigureOffline(t *testing.T) {
	rec := &dialRecorder{inner: func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}}
	stores := newFakeStores()
	seedDevice(stores, 4)
	sup := lpr.NewSupervisor(lpr.SupervisorConfig{
		DeviceID:       4,
		Endpoint:       lpr.Endpoint{IP: "10.0.0.1", Port: 45, AuthToken: "tok"},
		HMACSecret:     testSecret,
		Assembler:      &lpr.Assembler{Devices: stores, Cameras: stores},
		Dial:           rec.dial,
		InitialBackoff: 10 * time.Millisecond,
	})
	sup.Start()
	defer sup.Stop()

	err := sup.Reconfigure(context.Background())
	assert.ErrorIs(t, err, lpr.ErrNotStreaming)
}
