package lpr_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-lpr/internal/codec"
	"github.com/technosupport/ts-lpr/internal/lpr"
)

func startSession(t *testing.T, stores *fakeStores, events lpr.Events) (*lpr.Session, *fakeDevice, chan error) {
	t.Helper()
	client, server := net.Pipe()
	sess := lpr.NewSession(lpr.SessionConfig{
		DeviceID:   4,
		AuthToken:  "tok",
		HMACSecret: testSecret,
		Dial:       func(ctx context.Context) (net.Conn, error) { return client, nil },
		Assembler:  &lpr.Assembler{Devices: stores, Cameras: stores},
		Events:     events,
		AuthTimeout: 2 * time.Second,
	})
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(context.Background()) }()
	t.Cleanup(func() {
		sess.Close()
		<-sess.Done()
	})
	return sess, newFakeDevice(t, server), runErr
}

func TestSessionHappyPath(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	events := newCaptureEvents()
	sess, dev, _ := startSession(t, stores, events)

	body := dev.completeHandshake()
	assert.JSONEq(t, `{
		"lpr_id": 4,
		"settings": [{"name": "ocr_prob", "value": 0.65}],
		"cameras_data": [{"camera_id": 7, "settings": [{"name": "ViewPointWidth", "value": 1920}]}]
	}`, string(body.Data))

	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)

	dev.writeFrame(codec.Message{
		MessageType: "plates_data",
		MessageBody: json.RawMessage(`{
			"camera_id": 7,
			"timestamp": "2026-08-26T10:00:00Z",
			"full_image": "ZnVsbA==",
			"cars": [{"plate": {"plate": "12A345", "plate_image": "cGxhdGU="}, "ocr_accuracy": "0.9"}]
		}`),
	})

	select {
	case evt := <-events.plates:
		assert.Equal(t, int64(7), evt.CameraID)
		assert.Equal(t, "plates_data", evt.MessageType)
		require.Len(t, evt.Cars, 1)
		assert.Equal(t, "12A345", evt.Cars[0].PlateNumber)
		assert.Equal(t, json.RawMessage(`"0.9"`), evt.Cars[0].OCRAccuracy)
		assert.Equal(t, json.RawMessage(`0.0`), evt.Cars[0].VisionSpeed)
	case <-time.After(time.Second):
		t.Fatal("plates_data event not dispatched")
	}

	dev.writeFrame(codec.Message{
		MessageType: "live",
		MessageBody: json.RawMessage(`{"camera_id": 7, "live_image": "aW1n"}`),
	})
	select {
	case evt := <-events.live:
		assert.Equal(t, int64(7), evt.CameraID)
		assert.Equal(t, "aW1n", evt.LiveImage)
	case <-time.After(time.Second):
		t.Fatal("live event not dispatched")
	}
}

func TestSessionSendCommand(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	sess, dev, _ := startSession(t, stores, newCaptureEvents())

	// Before streaming, commands are rejected.
	assert.ErrorIs(t, sess.SendCommand(map[string]any{"action": "reboot"}), lpr.ErrNotStreaming)

	dev.completeHandshake()
	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- sess.SendCommand(map[string]any{"action": "reboot"}) }()

	cmd := dev.readFrame()
	assert.Equal(t, "command", cmd.MessageType)
	var body codec.SignedBody
	require.NoError(t, json.Unmarshal(cmd.MessageBody, &body))
	assert.NoError(t, codec.Verify(body.Data, body.HMAC, testSecret))
	require.NoError(t, <-done)
}

func TestSessionHotReconfigure(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	sess, dev, _ := startSession(t, stores, newCaptureEvents())

	dev.completeHandshake()
	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)

	// Settings mutate while the session is live; reconfigure pushes the
	// new payload on the same transport.
	stores.putSetting(4, seedFloat("ocr_prob", "0.80"))

	done := make(chan error, 1)
	go func() { done <- sess.Reconfigure(context.Background()) }()

	reconf := dev.readFrame()
	assert.Equal(t, "lpr_settings", reconf.MessageType)
	var body codec.SignedBody
	require.NoError(t, json.Unmarshal(reconf.MessageBody, &body))
	require.NoError(t, codec.Verify(body.Data, body.HMAC, testSecret))
	assert.Contains(t, string(body.Data), `0.8`)
	require.NoError(t, <-done)
	assert.Equal(t, lpr.StateStreaming, sess.State())
}

func TestSessionHMACMismatchCloses(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	sess, dev, runErr := startSession(t, stores, newCaptureEvents())

	dev.completeHandshake()
	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)

	dev.writeFrame(codec.Message{
		MessageType: "command_response",
		MessageBody: json.RawMessage(`{"data": {"ok": true}, "hmac": "deadbeef"}`),
	})

	select {
	case err := <-runErr:
		var pe *lpr.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Reason, "hmac")
	case <-time.After(time.Second):
		t.Fatal("session did not close on hmac mismatch")
	}
	assert.Equal(t, lpr.StateClosed, sess.State())
}

func TestSessionMalformedFrameCloses(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	_, dev, runErr := startSession(t, stores, newCaptureEvents())

	dev.completeHandshake()
	dev.conn.Write([]byte(`this is not json<END>`))

	select {
	case err := <-runErr:
		var pe *lpr.ProtocolError
		require.ErrorAs(t, err, &pe)
	case <-time.After(time.Second):
		t.Fatal("session did not close on malformed frame")
	}
}

func TestSessionAuthTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	stores := newFakeStores()
	seedDevice(stores, 4)
	sess := lpr.NewSession(lpr.SessionConfig{
		DeviceID:    4,
		AuthToken:   "tok",
		HMACSecret:  testSecret,
		Dial:        func(ctx context.Context) (net.Conn, error) { return client, nil },
		Assembler:   &lpr.Assembler{Devices: stores, Cameras: stores},
		AuthTimeout: 50 * time.Millisecond,
	})
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(context.Background()) }()

	// Consume the auth frame but never acknowledge it.
	dev := newFakeDevice(t, server)
	auth := dev.readFrame()
	require.Equal(t, "authentication", auth.MessageType)

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, lpr.ErrAuthTimeout)
	case <-time.After(time.Second):
		t.Fatal("session did not time out waiting for auth ack")
	}
}

func TestSessionDropsDataBeforeStreaming(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	events := newCaptureEvents()
	sess, dev, _ := startSession(t, stores, events)

	auth := dev.readFrame()

	// plates_data before authentication completes must not reach the
	// bridge.
	dev.writeFrame(codec.Message{
		MessageType: "plates_data",
		MessageBody: json.RawMessage(`{"camera_id": 7, "cars": []}`),
	})
	dev.writeAck(auth.MessageID)
	dev.readFrame() // settings

	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)
	select {
	case <-events.plates:
		t.Fatal("frame dispatched before streaming")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionUnknownTypeIgnored(t *testing.T) {
	stores := newFakeStores()
	seedDevice(stores, 4)
	events := newCaptureEvents()
	sess, dev, runErr := startSession(t, stores, events)

	dev.completeHandshake()
	require.Eventually(t, func() bool { return sess.State() == lpr.StateStreaming },
		time.Second, 5*time.Millisecond)

	dev.writeFrame(codec.Message{
		MessageType: "telemetry",
		MessageBody: json.RawMessage(`{"x": 1}`),
	})

	select {
	case err := <-runErr:
		t.Fatalf("unknown type closed the session: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, lpr.StateStreaming, sess.State())
}
