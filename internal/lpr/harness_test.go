package lpr_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-lpr/internal/codec"
	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/lpr"
)

var testSecret = []byte("test-hmac-secret")

// fakeStores is an in-memory DeviceStore + CameraStore.
type fakeStores struct {
	mu       sync.Mutex
	lprs     map[int64]*data.LPR
	settings map[int64][]data.SettingEntry
	cameras  map[int64][]*data.Camera
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		lprs:     make(map[int64]*data.LPR),
		settings: make(map[int64][]data.SettingEntry),
		cameras:  make(map[int64][]*data.Camera),
	}
}

func (f *fakeStores) GetByID(_ context.Context, id int64) (*data.LPR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lprs[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStores) ListActive(_ context.Context) ([]*data.LPR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*data.LPR
	for _, l := range f.lprs {
		if l.IsActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStores) ListSettings(_ context.Context, id int64) ([]data.SettingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]data.SettingEntry(nil), f.settings[id]...), nil
}

func (f *fakeStores) ListByLPR(_ context.Context, id int64) ([]*data.Camera, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*data.Camera(nil), f.cameras[id]...), nil
}

func (f *fakeStores) putLPR(l *data.LPR) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lprs[l.ID] = l
}

func (f *fakeStores) putSetting(id int64, e data.SettingEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	replaced := false
	for i := range f.settings[id] {
		if f.settings[id][i].Name == e.Name {
			f.settings[id][i] = e
			replaced = true
		}
	}
	if !replaced {
		f.settings[id] = append(f.settings[id], e)
	}
}

func (f *fakeStores) putCameras(id int64, cams ...*data.Camera) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameras[id] = cams
}

// captureEvents records bridge dispatches.
type captureEvents struct {
	plates chan lpr.PlatesEvent
	live   chan lpr.LiveEvent
}

func newCaptureEvents() *captureEvents {
	return &captureEvents{
		plates: make(chan lpr.PlatesEvent, 16),
		live:   make(chan lpr.LiveEvent, 16),
	}
}

func (c *captureEvents) PlatesData(evt lpr.PlatesEvent) { c.plates <- evt }
func (c *captureEvents) Live(evt lpr.LiveEvent)         { c.live <- evt }

// fakeDevice drives the server side of a pipe like a real LPR would.
type fakeDevice struct {
	t    *testing.T
	conn net.Conn
	dec  *codec.Decoder
	buf  [][]byte
}

func newFakeDevice(t *testing.T, conn net.Conn) *fakeDevice {
	return &fakeDevice{t: t, conn: conn, dec: codec.NewDecoder(0)}
}

func (d *fakeDevice) readFrame() codec.Message {
	d.t.Helper()
	for len(d.buf) == 0 {
		p := make([]byte, 4096)
		d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := d.conn.Read(p)
		require.NoError(d.t, err, "fake device read")
		frames, err := d.dec.Feed(p[:n])
		require.NoError(d.t, err)
		d.buf = append(d.buf, frames...)
	}
	frame := d.buf[0]
	d.buf = d.buf[1:]
	msg, err := codec.DecodeMessage(frame)
	require.NoError(d.t, err)
	return msg
}

func (d *fakeDevice) writeFrame(msg codec.Message) {
	d.t.Helper()
	d.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(d.t, codec.WriteFrame(d.conn, msg))
}

func (d *fakeDevice) writeAck(replyTo string) {
	body, _ := json.Marshal(codec.AckBody{ReplyTo: replyTo})
	d.writeFrame(codec.Message{MessageType: "acknowledge", MessageBody: body})
}

// completeHandshake consumes the auth frame, acks it, and consumes the
// settings frame, returning its signed payload.
func (d *fakeDevice) completeHandshake() codec.SignedBody {
	d.t.Helper()
	auth := d.readFrame()
	require.Equal(d.t, "authentication", auth.MessageType)
	d.writeAck(auth.MessageID)

	settings := d.readFrame()
	require.Equal(d.t, "lpr_settings", settings.MessageType)
	var body codec.SignedBody
	require.NoError(d.t, json.Unmarshal(settings.MessageBody, &body))
	require.NoError(d.t, codec.Verify(body.Data, body.HMAC, testSecret))
	return body
}

// pipeDialer returns a Dialer producing the client half of a fresh pipe and
// hands the server half to accept.
func pipeDialer(accept chan<- net.Conn) lpr.Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		client, server := net.Pipe()
		select {
		case accept <- server:
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		}
		return client, nil
	}
}

func seedFloat(name, value string) data.SettingEntry {
	return data.SettingEntry{Name: name, Value: value, Type: "float"}
}

func seedDevice(stores *fakeStores, id int64) {
	stores.putLPR(&data.LPR{ID: id, Name: "dev", IP: "10.0.0.1", Port: 45, AuthToken: "tok", IsActive: true})
	stores.putSetting(id, data.SettingEntry{Name: "ocr_prob", Value: "0.65", Type: "float"})
	stores.putCameras(id, &data.Camera{
		ID:       7,
		IsActive: true,
		Settings: []data.SettingEntry{{Name: "ViewPointWidth", Value: "1920", Type: "int"}},
	})
}
