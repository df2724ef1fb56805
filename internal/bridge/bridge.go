// Package bridge fans inbound device events out to websocket rooms keyed by
// camera id, and forwards plate detections to the ingest sink.
package bridge

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-lpr/internal/lpr"
	"github.com/technosupport/ts-lpr/internal/metrics"
)

// IngestEvent is the persistence-worthy projection of a plates_data frame.
type IngestEvent struct {
	CameraID  int64           `json:"camera_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Cars      []lpr.Car       `json:"cars"`
	FullImage string          `json:"full_image,omitempty"`
}

// Sink receives every plate detection for persistence. Failures are logged
// and never reach the session.
type Sink interface {
	PublishPlates(evt IngestEvent) error
}

// Envelope is what subscribers receive on the wire.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsConn is the slice of *websocket.Conn the bridge writes through.
// Narrowed for tests.
type wsConn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const defaultOutboxSize = 64

// Subscriber is one websocket client. Each subscriber owns a bounded outbox
// and a writer pump, so one slow consumer can never stall a broadcast.
type Subscriber struct {
	conn   wsConn
	outbox chan Envelope
	quit   chan struct{}
	drop   sync.Once
	bridge *Bridge
}

// Bridge holds the room index. Broadcasts take the read lock; subscription
// changes take the write lock.
type Bridge struct {
	mu    sync.RWMutex
	rooms map[int64]map[*Subscriber]struct{}
	subs  map[*Subscriber]map[int64]struct{}

	sink       Sink
	outboxSize int
}

func New(sink Sink) *Bridge {
	return &Bridge{
		rooms:      make(map[int64]map[*Subscriber]struct{}),
		subs:       make(map[*Subscriber]map[int64]struct{}),
		sink:       sink,
		outboxSize: defaultOutboxSize,
	}
}

// NewSubscriber registers a connection and starts its writer pump. The
// subscriber receives nothing until it joins a room.
func (b *Bridge) NewSubscriber(conn wsConn) *Subscriber {
	s := &Subscriber{
		conn:   conn,
		outbox: make(chan Envelope, b.outboxSize),
		quit:   make(chan struct{}),
		bridge: b,
	}
	b.mu.Lock()
	b.subs[s] = make(map[int64]struct{})
	b.mu.Unlock()
	metrics.BridgeSubscribers.Inc()
	go s.writePump()
	return s
}

func (s *Subscriber) writePump() {
	defer s.conn.Close()
	for {
		select {
		case <-s.quit:
			return
		case env := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(env); err != nil {
				log.Printf("[WARN] Bridge: subscriber write failed: %v", err)
				s.bridge.Drop(s)
				return
			}
		}
	}
}

// Subscribe joins the subscriber to a camera room.
func (b *Bridge) Subscribe(s *Subscriber, cameraID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.subs[s]; !known {
		return // already dropped
	}
	room, ok := b.rooms[cameraID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		b.rooms[cameraID] = room
	}
	room[s] = struct{}{}
	b.subs[s][cameraID] = struct{}{}
}

// Unsubscribe leaves one camera room.
func (b *Bridge) Unsubscribe(s *Subscriber, cameraID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(s, cameraID)
}

func (b *Bridge) leaveLocked(s *Subscriber, cameraID int64) {
	if room, ok := b.rooms[cameraID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(b.rooms, cameraID)
		}
	}
	if cams, ok := b.subs[s]; ok {
		delete(cams, cameraID)
	}
}

// Drop removes the subscriber from every room and stops its pump. Safe to
// call multiple times and from any goroutine. The outbox is never closed:
// a broadcast racing a drop must land in the buffer or hit the non-blocking
// default, not a closed channel.
func (b *Bridge) Drop(s *Subscriber) {
	s.drop.Do(func() {
		b.mu.Lock()
		for cameraID := range b.subs[s] {
			b.leaveLocked(s, cameraID)
		}
		delete(b.subs, s)
		b.mu.Unlock()
		metrics.BridgeSubscribers.Dec()
		close(s.quit)
	})
}

// Broadcast emits an event to every subscriber of the camera's room. It
// never blocks: a full outbox drops that subscriber, leaving the rest of
// the room untouched.
func (b *Bridge) Broadcast(event string, payload any, cameraID int64) {
	b.mu.RLock()
	room := b.rooms[cameraID]
	targets := make([]*Subscriber, 0, len(room))
	for s := range room {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	env := Envelope{Event: event, Data: payload}
	for _, s := range targets {
		select {
		case s.outbox <- env:
		default:
			metrics.BridgeDroppedTotal.Inc()
			log.Printf("[WARN] Bridge: subscriber outbox full on camera %d, dropping subscriber", cameraID)
			go b.Drop(s)
		}
	}
}

// PlatesData implements lpr.Events: fan out to the room, then hand the
// event to the ingest sink off the session's dispatch path.
func (b *Bridge) PlatesData(evt lpr.PlatesEvent) {
	b.Broadcast("plates_data", evt, evt.CameraID)
	if b.sink == nil {
		return
	}
	ingest := IngestEvent{
		CameraID:  evt.CameraID,
		Timestamp: evt.Timestamp,
		Cars:      evt.Cars,
		FullImage: evt.FullImage,
	}
	go func() {
		if err := b.sink.PublishPlates(ingest); err != nil {
			metrics.IngestPublishTotal.WithLabelValues("fail").Inc()
			log.Printf("[ERROR] Bridge: ingest publish for camera %d: %v", ingest.CameraID, err)
			return
		}
		metrics.IngestPublishTotal.WithLabelValues("ok").Inc()
	}()
}

// Live implements lpr.Events.
func (b *Bridge) Live(evt lpr.LiveEvent) {
	b.Broadcast("live", evt, evt.CameraID)
}
