package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-lpr/internal/bridge"
	"github.com/technosupport/ts-lpr/internal/data"
	"github.com/technosupport/ts-lpr/internal/metrics"
)

// TrafficStore is the slice of the repository the writer needs.
type TrafficStore interface {
	Create(ctx context.Context, t *data.Traffic) error
}

// VehicleStore keeps the per-plate vehicle registry.
type VehicleStore interface {
	Ensure(ctx context.Context, v *data.Vehicle) error
}

// BlobStore persists base64 snapshots and returns an object key.
type BlobStore interface {
	PutBase64(ctx context.Context, kind, b64 string) (string, error)
}

// Writer consumes detection events from NATS and records them as traffic
// rows, deduplicating repeats of the same plate within a short window.
type Writer struct {
	store    TrafficStore
	vehicles VehicleStore
	blobs    BlobStore
	dedup    *lru.Cache[string, time.Time]
	ttl      time.Duration
	sub      *nats.Subscription
}

func NewWriter(store TrafficStore, vehicles VehicleStore, blobs BlobStore, dedupSize int, ttl time.Duration) *Writer {
	c, _ := lru.New[string, time.Time](dedupSize)
	return &Writer{
		store:    store,
		vehicles: vehicles,
		blobs:    blobs,
		dedup:    c,
		ttl:      ttl,
	}
}

// Start subscribes to the detection subject. Stop drops the subscription.
func (w *Writer) Start(conn *nats.Conn, subject string) error {
	sub, err := conn.Subscribe(subject, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	w.sub = sub
	log.Printf("[INFO] Ingest: traffic writer subscribed to %s", subject)
	return nil
}

func (w *Writer) Stop() {
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
}

func (w *Writer) handle(msg *nats.Msg) {
	var evt bridge.IngestEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		metrics.TrafficWritesTotal.WithLabelValues("fail").Inc()
		log.Printf("[WARN] Ingest: malformed detection event: %v", err)
		return
	}
	w.Process(context.Background(), evt)
}

// Process records every non-duplicate car in the event. Rows are written
// independently so one failure does not discard the rest.
func (w *Writer) Process(ctx context.Context, evt bridge.IngestEvent) {
	ts := parseTimestamp(evt.Timestamp)

	fullKey := ""
	if evt.FullImage != "" && w.blobs != nil {
		key, err := w.blobs.PutBase64(ctx, "full", evt.FullImage)
		if err != nil {
			log.Printf("[WARN] Ingest: full image upload for camera %d: %v", evt.CameraID, err)
		} else {
			fullKey = key
		}
	}

	for _, car := range evt.Cars {
		plate := car.PlateNumber
		if plate == "" {
			plate = "Unknown"
		}

		if w.isDuplicate(dedupKey(evt.CameraID, plate, ts)) {
			continue
		}

		plateKey := ""
		if car.PlateImage != "" && w.blobs != nil {
			key, err := w.blobs.PutBase64(ctx, "plate", car.PlateImage)
			if err != nil {
				log.Printf("[WARN] Ingest: plate image upload for camera %d: %v", evt.CameraID, err)
			} else {
				plateKey = key
			}
		}

		vehicleID := int64(0)
		if w.vehicles != nil {
			v := &data.Vehicle{
				PlateNumber:  plate,
				VehicleClass: rawOrNull(car.VehicleClass),
				VehicleType:  rawOrNull(car.VehicleType),
				VehicleColor: rawOrNull(car.VehicleColor),
			}
			if err := w.vehicles.Ensure(ctx, v); err != nil {
				log.Printf("[WARN] Ingest: vehicle registry for plate %s: %v", plate, err)
			} else {
				vehicleID = v.ID
			}
		}

		row := &data.Traffic{
			PlateNumber:   plate,
			VehicleID:     vehicleID,
			OCRAccuracy:   lenientFloat(car.OCRAccuracy),
			VisionSpeed:   lenientFloat(car.VisionSpeed),
			Timestamp:     ts,
			CameraID:      evt.CameraID,
			PlateImageKey: plateKey,
			FullImageKey:  fullKey,
		}
		if err := w.store.Create(ctx, row); err != nil {
			metrics.TrafficWritesTotal.WithLabelValues("fail").Inc()
			log.Printf("[ERROR] Ingest: traffic insert for camera %d plate %s: %v", evt.CameraID, plate, err)
			continue
		}
		metrics.TrafficWritesTotal.WithLabelValues("ok").Inc()
	}
}

func (w *Writer) isDuplicate(key string) bool {
	if addedAt, ok := w.dedup.Get(key); ok {
		if time.Since(addedAt) < w.ttl {
			return true
		}
	}
	w.dedup.Add(key, time.Now())
	return false
}

func dedupKey(cameraID int64, plate string, ts time.Time) string {
	return fmt.Sprintf("%d|%s|%d", cameraID, plate, ts.Truncate(time.Second).Unix())
}

// rawOrNull keeps the descriptor exactly as the device sent it; an absent
// field is stored as JSON null.
func rawOrNull(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

// lenientFloat accepts numbers and numeric strings; anything else, the
// device's "Unknown" included, becomes zero.
func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

// parseTimestamp accepts RFC 3339 strings and unix epochs; anything else
// falls back to the arrival time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
		var epoch float64
		if err := json.Unmarshal(raw, &epoch); err == nil && epoch > 0 {
			return time.Unix(int64(epoch), 0).UTC()
		}
	}
	return time.Now().UTC()
}
