package lpr

import (
	"context"
	"encoding/json"

	"github.com/technosupport/ts-lpr/internal/data"
)

// DeviceStore is the slice of the repository the gateway core reads.
type DeviceStore interface {
	GetByID(ctx context.Context, id int64) (*data.LPR, error)
	ListActive(ctx context.Context) ([]*data.LPR, error)
	ListSettings(ctx context.Context, lprID int64) ([]data.SettingEntry, error)
}

// CameraStore resolves the cameras a device serves, settings included.
type CameraStore interface {
	ListByLPR(ctx context.Context, lprID int64) ([]*data.Camera, error)
}

// Car is one detected vehicle as projected for operators. Accuracy, speed
// and vehicle descriptor fields pass through exactly as the device sent
// them.
type Car struct {
	PlateNumber  string          `json:"plate_number"`
	PlateImage   string          `json:"plate_image"`
	OCRAccuracy  json.RawMessage `json:"ocr_accuracy"`
	VisionSpeed  json.RawMessage `json:"vision_speed"`
	VehicleClass json.RawMessage `json:"vehicle_class"`
	VehicleType  json.RawMessage `json:"vehicle_type"`
	VehicleColor json.RawMessage `json:"vehicle_color"`
}

// PlatesEvent is the projection of an inbound plates_data frame. CameraID is
// whatever the device declared; the gateway never rewrites it.
type PlatesEvent struct {
	MessageType string          `json:"messageType"`
	Timestamp   json.RawMessage `json:"timestamp"`
	CameraID    int64           `json:"camera_id"`
	FullImage   string          `json:"full_image,omitempty"`
	Cars        []Car           `json:"cars"`
}

// LiveEvent is the projection of an inbound live frame.
type LiveEvent struct {
	MessageType string `json:"messageType"`
	CameraID    int64  `json:"camera_id"`
	LiveImage   string `json:"live_image"`
}

// Events receives everything a streaming session produces. The bridge
// implements it; sessions must never block on it.
type Events interface {
	PlatesData(evt PlatesEvent)
	Live(evt LiveEvent)
}

type nopEvents struct{}

func (nopEvents) PlatesData(PlatesEvent) {}
func (nopEvents) Live(LiveEvent)         {}

// NopEvents discards all events. Used when the bridge is not wired yet.
var NopEvents Events = nopEvents{}
