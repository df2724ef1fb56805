package data

import (
	"context"
	"time"
)

// Traffic is one persisted plate detection.
type Traffic struct {
	ID            int64     `json:"id"`
	PlateNumber   string    `json:"plate_number"`
	OCRAccuracy   float64   `json:"ocr_accuracy"`
	VisionSpeed   float64   `json:"vision_speed"`
	Timestamp     time.Time `json:"timestamp"`
	CameraID      int64     `json:"camera_id"`
	VehicleID     int64     `json:"vehicle_id,omitempty"`
	PlateImageKey string    `json:"plate_image_key,omitempty"`
	FullImageKey  string    `json:"full_image_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TrafficListItem is a traffic row joined with its gate, building and
// vehicle registry entry for operator listing.
type TrafficListItem struct {
	Traffic
	GateName     string `json:"gate_name,omitempty"`
	BuildingName string `json:"building_name,omitempty"`
	VehicleClass string `json:"vehicle_class,omitempty"`
	VehicleType  string `json:"vehicle_type,omitempty"`
	VehicleColor string `json:"vehicle_color,omitempty"`
}

type TrafficModel struct {
	DB DBTX
}

func (m TrafficModel) Create(ctx context.Context, t *Traffic) error {
	query := `
		INSERT INTO traffic (plate_number, ocr_accuracy, vision_speed, timestamp, camera_id, vehicle_id, plate_image_key, full_image_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query,
		t.PlateNumber, t.OCRAccuracy, t.VisionSpeed, t.Timestamp.UTC(), t.CameraID,
		t.VehicleID, t.PlateImageKey, t.FullImageKey,
	).Scan(&t.ID, &t.CreatedAt)
}

func (m TrafficModel) List(ctx context.Context, page, pageSize int) (*Page[*TrafficListItem], error) {
	var total int
	if err := m.DB.QueryRowContext(ctx, `SELECT count(id) FROM traffic`).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.plate_number, t.ocr_accuracy, t.vision_speed, t.timestamp,
		       t.camera_id, COALESCE(t.vehicle_id, 0), t.plate_image_key, t.full_image_key, t.created_at,
		       COALESCE(g.name, ''), COALESCE(b.name, ''),
		       COALESCE(v.vehicle_class, ''), COALESCE(v.vehicle_type, ''), COALESCE(v.vehicle_color, '')
		FROM traffic t
		LEFT JOIN cameras c ON c.id = t.camera_id
		LEFT JOIN gates g ON g.id = c.gate_id
		LEFT JOIN buildings b ON b.id = g.building_id
		LEFT JOIN vehicles v ON v.id = t.vehicle_id
		ORDER BY t.timestamp DESC
		LIMIT $1 OFFSET $2`

	rows, err := m.DB.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*TrafficListItem{}
	for rows.Next() {
		var t TrafficListItem
		if err := rows.Scan(
			&t.ID, &t.PlateNumber, &t.OCRAccuracy, &t.VisionSpeed, &t.Timestamp,
			&t.CameraID, &t.VehicleID, &t.PlateImageKey, &t.FullImageKey, &t.CreatedAt,
			&t.GateName, &t.BuildingName,
			&t.VehicleClass, &t.VehicleType, &t.VehicleColor,
		); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Page[*TrafficListItem]{
		Items:        items,
		TotalRecords: total,
		TotalPages:   pages(total, pageSize),
		CurrentPage:  page,
		PageSize:     pageSize,
	}, nil
}

// ListByPlate returns detections for one plate, newest first.
func (m TrafficModel) ListByPlate(ctx context.Context, plate string, limit int) ([]*Traffic, error) {
	query := `
		SELECT id, plate_number, ocr_accuracy, vision_speed, timestamp,
		       camera_id, COALESCE(vehicle_id, 0), plate_image_key, full_image_key, created_at
		FROM traffic WHERE plate_number = $1
		ORDER BY timestamp DESC LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, plate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Traffic{}
	for rows.Next() {
		var t Traffic
		if err := rows.Scan(
			&t.ID, &t.PlateNumber, &t.OCRAccuracy, &t.VisionSpeed, &t.Timestamp,
			&t.CameraID, &t.VehicleID, &t.PlateImageKey, &t.FullImageKey, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}
