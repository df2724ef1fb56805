package data

import (
	"context"
	"database/sql"
	"time"
)

// Vehicle is the registry entry for a plate. The descriptor fields hold the
// raw JSON the device reported on first sighting.
type Vehicle struct {
	ID           int64     `json:"id"`
	PlateNumber  string    `json:"plate_number"`
	VehicleClass string    `json:"vehicle_class"`
	VehicleType  string    `json:"vehicle_type"`
	VehicleColor string    `json:"vehicle_color"`
	CreatedAt    time.Time `json:"created_at"`
}

type VehicleModel struct {
	DB DBTX
}

// Ensure gets or creates the registry row for v.PlateNumber and fills in its
// ID. Descriptors are kept from the first sighting; repeats only bump
// updated_at.
func (m VehicleModel) Ensure(ctx context.Context, v *Vehicle) error {
	query := `
		INSERT INTO vehicles (plate_number, vehicle_class, vehicle_type, vehicle_color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plate_number) DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query,
		v.PlateNumber, v.VehicleClass, v.VehicleType, v.VehicleColor,
	).Scan(&v.ID, &v.CreatedAt)
}

func (m VehicleModel) GetByPlate(ctx context.Context, plate string) (*Vehicle, error) {
	query := `
		SELECT id, plate_number, vehicle_class, vehicle_type, vehicle_color, created_at
		FROM vehicles WHERE plate_number = $1`

	var v Vehicle
	err := m.DB.QueryRowContext(ctx, query, plate).Scan(
		&v.ID, &v.PlateNumber, &v.VehicleClass, &v.VehicleType, &v.VehicleColor, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
