package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Camera is a persisted capture point behind a gate. A camera may be served
// by several LPR devices and an LPR may serve several cameras; the link
// table carries that relation.
type Camera struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	GateID    int64          `json:"gate_id"`
	IsActive  bool           `json:"is_active"`
	LPRIDs    []int64        `json:"lpr_ids"`
	Settings  []SettingEntry `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type CameraModel struct {
	DB DBTX
}

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (name, gate_id, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRowContext(ctx, query, c.Name, c.GateID, c.IsActive).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	if len(c.LPRIDs) > 0 {
		return m.SetLPRLinks(ctx, c.ID, c.LPRIDs)
	}
	return nil
}

func (m CameraModel) GetByID(ctx context.Context, id int64) (*Camera, error) {
	query := `
		SELECT id, name, gate_id, is_active, created_at, updated_at
		FROM cameras WHERE id = $1`

	var c Camera
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.GateID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	ids, err := m.LPRLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	c.LPRIDs = ids
	return &c, nil
}

func (m CameraModel) List(ctx context.Context, page, pageSize int) (*Page[*Camera], error) {
	var total int
	if err := m.DB.QueryRowContext(ctx, `SELECT count(id) FROM cameras`).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, gate_id, is_active, created_at, updated_at
		FROM cameras ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := m.DB.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Camera{}
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.GateID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range items {
		if c.LPRIDs, err = m.LPRLinks(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return &Page[*Camera]{
		Items:        items,
		TotalRecords: total,
		TotalPages:   pages(total, pageSize),
		CurrentPage:  page,
		PageSize:     pageSize,
	}, nil
}

func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, gate_id = $2, is_active = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query, c.Name, c.GateID, c.IsActive, c.ID).Scan(&c.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m CameraModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// LPRLinks returns the ids of the devices serving a camera, ordered.
func (m CameraModel) LPRLinks(ctx context.Context, cameraID int64) ([]int64, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT lpr_id FROM camera_lpr WHERE camera_id = $1 ORDER BY lpr_id`, cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetLPRLinks replaces the camera's device links with the given set.
func (m CameraModel) SetLPRLinks(ctx context.Context, cameraID int64, lprIDs []int64) error {
	if _, err := m.DB.ExecContext(ctx,
		`DELETE FROM camera_lpr WHERE camera_id = $1`, cameraID); err != nil {
		return err
	}
	for _, lprID := range lprIDs {
		if _, err := m.DB.ExecContext(ctx,
			`INSERT INTO camera_lpr (camera_id, lpr_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			cameraID, lprID); err != nil {
			return err
		}
	}
	return nil
}

// ListByLPR returns every active camera served by a device, settings
// included, ordered by camera id. This is the Settings Assembler's view.
func (m CameraModel) ListByLPR(ctx context.Context, lprID int64) ([]*Camera, error) {
	query := `
		SELECT c.id, c.name, c.gate_id, c.is_active, c.created_at, c.updated_at
		FROM cameras c
		JOIN camera_lpr cl ON cl.camera_id = c.id
		WHERE cl.lpr_id = $1 AND c.is_active = true
		ORDER BY c.id`

	rows, err := m.DB.QueryContext(ctx, query, lprID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cams []*Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.GateID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cams = append(cams, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range cams {
		if c.Settings, err = m.ListSettings(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return cams, nil
}

// ListSettings returns camera-scoped setting entries ordered by name.
func (m CameraModel) ListSettings(ctx context.Context, cameraID int64) ([]SettingEntry, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT name, value, setting_type FROM camera_settings WHERE camera_id = $1 ORDER BY name`,
		cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SettingEntry
	for rows.Next() {
		var e SettingEntry
		if err := rows.Scan(&e.Name, &e.Value, &e.Type); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m CameraModel) UpsertSetting(ctx context.Context, cameraID int64, s SettingEntry) error {
	query := `
		INSERT INTO camera_settings (camera_id, name, value, setting_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (camera_id, name) DO UPDATE SET value = $3, setting_type = $4`
	_, err := m.DB.ExecContext(ctx, query, cameraID, s.Name, s.Value, s.Type)
	return err
}

func (m CameraModel) DeleteSetting(ctx context.Context, cameraID int64, name string) error {
	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM camera_settings WHERE camera_id = $1 AND name = $2`, cameraID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
