package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// LPR is a persisted license-plate-reader device.
type LPR struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IP          string         `json:"ip"`
	Port        int            `json:"port"`
	AuthToken   string         `json:"-"`
	Latitude    string         `json:"latitude,omitempty"`
	Longitude   string         `json:"longitude,omitempty"`
	IsActive    bool           `json:"is_active"`
	Settings    []SettingEntry `json:"settings,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type LPRModel struct {
	DB DBTX
}

const lprColumns = `id, name, description, ip, port, auth_token, latitude, longitude, is_active, created_at, updated_at`

func scanLPR(row interface{ Scan(...any) error }) (*LPR, error) {
	var l LPR
	err := row.Scan(
		&l.ID, &l.Name, &l.Description, &l.IP, &l.Port, &l.AuthToken,
		&l.Latitude, &l.Longitude, &l.IsActive, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (m LPRModel) Create(ctx context.Context, l *LPR) error {
	query := `
		INSERT INTO lprs (name, description, ip, port, auth_token, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		l.Name, l.Description, l.IP, l.Port, l.AuthToken, l.Latitude, l.Longitude, l.IsActive,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (m LPRModel) GetByID(ctx context.Context, id int64) (*LPR, error) {
	query := `SELECT ` + lprColumns + ` FROM lprs WHERE id = $1`
	return scanLPR(m.DB.QueryRowContext(ctx, query, id))
}

func (m LPRModel) GetByName(ctx context.Context, name string) (*LPR, error) {
	query := `SELECT ` + lprColumns + ` FROM lprs WHERE name = $1`
	return scanLPR(m.DB.QueryRowContext(ctx, query, name))
}

// ListActive returns every device that should hold a live connection.
func (m LPRModel) ListActive(ctx context.Context) ([]*LPR, error) {
	query := `SELECT ` + lprColumns + ` FROM lprs WHERE is_active = true ORDER BY id`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lprs []*LPR
	for rows.Next() {
		l, err := scanLPR(rows)
		if err != nil {
			return nil, err
		}
		lprs = append(lprs, l)
	}
	return lprs, rows.Err()
}

func (m LPRModel) List(ctx context.Context, page, pageSize int) (*Page[*LPR], error) {
	var total int
	if err := m.DB.QueryRowContext(ctx, `SELECT count(id) FROM lprs`).Scan(&total); err != nil {
		return nil, err
	}

	query := `SELECT ` + lprColumns + ` FROM lprs ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := m.DB.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*LPR{}
	for rows.Next() {
		l, err := scanLPR(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Page[*LPR]{
		Items:        items,
		TotalRecords: total,
		TotalPages:   pages(total, pageSize),
		CurrentPage:  page,
		PageSize:     pageSize,
	}, nil
}

func (m LPRModel) Update(ctx context.Context, l *LPR) error {
	query := `
		UPDATE lprs
		SET name = $1, description = $2, ip = $3, port = $4,
		    latitude = $5, longitude = $6, is_active = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		l.Name, l.Description, l.IP, l.Port, l.Latitude, l.Longitude, l.IsActive, l.ID,
	).Scan(&l.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m LPRModel) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE lprs SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
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

func (m LPRModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM lprs WHERE id = $1`, id)
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

// ListSettings returns the device-scoped setting entries ordered by name.
func (m LPRModel) ListSettings(ctx context.Context, lprID int64) ([]SettingEntry, error) {
	query := `
		SELECT name, value, setting_type FROM lpr_settings
		WHERE lpr_id = $1 ORDER BY name`
	return m.querySettings(ctx, query, lprID)
}

func (m LPRModel) UpsertSetting(ctx context.Context, lprID int64, s SettingEntry) error {
	query := `
		INSERT INTO lpr_settings (lpr_id, name, value, setting_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lpr_id, name) DO UPDATE SET value = $3, setting_type = $4`
	_, err := m.DB.ExecContext(ctx, query, lprID, s.Name, s.Value, s.Type)
	return err
}

func (m LPRModel) DeleteSetting(ctx context.Context, lprID int64, name string) error {
	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM lpr_settings WHERE lpr_id = $1 AND name = $2`, lprID, name)
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

func (m LPRModel) querySettings(ctx context.Context, query string, args ...any) ([]SettingEntry, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
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

func pages(total, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
