package data

import (
	"context"
	"database/sql"
	"time"
)

// Building groups gates at one physical site.
type Building struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gate is an entry/exit point cameras are mounted on.
type Gate struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	BuildingID int64     `json:"building_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BuildingModel struct {
	DB DBTX
}

func (m BuildingModel) Create(ctx context.Context, b *Building) error {
	query := `
		INSERT INTO buildings (name, address) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query, b.Name, b.Address).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (m BuildingModel) GetByID(ctx context.Context, id int64) (*Building, error) {
	var b Building
	err := m.DB.QueryRowContext(ctx,
		`SELECT id, name, address, created_at, updated_at FROM buildings WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (m BuildingModel) List(ctx context.Context) ([]*Building, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT id, name, address, created_at, updated_at FROM buildings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Building{}
	for rows.Next() {
		var b Building
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &b)
	}
	return items, rows.Err()
}

func (m BuildingModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM buildings WHERE id = $1`, id)
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

type GateModel struct {
	DB DBTX
}

func (m GateModel) Create(ctx context.Context, g *Gate) error {
	query := `
		INSERT INTO gates (name, building_id) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query, g.Name, g.BuildingID).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
}

func (m GateModel) GetByID(ctx context.Context, id int64) (*Gate, error) {
	var g Gate
	err := m.DB.QueryRowContext(ctx,
		`SELECT id, name, building_id, created_at, updated_at FROM gates WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.BuildingID, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (m GateModel) List(ctx context.Context) ([]*Gate, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT id, name, building_id, created_at, updated_at FROM gates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Gate{}
	for rows.Next() {
		var g Gate
		if err := rows.Scan(&g.ID, &g.Name, &g.BuildingID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &g)
	}
	return items, rows.Err()
}

func (m GateModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM gates WHERE id = $1`, id)
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
