package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateName  = errors.New("name already exists")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SettingEntry is one typed configuration entry attached to an LPR or a
// camera. Value is stored as text and coerced by declared type at the
// protocol boundary.
type SettingEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"setting_type"` // int | float | string | bool
}

// Page wraps a paginated listing.
type Page[T any] struct {
	Items        []T `json:"items"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
	PageSize     int `json:"page_size"`
}
