package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Address is the postal block IREX attaches to channels and events.
// Stored as JSONB; we keep it loose because upstream omits fields freely.
type Address struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Street   string `json:"street,omitempty"`
	Building string `json:"building,omitempty"`
}

// TopRegion picks the value used for the channels.region column.
// Upstream feeds are inconsistent: some fill region, some only city.
func (a Address) TopRegion() string {
	if a.Region != "" {
		return a.Region
	}
	return a.City
}
