package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/airsense/internal/infrastructure/database"
	"github.com/nerrad567/airsense/internal/telemetry"
)

// DefaultLimit caps Between when the caller passes limit <= 0.
const DefaultLimit = 1000

// ErrInvalidWindow is returned when a query window ends before it starts.
var ErrInvalidWindow = errors.New("archive: window end precedes start")

// Record is one archived reading.
type Record struct {
	telemetry.Reading
	DeviceID string `json:"device_id,omitempty"`
}

// Store reads and writes the readings table.
type Store struct {
	db  *database.DB
	loc *time.Location
}

// NewStore wraps an open, migrated database. A nil location means UTC.
func NewStore(db *database.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

// Insert writes one reading.
func (s *Store) Insert(ctx context.Context, deviceID string, r telemetry.Reading) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO readings (recorded_at, device_id, temperature, humidity, co2) VALUES (?, ?, ?, ?, ?)",
		r.Timestamp.Unix(), deviceID, r.Temperature, r.Humidity, r.CO2,
	)
	if err != nil {
		return fmt.Errorf("archiving reading: %w", err)
	}
	return nil
}

// Between returns readings with from <= timestamp <= to, oldest first,
// at most limit rows.
func (s *Store) Between(ctx context.Context, from, to time.Time, limit int) ([]Record, error) {
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at, device_id, temperature, humidity, co2
		FROM readings
		WHERE recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
		LIMIT ?`,
		from.Unix(), to.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			unix int64
		)
		if err := rows.Scan(&unix, &rec.DeviceID, &rec.Temperature, &rec.Humidity, &rec.CO2); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		rec.Timestamp = time.Unix(unix, 0).In(s.loc)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive rows: %w", err)
	}
	return records, nil
}

// Count returns the number of archived readings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting archive rows: %w", err)
	}
	return n, nil
}

// HealthCheck checks the underlying database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
