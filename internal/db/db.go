package db

import (
	"context"
	"fmt"
	"time"

	"absenbot/internal/config"
	"absenbot/internal/db/models"
	"absenbot/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the postgres ledger backend. Each append is a single INSERT, so
// concurrent writers never lose a record; the seq column keeps arrival order.
type DB struct {
	*pgxpool.Pool
}

var _ ledger.Store = (*DB)(nil)

func New(ctx context.Context, cfg config.Database) (*DB, error) {
	return Connect(ctx, cfg.URL())
}

// Connect opens a pool for the given connection string.
func Connect(ctx context.Context, connStr string) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{pool}, nil
}

const selectColumns = `
	SELECT seq, id, to_char(day, 'YYYY-MM-DD'), identity, display_name, method,
	       recorded_at, latitude, longitude, distance_m
	FROM attendance_records`

// Load returns every stored day. Rows that cannot be decoded make the whole
// result corrupt, matching the file backend.
func (db *DB) Load(ctx context.Context) (ledger.Snapshot, error) {
	return db.QueryAll(ctx)
}

// Append inserts rec under date.
func (db *DB) Append(ctx context.Context, date string, rec ledger.Record) error {
	row := models.FromLedger(date, rec)
	query := `
		INSERT INTO attendance_records
			(id, day, identity, display_name, method, recorded_at, latitude, longitude, distance_m)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.Exec(ctx, query,
		row.ID.String(),
		row.Day,
		row.Identity,
		row.DisplayName,
		row.Method,
		row.RecordedAt,
		row.Latitude,
		row.Longitude,
		row.DistanceM,
	)
	if err != nil {
		return fmt.Errorf("error inserting attendance record: %w", err)
	}
	return nil
}

// QueryDay returns the records for date in arrival order.
func (db *DB) QueryDay(ctx context.Context, date string) ([]ledger.Record, error) {
	rows, err := db.Query(ctx, selectColumns+` WHERE day = $1::date ORDER BY seq`, date)
	if err != nil {
		return nil, fmt.Errorf("error querying day: %w", err)
	}
	snap, err := collect(rows)
	if err != nil {
		return nil, err
	}
	return ledger.CloneRecords(snap[date]), nil
}

// QueryAll returns every record grouped by day.
func (db *DB) QueryAll(ctx context.Context) (ledger.Snapshot, error) {
	rows, err := db.Query(ctx, selectColumns+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("error querying ledger: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) (ledger.Snapshot, error) {
	defer rows.Close()

	snap := ledger.Snapshot{}
	for rows.Next() {
		var r models.AttendanceRecord
		err := rows.Scan(
			&r.Seq,
			&r.ID,
			&r.Day,
			&r.Identity,
			&r.DisplayName,
			&r.Method,
			&r.RecordedAt,
			&r.Latitude,
			&r.Longitude,
			&r.DistanceM,
		)
		if err != nil {
			return nil, err
		}
		rec, err := r.ToLedger()
		if err != nil {
			return ledger.Snapshot{}, fmt.Errorf("%w: row %d: %v", ledger.ErrCorruptState, r.Seq, err)
		}
		snap[r.Day] = append(snap[r.Day], rec)
	}
	return snap, rows.Err()
}
