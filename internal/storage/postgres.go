package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stimlog/internal/config"
)

// Connector opens database sessions for a fixed server using caller-supplied
// credentials.
type Connector struct {
	cfg config.DatabaseConfig
}

// NewConnector returns a Connector for the configured server.
func NewConnector(cfg config.DatabaseConfig) *Connector {
	return &Connector{cfg: cfg}
}

// Connect opens a single connection authenticated as user.
func (c *Connector) Connect(ctx context.Context, user, password string) (*DB, error) {
	connCfg, err := pgx.ParseConfig(c.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	connCfg.User = user
	connCfg.Password = password
	if c.cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = c.cfg.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn, user: user}
	if c.cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}

	log.Info().
		Str("host", c.cfg.Host).
		Str("database", c.cfg.Name).
		Str("user", user).
		Msg("connected to PostgreSQL")
	return db, nil
}

// DB is one authenticated database session.
type DB struct {
	conn *pgx.Conn
	user string
}

// User returns the identity the session authenticated as.
func (db *DB) User() string {
	return db.user
}

// Close ends the session.
func (db *DB) Close(ctx context.Context) error {
	return db.conn.Close(ctx)
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.conn.Ping(ctx) == nil
}

// EnsureSchema creates the tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// StimulusID returns the id of the newest version of the named stimulus,
// or NoStimulus if the catalog has no row for it.
func (db *DB) StimulusID(ctx context.Context, name string) (int64, error) {
	query := `SELECT id FROM stimuli WHERE name = $1 ORDER BY version DESC LIMIT 1`

	var id int64
	err := db.conn.QueryRow(ctx, query, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return NoStimulus, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying stimulus %s: %w", name, err)
	}
	return id, nil
}

// InsertExperiment writes one experiment row.
func (db *DB) InsertExperiment(ctx context.Context, row *ExperimentRow) error {
	query := `
		INSERT INTO experiments (stimulus_id, "user", date, start_time, end_time, params)
		VALUES ($1, $2, $3::text::date, $4::text::time, $5::text::time, $6)`

	_, err := db.conn.Exec(ctx, query,
		row.StimulusID, row.User, row.Date,
		row.StartTime, row.EndTime, row.Params,
	)
	if err != nil {
		return fmt.Errorf("inserting experiment: %w", err)
	}
	return nil
}

// LatestMonitor returns the most recent monitor row. ok is false when the
// history is empty.
func (db *DB) LatestMonitor(ctx context.Context) (MonitorProfile, bool, error) {
	query := `
		SELECT width, height, refresh_rate, pixel_depth
		FROM monitors ORDER BY id DESC LIMIT 1`

	var m MonitorProfile
	err := db.conn.QueryRow(ctx, query).Scan(&m.Width, &m.Height, &m.RefreshRate, &m.PixelDepth)
	if errors.Is(err, pgx.ErrNoRows) {
		return MonitorProfile{}, false, nil
	}
	if err != nil {
		return MonitorProfile{}, false, fmt.Errorf("querying latest monitor: %w", err)
	}
	return m, true, nil
}

// InsertMonitor appends a monitor row.
func (db *DB) InsertMonitor(ctx context.Context, m MonitorProfile) error {
	query := `
		INSERT INTO monitors (width, height, refresh_rate, pixel_depth)
		VALUES ($1, $2, $3, $4)`

	if _, err := db.conn.Exec(ctx, query, m.Width, m.Height, m.RefreshRate, m.PixelDepth); err != nil {
		return fmt.Errorf("inserting monitor: %w", err)
	}
	return nil
}

// ListExperiments returns recent experiment rows, newest first.
func (db *DB) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]ExperimentRow, error) {
	query := `
		SELECT id, stimulus_id, "user", date::text, start_time::text, end_time::text, params
		FROM experiments
		WHERE ($1::bigint IS NULL OR stimulus_id = $1)
		  AND ($2 = '' OR "user" = $2)
		ORDER BY id DESC
		LIMIT $3`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.conn.Query(ctx, query, filter.StimulusID, filter.User, limit)
	if err != nil {
		return nil, fmt.Errorf("querying experiments: %w", err)
	}
	defer rows.Close()

	var results []ExperimentRow
	for rows.Next() {
		var row ExperimentRow
		if err := rows.Scan(
			&row.ID, &row.StimulusID, &row.User,
			&row.Date, &row.StartTime, &row.EndTime, &row.Params,
		); err != nil {
			return nil, fmt.Errorf("scanning experiment row: %w", err)
		}
		results = append(results, row)
	}

	return results, rows.Err()
}
