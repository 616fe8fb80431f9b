// Package postgres persists show events.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// EventRow is an event read back from the show_events table.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	ShowID    string                 `json:"show_id"`
}

// Options describe the connection. Empty fields fall back to the PG*
// environment variables and then to local defaults.
type Options struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
	SSLMode  string
}

// OptionsFromEnv reads PGHOST, PGPORT, PGUSER, PGDATABASE and PGSSLMODE.
// The password is resolved by the caller.
func OptionsFromEnv() Options {
	return Options{
		Host:     getEnv("PGHOST", "127.0.0.1"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "livemix"),
		Database: getEnv("PGDATABASE", "livemix"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}
}

// ConnString renders the options as a lib/pq keyword/value string.
func (o Options) ConnString() string {
	parts := []string{
		"host=" + o.Host,
		"port=" + o.Port,
		"user=" + o.User,
	}
	if o.Password != "" {
		parts = append(parts, "password="+quote(o.Password))
	}
	parts = append(parts, "dbname="+o.Database)
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts = append(parts, "sslmode="+sslmode)
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Client appends and queries events of one show.
type Client struct {
	db     *sql.DB
	showID string
}

// New connects, verifies the connection and creates the table if needed.
func New(ctx context.Context, showID string, opts Options) (*Client, error) {
	db, err := sql.Open("postgres", opts.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:     db,
		showID: showID,
	}

	if err := client.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create show_events table: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS show_events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			show_id  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_show_events_ts ON show_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_show_events_show_id ON show_events(show_id);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts one event.
func (c *Client) Append(ctx context.Context, ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO show_events (ts, level, event, msg, fields, show_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ts, level, event, msgPtr, fieldsJSON, c.showID)
	return err
}

// ClampLimit bounds a requested row count to 1..10000, defaulting to 200.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Query returns the newest events of the show, newest first.
func (c *Client) Query(ctx context.Context, limit int) ([]EventRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, show_id
		FROM show_events
		WHERE show_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, c.showID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.ShowID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
