package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresJournal stores events in a Postgres table. The payload is kept
// as jsonb so event shapes can evolve without migrations.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(connStr string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	j := &PostgresJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *PostgresJournal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id SERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			signal_ts TIMESTAMPTZ,
			payload JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time);
	`)
	if err != nil {
		return fmt.Errorf("migrate events table: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Record(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = j.db.Exec(
		`INSERT INTO events (time, type, symbol, signal_ts, payload) VALUES ($1,$2,$3,$4,$5)`,
		event.Time, string(event.Type), event.Symbol, event.Timestamp, payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Events(eventType EventType, start, end time.Time) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT time, type, symbol, signal_ts, payload FROM events
		 WHERE type = $1 AND time BETWEEN $2 AND $3 ORDER BY time`,
		string(eventType), start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		var payload []byte
		if err := rows.Scan(&e.Time, &kind, &e.Symbol, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = EventType(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
