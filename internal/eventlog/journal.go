package eventlog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mintweave/nft-market-engine/internal/entity"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    standard   TEXT NOT NULL,
    version    TEXT NOT NULL,
    event      TEXT NOT NULL,
    data       TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_event ON events (event);
`

// Journal is the durable record of emitted events, one row per event with
// the data payload stored as JSON.
type Journal struct {
	db *sql.DB
}

func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

func (j *Journal) AddEvent(ev entity.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}

	_, err = j.db.Exec(
		"INSERT INTO events (standard, version, event, data, created_at) VALUES (?, ?, ?, ?, ?)",
		ev.Standard, ev.Version, ev.Event, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)

	return err
}

// RecentEvents returns the latest events, newest first. The data payload
// comes back as raw JSON.
func (j *Journal) RecentEvents(limit int) ([]entity.Event, error) {
	rows, err := j.db.Query(
		"SELECT standard, version, event, data FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]entity.Event, 0, limit)
	for rows.Next() {
		var ev entity.Event
		var data string
		if err := rows.Scan(&ev.Standard, &ev.Version, &ev.Event, &data); err != nil {
			return nil, err
		}
		ev.Data = json.RawMessage(data)
		events = append(events, ev)
	}

	return events, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
