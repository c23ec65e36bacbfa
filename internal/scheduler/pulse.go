package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tick is one heartbeat of the routine.
type Tick struct {
	Start    time.Time
	Duration time.Duration
	// Total is the number of talks processed.
	Total int
	// Error is empty when the tick finished cleanly.
	Error string
}

// Pulse keeps the recent heartbeats in the talk database.
type Pulse struct {
	db *sql.DB
}

// NewPulse creates the heartbeat table if needed.
func NewPulse(db *sql.DB) (*Pulse, error) {
	p := &Pulse{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate pulse: %w", err)
	}
	return p, nil
}

func (p *Pulse) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			start INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			total INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_start ON ticks(start)`,
	}
	for _, m := range migrations {
		if _, err := p.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Add records a tick. Times are stored in milliseconds.
func (p *Pulse) Add(ctx context.Context, t Tick) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ticks (start, duration, total, error) VALUES (?, ?, ?, ?)`,
		t.Start.UnixMilli(), t.Duration.Milliseconds(), t.Total, t.Error)
	if err != nil {
		return fmt.Errorf("failed to record tick: %w", err)
	}
	return nil
}

// Recent returns up to limit ticks, newest first.
func (p *Pulse) Recent(ctx context.Context, limit int) ([]Tick, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT start, duration, total, error FROM ticks ORDER BY start DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ticks []Tick
	for rows.Next() {
		var start, duration int64
		var t Tick
		if err := rows.Scan(&start, &duration, &t.Total, &t.Error); err != nil {
			return nil, err
		}
		t.Start = time.UnixMilli(start)
		t.Duration = time.Duration(duration) * time.Millisecond
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// Prune drops ticks older than the cutoff.
func (p *Pulse) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM ticks WHERE start < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
