// Package sqlite archives daily summaries beyond the in-memory retention
// horizon. The time-series engine forgets summaries after half a year; the
// archive keeps every day ever summarized, queryable for reporting.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"sensornet/internal/model"
	"sensornet/internal/series"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Entry is one summary with its series identity, as queued for archiving.
type Entry struct {
	Group   string
	Name    string
	Kind    model.Kind
	Summary series.Summary
}

// Config configures the archive.
type Config struct {
	DBPath string // e.g. "data/summaries.db"
}

// Archive is a single-goroutine SQLite writer with transaction batching.
type Archive struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (a *Archive) DB() *sql.DB { return a.db }

// Open creates the archive, initializing WAL mode and the schema.
func Open(cfg Config) (*Archive, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; reads share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened archive at %s", cfg.DBPath)
	return &Archive{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			grp    TEXT NOT NULL,
			name   TEXT NOT NULL,
			kind   TEXT NOT NULL,
			day    TEXT NOT NULL,
			min    REAL,
			max    REAL,
			hours  REAL,
			PRIMARY KEY (grp, name, day)
		);
	`)
	return err
}

// Run reads entries from ch and inserts them in batched transactions.
// Flushes every batchSize entries OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (a *Archive) Run(ctx context.Context, ch <-chan Entry) {
	batch := make([]Entry, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := a.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d summaries in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case e, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of entries in a single transaction. Re-archiving
// the same day replaces the row, so replay after a restart is harmless.
func (a *Archive) insertBatch(entries []Entry) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO summaries (grp, name, kind, day, min, max, hours)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		s := e.Summary
		_, err := stmt.Exec(e.Group, e.Name, kindLabel(e.Kind),
			s.Date.Format("2006-01-02"), s.Min, s.Max, s.Hours)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// History returns the archived summaries of one series between from and to
// (inclusive), oldest first.
func (a *Archive) History(group, name string, from, to time.Time) ([]series.Summary, error) {
	rows, err := a.db.Query(`
		SELECT day, min, max, hours FROM summaries
		WHERE grp = ? AND name = ? AND day BETWEEN ? AND ?
		ORDER BY day
	`, group, name, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []series.Summary
	for rows.Next() {
		var day string
		var s series.Summary
		if err := rows.Scan(&day, &s.Min, &s.Max, &s.Hours); err != nil {
			return nil, err
		}
		s.Date, err = time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("bad day %q: %w", day, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastDay returns the most recently archived day for a series, zero when
// nothing is archived yet. The supervisor uses it to skip re-archiving on
// startup replay.
func (a *Archive) LastDay(group, name string) (time.Time, error) {
	var day sql.NullString
	err := a.db.QueryRow(
		`SELECT MAX(day) FROM summaries WHERE grp = ? AND name = ?`,
		group, name,
	).Scan(&day)
	if err != nil {
		return time.Time{}, err
	}
	if !day.Valid {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", day.String)
}

func kindLabel(k model.Kind) string {
	if k == model.KindSwitch {
		return "switch"
	}
	return "temperature"
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
