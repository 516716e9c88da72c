// Package store persists fetched historical bars in a local SQLite cache so
// a backfilled window survives restarts and can be read without a session.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
)

// BarStore is a write-through cache of historical bars keyed by
// (symbol, period, open time).
type BarStore struct {
	db *sql.DB
}

// NewBarStore opens (and if needed creates) the cache database.
func NewBarStore(path string) (*BarStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	// Prices stored as text to keep decimal exactness.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol_id INTEGER NOT NULL,
			period    INTEGER NOT NULL,
			open_time INTEGER NOT NULL,
			open      TEXT NOT NULL,
			high      TEXT NOT NULL,
			low       TEXT NOT NULL,
			close     TEXT NOT NULL,
			volume    INTEGER NOT NULL,
			PRIMARY KEY (symbol_id, period, open_time)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bars table: %w", err)
	}

	return &BarStore{db: db}, nil
}

// Close releases the database handle.
func (s *BarStore) Close() error {
	return s.db.Close()
}

// SaveBars upserts a batch of bars for one symbol. Re-fetching a window
// overwrites the cached copy.
func (s *BarStore) SaveBars(ctx context.Context, symbolID int64, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol_id, period, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol_id, period, open_time) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			symbolID, int32(b.Period), b.OpenTime.UnixMilli(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			b.Volume,
		)
		if err != nil {
			return fmt.Errorf("insert bar %s: %w", b.OpenTime, err)
		}
	}

	return tx.Commit()
}

// LoadBars returns cached bars for [from, to) in ascending open-time order.
func (s *BarStore) LoadBars(ctx context.Context, symbolID int64, period model.Period, from, to time.Time) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars
		WHERE symbol_id = ? AND period = ? AND open_time >= ? AND open_time < ?
		ORDER BY open_time ASC
	`, symbolID, int32(period), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var openTime int64
		var open, high, low, closePx string
		var volume int64
		if err := rows.Scan(&openTime, &open, &high, &low, &closePx, &volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}

		bar := model.Bar{
			Period:   period,
			OpenTime: time.UnixMilli(openTime).UTC(),
			Volume:   volume,
		}
		if bar.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open %q: %w", open, err)
		}
		if bar.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high %q: %w", high, err)
		}
		if bar.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low %q: %w", low, err)
		}
		if bar.Close, err = decimal.NewFromString(closePx); err != nil {
			return nil, fmt.Errorf("parse close %q: %w", closePx, err)
		}

		bars = append(bars, bar)
	}

	return bars, rows.Err()
}
