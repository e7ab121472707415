package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"CandleDesk/internal/model"
)

// SQLiteStore persists bar history to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_bars (
			symbol        TEXT NOT NULL,
			trading_date  TEXT NOT NULL,
			short_name    TEXT NOT NULL DEFAULT '',
			open_price    TEXT,
			high_price    TEXT,
			low_price     TEXT,
			close_price   TEXT,
			volume        INTEGER NOT NULL DEFAULT 0,
			amount        TEXT NOT NULL DEFAULT '0',
			change_ratio  TEXT,
			PRIMARY KEY (symbol, trading_date)
		)`,

		`CREATE TABLE IF NOT EXISTS weekly_bars (
			symbol        TEXT NOT NULL,
			week_end_date TEXT NOT NULL,
			short_name    TEXT NOT NULL DEFAULT '',
			open_price    TEXT,
			high_price    TEXT,
			low_price     TEXT,
			close_price   TEXT,
			volume        INTEGER NOT NULL DEFAULT 0,
			amount        TEXT NOT NULL DEFAULT '0',
			change_ratio  TEXT,
			PRIMARY KEY (symbol, week_end_date)
		)`,

		`CREATE TABLE IF NOT EXISTS ingested_files (
			checksum    TEXT PRIMARY KEY,
			batch_id    TEXT NOT NULL,
			path        TEXT NOT NULL,
			rows        INTEGER NOT NULL,
			row_errors  INTEGER NOT NULL,
			status      TEXT NOT NULL,
			ingested_at INTEGER NOT NULL
		)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) PutDaily(ctx context.Context, bars []model.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_bars
		(symbol, trading_date, short_name, open_price, high_price, low_price, close_price, volume, amount, change_ratio)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (symbol, trading_date) DO UPDATE SET
			short_name = excluded.short_name,
			open_price = excluded.open_price,
			high_price = excluded.high_price,
			low_price = excluded.low_price,
			close_price = excluded.close_price,
			volume = excluded.volume,
			amount = excluded.amount,
			change_ratio = excluded.change_ratio`)
	if err != nil {
		s.rollback(tx)
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		q := b.Quote
		if _, err := stmt.ExecContext(ctx,
			q.Symbol, b.TradingDate.Format(model.DateLayout), q.ShortName,
			q.Open, q.High, q.Low, q.Close, q.Volume, q.Amount, q.ChangeRatio,
		); err != nil {
			s.rollback(tx)
			return fmt.Errorf("upsert %s %s: %w", q.Symbol, b.TradingDate.Format(model.DateLayout), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Daily(ctx context.Context, symbol string) ([]model.DailyBar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trading_date, symbol, short_name,
		open_price, high_price, low_price, close_price, volume, amount, change_ratio
		FROM daily_bars WHERE symbol = ? ORDER BY trading_date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query daily: %w", err)
	}
	defer rows.Close()

	bars := []model.DailyBar{}
	for rows.Next() {
		var b model.DailyBar
		var date string
		if err := scanQuote(rows, &date, &b.Quote); err != nil {
			return nil, err
		}
		if b.TradingDate, err = model.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parse trading_date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *SQLiteStore) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(trading_date) FROM daily_bars WHERE symbol = ?`, symbol).Scan(&date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest date: %w", err)
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	t, err := model.ParseDay(date.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest date %q: %w", date.String, err)
	}
	return t, true, nil
}

func (s *SQLiteStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *SQLiteStore) PutWeekly(ctx context.Context, symbol string, bars []model.WeeklyBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM weekly_bars WHERE symbol = ?`, symbol); err != nil {
		s.rollback(tx)
		return fmt.Errorf("clear weekly %s: %w", symbol, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO weekly_bars
		(symbol, week_end_date, short_name, open_price, high_price, low_price, close_price, volume, amount, change_ratio)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.rollback(tx)
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		q := b.Quote
		if _, err := stmt.ExecContext(ctx,
			symbol, b.WeekEndDate.Format(model.DateLayout), q.ShortName,
			q.Open, q.High, q.Low, q.Close, q.Volume, q.Amount, q.ChangeRatio,
		); err != nil {
			s.rollback(tx)
			return fmt.Errorf("insert weekly %s %s: %w", symbol, b.WeekEndDate.Format(model.DateLayout), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Weekly(ctx context.Context, symbol string) ([]model.WeeklyBar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT week_end_date, symbol, short_name,
		open_price, high_price, low_price, close_price, volume, amount, change_ratio
		FROM weekly_bars WHERE symbol = ? ORDER BY week_end_date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query weekly: %w", err)
	}
	defer rows.Close()

	bars := []model.WeeklyBar{}
	for rows.Next() {
		var b model.WeeklyBar
		var date string
		if err := scanQuote(rows, &date, &b.Quote); err != nil {
			return nil, err
		}
		if b.WeekEndDate, err = model.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parse week_end_date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *SQLiteStore) Names(ctx context.Context) ([]NameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, short_name, MAX(trading_date) AS seen
		FROM daily_bars WHERE short_name <> ''
		GROUP BY symbol, short_name
		ORDER BY symbol, seen`)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	var out []nameRow
	for rows.Next() {
		var r nameRow
		var seen string
		if err := rows.Scan(&r.symbol, &r.name, &seen); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return collectNames(out), nil
}

func (s *SQLiteStore) RecordFile(ctx context.Context, rec FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO ingested_files
		(checksum, batch_id, path, rows, row_errors, status, ingested_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (checksum) DO UPDATE SET
			batch_id = excluded.batch_id,
			path = excluded.path,
			rows = excluded.rows,
			row_errors = excluded.row_errors,
			status = excluded.status,
			ingested_at = excluded.ingested_at`,
		rec.Checksum, rec.BatchID, rec.Path, rec.Rows, rec.RowErrors, rec.Status, rec.IngestedAt.Unix(),
	)
	return err
}

func (s *SQLiteStore) FileIngested(ctx context.Context, checksum string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingested_files WHERE checksum = ?`, checksum).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ingested file: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}

func (s *SQLiteStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		s.logger.Warn("rollback", zap.Error(err))
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuote(row scanner, date *string, q *model.Quote) error {
	if err := row.Scan(date, &q.Symbol, &q.ShortName,
		&q.Open, &q.High, &q.Low, &q.Close, &q.Volume, &q.Amount, &q.ChangeRatio); err != nil {
		return fmt.Errorf("scan bar: %w", err)
	}
	return nil
}
