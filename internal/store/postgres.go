package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

// PostgresStore persists bar history to PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to connStr and creates the tables when missing.
func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres store opened")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_bars (
			symbol        VARCHAR(16) NOT NULL,
			trading_date  DATE NOT NULL,
			short_name    VARCHAR(64) NOT NULL DEFAULT '',
			open_price    NUMERIC(18, 4),
			high_price    NUMERIC(18, 4),
			low_price     NUMERIC(18, 4),
			close_price   NUMERIC(18, 4),
			volume        BIGINT NOT NULL DEFAULT 0,
			amount        NUMERIC(24, 4) NOT NULL DEFAULT 0,
			change_ratio  NUMERIC(12, 4),
			PRIMARY KEY (symbol, trading_date)
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_bars (
			symbol        VARCHAR(16) NOT NULL,
			week_end_date DATE NOT NULL,
			short_name    VARCHAR(64) NOT NULL DEFAULT '',
			open_price    NUMERIC(18, 4),
			high_price    NUMERIC(18, 4),
			low_price     NUMERIC(18, 4),
			close_price   NUMERIC(18, 4),
			volume        BIGINT NOT NULL DEFAULT 0,
			amount        NUMERIC(24, 4) NOT NULL DEFAULT 0,
			change_ratio  NUMERIC(12, 4),
			PRIMARY KEY (symbol, week_end_date)
		)`,
		`CREATE TABLE IF NOT EXISTS ingested_files (
			checksum    VARCHAR(64) PRIMARY KEY,
			batch_id    VARCHAR(36) NOT NULL,
			path        TEXT NOT NULL,
			rows        INTEGER NOT NULL,
			row_errors  INTEGER NOT NULL,
			status      VARCHAR(32) NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS')),
			ingested_at TIMESTAMP NOT NULL
		)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *PostgresStore) PutDaily(ctx context.Context, bars []model.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		q := b.Quote
		batch.Queue(`INSERT INTO daily_bars
			(symbol, trading_date, short_name, open_price, high_price, low_price, close_price, volume, amount, change_ratio)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9::numeric, $10::numeric)
			ON CONFLICT (symbol, trading_date) DO UPDATE SET
				short_name = EXCLUDED.short_name,
				open_price = EXCLUDED.open_price,
				high_price = EXCLUDED.high_price,
				low_price = EXCLUDED.low_price,
				close_price = EXCLUDED.close_price,
				volume = EXCLUDED.volume,
				amount = EXCLUDED.amount,
				change_ratio = EXCLUDED.change_ratio`,
			q.Symbol, b.TradingDate, q.ShortName,
			nullText(q.Open), nullText(q.High), nullText(q.Low), nullText(q.Close),
			q.Volume, q.Amount.String(), nullText(q.ChangeRatio))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		s.rollback(ctx, tx)
		return fmt.Errorf("upsert daily bars: %w", err)
	}
	return tx.Commit(ctx)
}

const pgQuoteColumns = `symbol, short_name,
	open_price::text, high_price::text, low_price::text, close_price::text,
	volume, amount::text, change_ratio::text`

func (s *PostgresStore) Daily(ctx context.Context, symbol string) ([]model.DailyBar, error) {
	rows, err := s.pool.Query(ctx, `SELECT trading_date, `+pgQuoteColumns+`
		FROM daily_bars WHERE symbol = $1 ORDER BY trading_date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query daily: %w", err)
	}
	defer rows.Close()

	bars := []model.DailyBar{}
	for rows.Next() {
		var b model.DailyBar
		if err := scanPgQuote(rows, &b.TradingDate, &b.Quote); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *PostgresStore) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var date *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(trading_date) FROM daily_bars WHERE symbol = $1`, symbol).Scan(&date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest date: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return model.Day(*date), true, nil
}

func (s *PostgresStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) PutWeekly(ctx context.Context, symbol string, bars []model.WeeklyBar) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM weekly_bars WHERE symbol = $1`, symbol)
	for _, b := range bars {
		q := b.Quote
		batch.Queue(`INSERT INTO weekly_bars
			(symbol, week_end_date, short_name, open_price, high_price, low_price, close_price, volume, amount, change_ratio)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9::numeric, $10::numeric)`,
			symbol, b.WeekEndDate, q.ShortName,
			nullText(q.Open), nullText(q.High), nullText(q.Low), nullText(q.Close),
			q.Volume, q.Amount.String(), nullText(q.ChangeRatio))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		s.rollback(ctx, tx)
		return fmt.Errorf("replace weekly bars %s: %w", symbol, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Weekly(ctx context.Context, symbol string) ([]model.WeeklyBar, error) {
	rows, err := s.pool.Query(ctx, `SELECT week_end_date, `+pgQuoteColumns+`
		FROM weekly_bars WHERE symbol = $1 ORDER BY week_end_date`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query weekly: %w", err)
	}
	defer rows.Close()

	bars := []model.WeeklyBar{}
	for rows.Next() {
		var b model.WeeklyBar
		if err := scanPgQuote(rows, &b.WeekEndDate, &b.Quote); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *PostgresStore) Names(ctx context.Context) ([]NameRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT symbol, short_name
		FROM daily_bars WHERE short_name <> ''
		GROUP BY symbol, short_name
		ORDER BY symbol, MAX(trading_date)`)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	var out []nameRow
	for rows.Next() {
		var r nameRow
		if err := rows.Scan(&r.symbol, &r.name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return collectNames(out), nil
}

func (s *PostgresStore) RecordFile(ctx context.Context, rec FileRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ingested_files
		(checksum, batch_id, path, rows, row_errors, status, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (checksum) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			path = EXCLUDED.path,
			rows = EXCLUDED.rows,
			row_errors = EXCLUDED.row_errors,
			status = EXCLUDED.status,
			ingested_at = EXCLUDED.ingested_at`,
		rec.Checksum, rec.BatchID, rec.Path, rec.Rows, rec.RowErrors, rec.Status, rec.IngestedAt)
	return err
}

func (s *PostgresStore) FileIngested(ctx context.Context, checksum string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ingested_files WHERE checksum = $1)`, checksum).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ingested file: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Close() error {
	s.logger.Info("closing postgres store")
	s.pool.Close()
	return nil
}

func (s *PostgresStore) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil {
		s.logger.Warn("rollback", zap.Error(err))
	}
}

func nullText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.String()
	return &v
}

func scanPgQuote(row pgx.Row, date *time.Time, q *model.Quote) error {
	var open, high, low, closeP, amount, change *string
	if err := row.Scan(date, &q.Symbol, &q.ShortName,
		&open, &high, &low, &closeP, &q.Volume, &amount, &change); err != nil {
		return fmt.Errorf("scan bar: %w", err)
	}
	*date = model.Day(*date)

	var err error
	fields := []struct {
		src *string
		dst *decimal.NullDecimal
	}{
		{open, &q.Open}, {high, &q.High}, {low, &q.Low}, {closeP, &q.Close}, {change, &q.ChangeRatio},
	}
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		if f.dst.Decimal, err = decimal.NewFromString(*f.src); err != nil {
			return fmt.Errorf("parse numeric %q: %w", *f.src, err)
		}
		f.dst.Valid = true
	}
	if amount != nil {
		if q.Amount, err = decimal.NewFromString(*amount); err != nil {
			return fmt.Errorf("parse amount %q: %w", *amount, err)
		}
	}
	return nil
}
