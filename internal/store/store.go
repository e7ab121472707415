package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

// File statuses recorded for ingested CSV exports.
const (
	FileStatusDone           = "DONE"
	FileStatusDoneWithErrors = "DONE_WITH_ERRORS"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// FileRecord is the bookkeeping row for one ingested CSV export.
type FileRecord struct {
	Checksum   string
	BatchID    string
	Path       string
	Rows       int
	RowErrors  int
	Status     string
	IngestedAt time.Time
}

// NameRecord lists the display names a symbol has carried.
// Names is ordered by the last date each name was seen, so Latest == Names[len(Names)-1].
type NameRecord struct {
	Symbol string
	Latest string
	Names  []string
}

// Store persists per-symbol daily and weekly bar history.
type Store interface {
	// PutDaily upserts bars keyed by (symbol, trading date). Bars may span symbols.
	PutDaily(ctx context.Context, bars []model.DailyBar) error
	// Daily returns a symbol's full history by ascending date. Unknown symbols yield an empty slice.
	Daily(ctx context.Context, symbol string) ([]model.DailyBar, error)
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
	Symbols(ctx context.Context) ([]string, error)

	// PutWeekly replaces a symbol's weekly history.
	PutWeekly(ctx context.Context, symbol string, bars []model.WeeklyBar) error
	Weekly(ctx context.Context, symbol string) ([]model.WeeklyBar, error)

	Names(ctx context.Context) ([]NameRecord, error)

	RecordFile(ctx context.Context, rec FileRecord) error
	FileIngested(ctx context.Context, checksum string) (bool, error)

	Close() error
}

// Open creates the store selected by driver: "sqlite", "postgres" or "memory".
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		return NewSQLiteStore(dsn, logger)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// nameRow is one (symbol, name, last seen) tuple as returned by the SQL backends.
type nameRow struct {
	symbol string
	name   string
}

// collectNames folds rows ordered by (symbol, last seen) into NameRecords.
func collectNames(rows []nameRow) []NameRecord {
	var out []NameRecord
	for _, r := range rows {
		if n := len(out); n == 0 || out[n-1].Symbol != r.symbol {
			out = append(out, NameRecord{Symbol: r.symbol})
		}
		rec := &out[len(out)-1]
		rec.Names = append(rec.Names, r.name)
		rec.Latest = r.name
	}
	return out
}
