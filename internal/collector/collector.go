package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"CandleDesk/internal/model"
	"CandleDesk/internal/progress"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price decimal.Decimal
	Bars  map[string][]model.DailyBar // per symbol; nil generates bars
	Err   error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchDaily(_ context.Context, symbol string, start, end time.Time) ([]model.DailyBar, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Bars != nil {
		var out []model.DailyBar
		for _, b := range m.Bars[symbol] {
			if !b.TradingDate.Before(model.Day(start)) && !b.TradingDate.After(model.Day(end)) {
				out = append(out, b)
			}
		}
		return out, nil
	}
	return generateMockBars(symbol, m.Price, start, end), nil
}

// generateMockBars yields one bar per weekday in [start, end].
func generateMockBars(symbol string, base decimal.Decimal, start, end time.Time) []model.DailyBar {
	if base.IsZero() {
		base = decimal.NewFromInt(10)
	}
	var bars []model.DailyBar
	step := decimal.RequireFromString("0.01")
	i := int64(0)
	for d := model.Day(start); !d.After(model.Day(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		p := base.Add(step.Mul(decimal.NewFromInt(i % 20)))
		bars = append(bars, model.DailyBar{
			TradingDate: d,
			Quote: model.Quote{
				Symbol: symbol,
				Open:   model.Price(p.Sub(step)),
				High:   model.Price(p.Add(step.Mul(decimal.NewFromInt(3)))),
				Low:    model.Price(p.Sub(step.Mul(decimal.NewFromInt(3)))),
				Close:  model.Price(p),
				Volume: 1000000,
				Amount: p.Mul(decimal.NewFromInt(1000000)),
			},
		})
		i++
	}
	return bars
}

// BarStore is the part of the bar store the collector reads and writes.
type BarStore interface {
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
	Daily(ctx context.Context, symbol string) ([]model.DailyBar, error)
	PutDaily(ctx context.Context, bars []model.DailyBar) error
}

// Options controls an update run.
type Options struct {
	StartDate    time.Time     // first date fetched for symbols with no history
	Pause        time.Duration // wait between symbols
	ProgressFile string        // empty disables resume
}

// Report summarises one update run.
type Report struct {
	Updated  map[string]int // symbol -> rows stored
	Resumed  []string       // symbols skipped because an earlier run today completed them
	UpToDate []string
	Errors   map[string]error
}

// Collector keeps the bar store's daily history current from a Fetcher.
type Collector struct {
	Fetcher Fetcher
	Store   BarStore
	Opts    Options
	Logger  *zap.Logger
	now     func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, store BarStore, opts Options, logger *zap.Logger) *Collector {
	return &Collector{Fetcher: fetcher, Store: store, Opts: opts, Logger: logger, now: time.Now}
}

// Update fetches, for each symbol, the bars after its latest stored date up
// to today and upserts them. Provider errors are recorded per symbol and the
// run moves on; a failure to save progress or a cancelled context stops it.
func (c *Collector) Update(ctx context.Context, symbols []string) (*Report, error) {
	today := model.Day(c.now())
	runDate := today.Format(model.DateLayout)

	state := progress.New(runDate)
	if c.Opts.ProgressFile != "" {
		loaded, err := progress.Load(c.Opts.ProgressFile, runDate)
		if err != nil {
			return nil, fmt.Errorf("load progress: %w", err)
		}
		state = loaded
	}

	rep := &Report{Updated: make(map[string]int), Errors: make(map[string]error)}
	c.Logger.Info("update started",
		zap.String("provider", c.Fetcher.Name()),
		zap.Int("symbols", len(symbols)),
		zap.Int("already_done", len(state.Completed)))

	fetched := false
	for _, raw := range symbols {
		symbol := model.NormalizeSymbol(raw)
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if state.Done(symbol) {
			rep.Resumed = append(rep.Resumed, symbol)
			continue
		}

		if fetched && c.Opts.Pause > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(c.Opts.Pause):
			}
		}

		rows, upToDate, err := c.updateOne(ctx, symbol, today)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Errors[symbol] = err
			fetched = true
			c.Logger.Error("update symbol", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		fetched = !upToDate
		if upToDate {
			rep.UpToDate = append(rep.UpToDate, symbol)
		} else {
			rep.Updated[symbol] = rows
		}

		state.Mark(symbol, rows)
		if c.Opts.ProgressFile != "" {
			if err := progress.Save(c.Opts.ProgressFile, state); err != nil {
				return rep, fmt.Errorf("save progress: %w", err)
			}
		}
	}

	c.Logger.Info("update finished",
		zap.Int("updated", len(rep.Updated)),
		zap.Int("up_to_date", len(rep.UpToDate)),
		zap.Int("resumed", len(rep.Resumed)),
		zap.Int("errors", len(rep.Errors)))
	return rep, nil
}

func (c *Collector) updateOne(ctx context.Context, symbol string, today time.Time) (int, bool, error) {
	start := model.Day(c.Opts.StartDate)
	latest, ok, err := c.Store.LatestDate(ctx, symbol)
	if err != nil {
		return 0, false, fmt.Errorf("latest date: %w", err)
	}
	if ok {
		start = latest.AddDate(0, 0, 1)
	}
	if start.After(today) {
		return 0, true, nil
	}

	bars, err := c.Fetcher.FetchDaily(ctx, symbol, start, today)
	if err != nil {
		return 0, false, fmt.Errorf("fetch %s..%s: %w", start.Format(model.DateLayout), today.Format(model.DateLayout), err)
	}
	if len(bars) == 0 {
		return 0, false, nil
	}

	name := ""
	if ok {
		name = c.lastName(ctx, symbol)
	}
	for i := range bars {
		bars[i].Symbol = symbol
		bars[i].TradingDate = model.Day(bars[i].TradingDate)
		if bars[i].ShortName == "" {
			bars[i].ShortName = name
		}
	}
	if err := c.Store.PutDaily(ctx, bars); err != nil {
		return 0, false, fmt.Errorf("store: %w", err)
	}
	c.Logger.Debug("symbol updated", zap.String("symbol", symbol), zap.Int("rows", len(bars)))
	return len(bars), false, nil
}

// lastName is the most recent display name stored for symbol, used when the
// provider does not report one.
func (c *Collector) lastName(ctx context.Context, symbol string) string {
	daily, err := c.Store.Daily(ctx, symbol)
	if err != nil {
		c.Logger.Warn("read stored name", zap.String("symbol", symbol), zap.Error(err))
		return ""
	}
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i].ShortName != "" {
			return daily[i].ShortName
		}
	}
	return ""
}
