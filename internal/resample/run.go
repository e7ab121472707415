package resample

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

// BarStore is the slice of the bar store the batch resampler needs.
type BarStore interface {
	Symbols(ctx context.Context) ([]string, error)
	Daily(ctx context.Context, symbol string) ([]model.DailyBar, error)
	PutWeekly(ctx context.Context, symbol string, bars []model.WeeklyBar) error
}

// Result summarises one batch run.
type Result struct {
	Symbols int
	Weeks   int
	Skipped []string
	Errors  map[string]error
}

// Runner recomputes weekly history for every requested symbol.
type Runner struct {
	Store  BarStore
	Logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(store BarStore, logger *zap.Logger) *Runner {
	return &Runner{Store: store, Logger: logger}
}

// Run resamples each symbol's full daily history and replaces its weekly history.
// An empty symbols list means every symbol in the store. Per-symbol failures are
// collected in the result; only context cancellation or a failure to list symbols
// aborts the run.
func (r *Runner) Run(ctx context.Context, symbols []string) (*Result, error) {
	if len(symbols) == 0 {
		all, err := r.Store.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("list symbols: %w", err)
		}
		symbols = all
	}

	res := &Result{Errors: make(map[string]error)}
	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		daily, err := r.Store.Daily(ctx, symbol)
		if err != nil {
			res.Errors[symbol] = fmt.Errorf("load daily: %w", err)
			r.Logger.Error("load daily bars", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(daily) == 0 {
			res.Skipped = append(res.Skipped, symbol)
			r.Logger.Warn("no daily bars, skipping", zap.String("symbol", symbol))
			continue
		}

		weekly, err := Weekly(daily)
		if err != nil {
			res.Errors[symbol] = err
			r.Logger.Error("resample", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if err := r.Store.PutWeekly(ctx, symbol, weekly); err != nil {
			res.Errors[symbol] = fmt.Errorf("save weekly: %w", err)
			r.Logger.Error("save weekly bars", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		res.Symbols++
		res.Weeks += len(weekly)
		if (i+1)%500 == 0 {
			r.Logger.Info("resample progress", zap.Int("done", i+1), zap.Int("total", len(symbols)))
		}
	}

	r.Logger.Info("resample finished",
		zap.Int("symbols", res.Symbols),
		zap.Int("weeks", res.Weeks),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}
