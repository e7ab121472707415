package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

// Retrying wraps a Fetcher and retries transient failures after a fixed pause.
type Retrying struct {
	Next        Fetcher
	Backoff     time.Duration
	MaxAttempts int // 0 retries until the context ends
	Logger      *zap.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Fetcher, backoff time.Duration, maxAttempts int, logger *zap.Logger) *Retrying {
	return &Retrying{Next: next, Backoff: backoff, MaxAttempts: maxAttempts, Logger: logger}
}

func (r *Retrying) Name() string { return r.Next.Name() }

func (r *Retrying) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyBar, error) {
	var lastErr error
	for attempt := 1; r.MaxAttempts == 0 || attempt <= r.MaxAttempts; attempt++ {
		bars, err := r.Next.FetchDaily(ctx, symbol, start, end)
		if err == nil {
			return bars, nil
		}
		if !Transient(err) {
			return nil, err
		}
		lastErr = err
		if r.MaxAttempts != 0 && attempt == r.MaxAttempts {
			break
		}
		r.Logger.Warn("fetch failed, retrying",
			zap.String("provider", r.Next.Name()),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", r.Backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Backoff):
		}
	}
	return nil, fmt.Errorf("all %d attempts exhausted: %w", r.MaxAttempts, lastErr)
}
