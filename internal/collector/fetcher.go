package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"CandleDesk/internal/model"
)

// Fetcher retrieves daily bars from a market-data provider.
type Fetcher interface {
	// FetchDaily returns the symbol's bars for trading dates in [start, end], ascending.
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyBar, error)
	Name() string
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Provider, e.Code, e.Body)
}

// Transient reports whether a failed fetch is worth retrying: network and
// timeout errors, 429 and 5xx responses. Context cancellation is not.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
