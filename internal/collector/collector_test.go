package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"CandleDesk/internal/model"
	"CandleDesk/internal/progress"
	"CandleDesk/internal/store"
)

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func TestHTTPFetcher_FetchDaily(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bars/daily", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `[
			{"date":"2024-03-08","symbol":"000001","short_name":"平安银行","open":10.4,"high":10.6,"low":10.31,"close":10.55,"volume":1523400,"amount":"16021345.5","change_ratio":1.25},
			{"date":"2024-03-07","symbol":"1","short_name":"平安银行","open":null,"high":10.5,"low":10.2,"close":10.42,"volume":100,"amount":0,"change_ratio":null}
		]`)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "secret", "qfq", "", zap.NewNop())
	bars, err := f.FetchDaily(context.Background(), "000001", day("2024-03-01"), day("2024-03-08"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotQuery, "symbol=000001")
	assert.Contains(t, gotQuery, "start=2024-03-01")
	assert.Contains(t, gotQuery, "end=2024-03-08")
	assert.Contains(t, gotQuery, "adjust=qfq")

	require.Len(t, bars, 2)
	assert.Equal(t, day("2024-03-07"), bars[0].TradingDate)
	assert.Equal(t, "000001", bars[0].Symbol)
	assert.False(t, bars[0].Open.Valid)
	assert.False(t, bars[0].ChangeRatio.Valid)
	assert.True(t, bars[1].Close.Decimal.Equal(decimal.RequireFromString("10.55")))
	assert.True(t, bars[1].Amount.Equal(decimal.RequireFromString("16021345.5")))
	assert.Equal(t, int64(1523400), bars[1].Volume)
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, "", "", "", zap.NewNop()).FetchDaily(context.Background(), "999999", day("2024-03-01"), day("2024-03-08"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "no such symbol")
	assert.False(t, Transient(err))
}

func TestYahooFetcher_FetchDaily(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		// 2024-03-07 and 2024-03-08 09:30 CST, plus a null row
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"shortName":"KWEICHOW MOUTAI"},
			"timestamp":[1709775000,1709861400,1709947800],
			"indicators":{"quote":[{
				"open":[1700.0,1710.5,null],"high":[1720.0,1725.0,null],
				"low":[1690.0,1700.0,null],"close":[1710.0,1720.26,null],
				"volume":[25000,30000,null]}]}}],"error":null}}`)
	}))
	defer srv.Close()

	f := NewYahooFetcher("")
	f.BaseURL = srv.URL
	bars, err := f.FetchDaily(context.Background(), "600519", day("2024-03-07"), day("2024-03-09"))
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/600519.SS", gotPath)
	require.Len(t, bars, 2)
	assert.Equal(t, day("2024-03-07"), bars[0].TradingDate)
	assert.Equal(t, day("2024-03-08"), bars[1].TradingDate)
	assert.Equal(t, int64(30000), bars[1].Volume)
	assert.False(t, bars[0].ChangeRatio.Valid)
	require.True(t, bars[1].ChangeRatio.Valid)
	assert.Equal(t, "0.6", bars[1].ChangeRatio.Decimal.String())
}

func TestNewHTTPClient(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://query1.finance.yahoo.com/v8/finance/chart/600519.SS", nil)
	require.NoError(t, err)

	t.Run("Direct", func(t *testing.T) {
		c := newHTTPClient("")
		assert.Equal(t, 30*time.Second, c.Timeout)
		tr, ok := c.Transport.(*http.Transport)
		require.True(t, ok)
		assert.Nil(t, tr.Proxy)
	})

	t.Run("Proxy", func(t *testing.T) {
		tr := newHTTPClient("http://127.0.0.1:7890").Transport.(*http.Transport)
		require.NotNil(t, tr.Proxy)
		u, err := tr.Proxy(req)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7890", u.Host)
	})

	t.Run("BadProxyIgnored", func(t *testing.T) {
		tr := newHTTPClient("http://[::1").Transport.(*http.Transport)
		assert.Nil(t, tr.Proxy)
	})

	t.Run("YahooUsesIt", func(t *testing.T) {
		f := NewYahooFetcher("http://127.0.0.1:7890")
		require.NotNil(t, f.Client)
		assert.Equal(t, yahooBaseURL, f.BaseURL)
		assert.NotNil(t, f.Client.Transport.(*http.Transport).Proxy)
	})
}

func TestYahooTicker(t *testing.T) {
	assert.Equal(t, "600519.SS", yahooTicker("600519"))
	assert.Equal(t, "000001.SZ", yahooTicker("000001"))
	assert.Equal(t, "300750.SZ", yahooTicker("300750"))
	assert.Equal(t, "830799.BJ", yahooTicker("830799"))
	assert.Equal(t, "AAPL.US", yahooTicker("AAPL.US"))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(&StatusError{Code: 503}))
	assert.True(t, Transient(&StatusError{Code: 429}))
	assert.False(t, Transient(&StatusError{Code: 400}))
	assert.False(t, Transient(errors.New("decode bars: bad json")))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(nil))
}

// flakyFetcher fails with errs in order, then succeeds.
type flakyFetcher struct {
	errs  []error
	calls atomic.Int32
}

func (f *flakyFetcher) Name() string { return "flaky" }

func (f *flakyFetcher) FetchDaily(_ context.Context, symbol string, start, _ time.Time) ([]model.DailyBar, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return []model.DailyBar{{TradingDate: start, Quote: model.Quote{Symbol: symbol}}}, nil
}

func TestRetrying(t *testing.T) {
	ctx := context.Background()

	t.Run("RetriesServerErrors", func(t *testing.T) {
		f := &flakyFetcher{errs: []error{&StatusError{Code: 502}, &StatusError{Code: 503}}}
		r := NewRetrying(f, time.Millisecond, 0, zap.NewNop())
		bars, err := r.FetchDaily(ctx, "000001", day("2024-03-08"), day("2024-03-08"))
		require.NoError(t, err)
		assert.Len(t, bars, 1)
		assert.Equal(t, int32(3), f.calls.Load())
	})

	t.Run("NotFoundIsNotRetried", func(t *testing.T) {
		f := &flakyFetcher{errs: []error{&StatusError{Code: 404}}}
		r := NewRetrying(f, time.Millisecond, 0, zap.NewNop())
		_, err := r.FetchDaily(ctx, "000001", day("2024-03-08"), day("2024-03-08"))
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 404, se.Code)
		assert.Equal(t, int32(1), f.calls.Load())
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		f := &flakyFetcher{errs: []error{&StatusError{Code: 500}, &StatusError{Code: 500}, &StatusError{Code: 500}}}
		r := NewRetrying(f, time.Millisecond, 2, zap.NewNop())
		_, err := r.FetchDaily(ctx, "000001", day("2024-03-08"), day("2024-03-08"))
		assert.ErrorContains(t, err, "all 2 attempts exhausted")
		assert.Equal(t, int32(2), f.calls.Load())
	})

	t.Run("ContextCancelsWait", func(t *testing.T) {
		f := &flakyFetcher{errs: []error{&StatusError{Code: 500}}}
		r := NewRetrying(f, time.Hour, 0, zap.NewNop())
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := r.FetchDaily(cctx, "000001", day("2024-03-08"), day("2024-03-08"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func newTestCollector(f Fetcher, s BarStore, opts Options, now string) *Collector {
	c := NewCollector(f, s, opts, zap.NewNop())
	c.now = func() time.Time { return day(now).Add(15 * time.Hour) }
	return c
}

func TestCollector_Update(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutDaily(ctx, []model.DailyBar{{
		TradingDate: day("2024-03-06"),
		Quote:       model.Quote{Symbol: "000001", ShortName: "平安银行", Close: model.Price(decimal.NewFromInt(10))},
	}}))

	f := &MockFetcher{Price: decimal.NewFromInt(10)}
	c := newTestCollector(f, s, Options{StartDate: day("2024-03-04")}, "2024-03-10")

	rep, err := c.Update(ctx, []string{"1", "600519"})
	require.NoError(t, err)
	// 000001 resumes after 03-06: Thu and Fri; 600519 starts at 03-04: Mon..Fri
	assert.Equal(t, map[string]int{"000001": 2, "600519": 5}, rep.Updated)
	assert.Empty(t, rep.Errors)

	daily, err := s.Daily(ctx, "000001")
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, day("2024-03-08"), daily[2].TradingDate)
	assert.Equal(t, "平安银行", daily[2].ShortName)

	t.Run("UpToDate", func(t *testing.T) {
		c := newTestCollector(f, s, Options{StartDate: day("2024-03-04")}, "2024-03-08")
		rep, err := c.Update(ctx, []string{"000001"})
		require.NoError(t, err)
		assert.Equal(t, []string{"000001"}, rep.UpToDate)
		assert.Empty(t, rep.Updated)
	})
}

func TestCollector_UpdateRecordsErrors(t *testing.T) {
	ctx := context.Background()
	f := &MockFetcher{Err: &StatusError{Provider: "mock", Code: 404}}
	c := newTestCollector(f, store.NewMemoryStore(), Options{StartDate: day("2024-03-04")}, "2024-03-08")

	rep, err := c.Update(ctx, []string{"000001", "000002"})
	require.NoError(t, err)
	assert.Len(t, rep.Errors, 2)
	assert.ErrorContains(t, rep.Errors["000001"], "status 404")
}

func TestCollector_Resume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.json")

	done := progress.New("2024-03-08")
	done.Mark("000001", 5)
	require.NoError(t, progress.Save(path, done))

	s := store.NewMemoryStore()
	c := newTestCollector(&MockFetcher{}, s, Options{StartDate: day("2024-03-04"), ProgressFile: path}, "2024-03-08")

	rep, err := c.Update(ctx, []string{"000001", "000002"})
	require.NoError(t, err)
	assert.Equal(t, []string{"000001"}, rep.Resumed)
	assert.Equal(t, map[string]int{"000002": 5}, rep.Updated)

	skipped, err := s.Daily(ctx, "000001")
	require.NoError(t, err)
	assert.Empty(t, skipped)

	saved, err := progress.Load(path, "2024-03-08")
	require.NoError(t, err)
	assert.True(t, saved.Done("000002"))
}

func TestCollector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestCollector(&MockFetcher{}, store.NewMemoryStore(), Options{StartDate: day("2024-03-04")}, "2024-03-08")
	_, err := c.Update(ctx, []string{"000001"})
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenDailyStore serves latest dates but fails history reads.
type brokenDailyStore struct {
	*store.MemoryStore
}

func (brokenDailyStore) Daily(context.Context, string) ([]model.DailyBar, error) {
	return nil, errors.New("read timeout")
}

func TestCollector_UpdateLogsNameLookupFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutDaily(ctx, []model.DailyBar{{
		TradingDate: day("2024-03-06"),
		Quote:       model.Quote{Symbol: "000001", ShortName: "平安银行", Close: model.Price(decimal.NewFromInt(10))},
	}}))

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewCollector(&MockFetcher{}, brokenDailyStore{mem}, Options{StartDate: day("2024-03-04")}, zap.New(core))
	c.now = func() time.Time { return day("2024-03-08").Add(15 * time.Hour) }

	rep, err := c.Update(ctx, []string{"000001"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"000001": 2}, rep.Updated)

	warned := logs.FilterMessage("read stored name").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "000001", warned[0].ContextMap()["symbol"])
	assert.Equal(t, "read timeout", warned[0].ContextMap()["error"])
}
