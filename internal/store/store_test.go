package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func dailyBar(symbol, name, date string, close string) model.DailyBar {
	c := decimal.RequireFromString(close)
	return model.DailyBar{
		TradingDate: day(date),
		Quote: model.Quote{
			Symbol:      symbol,
			ShortName:   name,
			Open:        model.Price(c.Sub(decimal.NewFromFloat(0.1))),
			High:        model.Price(c.Add(decimal.NewFromFloat(0.2))),
			Low:         model.Price(c.Sub(decimal.NewFromFloat(0.3))),
			Close:       model.Price(c),
			Volume:      1200,
			Amount:      decimal.RequireFromString("15360.5"),
			ChangeRatio: model.Price(decimal.RequireFromString("-1.25")),
		},
	}
}

func backends(t *testing.T) map[string]Store {
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bars.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func TestStore_DailyRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			missingOpen := dailyBar("000001", "平安银行", "2024-03-05", "10.50")
			missingOpen.Open = decimal.NullDecimal{}
			missingOpen.ChangeRatio = decimal.NullDecimal{}

			require.NoError(t, s.PutDaily(ctx, []model.DailyBar{
				dailyBar("000001", "平安银行", "2024-03-06", "10.80"),
				missingOpen,
				dailyBar("000002", "万科A", "2024-03-05", "7.01"),
			}))

			got, err := s.Daily(ctx, "000001")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, day("2024-03-05"), got[0].TradingDate)
			assert.False(t, got[0].Open.Valid)
			assert.False(t, got[0].ChangeRatio.Valid)
			assert.True(t, got[0].Close.Decimal.Equal(decimal.RequireFromString("10.5")))
			assert.True(t, got[1].High.Decimal.Equal(decimal.RequireFromString("11.0")))
			assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("15360.5")))
			assert.Equal(t, int64(1200), got[1].Volume)
			assert.Equal(t, "平安银行", got[1].ShortName)

			unknown, err := s.Daily(ctx, "999999")
			require.NoError(t, err)
			assert.NotNil(t, unknown)
			assert.Empty(t, unknown)
		})
	}
}

func TestStore_DailyUpsert(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutDaily(ctx, []model.DailyBar{dailyBar("000001", "平安银行", "2024-03-05", "10.50")}))
			require.NoError(t, s.PutDaily(ctx, []model.DailyBar{dailyBar("000001", "平安银行", "2024-03-05", "10.90")}))

			got, err := s.Daily(ctx, "000001")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, got[0].Close.Decimal.Equal(decimal.RequireFromString("10.9")))
		})
	}
}

func TestStore_SymbolsAndLatestDate(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LatestDate(ctx, "000001")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.PutDaily(ctx, []model.DailyBar{
				dailyBar("600519", "贵州茅台", "2024-03-05", "1700"),
				dailyBar("000001", "平安银行", "2024-03-04", "10.50"),
				dailyBar("000001", "平安银行", "2024-03-08", "10.70"),
			}))

			symbols, err := s.Symbols(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"000001", "600519"}, symbols)

			latest, ok, err := s.LatestDate(ctx, "000001")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, day("2024-03-08"), latest)
		})
	}
}

func TestStore_WeeklyReplace(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			w1 := model.WeeklyBar{WeekEndDate: day("2024-03-08"), Quote: dailyBar("000001", "平安银行", "2024-03-08", "10.7").Quote}
			w2 := model.WeeklyBar{WeekEndDate: day("2024-03-15"), Quote: dailyBar("000001", "平安银行", "2024-03-15", "11.2").Quote}
			require.NoError(t, s.PutWeekly(ctx, "000001", []model.WeeklyBar{w1, w2}))
			require.NoError(t, s.PutWeekly(ctx, "000001", []model.WeeklyBar{w2}))

			got, err := s.Weekly(ctx, "000001")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, day("2024-03-15"), got[0].WeekEndDate)
			assert.Equal(t, "000001", got[0].Symbol)
			assert.True(t, got[0].Close.Decimal.Equal(decimal.RequireFromString("11.2")))
		})
	}
}

func TestStore_Names(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutDaily(ctx, []model.DailyBar{
				dailyBar("000001", "深发展A", "2012-07-20", "10.0"),
				dailyBar("000001", "平安银行", "2012-08-03", "10.0"),
				dailyBar("000001", "平安银行", "2024-03-08", "10.0"),
				dailyBar("000002", "万科A", "2024-03-08", "7.0"),
				dailyBar("000003", "", "2024-03-08", "1.0"),
			}))

			names, err := s.Names(ctx)
			require.NoError(t, err)
			require.Len(t, names, 2)
			assert.Equal(t, NameRecord{Symbol: "000001", Latest: "平安银行", Names: []string{"深发展A", "平安银行"}}, names[0])
			assert.Equal(t, NameRecord{Symbol: "000002", Latest: "万科A", Names: []string{"万科A"}}, names[1])
		})
	}
}

func TestStore_FileRecords(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.FileIngested(ctx, "abc")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.RecordFile(ctx, FileRecord{
				Checksum: "abc", BatchID: "b-1", Path: "data/2024-03-08.csv",
				Rows: 10, Status: FileStatusDone, IngestedAt: time.Now(),
			}))
			ok, err = s.FileIngested(ctx, "abc")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory", "", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, "sqlite", filepath.Join(t.TempDir(), "x.db"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "hdf5", "", zap.NewNop())
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}
