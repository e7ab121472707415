package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"CandleDesk/internal/model"
)

// MemoryStore keeps everything in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	daily  map[string]map[time.Time]model.DailyBar
	weekly map[string][]model.WeeklyBar
	files  map[string]FileRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		daily:  make(map[string]map[time.Time]model.DailyBar),
		weekly: make(map[string][]model.WeeklyBar),
		files:  make(map[string]FileRecord),
	}
}

func (m *MemoryStore) PutDaily(_ context.Context, bars []model.DailyBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		b.TradingDate = model.Day(b.TradingDate)
		days, ok := m.daily[b.Symbol]
		if !ok {
			days = make(map[time.Time]model.DailyBar)
			m.daily[b.Symbol] = days
		}
		days[b.TradingDate] = b
	}
	return nil
}

func (m *MemoryStore) Daily(_ context.Context, symbol string) ([]model.DailyBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := make([]model.DailyBar, 0, len(m.daily[symbol]))
	for _, b := range m.daily[symbol] {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TradingDate.Before(bars[j].TradingDate) })
	return bars, nil
}

func (m *MemoryStore) LatestDate(_ context.Context, symbol string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	found := false
	for d := range m.daily[symbol] {
		if !found || d.After(latest) {
			latest, found = d, true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) Symbols(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.daily))
	for s, days := range m.daily {
		if len(days) > 0 {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (m *MemoryStore) PutWeekly(_ context.Context, symbol string, bars []model.WeeklyBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.WeeklyBar, len(bars))
	copy(cp, bars)
	m.weekly[symbol] = cp
	return nil
}

func (m *MemoryStore) Weekly(_ context.Context, symbol string) ([]model.WeeklyBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := make([]model.WeeklyBar, len(m.weekly[symbol]))
	copy(bars, m.weekly[symbol])
	return bars, nil
}

func (m *MemoryStore) Names(ctx context.Context) ([]NameRecord, error) {
	symbols, _ := m.Symbols(ctx)
	var rows []nameRow
	for _, sym := range symbols {
		daily, _ := m.Daily(ctx, sym)
		lastSeen := make(map[string]time.Time)
		for _, b := range daily {
			if b.ShortName != "" {
				lastSeen[b.ShortName] = b.TradingDate
			}
		}
		names := make([]string, 0, len(lastSeen))
		for n := range lastSeen {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool { return lastSeen[names[i]].Before(lastSeen[names[j]]) })
		for _, n := range names {
			rows = append(rows, nameRow{symbol: sym, name: n})
		}
	}
	return collectNames(rows), nil
}

func (m *MemoryStore) RecordFile(_ context.Context, rec FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[rec.Checksum] = rec
	return nil
}

func (m *MemoryStore) FileIngested(_ context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[checksum]
	return ok, nil
}

func (m *MemoryStore) Close() error { return nil }
