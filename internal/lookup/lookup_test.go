package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CandleDesk/internal/store"
)

func sampleRecords() []store.NameRecord {
	return []store.NameRecord{
		{Symbol: "600519", Latest: "贵州茅台", Names: []string{"贵州茅台"}},
		{Symbol: "000001", Latest: "平安银行", Names: []string{"深发展A", "平安银行"}},
		{Symbol: "000002", Latest: "万科A", Names: []string{"万科A"}},
	}
}

func TestResolve(t *testing.T) {
	l := New(sampleRecords())

	tests := []struct {
		name  string
		query string
		want  Entry
		found bool
	}{
		{"exact symbol", "000001", Entry{"平安银行", "000001"}, true},
		{"short symbol padded", "1", Entry{"平安银行", "000001"}, true},
		{"current name", "平安银行", Entry{"平安银行", "000001"}, true},
		{"former name", "深发展A", Entry{"平安银行", "000001"}, true},
		{"whitespace", "  万科A ", Entry{"万科A", "000002"}, true},
		{"unknown name", "不存在", Entry{}, false},
		{"unknown symbol", "999999", Entry{}, false},
		{"empty", "   ", Entry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.Resolve(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NameAndSymbolAgree(t *testing.T) {
	l := New(sampleRecords())
	for _, e := range l.Entries() {
		bySymbol, ok := l.Resolve(e.Symbol)
		require.True(t, ok)
		byName, ok := l.Resolve(e.ShortName)
		require.True(t, ok)
		assert.Equal(t, bySymbol, byName)
	}
}

func TestNew_AmbiguousNames(t *testing.T) {
	t.Run("CurrentHolderWins", func(t *testing.T) {
		l := New([]store.NameRecord{
			{Symbol: "000005", Latest: "新名称", Names: []string{"旧名称", "新名称"}},
			{Symbol: "000009", Latest: "旧名称", Names: []string{"旧名称"}},
		})
		got, ok := l.Resolve("旧名称")
		require.True(t, ok)
		assert.Equal(t, "000009", got.Symbol)
	})

	t.Run("LowestSymbolWins", func(t *testing.T) {
		l := New([]store.NameRecord{
			{Symbol: "000009", Latest: "乙", Names: []string{"甲", "乙"}},
			{Symbol: "000005", Latest: "丙", Names: []string{"甲", "丙"}},
		})
		got, ok := l.Resolve("甲")
		require.True(t, ok)
		assert.Equal(t, "000005", got.Symbol)
	})
}

func TestEntries(t *testing.T) {
	l := New(append(sampleRecords(), store.NameRecord{Symbol: "000001", Latest: "重复"}))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []Entry{
		{"平安银行", "000001"},
		{"万科A", "000002"},
		{"贵州茅台", "600519"},
	}, l.Entries())

	// callers cannot mutate the index
	entries := l.Entries()
	entries[0].ShortName = "x"
	got, _ := l.Resolve("000001")
	assert.Equal(t, "平安银行", got.ShortName)
}

type fakeSource struct {
	records []store.NameRecord
	err     error
}

func (f fakeSource) Names(context.Context) ([]store.NameRecord, error) { return f.records, f.err }

func TestLoad(t *testing.T) {
	ctx := context.Background()

	l, err := Load(ctx, fakeSource{records: sampleRecords()})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	_, err = Load(ctx, fakeSource{err: errors.New("db down")})
	assert.ErrorContains(t, err, "db down")
}
