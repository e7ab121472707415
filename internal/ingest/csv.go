package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

// Export column names.
const (
	colTradingDate = "TradingDate"
	colSymbol      = "Symbol"
	colShortName   = "ShortName"
	colOpen        = "OpenPrice"
	colClose       = "ClosePrice"
	colHigh        = "HighPrice"
	colLow         = "LowPrice"
	colVolume      = "Volume"
	colAmount      = "Amount"
	colChangeRatio = "ChangeRatio"
)

var requiredColumns = []string{
	colTradingDate, colSymbol, colShortName,
	colOpen, colClose, colHigh, colLow,
	colVolume, colAmount, colChangeRatio,
}

// RowError describes a CSV row that could not be turned into a DailyBar.
type RowError struct {
	File string
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ParseFile reads one daily CSV export. Rows that fail to parse are skipped and
// reported as RowErrors; a missing or unreadable header fails the whole file.
func ParseFile(path string) ([]model.DailyBar, []RowError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()
	return Parse(file, path)
}

// Parse reads CSV rows from r; name is used in error messages.
func Parse(r io.Reader, name string) ([]model.DailyBar, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("file %s is empty", name)
		}
		return nil, nil, fmt.Errorf("failed to read header from %s: %w", name, err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}

	var bars []model.DailyBar
	var rowErrs []RowError
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{File: name, Line: line, Err: err})
			continue
		}
		if isBlank(record) {
			continue
		}

		bar, err := parseRecord(record, idx)
		if err != nil {
			rowErrs = append(rowErrs, RowError{File: name, Line: line, Err: err})
			continue
		}
		bars = append(bars, bar)
	}
	return bars, rowErrs, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		idx[h] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseRecord(record []string, idx map[string]int) (model.DailyBar, error) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var bar model.DailyBar
	var err error

	if bar.TradingDate, err = model.ParseDay(field(colTradingDate)); err != nil {
		return bar, fmt.Errorf("trading date %q: %w", field(colTradingDate), err)
	}
	bar.Symbol = model.NormalizeSymbol(field(colSymbol))
	if bar.Symbol == "" {
		return bar, errors.New("empty symbol")
	}
	bar.ShortName = field(colShortName)

	prices := []struct {
		col      string
		dst      *decimal.NullDecimal
		positive bool
	}{
		{colOpen, &bar.Open, true},
		{colHigh, &bar.High, true},
		{colLow, &bar.Low, true},
		{colClose, &bar.Close, true},
		{colChangeRatio, &bar.ChangeRatio, false},
	}
	for _, p := range prices {
		if *p.dst, err = parseNullDecimal(field(p.col)); err != nil {
			return bar, fmt.Errorf("%s: %w", p.col, err)
		}
		if p.positive && p.dst.Valid && !p.dst.Decimal.IsPositive() {
			return bar, fmt.Errorf("%s: non-positive price %s", p.col, p.dst.Decimal)
		}
	}

	if bar.Volume, err = parseVolume(field(colVolume)); err != nil {
		return bar, fmt.Errorf("%s: %w", colVolume, err)
	}
	amount, err := parseNullDecimal(field(colAmount))
	if err != nil {
		return bar, fmt.Errorf("%s: %w", colAmount, err)
	}
	bar.Amount = amount.Decimal
	if bar.Amount.IsNegative() {
		return bar, fmt.Errorf("%s: negative value %s", colAmount, bar.Amount)
	}
	return bar, nil
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return model.Price(d), nil
}

func parseVolume(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return v, nil
	}
	// some exports write volumes as "1234.0"
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return 0, fmt.Errorf("not a non-negative integer: %s", s)
	}
	return d.IntPart(), nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
