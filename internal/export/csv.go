package export

import (
	"encoding/csv"
	"io"
	"strconv"
)

// CSVSaver writes a header row followed by one line per row. Absent values are empty.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Write(out io.Writer, rows []Row) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"date", "symbol", "short_name", "open", "high", "low", "close", "volume", "amount", "change_ratio"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.Date,
			r.Symbol,
			r.ShortName,
			optStr(r.Open),
			optStr(r.High),
			optStr(r.Low),
			optStr(r.Close),
			strconv.FormatInt(r.Volume, 10),
			floatStr(r.Amount),
			optStr(r.ChangeRatio),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func optStr(f *float64) string {
	if f == nil {
		return ""
	}
	return floatStr(*f)
}
