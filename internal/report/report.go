// Package report renders weekly history as a terminal candlestick table.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"CandleDesk/internal/calculator"
	"CandleDesk/internal/lookup"
	"CandleDesk/internal/model"
)

// ANSI colours follow the mainland convention: red rises, green falls.
const (
	colorUp    = "\x1b[31m"
	colorDown  = "\x1b[32m"
	colorFlat  = "\x1b[37m"
	colorReset = "\x1b[0m"
)

// Options controls rendering.
type Options struct {
	Weeks int  // most recent weeks shown; 0 shows all
	Color bool // ANSI colour the candle markers
}

// Candle returns the one-character marker for a bar: up, down or flat.
func Candle(q model.Quote) string {
	if !q.Open.Valid || !q.Close.Valid {
		return "?"
	}
	switch q.Close.Decimal.Cmp(q.Open.Decimal) {
	case 1:
		return "▲"
	case -1:
		return "▼"
	default:
		return "─"
	}
}

// Write renders the header, the candlestick table and the summary block.
func Write(w io.Writer, e lookup.Entry, weekly []model.WeeklyBar, opts Options) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s\n", e.ShortName, e.Symbol)

	if len(weekly) == 0 {
		fmt.Fprintf(&b, "no weekly data for %s\n", e.Symbol)
		_, err := io.WriteString(w, b.String())
		return err
	}

	shown := weekly
	if opts.Weeks > 0 && len(shown) > opts.Weeks {
		shown = shown[len(shown)-opts.Weeks:]
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "week end\t\topen\thigh\tlow\tclose\tvolume\tamount\tchg%\t")
	for _, bar := range shown {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			bar.WeekEndDate.Format(model.DateLayout),
			marker(bar.Quote, opts.Color),
			fixed(bar.Open), fixed(bar.High), fixed(bar.Low), fixed(bar.Close),
			humanize.Comma(bar.Volume),
			humanize.CommafWithDigits(bar.Amount.InexactFloat64(), 2),
			fixed(bar.ChangeRatio))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b.WriteString("\n")
	writeSummary(&b, calculator.Summarize(weekly))

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSummary(b *strings.Builder, s calculator.Summary) {
	fmt.Fprintf(b, "weeks: %d  last close: %s\n", s.Weeks, s.LastClose.StringFixed(2))
	if s.HasMA20w {
		fmt.Fprintf(b, "MA20w: %s", s.MA20w.StringFixed(2))
	} else {
		b.WriteString("MA20w: n/a")
	}
	if s.HasMA50w {
		fmt.Fprintf(b, " | MA50w: %s\n", s.MA50w.StringFixed(2))
	} else {
		b.WriteString(" | MA50w: n/a\n")
	}
	if s.HasRange {
		fmt.Fprintf(b, "52w range: %s - %s (position %.0f%%)\n",
			s.Low52w.StringFixed(2), s.High52w.StringFixed(2), s.Position52w*100)
	}
	if s.HasRSI {
		fmt.Fprintf(b, "RSI14w: %.1f\n", s.RSI14)
	}
}

func marker(q model.Quote, color bool) string {
	c := Candle(q)
	if !color {
		return c
	}
	// every marker gets an escape of the same length so tabwriter columns stay aligned
	switch c {
	case "▲":
		return colorUp + c + colorReset
	case "▼":
		return colorDown + c + colorReset
	}
	return colorFlat + c + colorReset
}

func fixed(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}
