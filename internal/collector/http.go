package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"CandleDesk/internal/model"
)

// HTTPFetcher implements Fetcher against a REST bar provider.
type HTTPFetcher struct {
	Adjust string // "", "qfq" or "hfq"
	client *resty.Client
}

// NewHTTPFetcher creates a new fetcher with optional bearer auth and proxy support.
func NewHTTPFetcher(baseURL, apiKey, adjust, proxyURL string, logger *zap.Logger) *HTTPFetcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar())
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &HTTPFetcher{Adjust: adjust, client: client}
}

func (f *HTTPFetcher) Name() string { return "http" }

// apiBar is the JSON shape of one row from the provider.
type apiBar struct {
	Date        string              `json:"date"`
	Symbol      string              `json:"symbol"`
	ShortName   string              `json:"short_name"`
	Open        decimal.NullDecimal `json:"open"`
	High        decimal.NullDecimal `json:"high"`
	Low         decimal.NullDecimal `json:"low"`
	Close       decimal.NullDecimal `json:"close"`
	Volume      int64               `json:"volume"`
	Amount      decimal.Decimal     `json:"amount"`
	ChangeRatio decimal.NullDecimal `json:"change_ratio"`
}

func (f *HTTPFetcher) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyBar, error) {
	params := map[string]string{
		"symbol": symbol,
		"start":  start.Format(model.DateLayout),
		"end":    end.Format(model.DateLayout),
	}
	if f.Adjust != "" {
		params["adjust"] = f.Adjust
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/api/v1/bars/daily")
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.Body()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return nil, &StatusError{Provider: f.Name(), Code: resp.StatusCode(), Body: string(body)}
	}

	var rows []apiBar
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	bars := make([]model.DailyBar, 0, len(rows))
	for _, r := range rows {
		d, err := model.ParseDay(r.Date)
		if err != nil {
			return nil, fmt.Errorf("decode bars: date %q: %w", r.Date, err)
		}
		sym := model.NormalizeSymbol(r.Symbol)
		if sym == "" {
			sym = symbol
		}
		bars = append(bars, model.DailyBar{
			TradingDate: d,
			Quote: model.Quote{
				Symbol:      sym,
				ShortName:   r.ShortName,
				Open:        r.Open,
				High:        r.High,
				Low:         r.Low,
				Close:       r.Close,
				Volume:      r.Volume,
				Amount:      r.Amount,
				ChangeRatio: r.ChangeRatio,
			},
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TradingDate.Before(bars[j].TradingDate) })
	return bars, nil
}
