package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
// Yahoo reports no turnover, so Amount is left zero.
type YahooFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string) *YahooFetcher {
	return &YahooFetcher{BaseURL: yahooBaseURL, Client: newHTTPClient(proxyURL)}
}

// newHTTPClient returns a client with a 30s timeout, routed through proxyURL
// when it parses.
func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooTicker maps an exchange code to Yahoo's suffixed ticker.
func yahooTicker(symbol string) string {
	if strings.Contains(symbol, ".") || symbol == "" {
		return symbol
	}
	switch symbol[0] {
	case '6', '9', '5':
		return symbol + ".SS"
	case '4', '8':
		return symbol + ".BJ"
	default:
		return symbol + ".SZ"
	}
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ShortName string `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

var shanghai = time.FixedZone("CST", 8*3600)

func at(vals []*float64, i int) decimal.NullDecimal {
	if i >= len(vals) || vals[i] == nil {
		return decimal.NullDecimal{}
	}
	return model.Price(decimal.NewFromFloat(*vals[i]).Round(3))
}

func (f *YahooFetcher) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]model.DailyBar, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprint(model.Day(start).Unix()))
	q.Set("period2", fmt.Sprint(model.Day(end).AddDate(0, 0, 1).Unix()))
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", f.BaseURL, url.PathEscape(yahooTicker(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: f.Name(), Code: resp.StatusCode, Body: string(body)}
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.DailyBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		b := model.DailyBar{
			TradingDate: model.Day(time.Unix(ts, 0).In(shanghai)),
			Quote: model.Quote{
				Symbol:    symbol,
				ShortName: result.Meta.ShortName,
				Open:      at(quote.Open, i),
				High:      at(quote.High, i),
				Low:       at(quote.Low, i),
				Close:     at(quote.Close, i),
			},
		}
		if !b.Open.Valid && !b.Close.Valid {
			continue // holidays and suspensions
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			b.Volume = int64(*quote.Volume[i])
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TradingDate.Before(bars[j].TradingDate) })

	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev.Valid && cur.Valid && !prev.Decimal.IsZero() {
			ratio := cur.Decimal.Sub(prev.Decimal).Div(prev.Decimal).Mul(decimal.NewFromInt(100)).Round(4)
			bars[i].ChangeRatio = model.Price(ratio)
		}
	}
	return bars, nil
}
