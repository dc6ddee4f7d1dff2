package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/market"
	"github.com/coinarena/ledger-engine/internal/metrics"
	"github.com/coinarena/ledger-engine/internal/model"
)

// DefaultBaseURL is the public Upbit REST endpoint.
const DefaultBaseURL = "https://api.upbit.com"

// UpbitClient is a QuoteSource backed by the Upbit ticker API:
//
//	GET /v1/ticker?markets=KRW-BTC,KRW-ETH
//	→ [{"market":"KRW-BTC","trade_price":50000000,"signed_change_rate":0.01}, ...]
//
// One request covers any number of markets.
type UpbitClient struct {
	baseURL string
	quote   string
	http    *http.Client
}

// NewUpbitClient creates a client. quote filters ListMarkets to one quote
// currency (e.g. "KRW"); an empty quote lists everything.
func NewUpbitClient(baseURL, quote string, timeout time.Duration) *UpbitClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UpbitClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		quote:   strings.ToUpper(quote),
		http:    &http.Client{Timeout: timeout},
	}
}

type tickerPayload struct {
	Market           string          `json:"market"`
	TradePrice       decimal.Decimal `json:"trade_price"`
	SignedChangeRate decimal.Decimal `json:"signed_change_rate"`
}

type marketPayload struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// GetPrices issues a single ticker request for all markets.
func (c *UpbitClient) GetPrices(ctx context.Context, markets []string) (map[string]decimal.Decimal, error) {
	symbols := market.Normalize(markets)
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	start := time.Now()
	defer func() { metrics.OracleLatency.Observe(time.Since(start).Seconds()) }()

	q := url.Values{}
	q.Set("markets", strings.Join(symbols, ","))
	body, status, err := c.get(ctx, "/v1/ticker?"+q.Encode())
	if err != nil {
		metrics.OracleRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", model.ErrQuoteUnavailable, err)
	}

	// Upbit answers 404 "Code not found" when it quotes none of the symbols.
	if status == http.StatusNotFound {
		metrics.OracleRequests.WithLabelValues("not_found").Inc()
		slog.Warn("oracle quoted no markets", "markets", symbols)
		return map[string]decimal.Decimal{}, nil
	}
	if status < 200 || status >= 300 {
		metrics.OracleRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: ticker status %d", model.ErrQuoteUnavailable, status)
	}

	var tickers []tickerPayload
	if err := json.Unmarshal(body, &tickers); err != nil {
		metrics.OracleRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: decode ticker: %v", model.ErrQuoteUnavailable, err)
	}

	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		if t.Market == "" || !t.TradePrice.IsPositive() {
			continue
		}
		prices[t.Market] = t.TradePrice
	}
	metrics.OracleRequests.WithLabelValues("ok").Inc()
	return prices, nil
}

// ListMarkets returns the markets priced in the configured quote currency.
func (c *UpbitClient) ListMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	body, status, err := c.get(ctx, "/v1/market/all?isDetails=false")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("list markets: status %d", status)
	}

	var payload []marketPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("list markets: decode: %w", err)
	}

	out := make([]model.MarketInfo, 0, len(payload))
	for _, m := range payload {
		sym, err := market.Parse(m.Market)
		if err != nil {
			continue
		}
		if c.quote != "" && !sym.InQuote(c.quote) {
			continue
		}
		out = append(out, model.MarketInfo{
			Market:      sym.Code,
			KoreanName:  m.KoreanName,
			EnglishName: m.EnglishName,
		})
	}
	return out, nil
}

func (c *UpbitClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
