package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"astra/internal/adapters/config"
	"astra/internal/domain/options"
	optionssvc "astra/internal/services/options"
	"astra/pkg/errors"
	"astra/pkg/logger"
)

// Compile-time check
var _ optionssvc.MarketDataClient = (*Client)(nil)

// Client fetches option reference data and chain snapshots from Polygon.
// All failures surface as errors.ErrSourceUnavailable so callers can fall
// back without inspecting transport details.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	log         *logger.Logger
}

// NewClient creates a new Polygon options client
func NewClient(cfg config.PolygonConfig) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		maxAttempts: cfg.MaxAttempts,
		log:         logger.Get().With("component", "polygon"),
	}
}

// Polygon API response structures
type contractsResponse struct {
	Results []contractResult `json:"results"`
	NextURL string           `json:"next_url"`
}

type contractResult struct {
	ExpirationDate string          `json:"expiration_date"`
	Details        contractDetails `json:"details"`
}

type contractDetails struct {
	Ticker         string  `json:"ticker"`
	StrikePrice    float64 `json:"strike_price"`
	ExpirationDate string  `json:"expiration_date"`
	ContractType   string  `json:"contract_type"`
}

type snapshotResponse struct {
	Results []snapshotResult `json:"results"`
}

type snapshotResult struct {
	Ticker          string          `json:"ticker"`
	StrikePrice     *float64        `json:"strike_price"`
	ExpirationDate  string          `json:"expiration_date"`
	ContractType    string          `json:"contract_type"`
	Details         contractDetails `json:"details"`
	Quote           snapshotQuote   `json:"quote"`
	Day             snapshotDay     `json:"day"`
	OpenInterest    *int64          `json:"open_interest"`
	UnderlyingPrice *float64        `json:"underlying_price"`
	UnderlyingAsset underlyingAsset `json:"underlying_asset"`
}

type snapshotQuote struct {
	BidPrice *float64 `json:"bid_price"`
	AskPrice *float64 `json:"ask_price"`
}

type snapshotDay struct {
	Volume *int64 `json:"volume"`
}

type underlyingAsset struct {
	Price *float64 `json:"price"`
}

// FetchExpirations returns the distinct expiration dates of all listed
// contracts for the symbol, ascending. Pages through the contracts
// reference endpoint following next_url.
func (c *Client) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	params := url.Values{}
	params.Set("underlying_ticker", strings.ToUpper(symbol))
	params.Set("limit", "1000")
	params.Set("order", "asc")

	requestURL := c.baseURL + "/v3/reference/options/contracts?" + params.Encode()
	seen := make(map[string]struct{})

	for requestURL != "" {
		body, err := c.request(ctx, requestURL)
		if err != nil {
			return nil, err
		}

		var page contractsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Wrap(errors.ErrSourceUnavailable, "decode polygon contracts response")
		}

		for _, item := range page.Results {
			expStr := item.ExpirationDate
			if expStr == "" {
				expStr = item.Details.ExpirationDate
			}
			if expStr != "" {
				seen[expStr] = struct{}{}
			}
		}

		requestURL = page.NextURL
	}

	expirations := make([]time.Time, 0, len(seen))
	for expStr := range seen {
		exp, err := time.Parse("2006-01-02", expStr)
		if err != nil {
			c.log.Warnw("Skipping unparseable expiration date", "value", expStr)
			continue
		}
		expirations = append(expirations, exp)
	}

	sort.Slice(expirations, func(i, j int) bool {
		return expirations[i].Before(expirations[j])
	})

	c.log.Debugw("Fetched expirations from Polygon",
		"symbol", symbol,
		"count", len(expirations),
	)

	return expirations, nil
}

// FetchChain returns the normalized option chain snapshot for one
// (symbol, expiration)
func (c *Client) FetchChain(ctx context.Context, symbol string, expiration time.Time) ([]options.RawOptionQuote, error) {
	params := url.Values{}
	params.Set("underlying_ticker", strings.ToUpper(symbol))
	params.Set("expiration_date", expiration.Format("2006-01-02"))
	params.Set("limit", "1000")
	params.Set("order", "asc")

	requestURL := fmt.Sprintf("%s/v3/snapshot/options/%s?%s",
		c.baseURL, strings.ToUpper(symbol), params.Encode())

	body, err := c.request(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	// Decode twice: once into typed results for normalization, once into
	// raw messages so each quote keeps its original payload
	var resp snapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "decode polygon snapshot response")
	}

	var rawResp struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &rawResp); err != nil {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "decode polygon snapshot response")
	}

	quotes := make([]options.RawOptionQuote, 0, len(resp.Results))
	for i, item := range resp.Results {
		quote := c.normalize(item)
		if quote == nil {
			continue
		}
		if i < len(rawResp.Results) {
			quote.RawPayload = rawResp.Results[i]
		}
		quotes = append(quotes, *quote)
	}

	c.log.Debugw("Fetched option chain from Polygon",
		"symbol", symbol,
		"expiration", expiration.Format("2006-01-02"),
		"count", len(quotes),
	)

	return quotes, nil
}

// normalize converts one Polygon snapshot result into a raw quote.
// Contracts missing a ticker, strike or expiration are dropped.
func (c *Client) normalize(item snapshotResult) *options.RawOptionQuote {
	ticker := item.Details.Ticker
	if ticker == "" {
		ticker = item.Ticker
	}

	strike := item.Details.StrikePrice
	if strike == 0 && item.StrikePrice != nil {
		strike = *item.StrikePrice
	}

	expStr := item.Details.ExpirationDate
	if expStr == "" {
		expStr = item.ExpirationDate
	}

	if ticker == "" || strike == 0 || expStr == "" {
		return nil
	}

	exp, err := time.Parse("2006-01-02", expStr)
	if err != nil {
		return nil
	}

	contractType := strings.ToLower(item.Details.ContractType)
	if contractType == "" {
		contractType = strings.ToLower(item.ContractType)
	}

	var mid *float64
	if item.Quote.BidPrice != nil && item.Quote.AskPrice != nil {
		m := (*item.Quote.BidPrice + *item.Quote.AskPrice) / 2
		mid = &m
	}

	underlying := item.UnderlyingPrice
	if underlying == nil {
		underlying = item.UnderlyingAsset.Price
	}

	return &options.RawOptionQuote{
		OptionSymbol:    ticker,
		Strike:          strike,
		Expiration:      exp,
		CallPut:         contractType,
		Bid:             item.Quote.BidPrice,
		Ask:             item.Quote.AskPrice,
		Mid:             mid,
		Volume:          item.Day.Volume,
		OpenInterest:    item.OpenInterest,
		UnderlyingPrice: underlying,
	}
}

// request performs one rate-limited GET with retry on 429 and transport
// errors, exponential backoff capped at 10s
func (c *Client) request(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "polygon rate limiter wait")
		}

		body, retryable, err := c.doRequest(ctx, requestURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !retryable {
			break
		}

		if attempt < c.maxAttempts {
			backoff := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second
			c.log.Warnw("Polygon request failed, backing off",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)

			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "polygon request cancelled")
			case <-time.After(backoff):
			}
		}
	}

	return nil, errors.Wrapf(errors.ErrSourceUnavailable, "polygon request failed: %v", lastErr)
}

// doRequest executes a single attempt. The second return reports whether
// the failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, requestURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "create polygon request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, errors.Wrap(err, "polygon request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, errors.Wrap(errors.ErrRateLimitExceeded, "polygon rate limited")
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("polygon returned status %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("polygon returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, "read polygon response body")
	}

	return body, false, nil
}
