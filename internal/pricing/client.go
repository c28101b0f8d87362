// Package pricing provides market data clients for quote lookups and
// brokerage position retrieval, with retry, circuit breaking, and caching
// layered on top.
package pricing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheelhouse/internal/detector"
	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/util"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Quote is a single symbol's market snapshot.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// QuoteSource supplies last-trade prices.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// RetryConfig controls transient-failure retries on HTTP calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig is tuned for interactive request paths: a couple of
// quick retries, never more than a few seconds of added latency.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// Client is an HTTP market data client. It speaks a Tradier-style REST API:
// GET /v1/markets/quotes for prices and GET /v1/accounts/{id}/positions for
// the position table.
type Client struct {
	client  *http.Client
	apiKey  string
	baseURL string
	logger  *logrus.Logger
	retry   RetryConfig
}

// NewClient creates a market data client. A nil logger gets a discard-level
// default so callers in tests don't have to wire one.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		retry:   DefaultRetryConfig,
	}
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(cfg RetryConfig) *Client {
	c.retry = cfg
	return c
}

// GetQuote fetches the current quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	var resp struct {
		Quotes struct {
			Quote Quote `json:"quote"`
		} `json:"quotes"`
	}
	endpoint := "/v1/markets/quotes?symbols=" + url.QueryEscape(symbol)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.Quotes.Quote.Symbol == "" {
		return nil, fmt.Errorf("quote %s: empty response", symbol)
	}
	return &resp.Quotes.Quote, nil
}

// positionRow is the wire shape of one brokerage position.
type positionRow struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	AssetType     string  `json:"asset_type"`
	LongQuantity  float64 `json:"long_quantity"`
	ShortQuantity float64 `json:"short_quantity"`
	MarketValue   float64 `json:"market_value"`
	AveragePrice  float64 `json:"average_price"`
}

// ListActivePositions fetches the account's open positions. Option rows are
// decomposed via their OCC symbol; rows whose symbol cannot be parsed are
// passed through as equity so nothing silently disappears.
func (c *Client) ListActivePositions(ctx context.Context, accountID string, tickers []string) ([]detector.BrokeragePosition, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}

	var resp struct {
		Positions struct {
			Position []positionRow `json:"position"`
		} `json:"positions"`
	}
	endpoint := "/v1/accounts/" + url.PathEscape(accountID) + "/positions"
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("positions %s: %w", accountID, err)
	}

	wanted := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		wanted[strings.ToUpper(strings.TrimSpace(t))] = true
	}

	out := make([]detector.BrokeragePosition, 0, len(resp.Positions.Position))
	for _, row := range resp.Positions.Position {
		pos := c.convertRow(row)
		if len(wanted) > 0 {
			key := pos.UnderlyingSymbol
			if key == "" {
				key = pos.Symbol
			}
			if !wanted[strings.ToUpper(key)] {
				continue
			}
		}
		out = append(out, pos)
	}
	return out, nil
}

func (c *Client) convertRow(row positionRow) detector.BrokeragePosition {
	pos := detector.BrokeragePosition{
		ID:            row.ID,
		Symbol:        row.Symbol,
		AssetType:     "EQUITY",
		LongQuantity:  row.LongQuantity,
		ShortQuantity: row.ShortQuantity,
		MarketValue:   row.MarketValue,
		AveragePrice:  row.AveragePrice,
		DataSource:    "brokerage",
	}
	if strings.EqualFold(row.AssetType, "option") {
		contract, err := util.ParseOptionSymbol(row.Symbol)
		if err != nil {
			c.logger.WithError(err).WithField("symbol", row.Symbol).
				Warn("unparseable option symbol, keeping as equity row")
			return pos
		}
		pos.AssetType = "OPTION"
		pos.UnderlyingSymbol = contract.Ticker
		pos.OptionType = models.OptionType(strings.ToUpper(contract.OptionType))
		pos.StrikePrice = contract.StrikePrice
		pos.ExpirationDate = contract.ExpiryISO()
	}
	return pos
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		err := c.doGetJSON(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err) || attempt == c.retry.MaxRetries {
			break
		}
		c.logger.WithError(err).WithField("attempt", attempt+1).
			Debug("transient market data error, retrying")
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, c.retry.MaxBackoff)
		case <-ctx.Done():
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return lastErr
}

func (c *Client) doGetJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.Unmarshal(body, out)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > maxBackoff {
		next = maxBackoff
	}
	maxJitter := int64(next / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			next += time.Duration(jitterVal.Int64())
		}
	}
	return next
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Ensure Client satisfies both consumer interfaces.
var (
	_ QuoteSource             = (*Client)(nil)
	_ detector.PositionSource = (*Client)(nil)
)
