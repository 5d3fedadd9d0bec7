// Package indexer is a client for the Injective exchange API's derivative
// endpoints: markets, orderbooks and positions.
package indexer

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	derivativePath = "/api/exchange/derivative/v1"

	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
	defaultTimeout   = 30 * time.Second
	defaultRetries   = 2
)

// Client talks to one network's exchange API.
type Client struct {
	baseURL string
	http    *resty.Client
	limiter *rate.Limiter

	httpClient *http.Client
	timeout    time.Duration
	retries    int
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets how many times reads are retried on 429 and 5xx.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		c.retries = n
	}
}

// NewClient creates a client for the exchange API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		timeout: defaultTimeout,
		retries: defaultRetries,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.http = resty.NewWithClient(c.httpClient)
	} else {
		c.http = resty.New()
	}
	c.http.
		SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(c.retries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchMarkets lists every derivative market.
func (c *Client) FetchMarkets(ctx context.Context) ([]derivative.Market, error) {
	var resp marketsResponse
	if err := c.get(ctx, derivativePath+"/markets", nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]derivative.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		m, err := resp.Markets[i].ToMarket()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchMarket fetches one market. Unknown ids yield derivative.ErrMarketNotFound.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (*derivative.Market, error) {
	var resp marketResponse
	err := c.get(ctx, derivativePath+"/markets/{market_id}", map[string]string{"market_id": marketID}, nil, &resp)
	if errors.Is(err, errNotFound) {
		return nil, errors.Wrapf(derivative.ErrMarketNotFound, "market %s", marketID)
	}
	if err != nil {
		return nil, err
	}
	if resp.Market == nil || resp.Market.MarketID == "" {
		return nil, derivative.ErrMarketNotFound
	}

	m, err := resp.Market.ToMarket()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchOrderbook fetches the full book for a market. Prices are chain units.
func (c *Client) FetchOrderbook(ctx context.Context, marketID string) (book.Snapshot, error) {
	var resp orderbookResponse
	if err := c.get(ctx, derivativePath+"/orderbooks/{market_id}", map[string]string{"market_id": marketID}, nil, &resp); err != nil {
		return book.Snapshot{}, err
	}
	if resp.Orderbook == nil {
		return book.NewSnapshot(marketID, nil, nil), nil
	}
	return resp.Orderbook.ToSnapshot(marketID)
}

// FetchPositions lists open positions matching q.
func (c *Client) FetchPositions(ctx context.Context, q derivative.PositionQuery) ([]derivative.Position, error) {
	params := map[string]string{}
	if len(q.MarketIDs) > 0 {
		params["market_ids"] = strings.Join(q.MarketIDs, ",")
	}
	if q.SubaccountID != "" {
		params["subaccount_id"] = q.SubaccountID
	}
	if q.Direction != "" {
		params["direction"] = string(q.Direction)
	}

	var resp positionsResponse
	if err := c.get(ctx, derivativePath+"/positions", nil, params, &resp); err != nil {
		return nil, err
	}

	out := make([]derivative.Position, 0, len(resp.Positions))
	for i := range resp.Positions {
		p, err := resp.Positions[i].ToPosition()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// errNotFound marks a 404 from the indexer. Only FetchMarket gives it a
// domain meaning.
var errNotFound = errors.New("not found")

// get performs a GET request with rate limiting. {name} segments in path
// are filled from pathParams, escaped.
func (c *Client) get(ctx context.Context, path string, pathParams, params map[string]string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(pathParams).
		SetQueryParams(params).
		SetResult(result).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return errors.Wrapf(errNotFound, "GET %s", path)
	case !resp.IsSuccess():
		return errors.Errorf("GET %s: status %d: %s", path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
