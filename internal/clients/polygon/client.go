// Package polygon provides a daily bar client for the Polygon.io aggregates API.
package polygon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/domain"
)

const (
	defaultBaseURL = "https://api.polygon.io"
	// maxPages bounds next_url pagination for a single request
	maxPages = 50
)

// aggregate is one bar in the aggregates response
type aggregate struct {
	Timestamp int64   `json:"t"` // Unix milliseconds
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

type aggregatesResponse struct {
	Status       string      `json:"status"`
	ResultsCount int         `json:"resultsCount"`
	Results      []aggregate `json:"results"`
	NextURL      string      `json:"next_url"`
	Error        string      `json:"error"`
}

// Client fetches adjusted daily bars from Polygon
type Client struct {
	http   *resty.Client
	apiKey string
	log    zerolog.Logger
}

// NewClient creates a new Polygon client. An empty baseURL uses the public API.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2*time.Second).
		SetRetryMaxWaitTime(20*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{
		http:   client,
		apiKey: apiKey,
		log:    log.With().Str("component", "polygon").Logger(),
	}
}

// GetDailyBars returns adjusted daily bars between from and to inclusive, oldest first.
// Pages linked through next_url are followed.
func (c *Client) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("polygon API key not configured")
	}

	path := "/v2/aggs/ticker/{symbol}/range/1/day/{from}/{to}"

	req := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"symbol": symbol,
			"from":   from.Format(domain.DateLayout),
			"to":     to.Format(domain.DateLayout),
		}).
		SetQueryParams(map[string]string{
			"adjusted": "true",
			"sort":     "asc",
			"limit":    "50000",
			"apiKey":   c.apiKey,
		})

	var bars []domain.Bar
	for page := 0; ; page++ {
		var body aggregatesResponse
		resp, err := req.SetResult(&body).Get(path)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("polygon API error for %s: status %d, body: %s", symbol, resp.StatusCode(), resp.String())
		}
		if body.Status == "ERROR" {
			return nil, fmt.Errorf("polygon API error for %s: %s", symbol, body.Error)
		}

		for _, a := range body.Results {
			bars = append(bars, domain.Bar{
				Date:   domain.DateKey(time.UnixMilli(a.Timestamp).UTC()),
				Open:   a.Open,
				High:   a.High,
				Low:    a.Low,
				Close:  a.Close,
				Volume: a.Volume,
			})
		}

		if body.NextURL == "" {
			break
		}
		if page+1 >= maxPages {
			c.log.Warn().Str("symbol", symbol).Int("pages", maxPages).Msg("Pagination limit reached, truncating bars")
			break
		}

		// next_url is absolute and carries its own cursor, only the key is missing
		path = body.NextURL
		req = c.http.R().SetContext(ctx).SetQueryParam("apiKey", c.apiKey)
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}
