// Package alpaca provides a client for the Alpaca trading API.
package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/domain"
)

const defaultBaseURL = "https://paper-api.alpaca.markets"

// Alpaca encodes every number in account and position payloads as a string
type accountResponse struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

type positionResponse struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	CurrentPrice string `json:"current_price"`
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

type closeResult struct {
	Symbol string `json:"symbol"`
	Status int    `json:"status"`
}

// Clock is the market clock
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client talks to the Alpaca trading API
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a new Alpaca client. An empty baseURL uses the paper endpoint.
func NewClient(baseURL, apiKey, secretKey string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("APCA-API-KEY-ID", apiKey).
		SetHeader("APCA-API-SECRET-KEY", secretKey).
		SetHeader("Accept", "application/json").
		SetError(&errorResponse{})

	return &Client{
		http: client,
		log:  log.With().Str("component", "alpaca").Logger(),
	}
}

// GetAccount returns equity, cash and buying power
func (c *Client) GetAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	var body accountResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/v2/account")
	if err := checkResponse("get account", resp, err); err != nil {
		return domain.AccountSnapshot{}, err
	}

	equity, err := parseNumber("equity", body.Equity)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	cash, err := parseNumber("cash", body.Cash)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	buyingPower, err := parseNumber("buying_power", body.BuyingPower)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	return domain.AccountSnapshot{Equity: equity, Cash: cash, BuyingPower: buyingPower}, nil
}

// GetPositions returns all open positions
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var body []positionResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/v2/positions")
	if err := checkResponse("get positions", resp, err); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(body))
	for _, p := range body {
		qty, err := parseNumber("qty", p.Qty)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", p.Symbol, err)
		}
		price, err := parseNumber("current_price", p.CurrentPrice)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", p.Symbol, err)
		}
		positions = append(positions, domain.Position{Symbol: p.Symbol, Quantity: qty, CurrentPrice: price})
	}
	return positions, nil
}

// PlaceOrder submits a day market order
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	side := "buy"
	if order.Side == domain.ActionSell {
		side = "sell"
	}

	req := orderRequest{
		Symbol:      order.Symbol,
		Qty:         strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		Side:        side,
		Type:        "market",
		TimeInForce: "day",
	}

	var body orderResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&body).Post("/v2/orders")
	if err := checkResponse("place order "+order.Symbol, resp, err); err != nil {
		return domain.OrderResult{}, err
	}

	c.log.Info().
		Str("symbol", order.Symbol).
		Str("side", side).
		Float64("qty", order.Quantity).
		Str("order_id", body.ID).
		Msg("Order placed")

	return domain.OrderResult{ID: body.ID, Symbol: body.Symbol, Status: body.Status}, nil
}

// LiquidateAll closes every open position and cancels open orders
func (c *Client) LiquidateAll(ctx context.Context) error {
	var results []closeResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("cancel_orders", "true").
		SetResult(&results).
		Delete("/v2/positions")
	if err := checkResponse("liquidate positions", resp, err); err != nil {
		return err
	}

	// 207 carries one entry per position
	var failed []string
	for _, r := range results {
		if r.Status >= http.StatusBadRequest {
			failed = append(failed, r.Symbol)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to close positions: %v", failed)
	}

	c.log.Warn().Int("positions", len(results)).Msg("All positions liquidated")
	return nil
}

// GetClock returns the market clock
func (c *Client) GetClock(ctx context.Context) (Clock, error) {
	var clock Clock
	resp, err := c.http.R().SetContext(ctx).SetResult(&clock).Get("/v2/clock")
	if err := checkResponse("get clock", resp, err); err != nil {
		return Clock{}, err
	}
	return clock, nil
}

// IsMarketOpen reports whether the market is open right now
func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := c.GetClock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*errorResponse); ok && apiErr.Message != "" {
			return fmt.Errorf("alpaca API error on %s: status %d: %s", op, resp.StatusCode(), apiErr.Message)
		}
		return fmt.Errorf("alpaca API error on %s: status %d, body: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

func parseNumber(field, value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return f, nil
}
