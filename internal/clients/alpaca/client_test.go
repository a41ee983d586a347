package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-id", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, "key-id", "secret", zerolog.Nop())
}

func TestGetAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		w.Write([]byte(`{"equity":"102345.67","cash":"2345.67","buying_power":"4691.34","status":"ACTIVE"}`))
	})

	account, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 102345.67, account.Equity)
	assert.Equal(t, 2345.67, account.Cash)
	assert.Equal(t, 4691.34, account.BuyingPower)
}

func TestGetAccount_InvalidNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"equity":"abc","cash":"0","buying_power":"0"}`))
	})

	_, err := client.GetAccount(context.Background())
	assert.Error(t, err)
}

func TestGetPositions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"AAPL","qty":"10","current_price":"185.5"},
			{"symbol":"MSFT","qty":"2.5","current_price":"410"}
		]`))
	})

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, domain.Position{Symbol: "AAPL", Quantity: 10, CurrentPrice: 185.5}, positions[0])
	assert.Equal(t, 2.5, positions[1].Quantity)
}

func TestPlaceOrder(t *testing.T) {
	tests := []struct {
		name     string
		order    domain.Order
		wantSide string
		wantQty  string
	}{
		{"buy", domain.Order{Symbol: "AAPL", Side: domain.ActionBuy, Quantity: 12}, "buy", "12"},
		{"sell fractional", domain.Order{Symbol: "MSFT", Side: domain.ActionSell, Quantity: 2.5}, "sell", "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/v2/orders", r.URL.Path)

				var req orderRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, tt.order.Symbol, req.Symbol)
				assert.Equal(t, tt.wantQty, req.Qty)
				assert.Equal(t, tt.wantSide, req.Side)
				assert.Equal(t, "market", req.Type)
				assert.Equal(t, "day", req.TimeInForce)

				json.NewEncoder(w).Encode(orderResponse{ID: "abc-123", Symbol: req.Symbol, Status: "accepted"})
			})

			result, err := client.PlaceOrder(context.Background(), tt.order)
			require.NoError(t, err)
			assert.Equal(t, "abc-123", result.ID)
			assert.Equal(t, tt.order.Symbol, result.Symbol)
			assert.Equal(t, "accepted", result.Status)
		})
	}
}

func TestPlaceOrder_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})

	_, err := client.PlaceOrder(context.Background(), domain.Order{Symbol: "AAPL", Side: domain.ActionBuy, Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient buying power")
}

func TestLiquidateAll(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/v2/positions", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("cancel_orders"))
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`[{"symbol":"AAPL","status":200},{"symbol":"MSFT","status":200}]`))
	})

	assert.NoError(t, client.LiquidateAll(context.Background()))
}

func TestLiquidateAll_PartialFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`[{"symbol":"AAPL","status":200},{"symbol":"MSFT","status":422}]`))
	})

	err := client.LiquidateAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MSFT")
}

func TestGetClock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/clock", r.URL.Path)
		w.Write([]byte(`{"timestamp":"2024-03-01T10:00:00-05:00","is_open":true,"next_open":"2024-03-04T09:30:00-05:00","next_close":"2024-03-01T16:00:00-05:00"}`))
	})

	open, err := client.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}
