package domain

// Action is the order side derived for a position delta.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// PositionDelta is the change needed to move one instrument to its target.
type PositionDelta struct {
	Symbol        string  `json:"symbol"`
	TargetShares  float64 `json:"target_shares"`
	CurrentShares float64 `json:"current_shares"`
	Delta         float64 `json:"delta"`
	Action        Action  `json:"action"`
}

// Order is a market order handed to the executor.
type Order struct {
	Symbol   string  `json:"symbol"`
	Side     Action  `json:"side"`
	Quantity float64 `json:"quantity"`
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}
