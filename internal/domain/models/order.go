package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderIntent is a proposed trade awaiting risk evaluation.
type OrderIntent struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	SignalCount int       `json:"signal_count"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderRequest is the payload submitted to the execution venue.
type OrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         int    `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

// NewMarketOrder builds a market/gtc order.
func NewMarketOrder(symbol, side string, qty int) OrderRequest {
	return OrderRequest{Symbol: symbol, Qty: qty, Side: side, Type: "market", TimeInForce: "gtc"}
}

// Fill is the venue acknowledgment of a submitted order.
type Fill struct {
	OrderID        string  `json:"id"`
	Status         string  `json:"status"`
	FilledQty      float64 `json:"filled_qty"`
	FilledAvgPrice float64 `json:"filled_avg_price"`
}

// TradeEntry is one accepted order in the trade log.
type TradeEntry struct {
	Time      time.Time       `json:"time"`
	Ticker    string          `json:"ticker"`
	Side      string          `json:"side"`
	Qty       int             `json:"qty"`
	Price     float64         `json:"current_price"`
	Notional  decimal.Decimal `json:"notional"`
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	IntentID  string          `json:"intent_id"`
	SessionID string          `json:"session_id,omitempty"`
}

// OrderOutcome is the payload of order_filled / order_cancelled events.
type OrderOutcome struct {
	IntentID string       `json:"intent_id"`
	Symbol   string       `json:"symbol"`
	Action   Action       `json:"action"`
	Decision Decision     `json:"decision"`
	Reason   RejectReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Trade    *TradeEntry  `json:"trade,omitempty"`
}
