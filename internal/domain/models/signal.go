package models

import "time"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Side returns the lower-case venue side for the action.
func (a Action) Side() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return ""
	}
}

// Signal is a directional hypothesis produced by one strategy.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Strength    float64   `json:"strength"`
	Confidence  float64   `json:"confidence"`
	Strategy    string    `json:"strategy"`
	Reason      string    `json:"reason"`
	Price       float64   `json:"price"`
	TargetPrice *float64  `json:"target_price,omitempty"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
