package models

import (
	"fmt"
	"time"
)

// PredictionRecord is a forecast waiting for its horizon to elapse.
type PredictionRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"ticker"`
	Horizon    int       `json:"horizon"` // minutes
	Predicted  float64   `json:"predicted"`
	Confidence float64   `json:"confidence,omitempty"`
	IssuedAt   time.Time `json:"timestamp"`
	DueAt      time.Time `json:"eta"`
}

// NewPredictionRecord derives DueAt from IssuedAt + horizon.
func NewPredictionRecord(id, symbol string, horizonMinutes int, predicted, confidence float64, issuedAt time.Time) PredictionRecord {
	return PredictionRecord{
		ID:         id,
		Symbol:     symbol,
		Horizon:    horizonMinutes,
		Predicted:  predicted,
		Confidence: confidence,
		IssuedAt:   issuedAt,
		DueAt:      issuedAt.Add(time.Duration(horizonMinutes) * time.Minute),
	}
}

// DeviationRecord is the outcome of matching a prediction with the realized price.
type DeviationRecord struct {
	Symbol         string    `json:"ticker"`
	Predicted      float64   `json:"predicted"`
	Actual         *float64  `json:"actual"`
	Deviation      *float64  `json:"deviation"`
	Horizon        int       `json:"horizon_minutes"`
	PredictionTime time.Time `json:"prediction_time"`
	ActualTime     time.Time `json:"actual_time"`
}

// PredictionPayload is the data of an ai.prediction_ready event.
type PredictionPayload struct {
	Symbol       string             `json:"symbol"`
	CurrentPrice float64            `json:"current_price,omitempty"`
	Confidence   float64            `json:"confidence"`
	Horizons     map[string]float64 `json:"horizons"` // minutes -> predicted price
	IssuedAt     time.Time          `json:"issued_at,omitempty"`
}

// Validate checks the payload is usable.
func (p PredictionPayload) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: prediction without symbol", ErrMalformedEvent)
	}
	if len(p.Horizons) == 0 {
		return fmt.Errorf("%w: prediction without horizons", ErrMalformedEvent)
	}
	return nil
}

// ModelPrediction is the latest short-horizon forecast kept for the model strategy.
type ModelPrediction struct {
	Symbol     string    `json:"symbol"`
	Price15Min float64   `json:"price_15min"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// RetrainStatus tracks the retraining escalation.
type RetrainStatus struct {
	Pending     bool       `json:"pending"`
	Trigger     string     `json:"trigger,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	LastRetrain *time.Time `json:"last_retrain"`
}

// RetrainRequest is the payload of the retrain-request event.
type RetrainRequest struct {
	Requested    bool     `json:"requested"`
	Trigger      string   `json:"trigger"`
	Symbols      []string `json:"symbols"`
	MaxDeviation float64  `json:"max_deviation"`
}

// HorizonQuality aggregates forecast error for one horizon. MAPE and
// AvgDeviation are nil when no record could contribute to them.
type HorizonQuality struct {
	Count        int      `json:"count"`
	MAE          float64  `json:"mae"`
	MAPE         *float64 `json:"mape"`
	RMSE         float64  `json:"rmse"`
	AvgDeviation *float64 `json:"avg_deviation"`
}

// PredictionQuality is a snapshot of forecast error per horizon over a window.
type PredictionQuality struct {
	Time        time.Time                 `json:"time"`
	WindowHours float64                   `json:"window_hours"`
	PerHorizon  map[string]HorizonQuality `json:"per_horizon"`
}
