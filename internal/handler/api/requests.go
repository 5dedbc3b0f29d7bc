package api

import (
	"strings"

	"TradePulse/internal/domain/models"
	"TradePulse/internal/usecase"
	"TradePulse/pkg/util"
)

type limitRequest struct {
	N int64 `query:"n" default:"50" validate:"gte=1,lte=1000"`
}

type qualityRequest struct {
	WindowHours int `query:"window_hours" default:"24" validate:"gte=1,lte=720"`
}

type symbolRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
}

type emergencyStopRequest struct {
	Active *bool `json:"active"`
}

type predictionRequest struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol" validate:"required,ticker"`
	CurrentPrice float64            `json:"current_price" validate:"gte=0"`
	Confidence   float64            `json:"confidence" validate:"gte=0,lte=1"`
	Horizons     map[string]float64 `json:"horizons" validate:"required,min=1,dive,gt=0"`
}

func (r predictionRequest) message() usecase.PredictionMessage {
	return usecase.PredictionMessage{
		ID: r.ID,
		PredictionPayload: models.PredictionPayload{
			Symbol:       util.NormalizeSymbol(r.Symbol),
			CurrentPrice: r.CurrentPrice,
			Confidence:   r.Confidence,
			Horizons:     r.Horizons,
		},
	}
}

type eventsRequest struct {
	Types string `query:"types"`
}

// defaultStreamTypes are pushed to websocket clients that do not pick types.
var defaultStreamTypes = []models.EventType{
	models.EventTradingSignal,
	models.EventTradingOrderPlaced,
	models.EventTradingOrderFilled,
	models.EventTradingOrderCancelled,
	models.EventAIModelRetrained,
	models.EventUserEmergencyStop,
}

func (r eventsRequest) eventTypes() ([]models.EventType, error) {
	if r.Types == "" {
		return defaultStreamTypes, nil
	}
	var out []models.EventType
	for _, raw := range strings.Split(r.Types, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		t, err := models.ParseEventType(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return defaultStreamTypes, nil
	}
	return out, nil
}
