package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/kafka"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/util"
)

// PredictionMessage is the wire form of an external forecast.
type PredictionMessage struct {
	ID string `json:"id,omitempty"`
	models.PredictionPayload
}

// PredictionIntake consumes forecasts from Kafka and emits them as ai.prediction_ready events.
type PredictionIntake struct {
	topic   string
	emitter drepo.Emitter
	log     *logger.Logger
}

func NewPredictionIntake(topic string, emitter drepo.Emitter, log *logger.Logger) *PredictionIntake {
	if log == nil {
		log = logger.Nop()
	}
	return &PredictionIntake{topic: topic, emitter: emitter, log: log}
}

func (p *PredictionIntake) Topic() string { return p.topic }

// Handle implements kafka.MessageHandler. A malformed message is dropped without retry.
func (p *PredictionIntake) Handle(ctx context.Context, data []byte) error {
	var msg PredictionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.log.Warn("prediction intake: dropping undecodable message", logger.Error(err))
		return nil
	}
	msg.Symbol = util.NormalizeSymbol(msg.Symbol)
	if err := msg.Validate(); err != nil {
		p.log.Warn("prediction intake: dropping invalid message", logger.Error(err))
		return nil
	}

	_, err := p.Submit(ctx, msg)
	return err
}

// Submit emits msg on the bus. A message id yields a stable event id, so redelivery stays idempotent.
func (p *PredictionIntake) Submit(ctx context.Context, msg PredictionMessage) (models.Event, error) {
	if msg.IssuedAt.IsZero() {
		msg.IssuedAt = time.Now().UTC()
	}
	opts := []models.EventOption{models.WithPriority(models.DefaultPriority)}
	if cid := kafka.CorrelationID(ctx); cid != "" {
		opts = append(opts, models.WithCorrelation(cid))
	}
	ev, err := models.NewEvent(models.EventAIPredictionReady, "prediction_intake", msg.PredictionPayload, opts...)
	if err != nil {
		return ev, err
	}
	if msg.ID != "" {
		ev.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(msg.ID)).String()
	}
	if err := p.emitter.Emit(ctx, ev); err != nil {
		return ev, fmt.Errorf("emit prediction %s: %w", msg.Symbol, err)
	}
	return ev, nil
}
