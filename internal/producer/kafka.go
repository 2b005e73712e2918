package producer

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	cevents "github.com/radieske/bet-settlement-engine/pkg/contracts/events"
)

// KafkaPublisher publica os eventos de domínio do engine, um writer por tópico
type KafkaPublisher struct {
	BetAccepted           *kafka.Writer
	BetSettled            *kafka.Writer
	SettlementCompleted   *kafka.Writer
	SettlementCompensated *kafka.Writer
}

func (p *KafkaPublisher) publish(ctx context.Context, w *kafka.Writer, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *KafkaPublisher) PublishBetAccepted(ctx context.Context, e cevents.BetAccepted) error {
	return p.publish(ctx, p.BetAccepted, e.BetID, e)
}

func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, e cevents.BetSettled) error {
	return p.publish(ctx, p.BetSettled, e.BetID, e)
}

func (p *KafkaPublisher) PublishSettlementCompleted(ctx context.Context, e cevents.SettlementCompleted) error {
	return p.publish(ctx, p.SettlementCompleted, e.SagaID, e)
}

func (p *KafkaPublisher) PublishSettlementCompensated(ctx context.Context, e cevents.SettlementCompensated) error {
	return p.publish(ctx, p.SettlementCompensated, e.SagaID, e)
}
