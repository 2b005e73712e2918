package events

import "time"

// Evento publicado quando uma aposta atinge estado terminal de liquidação
type BetSettled struct {
	BetID       string    `json:"bet_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"` // "WON" | "LOST" | "VOID" | "CASHED_OUT"
	PayoutCents int64     `json:"payout_cents"`
	SagaID      string    `json:"saga_id,omitempty"`
	Ts          time.Time `json:"ts"`
}
