package events

import "time"

// Pedido de liquidação de um mercado; consumido do tópico settlement_requests
type SettlementRequest struct {
	MarketID string `json:"market_id"`
	EventID  string `json:"event_id"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

// Evento publicado quando a saga de liquidação conclui com sucesso
type SettlementCompleted struct {
	SagaID            string    `json:"saga_id"`
	MarketID          string    `json:"market_id"`
	EventID           string    `json:"event_id"`
	TotalPayoutsCents int64     `json:"total_payouts_cents"`
	BetCount          int       `json:"bet_count"`
	Ts                time.Time `json:"ts"`
}

// Evento publicado quando uma saga é compensada (falha no meio ou estorno manual)
type SettlementCompensated struct {
	SagaID   string    `json:"saga_id"`
	MarketID string    `json:"market_id"`
	Reason   string    `json:"reason"`
	Ts       time.Time `json:"ts"`
}
