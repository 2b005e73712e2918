package events

// Evento publicado quando uma aposta é aceita (reserva efetivada e odds travadas)
type BetAccepted struct {
	BetID       string `json:"bet_id"`
	UserID      string `json:"user_id"`
	EventID     string `json:"event_id"`
	MarketID    string `json:"market_id"`
	SelectionID string `json:"selection_id"`
	StakeCents  int64  `json:"stake_cents"`
	Odds        string `json:"odds"` // decimal serializado, ex: "2.50"
	TsUnixMs    int64  `json:"ts_unix_ms"`
}
