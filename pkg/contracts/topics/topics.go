package topics

const (
	// Bets
	BetAccepted = "bet_accepted"
	BetSettled  = "bet_settled"

	// Settlement
	SettlementRequests    = "settlement_requests"
	SettlementCompleted   = "settlement_completed"
	SettlementCompensated = "settlement_compensated"

	// DLQs
	SettlementRequestsDLQ = "settlement_requests_dlq"
)
