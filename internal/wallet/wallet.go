package wallet

import (
	"time"
)

// Operações registradas no ledger
const (
	OpReserve        = "RESERVE"
	OpCommit         = "COMMIT"
	OpRelease        = "RELEASE"
	OpPayout         = "PAYOUT"
	OpPayoutReversal = "PAYOUT_REVERSAL"
	OpDeposit        = "DEPOSIT"
	OpWithdraw       = "WITHDRAW"
)

// LedgerEntry é um lançamento de partida dobrada: todo movimento é um par
// débito/crédito com soma fechada
type LedgerEntry struct {
	EntryID       string    `json:"entry_id"`
	At            time.Time `json:"at"`
	Operation     string    `json:"operation"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	AmountCents   int64     `json:"amount_cents"`
	Ref           string    `json:"ref"` // token de idempotência (betId, txId, betId|sagaId)
	Reason        string    `json:"reason,omitempty"`
}

// Snapshot é o estado persistível de uma carteira
type Snapshot struct {
	UserID       string           `json:"user_id"`
	BalanceCents int64            `json:"balance_cents"`
	Reservations map[string]int64 `json:"reservations"`
	Committed    []string         `json:"committed"`
	Released     []string         `json:"released"`
	Payouts      map[string]int64 `json:"payouts"`
	Reversals    []string         `json:"reversals"`
	Txns         []string         `json:"txns"`
}

// state é a carteira em memória, mutada apenas dentro de turnos do seu ator
type state struct {
	userID       string
	balanceCents int64
	reservations map[string]int64
	committed    map[string]bool
	released     map[string]bool
	payouts      map[string]int64
	reversals    map[string]bool
	txns         map[string]bool
}

func newState(userID string) *state {
	return &state{
		userID:       userID,
		reservations: make(map[string]int64),
		committed:    make(map[string]bool),
		released:     make(map[string]bool),
		payouts:      make(map[string]int64),
		reversals:    make(map[string]bool),
		txns:         make(map[string]bool),
	}
}

// reserved soma as reservas abertas
func (s *state) reserved() int64 {
	var sum int64
	for _, v := range s.reservations {
		sum += v
	}
	return sum
}

// available é o saldo menos reservas abertas; nunca negativo por construção
func (s *state) available() int64 {
	return s.balanceCents - s.reserved()
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		UserID:       s.userID,
		BalanceCents: s.balanceCents,
		Reservations: make(map[string]int64, len(s.reservations)),
		Payouts:      make(map[string]int64, len(s.payouts)),
	}
	for k, v := range s.reservations {
		snap.Reservations[k] = v
	}
	for k, v := range s.payouts {
		snap.Payouts[k] = v
	}
	for k := range s.committed {
		snap.Committed = append(snap.Committed, k)
	}
	for k := range s.released {
		snap.Released = append(snap.Released, k)
	}
	for k := range s.reversals {
		snap.Reversals = append(snap.Reversals, k)
	}
	for k := range s.txns {
		snap.Txns = append(snap.Txns, k)
	}
	return snap
}

func fromSnapshot(snap *Snapshot) *state {
	s := newState(snap.UserID)
	s.balanceCents = snap.BalanceCents
	for k, v := range snap.Reservations {
		s.reservations[k] = v
	}
	for k, v := range snap.Payouts {
		s.payouts[k] = v
	}
	for _, k := range snap.Committed {
		s.committed[k] = true
	}
	for _, k := range snap.Released {
		s.released[k] = true
	}
	for _, k := range snap.Reversals {
		s.reversals[k] = true
	}
	for _, k := range snap.Txns {
		s.txns[k] = true
	}
	return s
}

func payoutKey(betID, sagaID string) string { return betID + "|" + sagaID }
