package bet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/bet-settlement-engine/internal/eventlog"
)

// Status do ciclo de vida da aposta.
// Transições válidas: PENDING -> ACCEPTED -> {WON, LOST, VOID, CASHED_OUT}
// e PENDING -> REJECTED. Qualquer outra transição é conflito.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusWon       Status = "WON"
	StatusLost      Status = "LOST"
	StatusVoid      Status = "VOID"
	StatusCashedOut Status = "CASHED_OUT"
)

// Terminal indica estados que não admitem mais transição de saga nem void
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusWon, StatusLost, StatusVoid, StatusCashedOut:
		return true
	}
	return false
}

// State é a projeção em memória do stream de eventos de uma aposta
type State struct {
	BetID           string
	UserID          string
	SportEventID    string
	MarketID        string
	SelectionID     string
	StakeCents      int64
	Currency        string
	Odds            decimal.Decimal
	Status          Status
	PlacedAt        time.Time
	SettledAt       *time.Time
	PayoutCents     *int64
	SettleSagaID    string
	RejectionReason string
	VoidReason      string
	Version         int64
}

// Apply aplica um evento ao estado (left-fold); incrementa a versão
func (s *State) Apply(ev Event) {
	ev.apply(s)
	s.Version++
}

// Replay reconstrói o estado a partir do stream completo
func Replay(records []eventlog.Record) (*State, error) {
	s := &State{}
	for _, r := range records {
		ev, err := Decode(r)
		if err != nil {
			return nil, err
		}
		s.Apply(ev)
	}
	return s, nil
}

// clone devolve uma cópia isolada do estado (ponteiros duplicados)
func (s *State) clone() State {
	out := *s
	if s.SettledAt != nil {
		t := *s.SettledAt
		out.SettledAt = &t
	}
	if s.PayoutCents != nil {
		p := *s.PayoutCents
		out.PayoutCents = &p
	}
	return out
}
