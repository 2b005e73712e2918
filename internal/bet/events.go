package bet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/bet-settlement-engine/internal/eventlog"
)

// Kinds das variantes de evento do agregado de aposta
const (
	KindPlaced             = "bet.placed"
	KindAccepted           = "bet.accepted"
	KindRejected           = "bet.rejected"
	KindSettled            = "bet.settled"
	KindVoided             = "bet.voided"
	KindSettlementReverted = "bet.settlement_reverted"
)

// Event é o sum type fechado dos eventos de domínio da aposta.
// O estado em memória é um left-fold sobre o stream; apply é a única
// forma de mutação, então replay do stream reproduz o estado exato.
type Event interface {
	Kind() string
	meta() Meta
	apply(s *State)
}

// Meta é o cabeçalho comum a todo evento
type Meta struct {
	ID    string    `json:"id"`
	BetID string    `json:"bet_id"`
	At    time.Time `json:"at"`
}

func newMeta(betID string, at time.Time) Meta {
	return Meta{ID: uuid.NewString(), BetID: betID, At: at}
}

// Placed registra o pedido de aposta validado (estado Pending)
type Placed struct {
	Meta
	UserID       string          `json:"user_id"`
	SportEventID string          `json:"sport_event_id"`
	MarketID     string          `json:"market_id"`
	SelectionID  string          `json:"selection_id"`
	StakeCents   int64           `json:"stake_cents"`
	Currency     string          `json:"currency"`
	Odds         decimal.Decimal `json:"odds"`
}

func (e Placed) Kind() string { return KindPlaced }
func (e Placed) meta() Meta   { return e.Meta }
func (e Placed) apply(s *State) {
	s.BetID = e.BetID
	s.UserID = e.UserID
	s.SportEventID = e.SportEventID
	s.MarketID = e.MarketID
	s.SelectionID = e.SelectionID
	s.StakeCents = e.StakeCents
	s.Currency = e.Currency
	s.Odds = e.Odds
	s.PlacedAt = e.At
	s.Status = StatusPending
}

// Accepted registra a aceitação: reserva efetivada e odds travadas
type Accepted struct {
	Meta
	LockedOdds decimal.Decimal `json:"locked_odds"`
}

func (e Accepted) Kind() string { return KindAccepted }
func (e Accepted) meta() Meta   { return e.Meta }
func (e Accepted) apply(s *State) {
	s.Status = StatusAccepted
	s.Odds = e.LockedOdds
}

// Rejected registra a recusa pré-aceitação (ex: odds defasadas)
type Rejected struct {
	Meta
	Reason string `json:"reason"`
}

func (e Rejected) Kind() string { return KindRejected }
func (e Rejected) meta() Meta   { return e.Meta }
func (e Rejected) apply(s *State) {
	s.Status = StatusRejected
	s.RejectionReason = e.Reason
}

// Settled registra um estado terminal de liquidação (Won, Lost ou CashedOut)
type Settled struct {
	Meta
	Status      Status `json:"status"`
	PayoutCents int64  `json:"payout_cents"`
	SagaID      string `json:"saga_id,omitempty"`
}

func (e Settled) Kind() string { return KindSettled }
func (e Settled) meta() Meta   { return e.Meta }
func (e Settled) apply(s *State) {
	s.Status = e.Status
	s.SettleSagaID = e.SagaID
	at := e.At
	s.SettledAt = &at
	if e.Status == StatusWon || e.Status == StatusCashedOut {
		p := e.PayoutCents
		s.PayoutCents = &p
	} else {
		s.PayoutCents = nil
	}
}

// Voided registra a anulação da aposta
type Voided struct {
	Meta
	Reason string `json:"reason"`
}

func (e Voided) Kind() string { return KindVoided }
func (e Voided) meta() Meta   { return e.Meta }
func (e Voided) apply(s *State) {
	s.Status = StatusVoid
	s.VoidReason = e.Reason
}

// SettlementReverted desfaz uma liquidação de saga (compensação),
// devolvendo a aposta ao estado Accepted
type SettlementReverted struct {
	Meta
	SagaID string `json:"saga_id"`
}

func (e SettlementReverted) Kind() string { return KindSettlementReverted }
func (e SettlementReverted) meta() Meta   { return e.Meta }
func (e SettlementReverted) apply(s *State) {
	s.Status = StatusAccepted
	s.SettledAt = nil
	s.PayoutCents = nil
	s.SettleSagaID = ""
}

// Encode serializa um evento para o log
func Encode(ev Event) (eventlog.Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eventlog.Record{}, err
	}
	m := ev.meta()
	return eventlog.Record{
		StreamID: m.BetID,
		Kind:     ev.Kind(),
		Payload:  payload,
		At:       m.At,
	}, nil
}

// Decode materializa a variante correta a partir de um registro do log.
// Kind desconhecido é erro: o conjunto de variantes é fechado.
func Decode(r eventlog.Record) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch r.Kind {
	case KindPlaced:
		var e Placed
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case KindAccepted:
		var e Accepted
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case KindRejected:
		var e Rejected
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case KindSettled:
		var e Settled
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case KindVoided:
		var e Voided
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case KindSettlementReverted:
		var e SettlementReverted
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown bet event kind %q", r.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Kind, err)
	}
	return ev, nil
}
