package bet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/actor"
	"github.com/radieske/bet-settlement-engine/internal/domain"
	"github.com/radieske/bet-settlement-engine/internal/eventlog"
	cevents "github.com/radieske/bet-settlement-engine/pkg/contracts/events"
)

// Wallet define as operações de carteira consumidas pelo ator de aposta
type Wallet interface {
	GetAvailableBalance(ctx context.Context, userID string) (int64, error)
	Reserve(ctx context.Context, userID string, amountCents int64, token string) error
	Commit(ctx context.Context, userID, token string) error
	Release(ctx context.Context, userID, token string) error
	ProcessPayout(ctx context.Context, userID string, amountCents int64, betID, sagaID string) error
	Deposit(ctx context.Context, userID string, amountCents int64, txID string) (int64, error)
}

// Odds define o contrato consumido do mercado de odds (lock/unlock/leitura)
type Odds interface {
	GetCurrentPrice(ctx context.Context, sportEventID, marketID, selectionID string) (decimal.Decimal, error)
	LockForBet(ctx context.Context, betID, selectionID string) error
	Unlock(ctx context.Context, betID string) error
}

// Index é o índice read-side de apostas por usuário/mercado
type Index interface {
	Register(ctx context.Context, userID, marketID, betID string) error
}

// Publisher publica eventos de domínio para fora do engine; pode ser nil
type Publisher interface {
	PublishBetAccepted(ctx context.Context, e cevents.BetAccepted) error
	PublishBetSettled(ctx context.Context, e cevents.BetSettled) error
}

// PlaceRequest é o comando de colocação de aposta
type PlaceRequest struct {
	BetID        string
	UserID       string
	SportEventID string
	MarketID     string
	SelectionID  string
	StakeCents   int64
	Currency     string
	MinOdds      decimal.Decimal // limite mínimo de odds aceito pelo apostador
}

// Service é a fachada dos atores de aposta: cada betID é um endereço com
// mailbox própria; todo comando roda como um turno exclusivo daquele endereço.
// O estado é reidratado do log de eventos na primeira ativação.
type Service struct {
	log           *zap.Logger
	sys           *actor.System
	store         eventlog.Store
	wallet        Wallet
	odds          Odds
	index         Index
	publ          Publisher
	cashoutFeeBps int64

	mu     sync.Mutex
	cached map[string]*State

	// hooks de métricas
	OnAccepted func()
	OnRejected func(reason string)
	OnSettled  func(status string)
}

func NewService(log *zap.Logger, sys *actor.System, store eventlog.Store, w Wallet, o Odds, idx Index, publ Publisher, cashoutFeeBps int) *Service {
	return &Service{
		log:           log,
		sys:           sys,
		store:         store,
		wallet:        w,
		odds:          o,
		index:         idx,
		publ:          publ,
		cashoutFeeBps: int64(cashoutFeeBps),
		cached:        make(map[string]*State),
	}
}

func address(betID string) string { return "bet:" + betID }

// state reidrata (na primeira ativação) e retorna o estado da aposta.
// Só pode ser chamado de dentro de um turno do endereço correspondente.
func (s *Service) state(ctx context.Context, betID string) (*State, error) {
	s.mu.Lock()
	st, ok := s.cached[betID]
	s.mu.Unlock()
	if ok {
		return st, nil
	}

	records, err := s.store.ReadAll(ctx, betID)
	if err != nil {
		return nil, domain.ExternalCall("event log read", err)
	}
	st, err = Replay(records)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached[betID] = st
	s.mu.Unlock()
	return st, nil
}

// Evict descarta o estado em cache da aposta; o próximo turno reidrata
// do log de eventos. Usado na desativação do ator por ociosidade.
func (s *Service) Evict(betID string) {
	s.mu.Lock()
	delete(s.cached, betID)
	s.mu.Unlock()
}

// append persiste os eventos com verificação de versão e os aplica ao estado
func (s *Service) append(ctx context.Context, betID string, st *State, evs ...Event) error {
	records := make([]eventlog.Record, 0, len(evs))
	for _, ev := range evs {
		r, err := Encode(ev)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	if err := s.store.Append(ctx, betID, st.Version, records); err != nil {
		if errors.Is(err, eventlog.ErrVersionConflict) {
			return domain.Conflictf("bet %s: concurrent write detected", betID)
		}
		return domain.ExternalCall("event log append", err)
	}
	for _, ev := range evs {
		st.Apply(ev)
	}
	return nil
}

// PlaceBet executa o protocolo de colocação: valida, reserva saldo, trava odds,
// persiste aceitação e efetiva a reserva. Qualquer falha após a reserva dispara
// a compensação local (release + unlock) antes de propagar o erro; nenhuma
// reserva fica pendurada.
func (s *Service) PlaceBet(ctx context.Context, req PlaceRequest) (State, error) {
	var out State
	err := s.sys.Do(ctx, address(req.BetID), func(ctx context.Context) error {
		st, err := s.placeBet(ctx, req)
		if err != nil {
			return err
		}
		out = st.clone()
		return nil
	})
	return out, err
}

func (s *Service) placeBet(ctx context.Context, req PlaceRequest) (*State, error) {
	if err := validatePlace(req); err != nil {
		return nil, err
	}

	st, err := s.state(ctx, req.BetID)
	if err != nil {
		return nil, err
	}
	if st.Version > 0 {
		return nil, domain.Conflictf("bet %s already processed", req.BetID)
	}

	// Leituras pré-efeito: saldo disponível e preço corrente
	available, err := s.wallet.GetAvailableBalance(ctx, req.UserID)
	if err != nil {
		return nil, domain.ExternalCall("wallet balance", err)
	}
	if req.StakeCents > available {
		return nil, fmt.Errorf("%w: stake %d exceeds available %d", domain.ErrInsufficientFunds, req.StakeCents, available)
	}

	price, err := s.odds.GetCurrentPrice(ctx, req.SportEventID, req.MarketID, req.SelectionID)
	if err != nil {
		return nil, domain.ExternalCall("odds price", err)
	}

	now := time.Now().UTC()
	placed := Placed{
		Meta:         newMeta(req.BetID, now),
		UserID:       req.UserID,
		SportEventID: req.SportEventID,
		MarketID:     req.MarketID,
		SelectionID:  req.SelectionID,
		StakeCents:   req.StakeCents,
		Currency:     req.Currency,
		Odds:         price,
	}

	if price.LessThan(req.MinOdds) {
		// Recusa registrada no log para auditoria; carteira intocada
		reason := fmt.Sprintf("current odds %s below acceptable %s", price, req.MinOdds)
		if err := s.append(ctx, req.BetID, st, placed, Rejected{Meta: newMeta(req.BetID, now), Reason: reason}); err != nil {
			return nil, err
		}
		if s.OnRejected != nil {
			s.OnRejected("stale_odds")
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrStaleOdds, reason)
	}

	// Reserva o valor da aposta na carteira (token = betID)
	if err := s.wallet.Reserve(ctx, req.UserID, req.StakeCents, req.BetID); err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, domain.ExternalCall("wallet reserve", err)
	}

	// A partir daqui toda falha devolve a reserva e destrava as odds
	if err := s.odds.LockForBet(ctx, req.BetID, req.SelectionID); err != nil {
		s.compensatePlacement(ctx, req, false)
		return nil, domain.ExternalCall("odds lock", err)
	}

	if err := s.index.Register(ctx, req.UserID, req.MarketID, req.BetID); err != nil {
		s.compensatePlacement(ctx, req, true)
		return nil, domain.ExternalCall("bet index register", err)
	}

	accepted := Accepted{Meta: newMeta(req.BetID, now), LockedOdds: price}
	if err := s.append(ctx, req.BetID, st, placed, accepted); err != nil {
		s.compensatePlacement(ctx, req, true)
		return nil, err
	}

	if err := s.wallet.Commit(ctx, req.UserID, req.BetID); err != nil {
		// Aceitação já persistida: anula a aposta para manter o log coerente.
		// Se o Voided também falhar, a aposta segue ACCEPTED no log e liberar
		// a reserva permitiria liquidar uma aposta com stake devolvido; a
		// reserva fica retida para reconciliação.
		voided := Voided{Meta: newMeta(req.BetID, time.Now().UTC()), Reason: "placement failed: wallet commit"}
		if aerr := s.append(ctx, req.BetID, st, voided); aerr != nil {
			s.log.Error("placement rollback: void append",
				zap.String("betId", req.BetID),
				zap.String("userId", req.UserID),
				zap.NamedError("commitErr", err),
				zap.Error(aerr),
			)
			return nil, domain.ExternalCall("wallet commit", err)
		}
		s.compensatePlacement(ctx, req, true)
		return nil, domain.ExternalCall("wallet commit", err)
	}

	if s.OnAccepted != nil {
		s.OnAccepted()
	}
	s.publishAccepted(ctx, st)
	s.log.Info("bet accepted",
		zap.String("betId", req.BetID),
		zap.String("userId", req.UserID),
		zap.Int64("stakeCents", req.StakeCents),
		zap.String("odds", price.String()),
	)
	return st, nil
}

// compensatePlacement desfaz reserva e lock de odds após falha no meio da colocação
func (s *Service) compensatePlacement(ctx context.Context, req PlaceRequest, unlock bool) {
	if unlock {
		if err := s.odds.Unlock(ctx, req.BetID); err != nil {
			s.log.Error("placement compensation: odds unlock", zap.String("betId", req.BetID), zap.Error(err))
		}
	}
	if err := s.wallet.Release(ctx, req.UserID, req.BetID); err != nil {
		s.log.Error("placement compensation: wallet release", zap.String("betId", req.BetID), zap.Error(err))
	}
}

func (s *Service) publishAccepted(ctx context.Context, st *State) {
	if s.publ == nil {
		return
	}
	err := s.publ.PublishBetAccepted(ctx, cevents.BetAccepted{
		BetID:       st.BetID,
		UserID:      st.UserID,
		EventID:     st.SportEventID,
		MarketID:    st.MarketID,
		SelectionID: st.SelectionID,
		StakeCents:  st.StakeCents,
		Odds:        st.Odds.String(),
		TsUnixMs:    time.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Warn("publish bet_accepted", zap.String("betId", st.BetID), zap.Error(err))
	}
}

func (s *Service) publishSettled(ctx context.Context, st *State, sagaID string) {
	if s.publ == nil {
		return
	}
	var payout int64
	if st.PayoutCents != nil {
		payout = *st.PayoutCents
	}
	err := s.publ.PublishBetSettled(ctx, cevents.BetSettled{
		BetID:       st.BetID,
		UserID:      st.UserID,
		Status:      string(st.Status),
		PayoutCents: payout,
		SagaID:      sagaID,
		Ts:          time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("publish bet_settled", zap.String("betId", st.BetID), zap.Error(err))
	}
}

// Settle transiciona a aposta para Won/Lost; chamado apenas pela saga de liquidação
func (s *Service) Settle(ctx context.Context, betID string, status Status, payoutCents int64, sagaID string) error {
	if status != StatusWon && status != StatusLost {
		return domain.Validationf("settle status must be WON or LOST, got %s", status)
	}
	return s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		if st.Status != StatusAccepted {
			return domain.Conflictf("bet %s cannot be settled from status %s", betID, st.Status)
		}
		settled := Settled{Meta: newMeta(betID, time.Now().UTC()), Status: status, PayoutCents: payoutCents, SagaID: sagaID}
		if err := s.append(ctx, betID, st, settled); err != nil {
			return err
		}
		if s.OnSettled != nil {
			s.OnSettled(string(status))
		}
		s.publishSettled(ctx, st, sagaID)
		return nil
	})
}

// RevertSettlement desfaz a liquidação de uma saga (compensação autorizada),
// devolvendo a aposta a Accepted. No-op se a aposta já estiver Accepted,
// para que retries de compensação sejam seguros.
func (s *Service) RevertSettlement(ctx context.Context, betID, sagaID string) error {
	return s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		if st.Status == StatusAccepted {
			return nil
		}
		if st.Status != StatusWon && st.Status != StatusLost {
			return domain.Conflictf("bet %s cannot revert settlement from status %s", betID, st.Status)
		}
		// só a saga que liquidou pode reverter
		if st.SettleSagaID != sagaID {
			return domain.Conflictf("bet %s was settled by saga %s, not %s", betID, st.SettleSagaID, sagaID)
		}
		return s.append(ctx, betID, st, SettlementReverted{Meta: newMeta(betID, time.Now().UTC()), SagaID: sagaID})
	})
}

// Void anula a aposta enquanto cancelável (antes de liquidar). Se a reserva
// ainda não foi efetivada, basta liberá-la; se a aposta já estava Accepted
// (stake debitado), o valor volta via crédito idempotente "void:<betId>".
func (s *Service) Void(ctx context.Context, betID, reason string) error {
	return s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		switch st.Status {
		case StatusPending:
			if err := s.wallet.Release(ctx, st.UserID, betID); err != nil {
				return domain.ExternalCall("wallet release", err)
			}
		case StatusAccepted:
			if _, err := s.wallet.Deposit(ctx, st.UserID, st.StakeCents, "void:"+betID); err != nil {
				return domain.ExternalCall("wallet void refund", err)
			}
		default:
			return domain.Conflictf("bet %s cannot be voided from status %s", betID, st.Status)
		}

		if err := s.odds.Unlock(ctx, betID); err != nil {
			s.log.Warn("void: odds unlock", zap.String("betId", betID), zap.Error(err))
		}
		if err := s.append(ctx, betID, st, Voided{Meta: newMeta(betID, time.Now().UTC()), Reason: reason}); err != nil {
			return err
		}
		if s.OnSettled != nil {
			s.OnSettled(string(StatusVoid))
		}
		s.publishSettled(ctx, st, "")
		return nil
	})
}

// CashOut encerra a aposta antecipadamente: paga o stake menos a taxa fixa
// e transiciona para CashedOut. Liquidações posteriores tratam a aposta
// como não afetada (nunca recreditada).
func (s *Service) CashOut(ctx context.Context, betID string) (int64, error) {
	var payout int64
	err := s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		if st.Status != StatusAccepted {
			return domain.Conflictf("bet %s cannot be cashed out from status %s", betID, st.Status)
		}

		payout = st.StakeCents * (10000 - s.cashoutFeeBps) / 10000
		if err := s.wallet.ProcessPayout(ctx, st.UserID, payout, betID, "cashout"); err != nil {
			return domain.ExternalCall("wallet cashout payout", err)
		}

		settled := Settled{Meta: newMeta(betID, time.Now().UTC()), Status: StatusCashedOut, PayoutCents: payout}
		if err := s.append(ctx, betID, st, settled); err != nil {
			return err
		}
		if s.OnSettled != nil {
			s.OnSettled(string(StatusCashedOut))
		}
		s.publishSettled(ctx, st, "")
		return nil
	})
	return payout, err
}

// GetDetails retorna o snapshot corrente da aposta
func (s *Service) GetDetails(ctx context.Context, betID string) (State, error) {
	var out State
	err := s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		if st.Version == 0 {
			return fmt.Errorf("%w: bet %s", domain.ErrNotFound, betID)
		}
		out = st.clone()
		return nil
	})
	return out, err
}

// CanBeSettled indica se a aposta está elegível para liquidação de saga
func (s *Service) CanBeSettled(ctx context.Context, betID string) (bool, error) {
	var ok bool
	err := s.sys.Do(ctx, address(betID), func(ctx context.Context) error {
		st, err := s.state(ctx, betID)
		if err != nil {
			return err
		}
		ok = st.Status == StatusAccepted
		return nil
	})
	return ok, err
}

func validatePlace(req PlaceRequest) error {
	switch {
	case req.BetID == "":
		return domain.Validationf("betId required")
	case req.UserID == "":
		return domain.Validationf("userId required")
	case req.SportEventID == "" || req.MarketID == "" || req.SelectionID == "":
		return domain.Validationf("event, market and selection required")
	case req.StakeCents <= 0:
		return domain.Validationf("stake must be positive")
	case req.Currency == "":
		return domain.Validationf("currency required")
	case req.MinOdds.LessThanOrEqual(decimal.NewFromInt(1)):
		return domain.Validationf("acceptable odds must be greater than 1")
	}
	return nil
}

func isDomainErr(err error) bool {
	for _, target := range []error{
		domain.ErrValidation, domain.ErrInsufficientFunds, domain.ErrStaleOdds,
		domain.ErrConflict, domain.ErrExternalCall, domain.ErrSagaCompensation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
