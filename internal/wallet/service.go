package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/actor"
	"github.com/radieske/bet-settlement-engine/internal/domain"
)

// Service é a fachada dos atores de carteira: um endereço por usuário,
// estado mutado só dentro do turno. Toda operação mutante é idempotente
// por token para tolerar retries após timeout.
type Service struct {
	log   *zap.Logger
	sys   *actor.System
	store Store

	mu     sync.Mutex
	states map[string]*state

	// hook de métricas por operação
	OnOp func(op string)
}

func NewService(log *zap.Logger, sys *actor.System, store Store) *Service {
	return &Service{
		log:    log,
		sys:    sys,
		store:  store,
		states: make(map[string]*state),
	}
}

func address(userID string) string { return "wallet:" + userID }

// state carrega (criando se preciso) o estado da carteira do usuário.
// Só pode ser chamado de dentro de um turno do endereço correspondente.
func (s *Service) state(ctx context.Context, userID string) (*state, error) {
	s.mu.Lock()
	st, ok := s.states[userID]
	s.mu.Unlock()
	if ok {
		return st, nil
	}

	snap, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, domain.ExternalCall("wallet snapshot load", err)
	}
	if snap != nil {
		st = fromSnapshot(snap)
	} else {
		st = newState(userID)
	}

	s.mu.Lock()
	s.states[userID] = st
	s.mu.Unlock()
	return st, nil
}

// Evict descarta o estado em cache, forçando reidratação do snapshot no
// próximo turno; usado quando a persistência falha depois de uma mutação
// em memória e na desativação do ator por ociosidade
func (s *Service) Evict(userID string) {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
}

// mutate executa fn dentro do turno da carteira e persiste snapshot + ledger
func (s *Service) mutate(ctx context.Context, userID string, op string, fn func(st *state) ([]LedgerEntry, error)) error {
	return s.sys.Do(ctx, address(userID), func(ctx context.Context) error {
		st, err := s.state(ctx, userID)
		if err != nil {
			return err
		}
		entries, err := fn(st)
		if err != nil {
			return err
		}
		if entries == nil {
			// no-op idempotente: nada a persistir
			return nil
		}
		if err := s.store.Save(ctx, st.snapshot()); err != nil {
			s.Evict(userID)
			return domain.ExternalCall("wallet snapshot save", err)
		}
		if err := s.store.AppendLedger(ctx, userID, entries); err != nil {
			s.log.Error("wallet ledger append", zap.String("userId", userID), zap.Error(err))
		}
		if s.OnOp != nil {
			s.OnOp(op)
		}
		return nil
	})
}

func entry(op, debit, credit string, amount int64, ref, reason string) LedgerEntry {
	return LedgerEntry{
		EntryID:       uuid.NewString(),
		At:            time.Now().UTC(),
		Operation:     op,
		DebitAccount:  debit,
		CreditAccount: credit,
		AmountCents:   amount,
		Ref:           ref,
		Reason:        reason,
	}
}

// GetAvailableBalance retorna saldo menos reservas abertas
func (s *Service) GetAvailableBalance(ctx context.Context, userID string) (int64, error) {
	var out int64
	err := s.sys.Do(ctx, address(userID), func(ctx context.Context) error {
		st, err := s.state(ctx, userID)
		if err != nil {
			return err
		}
		out = st.available()
		return nil
	})
	return out, err
}

// Reserve abre uma reserva de fundos pelo token (betId). Repetir o mesmo
// token é no-op; reservar acima do disponível falha sem mutação.
func (s *Service) Reserve(ctx context.Context, userID string, amountCents int64, token string) error {
	if amountCents <= 0 {
		return domain.Validationf("reserve amount must be positive")
	}
	if token == "" {
		return domain.Validationf("reserve token required")
	}
	return s.mutate(ctx, userID, OpReserve, func(st *state) ([]LedgerEntry, error) {
		if _, open := st.reservations[token]; open || st.committed[token] || st.released[token] {
			return nil, nil // já aplicada
		}
		if amountCents > st.available() {
			return nil, fmt.Errorf("%w: reserve %d exceeds available %d", domain.ErrInsufficientFunds, amountCents, st.available())
		}
		st.reservations[token] = amountCents
		user := "user:" + userID
		return []LedgerEntry{entry(OpReserve, user+":available", user+":reserved", amountCents, token, "")}, nil
	})
}

// Commit converte a reserva em débito definitivo (partida dobrada:
// débito da conta reservada do usuário, crédito do passivo da casa)
func (s *Service) Commit(ctx context.Context, userID, token string) error {
	return s.mutate(ctx, userID, OpCommit, func(st *state) ([]LedgerEntry, error) {
		if st.committed[token] {
			return nil, nil
		}
		amount, open := st.reservations[token]
		if !open {
			return nil, domain.Conflictf("commit: no open reservation for token %s", token)
		}
		st.balanceCents -= amount
		delete(st.reservations, token)
		st.committed[token] = true
		return []LedgerEntry{entry(OpCommit, "user:"+userID+":reserved", "house:liability", amount, token, "")}, nil
	})
}

// Release desfaz a reserva sem alterar saldo. No-op se já liberada ou
// inexistente; commit tem precedência, release após commit é conflito.
func (s *Service) Release(ctx context.Context, userID, token string) error {
	return s.mutate(ctx, userID, OpRelease, func(st *state) ([]LedgerEntry, error) {
		if st.committed[token] {
			return nil, domain.Conflictf("release: token %s already committed", token)
		}
		amount, open := st.reservations[token]
		if !open {
			return nil, nil
		}
		delete(st.reservations, token)
		st.released[token] = true
		user := "user:" + userID
		return []LedgerEntry{entry(OpRelease, user+":reserved", user+":available", amount, token, "")}, nil
	})
}

// ProcessPayout credita um pagamento de liquidação, idempotente por (betId, sagaId)
func (s *Service) ProcessPayout(ctx context.Context, userID string, amountCents int64, betID, sagaID string) error {
	if amountCents <= 0 {
		return domain.Validationf("payout amount must be positive")
	}
	key := payoutKey(betID, sagaID)
	return s.mutate(ctx, userID, OpPayout, func(st *state) ([]LedgerEntry, error) {
		if _, done := st.payouts[key]; done {
			return nil, nil
		}
		st.balanceCents += amountCents
		st.payouts[key] = amountCents
		return []LedgerEntry{entry(OpPayout, "house:liability", "user:"+userID+":available", amountCents, key, "")}, nil
	})
}

// ReversePayout estorna um pagamento de liquidação (compensação de saga),
// idempotente pela mesma chave (betId, sagaId)
func (s *Service) ReversePayout(ctx context.Context, userID string, amountCents int64, betID, sagaID, reason string) error {
	key := payoutKey(betID, sagaID)
	return s.mutate(ctx, userID, OpPayoutReversal, func(st *state) ([]LedgerEntry, error) {
		if st.reversals[key] {
			return nil, nil
		}
		if _, done := st.payouts[key]; !done {
			return nil, nil // nunca creditado; nada a estornar
		}
		if amountCents > st.available() {
			return nil, fmt.Errorf("%w: reverse %d exceeds available %d", domain.ErrInsufficientFunds, amountCents, st.available())
		}
		st.balanceCents -= amountCents
		st.reversals[key] = true
		return []LedgerEntry{entry(OpPayoutReversal, "user:"+userID+":available", "house:liability", amountCents, key, reason)}, nil
	})
}

// Deposit credita saldo, idempotente pelo txID do chamador
func (s *Service) Deposit(ctx context.Context, userID string, amountCents int64, txID string) (int64, error) {
	if amountCents <= 0 {
		return 0, domain.Validationf("deposit amount must be positive")
	}
	if txID == "" {
		return 0, domain.Validationf("deposit txId required")
	}
	var balance int64
	err := s.mutate(ctx, userID, OpDeposit, func(st *state) ([]LedgerEntry, error) {
		key := "dep:" + txID
		if st.txns[key] {
			balance = st.balanceCents
			return nil, nil
		}
		st.balanceCents += amountCents
		st.txns[key] = true
		balance = st.balanceCents
		return []LedgerEntry{entry(OpDeposit, "external:cash", "user:"+userID+":available", amountCents, txID, "")}, nil
	})
	return balance, err
}

// Withdraw debita saldo, idempotente pelo txID; falha se o disponível ficaria negativo
func (s *Service) Withdraw(ctx context.Context, userID string, amountCents int64, txID string) (int64, error) {
	if amountCents <= 0 {
		return 0, domain.Validationf("withdraw amount must be positive")
	}
	if txID == "" {
		return 0, domain.Validationf("withdraw txId required")
	}
	var balance int64
	err := s.mutate(ctx, userID, OpWithdraw, func(st *state) ([]LedgerEntry, error) {
		key := "wd:" + txID
		if st.txns[key] {
			balance = st.balanceCents
			return nil, nil
		}
		if amountCents > st.available() {
			return nil, fmt.Errorf("%w: withdraw %d exceeds available %d", domain.ErrInsufficientFunds, amountCents, st.available())
		}
		st.balanceCents -= amountCents
		st.txns[key] = true
		balance = st.balanceCents
		return []LedgerEntry{entry(OpWithdraw, "user:"+userID+":available", "external:cash", amountCents, txID, "")}, nil
	})
	return balance, err
}

// GetTransactionHistory retorna o ledger de partida dobrada do usuário
func (s *Service) GetTransactionHistory(ctx context.Context, userID string) ([]LedgerEntry, error) {
	var out []LedgerEntry
	err := s.sys.Do(ctx, address(userID), func(ctx context.Context) error {
		entries, err := s.store.ReadLedger(ctx, userID)
		if err != nil {
			return domain.ExternalCall("wallet ledger read", err)
		}
		out = entries
		return nil
	})
	return out, err
}
