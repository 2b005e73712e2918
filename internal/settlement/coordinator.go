package settlement

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/domain"
)

// Coordinator é a fachada por mercado: mantém no máximo uma saga corrente
// por marketID, recusa liquidação duplicada e expõe o estorno manual
type Coordinator struct {
	deps Deps

	mu    sync.Mutex
	sagas map[string]*Saga // marketID -> saga corrente
}

func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{deps: deps, sagas: make(map[string]*Saga)}
}

// StartSettlement inicia (sincronamente) uma tentativa de liquidação do
// mercado. Recusa se a saga corrente estiver em andamento, concluída
// (liquidação é idempotente por mercado) ou congelada em Failed.
// Uma saga compensada de volta a Pending dá lugar a uma tentativa nova.
func (c *Coordinator) StartSettlement(ctx context.Context, marketID, eventID string) (*Saga, error) {
	if marketID == "" || eventID == "" {
		return nil, domain.Validationf("marketId and eventId required")
	}

	c.mu.Lock()
	if cur, ok := c.sagas[marketID]; ok {
		st, err := cur.GetStatus(ctx)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		switch st {
		case StatusInProgress:
			c.mu.Unlock()
			return nil, domain.Conflictf("settlement for market %s already in progress (saga %s)", marketID, cur.ID)
		case StatusCompleted:
			c.mu.Unlock()
			return nil, domain.Conflictf("market %s already settled (saga %s)", marketID, cur.ID)
		case StatusFailed:
			c.mu.Unlock()
			return nil, domain.Conflictf("market %s settlement frozen, manual reconciliation required (saga %s)", marketID, cur.ID)
		}
	}
	saga := NewSaga(c.deps, marketID, eventID)
	c.sagas[marketID] = saga
	c.mu.Unlock()

	c.deps.Log.Info("settlement started",
		zap.String("sagaId", saga.ID),
		zap.String("marketId", marketID),
		zap.String("eventId", eventID),
	)
	if err := saga.Run(ctx); err != nil {
		return saga, err
	}
	return saga, nil
}

// Compensate executa o estorno manual de um mercado já liquidado
// (ex: resultado contestado)
func (c *Coordinator) Compensate(ctx context.Context, marketID, reason string) error {
	saga, err := c.saga(marketID)
	if err != nil {
		return err
	}
	completed, err := saga.IsCompleted(ctx)
	if err != nil {
		return err
	}
	if !completed {
		return domain.Conflictf("market %s has no completed settlement to reverse", marketID)
	}
	return saga.Compensate(ctx, reason)
}

// GetSagaStatus retorna o status da saga corrente do mercado
func (c *Coordinator) GetSagaStatus(ctx context.Context, marketID string) (Status, error) {
	saga, err := c.saga(marketID)
	if err != nil {
		return "", err
	}
	return saga.GetStatus(ctx)
}

// IsCompleted indica se o mercado já foi liquidado com sucesso
func (c *Coordinator) IsCompleted(ctx context.Context, marketID string) (bool, error) {
	saga, err := c.saga(marketID)
	if err != nil {
		return false, err
	}
	return saga.IsCompleted(ctx)
}

// GetExecutedSteps retorna o log de passos da saga corrente do mercado
func (c *Coordinator) GetExecutedSteps(ctx context.Context, marketID string) ([]Step, error) {
	saga, err := c.saga(marketID)
	if err != nil {
		return nil, err
	}
	return saga.GetExecutedSteps(ctx)
}

// Cancel cancela a saga corrente do mercado antes do próximo passo
func (c *Coordinator) Cancel(ctx context.Context, marketID string) error {
	saga, err := c.saga(marketID)
	if err != nil {
		return err
	}
	return saga.Cancel(ctx)
}

func (c *Coordinator) saga(marketID string) (*Saga, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	saga, ok := c.sagas[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: no settlement saga for market %s", domain.ErrNotFound, marketID)
	}
	return saga, nil
}
