package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/actor"
	"github.com/radieske/bet-settlement-engine/internal/bet"
	"github.com/radieske/bet-settlement-engine/internal/domain"
	"github.com/radieske/bet-settlement-engine/internal/registry"
	cevents "github.com/radieske/bet-settlement-engine/pkg/contracts/events"
)

// Status da saga de liquidação
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Passos sequenciais da saga
type Step string

const (
	StepValidateRequest  Step = "VALIDATE_REQUEST"
	StepCollectBets      Step = "COLLECT_BETS"
	StepCalculatePayouts Step = "CALCULATE_PAYOUTS"
	StepProcessPayouts   Step = "PROCESS_PAYOUTS"
	StepUpdateBets       Step = "UPDATE_BETS"
	StepComplete         Step = "COMPLETE"
)

// PayoutCalculation é o resultado efêmero do cálculo por aposta;
// recalculado a cada tentativa de liquidação
type PayoutCalculation struct {
	BetID       string
	UserID      string
	IsWinning   bool
	PayoutCents int64
}

type processedPayout struct {
	betID       string
	userID      string
	amountCents int64
}

// Bets define as operações de aposta consumidas pela saga
type Bets interface {
	GetDetails(ctx context.Context, betID string) (bet.State, error)
	Settle(ctx context.Context, betID string, status bet.Status, payoutCents int64, sagaID string) error
	RevertSettlement(ctx context.Context, betID, sagaID string) error
}

// Wallets define as operações de carteira consumidas pela saga
type Wallets interface {
	ProcessPayout(ctx context.Context, userID string, amountCents int64, betID, sagaID string) error
	ReversePayout(ctx context.Context, userID string, amountCents int64, betID, sagaID, reason string) error
}

// Index enumera as apostas de um mercado (read-side)
type Index interface {
	BetsForMarket(ctx context.Context, marketID string) ([]string, error)
}

// Registry consulta o registro de eventos esportivos
type Registry interface {
	GetEvent(ctx context.Context, eventID string) (registry.SportEvent, error)
}

// Publisher publica os desfechos terminais da saga; pode ser nil
type Publisher interface {
	PublishSettlementCompleted(ctx context.Context, e cevents.SettlementCompleted) error
	PublishSettlementCompensated(ctx context.Context, e cevents.SettlementCompensated) error
}

// Deps agrupa os colaboradores de uma saga
type Deps struct {
	Log      *zap.Logger
	Sys      *actor.System
	Bets     Bets
	Wallets  Wallets
	Index    Index
	Registry Registry
	Publ     Publisher

	// hooks de métricas
	OnCompleted   func()
	OnCompensated func()
}

// compensation é um registro de comando na pilha LIFO: cada efeito externo
// irrevogável empilha sua reversão ANTES de executar; na falha a pilha é
// desempilhada em ordem inversa de inserção
type compensation struct {
	name string
	run  func(ctx context.Context) error
}

// Saga é o ator de uma tentativa de liquidação de um mercado. Todo o estado
// abaixo de deps é mutado apenas dentro de turnos do endereço "saga:<id>";
// cada passo roda como um turno próprio, então consultas de status podem
// intercalar entre passos sem quebrar o single-writer.
type Saga struct {
	deps     Deps
	ID       string
	MarketID string
	EventID  string

	status            Status
	currentStep       Step
	executedSteps     []Step
	compensations     []compensation
	affectedBetIDs    []string
	winningSelection  string
	calcs             []PayoutCalculation
	processedPayouts  []processedPayout
	updatedBets       []string
	totalPayoutsCents int64
	errorMessage      string
	cancelled         bool
}

// NewSaga cria uma saga Pending para um mercado/evento
func NewSaga(deps Deps, marketID, eventID string) *Saga {
	return &Saga{
		deps:     deps,
		ID:       uuid.NewString(),
		MarketID: marketID,
		EventID:  eventID,
		status:   StatusPending,
	}
}

func (g *Saga) address() string { return "saga:" + g.ID }

// turn executa fn como um turno exclusivo da saga
func (g *Saga) turn(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.deps.Sys.Do(ctx, g.address(), fn)
}

// Run executa os passos sequencialmente. Falha nos passos com efeito
// externo dispara a compensação e devolve a saga a Pending, propagando o
// erro original; falha da própria compensação congela a saga em Failed.
func (g *Saga) Run(ctx context.Context) error {
	if err := g.turn(ctx, func(ctx context.Context) error {
		if g.status != StatusPending {
			return domain.Conflictf("saga %s cannot start from status %s", g.ID, g.status)
		}
		g.status = StatusInProgress
		g.errorMessage = ""
		return nil
	}); err != nil {
		return err
	}

	steps := []struct {
		step Step
		fn   func(ctx context.Context) error
	}{
		{StepValidateRequest, g.validateRequest},
		{StepCollectBets, g.collectBets},
		{StepCalculatePayouts, g.calculatePayouts},
		{StepProcessPayouts, g.processPayouts},
		{StepUpdateBets, g.updateBets},
		{StepComplete, g.complete},
	}

	for _, s := range steps {
		step := s
		err := g.turn(ctx, func(ctx context.Context) error {
			if g.cancelled {
				return domain.Conflictf("saga %s cancelled", g.ID)
			}
			g.currentStep = step.step
			g.executedSteps = append(g.executedSteps, step.step)
			return step.fn(ctx)
		})
		if err != nil {
			if cerr := g.Compensate(ctx, err.Error()); cerr != nil {
				return cerr
			}
			return err
		}
	}
	return nil
}

// validateRequest confirma que o evento esportivo está concluído e tem
// seleção vencedora declarada; leitura pura, sem compensação
func (g *Saga) validateRequest(ctx context.Context) error {
	ev, err := g.deps.Registry.GetEvent(ctx, g.EventID)
	if err != nil {
		return domain.ExternalCall("sport event lookup", err)
	}
	if !ev.Completed {
		return domain.Validationf("sport event %s is not completed", g.EventID)
	}
	if ev.WinningSelectionID == "" {
		return domain.Validationf("sport event %s has no winning selection", g.EventID)
	}
	g.winningSelection = ev.WinningSelectionID
	return nil
}

// collectBets enumera as apostas do mercado via índice read-side
func (g *Saga) collectBets(ctx context.Context) error {
	ids, err := g.deps.Index.BetsForMarket(ctx, g.MarketID)
	if err != nil {
		return domain.ExternalCall("market bet index", err)
	}
	g.affectedBetIDs = ids
	return nil
}

// calculatePayouts lê o snapshot de cada aposta e computa o pagamento.
// Apostas fora de Accepted (cash-out, void, já liquidadas) não são afetadas.
// Regra: seleção vencedora paga stake × odds; perdedora paga zero.
func (g *Saga) calculatePayouts(ctx context.Context) error {
	g.calcs = g.calcs[:0]
	for _, betID := range g.affectedBetIDs {
		d, err := g.deps.Bets.GetDetails(ctx, betID)
		if err != nil {
			return domain.ExternalCall("bet details", err)
		}
		if d.Status != bet.StatusAccepted {
			continue
		}
		calc := PayoutCalculation{BetID: betID, UserID: d.UserID}
		if d.SelectionID == g.winningSelection {
			calc.IsWinning = true
			calc.PayoutCents = decimal.NewFromInt(d.StakeCents).Mul(d.Odds).Floor().IntPart()
		}
		g.calcs = append(g.calcs, calc)
	}
	return nil
}

// processPayouts credita as carteiras vencedoras. A reversão é empilhada
// antes do primeiro crédito, então qualquer falha no meio estorna apenas
// o que já foi aplicado.
func (g *Saga) processPayouts(ctx context.Context) error {
	g.pushCompensation("reverse_payouts", g.reversePayouts)
	for _, calc := range g.calcs {
		if !calc.IsWinning || calc.PayoutCents <= 0 {
			continue
		}
		if err := g.deps.Wallets.ProcessPayout(ctx, calc.UserID, calc.PayoutCents, calc.BetID, g.ID); err != nil {
			return domain.ExternalCall("wallet payout", err)
		}
		g.processedPayouts = append(g.processedPayouts, processedPayout{
			betID:       calc.BetID,
			userID:      calc.UserID,
			amountCents: calc.PayoutCents,
		})
	}
	return nil
}

// updateBets transiciona cada aposta para Won/Lost; a reversão de status é
// empilhada antes da primeira escrita
func (g *Saga) updateBets(ctx context.Context) error {
	g.pushCompensation("revert_bet_statuses", g.revertBetStatuses)
	for _, calc := range g.calcs {
		status := bet.StatusLost
		payout := int64(0)
		if calc.IsWinning {
			status = bet.StatusWon
			payout = calc.PayoutCents
		}
		if err := g.deps.Bets.Settle(ctx, calc.BetID, status, payout, g.ID); err != nil {
			return domain.ExternalCall("bet settle", err)
		}
		g.updatedBets = append(g.updatedBets, calc.BetID)
	}
	return nil
}

// complete marca a saga como concluída e publica o total pago
func (g *Saga) complete(ctx context.Context) error {
	var total int64
	for _, p := range g.processedPayouts {
		total += p.amountCents
	}
	g.totalPayoutsCents = total
	g.status = StatusCompleted

	if g.deps.OnCompleted != nil {
		g.deps.OnCompleted()
	}
	if g.deps.Publ != nil {
		err := g.deps.Publ.PublishSettlementCompleted(ctx, cevents.SettlementCompleted{
			SagaID:            g.ID,
			MarketID:          g.MarketID,
			EventID:           g.EventID,
			TotalPayoutsCents: total,
			BetCount:          len(g.calcs),
			Ts:                time.Now().UTC(),
		})
		if err != nil {
			g.deps.Log.Warn("publish settlement_completed", zap.String("sagaId", g.ID), zap.Error(err))
		}
	}
	g.deps.Log.Info("settlement completed",
		zap.String("sagaId", g.ID),
		zap.String("marketId", g.MarketID),
		zap.Int64("totalPayoutsCents", total),
		zap.Int("bets", len(g.calcs)),
	)
	return nil
}

func (g *Saga) pushCompensation(name string, run func(ctx context.Context) error) {
	g.compensations = append(g.compensations, compensation{name: name, run: run})
}

// reversePayouts estorna os créditos já aplicados, em ordem
func (g *Saga) reversePayouts(ctx context.Context) error {
	for _, p := range g.processedPayouts {
		if err := g.deps.Wallets.ReversePayout(ctx, p.userID, p.amountCents, p.betID, g.ID, "settlement compensation"); err != nil {
			return fmt.Errorf("reverse payout bet %s: %w", p.betID, err)
		}
	}
	return nil
}

// revertBetStatuses devolve as apostas já atualizadas para Accepted
func (g *Saga) revertBetStatuses(ctx context.Context) error {
	for _, betID := range g.updatedBets {
		if err := g.deps.Bets.RevertSettlement(ctx, betID, g.ID); err != nil {
			return fmt.Errorf("revert bet %s: %w", betID, err)
		}
	}
	return nil
}

// Compensate desempilha as compensações em ordem inversa de inserção,
// limpa o progresso e devolve a saga a Pending para um retry corrigido.
// Falha na própria compensação congela a saga em Failed: esse estado
// exige reconciliação externa e nunca é retentado automaticamente.
// Invocada contra uma saga Completed, realiza o estorno manual.
func (g *Saga) Compensate(ctx context.Context, reason string) error {
	return g.turn(ctx, func(ctx context.Context) error {
		if g.status == StatusFailed {
			return fmt.Errorf("%w: saga %s is frozen: %s", domain.ErrSagaCompensation, g.ID, g.errorMessage)
		}

		for i := len(g.compensations) - 1; i >= 0; i-- {
			c := g.compensations[i]
			g.deps.Log.Info("saga compensation step",
				zap.String("sagaId", g.ID), zap.String("step", c.name), zap.String("reason", reason))
			if err := c.run(ctx); err != nil {
				g.status = StatusFailed
				g.errorMessage = fmt.Sprintf("compensation %s: %v", c.name, err)
				return fmt.Errorf("%w: saga %s: %s", domain.ErrSagaCompensation, g.ID, g.errorMessage)
			}
		}

		g.compensations = nil
		g.processedPayouts = nil
		g.updatedBets = nil
		g.calcs = nil
		g.totalPayoutsCents = 0
		g.status = StatusPending
		g.errorMessage = reason

		if g.deps.OnCompensated != nil {
			g.deps.OnCompensated()
		}
		if g.deps.Publ != nil {
			err := g.deps.Publ.PublishSettlementCompensated(ctx, cevents.SettlementCompensated{
				SagaID:   g.ID,
				MarketID: g.MarketID,
				Reason:   reason,
				Ts:       time.Now().UTC(),
			})
			if err != nil {
				g.deps.Log.Warn("publish settlement_compensated", zap.String("sagaId", g.ID), zap.Error(err))
			}
		}
		return nil
	})
}

// Cancel sinaliza o cancelamento; efetivo antes do próximo passo
func (g *Saga) Cancel(ctx context.Context) error {
	return g.turn(ctx, func(ctx context.Context) error {
		if g.status == StatusCompleted || g.status == StatusFailed {
			return domain.Conflictf("saga %s cannot be cancelled from status %s", g.ID, g.status)
		}
		g.cancelled = true
		return nil
	})
}

// GetStatus retorna o status corrente
func (g *Saga) GetStatus(ctx context.Context) (Status, error) {
	var out Status
	err := g.turn(ctx, func(ctx context.Context) error {
		out = g.status
		return nil
	})
	return out, err
}

// IsCompleted indica conclusão com sucesso
func (g *Saga) IsCompleted(ctx context.Context) (bool, error) {
	st, err := g.GetStatus(ctx)
	return st == StatusCompleted, err
}

// GetExecutedSteps retorna o log ordenado de passos executados
func (g *Saga) GetExecutedSteps(ctx context.Context) ([]Step, error) {
	var out []Step
	err := g.turn(ctx, func(ctx context.Context) error {
		out = append(out, g.executedSteps...)
		return nil
	})
	return out, err
}

// TotalPayouts retorna a soma dos pagamentos processados
func (g *Saga) TotalPayouts(ctx context.Context) (int64, error) {
	var out int64
	err := g.turn(ctx, func(ctx context.Context) error {
		out = g.totalPayoutsCents
		return nil
	})
	return out, err
}

// ErrorMessage retorna a última razão de falha/compensação registrada
func (g *Saga) ErrorMessage(ctx context.Context) (string, error) {
	var out string
	err := g.turn(ctx, func(ctx context.Context) error {
		out = g.errorMessage
		return nil
	})
	return out, err
}
