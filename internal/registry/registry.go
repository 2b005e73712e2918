package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radieske/bet-settlement-engine/internal/domain"
)

// SportEvent é a visão mínima do registro de eventos esportivos consumida
// pelo engine: status de conclusão e seleção vencedora declarada
type SportEvent struct {
	EventID            string
	Completed          bool
	WinningSelectionID string
}

// Postgres lê o registro de eventos esportivos.
// Tabela esperada:
//
//	CREATE TABLE sport_events (
//	  event_id             TEXT PRIMARY KEY,
//	  status               TEXT NOT NULL, -- SCHEDULED | LIVE | COMPLETED
//	  winning_selection_id TEXT
//	);
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetEvent retorna o evento esportivo pelo id
func (p *Postgres) GetEvent(ctx context.Context, eventID string) (SportEvent, error) {
	var (
		ev      SportEvent
		status  string
		winning sql.NullString
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT event_id, status, winning_selection_id FROM sport_events WHERE event_id=$1`,
		eventID).Scan(&ev.EventID, &status, &winning)
	if err == sql.ErrNoRows {
		return SportEvent{}, fmt.Errorf("%w: sport event %s", domain.ErrNotFound, eventID)
	}
	if err != nil {
		return SportEvent{}, err
	}
	ev.Completed = status == "COMPLETED"
	ev.WinningSelectionID = winning.String
	return ev, nil
}

// MarkCompleted declara o resultado de um evento; usado por fixtures e
// pelo fluxo administrativo que dispara a liquidação
func (p *Postgres) MarkCompleted(ctx context.Context, eventID, winningSelectionID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sport_events(event_id, status, winning_selection_id)
		VALUES($1,'COMPLETED',$2)
		ON CONFLICT (event_id) DO UPDATE SET status='COMPLETED', winning_selection_id=$2`,
		eventID, winningSelectionID)
	return err
}
