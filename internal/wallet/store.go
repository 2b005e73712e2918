package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
)

// Store persiste snapshots de carteira e o ledger append-only
type Store interface {
	Load(ctx context.Context, userID string) (*Snapshot, error) // nil se inexistente
	Save(ctx context.Context, snap Snapshot) error
	AppendLedger(ctx context.Context, userID string, entries []LedgerEntry) error
	ReadLedger(ctx context.Context, userID string) ([]LedgerEntry, error)
}

// MemoryStore guarda tudo em memória; usado em testes e execução local
type MemoryStore struct {
	mu      sync.RWMutex
	snaps   map[string]Snapshot
	ledgers map[string][]LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps:   make(map[string]Snapshot),
		ledgers: make(map[string][]LedgerEntry),
	}
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[userID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.UserID] = snap
	return nil
}

func (m *MemoryStore) AppendLedger(ctx context.Context, userID string, entries []LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[userID] = append(m.ledgers[userID], entries...)
	return nil
}

func (m *MemoryStore) ReadLedger(ctx context.Context, userID string) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.ledgers[userID]
	out := make([]LedgerEntry, len(src))
	copy(out, src)
	return out, nil
}

// PostgresStore persiste snapshot e ledger em banco.
// Tabelas esperadas:
//
//	CREATE TABLE wallet_snapshots (
//	  user_id  TEXT PRIMARY KEY,
//	  snapshot JSONB NOT NULL,
//	  version  BIGINT NOT NULL DEFAULT 1
//	);
//	CREATE TABLE wallet_ledger (
//	  entry_id       TEXT PRIMARY KEY,
//	  user_id        TEXT NOT NULL,
//	  at             TIMESTAMPTZ NOT NULL,
//	  operation      TEXT NOT NULL,
//	  debit_account  TEXT NOT NULL,
//	  credit_account TEXT NOT NULL,
//	  amount_cents   BIGINT NOT NULL,
//	  ref            TEXT NOT NULL,
//	  reason         TEXT NOT NULL DEFAULT ''
//	);
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Load(ctx context.Context, userID string) (*Snapshot, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT snapshot FROM wallet_snapshots WHERE user_id=$1`, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO wallet_snapshots(user_id, snapshot, version) VALUES($1,$2,1)
		ON CONFLICT (user_id) DO UPDATE SET snapshot=$2, version=wallet_snapshots.version+1`,
		snap.UserID, raw)
	return err
}

func (p *PostgresStore) AppendLedger(ctx context.Context, userID string, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_ledger(entry_id, user_id, at, operation, debit_account, credit_account, amount_cents, ref, reason)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.EntryID, userID, e.At, e.Operation, e.DebitAccount, e.CreditAccount, e.AmountCents, e.Ref, e.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ReadLedger(ctx context.Context, userID string) ([]LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entry_id, at, operation, debit_account, credit_account, amount_cents, ref, reason
		FROM wallet_ledger WHERE user_id=$1 ORDER BY at, entry_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.At, &e.Operation, &e.DebitAccount, &e.CreditAccount, &e.AmountCents, &e.Ref, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
