package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persiste o log de eventos em banco.
// Tabela esperada:
//
//	CREATE TABLE domain_events (
//	  stream_id TEXT NOT NULL,
//	  version   BIGINT NOT NULL,
//	  kind      TEXT NOT NULL,
//	  payload   JSONB NOT NULL,
//	  at        TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (stream_id, version)
//	);
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Append grava os eventos em transação, validando a versão corrente do
// stream com lock pessimista; a PK (stream_id, version) é a última defesa
// contra escritores duplicados
func (p *PostgresStore) Append(ctx context.Context, streamID string, expectedVersion int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM domain_events WHERE stream_id=$1 ORDER BY version DESC LIMIT 1 FOR UPDATE`,
		streamID).Scan(&cur)
	if err == sql.ErrNoRows {
		cur = 0
	} else if err != nil {
		return err
	}
	if cur != expectedVersion {
		return ErrVersionConflict
	}

	for i := range records {
		at := records[i].At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO domain_events(stream_id, version, kind, payload, at) VALUES($1,$2,$3,$4,$5)`,
			streamID, cur+int64(i)+1, records[i].Kind, records[i].Payload, at); err != nil {
			// num stream vazio o SELECT FOR UPDATE não trava nada: dois
			// primeiros appends concorrentes disputam a PK, e o perdedor
			// vira conflito de versão
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return err
		}
	}

	return tx.Commit()
}

// isUniqueViolation detecta violação de chave única do Postgres (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ReadAll retorna todos os eventos do stream em ordem de versão
func (p *PostgresStore) ReadAll(ctx context.Context, streamID string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT stream_id, version, kind, payload, at FROM domain_events WHERE stream_id=$1 ORDER BY version`,
		streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.StreamID, &r.Version, &r.Kind, &r.Payload, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
