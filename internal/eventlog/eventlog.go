package eventlog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrVersionConflict indica append com expectedVersion divergente da versão corrente do stream
	ErrVersionConflict = errors.New("event log version conflict")
)

// Record é um evento de domínio serializado, ordenado dentro do seu stream.
// O payload é JSON; Kind identifica a variante para decodificação.
type Record struct {
	StreamID string
	Version  int64 // 1-based, atribuído pelo store no append
	Kind     string
	Payload  []byte
	At       time.Time
}

// Store é o log append-only por entidade.
// Append é condicional: só grava se a versão corrente do stream for
// exatamente expectedVersion (0 = stream vazio), garantindo o
// single-writer mesmo sob ativação duplicada.
type Store interface {
	Append(ctx context.Context, streamID string, expectedVersion int64, records []Record) error
	ReadAll(ctx context.Context, streamID string) ([]Record, error)
}
