package domain

import (
	"errors"
	"fmt"
)

// Erros de domínio do engine. Toda operação mutante retorna um destes
// (embrulhado com contexto legível) em vez de um erro opaco.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStaleOdds         = errors.New("stale odds")
	ErrConflict          = errors.New("conflict")
	ErrExternalCall      = errors.New("external call failed")
	ErrSagaCompensation  = errors.New("saga compensation failed")
	ErrNotFound          = errors.New("not found")
)

// Validationf embrulha ErrValidation com uma razão legível
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf embrulha ErrConflict com uma razão legível
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ExternalCall embrulha a falha de uma chamada a outro ator/colaborador,
// preservando a causa para errors.Is/As
func ExternalCall(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalCall, op, cause)
}
