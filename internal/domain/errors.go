package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Taxonomía de errores del subsistema de cierre y liquidación.
// Ninguno es fatal para el proceso: cada fallo queda acotado a un torneo
// o a un intento de reconciliación.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation error")
	ErrTransientIO        = errors.New("transient io error")
	ErrRateLimited        = errors.New("rate limited")
	ErrConflict           = errors.New("conflict")
)

// ValidationError agrupa los problemas encontrados al validar una configuración o un resultado.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation error: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid construye un *ValidationError con un único problema.
func Invalid(format string, args ...any) error {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// RateLimitedError es la señal de "reintenta más tarde". No es un fallo.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Motivos estables que devuelve un cierre fallido.
const (
	ReasonAlreadyClosed = "already_closed"
	ReasonNotEligible   = "not_eligible"
	ReasonUnauthorized  = "unauthorized"
	ReasonInvalidConfig = "invalid_config"
	ReasonTransient     = "transient"
	ReasonRateLimited   = "rate_limited"
	ReasonConflict      = "conflict"
	ReasonInternal      = "internal"
)

// CloseReason traduce un error del subsistema a un motivo estable para el caller.
func CloseReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ReasonAlreadyClosed
	case errors.Is(err, ErrPreconditionFailed):
		return ReasonNotEligible
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, ErrValidation):
		return ReasonInvalidConfig
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrConflict):
		return ReasonConflict
	case errors.Is(err, ErrTransientIO):
		return ReasonTransient
	default:
		return ReasonInternal
	}
}
