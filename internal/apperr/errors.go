package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindStockInsufficient Kind = "STOCK_INSUFFICIENT"
	KindStateTransition   Kind = "STATE_TRANSITION_ERROR"
	KindSecurity          Kind = "SECURITY_ERROR"
	KindExternalService   Kind = "EXTERNAL_SERVICE_ERROR"
	KindInvariant         Kind = "INVARIANT_VIOLATION"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Error is a classified failure. Business kinds carry a user-facing message;
// Invariant and Internal kinds never expose Err to clients.
type Error struct {
	Kind    Kind              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// HTTPStatus maps the kind to the response code used by the API.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStockInsufficient, KindStateTransition:
		return http.StatusConflict
	case KindSecurity:
		return http.StatusUnauthorized
	case KindExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource)).WithDetail("id", id)
}

func StockInsufficient(productID string, requested, available int) *Error {
	return New(KindStockInsufficient, fmt.Sprintf("insufficient stock for product %s", productID)).
		WithDetail("product_id", productID).
		WithDetail("requested", fmt.Sprint(requested)).
		WithDetail("available", fmt.Sprint(available))
}

func StateTransition(from, to string) *Error {
	return New(KindStateTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetail("from", from).
		WithDetail("to", to)
}

func Security(msg string) *Error { return New(KindSecurity, msg) }

func ExternalService(service string, err error) *Error {
	return New(KindExternalService, fmt.Sprintf("%s is temporarily unavailable", service)).Wrap(err)
}

func Invariant(msg string) *Error { return New(KindInvariant, msg) }

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From converts any error into an *Error, hiding unclassified causes behind an
// internal error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(KindInternal, "an internal error occurred").Wrap(err)
}
