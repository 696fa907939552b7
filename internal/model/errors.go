package model

import "errors"

// Error taxonomy. Callers match with errors.Is; the HTTP layer maps each
// sentinel to a status code.
var (
	ErrStorage            = errors.New("model: storage failure")
	ErrDecode             = errors.New("model: malformed record")
	ErrNotFound           = errors.New("model: not found")
	ErrExternalService    = errors.New("model: external service failure")
	ErrInvalidLedgerState = errors.New("model: invalid ledger state")
)
