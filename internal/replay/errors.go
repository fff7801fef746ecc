package replay

import (
	"errors"

	"creatorswap/internal/chain"
	"creatorswap/internal/engine"
)

// ErrCustodyUnavailable rejects deposits that reference a transaction when
// no chain connection is configured.
var ErrCustodyUnavailable = errors.New("replay: custody confirmation unavailable")

var codes = []struct {
	err  error
	code string
}{
	{ErrMalformedOperation, "malformed_operation"},
	{ErrUnknownOperation, "unknown_operation"},
	{ErrInvalidAddress, "invalid_address"},
	{ErrCustodyUnavailable, "custody_unavailable"},
	{chain.ErrDepositNotFound, "deposit_not_found"},
	{chain.ErrDepositPending, "deposit_pending"},
	{chain.ErrDepositFailed, "deposit_failed"},
	{chain.ErrDepositShort, "deposit_short"},
	{chain.ErrDepositTooLate, "deposit_too_late"},
}

func code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return engine.Code(err)
}

func isDepositRejection(err error) bool {
	for _, target := range []error{
		chain.ErrDepositNotFound,
		chain.ErrDepositPending,
		chain.ErrDepositFailed,
		chain.ErrDepositShort,
		chain.ErrDepositTooLate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fatalError aborts a replay instead of rejecting the operation.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
