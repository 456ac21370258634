package xerrors

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repositories react to.
const (
	PGUniqueViolation      = "23505"
	PGSerializationFailure = "40001"
	PGDeadlockDetected     = "40P01"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsRetryablePG reports whether a Postgres error is a transaction conflict that
// should be resolved by re-running the whole transaction from fresh reads.
func IsRetryablePG(err error) bool {
	switch ParsePGErrorCode(err) {
	case PGSerializationFailure, PGDeadlockDetected, PGUniqueViolation:
		return true
	}
	return false
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input provided")
)

// Wallet assignment
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAlreadyBound           = errors.New("wallet already exists for this user")
	ErrInvalidMasterSecret    = errors.New("invalid master secret")
	ErrWatchRegistration      = errors.New("failed to register address with watch feed")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Deposits
var (
	ErrPendingRecordMissing = errors.New("pending transaction not found")
	ErrDepositExists        = errors.New("deposit already exists")
	ErrIllegalTransition    = errors.New("illegal deposit status transition")
	ErrDuplicateBinding     = errors.New("address resolves to more than one wallet binding")
	ErrUnsupportedChain     = errors.New("chain not supported")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrPriceUnavailable     = errors.New("price unavailable")
)

// Sweeps and chain access
var (
	ErrInsufficientFunds = errors.New("insufficient funds to cover network fees")
	ErrNothingToSweep    = errors.New("nothing to sweep")
	ErrFeeUnavailable    = errors.New("network fee rate unavailable")
	ErrTransferAborted   = errors.New("transfer submission aborted")
	ErrTransient         = errors.New("temporary failure, retry later")
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransient
	KindFunds
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFunds:
		return "funds"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnsupportedChain):
		return KindValidation
	case errors.Is(err, ErrAlreadyBound), errors.Is(err, ErrDepositExists),
		errors.Is(err, ErrIllegalTransition):
		return KindConflict
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPendingRecordMissing):
		return KindNotFound
	case errors.Is(err, ErrTransient), errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrPriceUnavailable), errors.Is(err, ErrWatchRegistration),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrNothingToSweep):
		return KindFunds
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidSignature):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}
