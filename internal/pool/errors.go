// errors.go - Error taxonomy for the shielded pool.
//
// Every failing operation returns one of the sentinels below (possibly wrapped with context).
// Callers match with errors.Is; KindOf groups them for transport-level status mapping.

package pool

import "errors"

// Validation errors.
var (
	ErrInvalidCommitment = errors.New("invalid commitment")
	ErrZeroAmount        = errors.New("amount must be greater than 0")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrCustodyAccount    = errors.New("pool custody account cannot deposit or receive")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUnsupportedToken  = errors.New("token not supported")
	ErrLengthMismatch    = errors.New("array length mismatch")
	ErrAmountMismatch    = errors.New("amount does not match commitment")
	ErrInvalidParameters = errors.New("invalid mixing parameters")
	ErrInvalidProof      = errors.New("invalid proof")
	ErrAmountOverflow    = errors.New("amount overflow")
)

// Conflict errors.
var (
	ErrCommitmentAlreadyExists = errors.New("commitment already exists")
	ErrNullifierAlreadyUsed    = errors.New("nullifier already used")
	ErrAlreadyProcessed        = errors.New("batch already processed")
)

// Timing errors.
var (
	ErrMixingPeriodNotElapsed = errors.New("mixing period not elapsed")
	ErrBatchNotMature         = errors.New("batch not mature")
)

// Lookup errors.
var (
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrBatchNotFound      = errors.New("batch not found")
)

// Authorization errors.
var (
	ErrNotAuthorized = errors.New("caller is not the owner")
	ErrBlacklisted   = errors.New("address is blacklisted")
	ErrPaused        = errors.New("pool is paused")
)

// Resource errors.
var (
	ErrInsufficientBalance         = errors.New("insufficient pool balance")
	ErrInsufficientExternalBalance = errors.New("insufficient external balance")
)

// Kind classifies an error for callers that need a coarse category.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindTiming        Kind = "timing"
	KindLookup        Kind = "lookup"
	KindAuthorization Kind = "authorization"
	KindResource      Kind = "resource"
	KindInternal      Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidCommitment, KindValidation},
	{ErrZeroAmount, KindValidation},
	{ErrInvalidRecipient, KindValidation},
	{ErrCustodyAccount, KindValidation},
	{ErrInvalidToken, KindValidation},
	{ErrUnsupportedToken, KindValidation},
	{ErrLengthMismatch, KindValidation},
	{ErrAmountMismatch, KindValidation},
	{ErrInvalidParameters, KindValidation},
	{ErrInvalidProof, KindValidation},
	{ErrAmountOverflow, KindValidation},
	{ErrCommitmentAlreadyExists, KindConflict},
	{ErrNullifierAlreadyUsed, KindConflict},
	{ErrAlreadyProcessed, KindConflict},
	{ErrMixingPeriodNotElapsed, KindTiming},
	{ErrBatchNotMature, KindTiming},
	{ErrCommitmentNotFound, KindLookup},
	{ErrBatchNotFound, KindLookup},
	{ErrNotAuthorized, KindAuthorization},
	{ErrBlacklisted, KindAuthorization},
	{ErrPaused, KindAuthorization},
	{ErrInsufficientBalance, KindResource},
	{ErrInsufficientExternalBalance, KindResource},
}

// KindOf returns the category of err, or KindInternal when err is not part of the taxonomy.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
