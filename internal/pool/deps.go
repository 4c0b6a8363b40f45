// deps.go - Collaborators the pool consumes: persistence, token custody and proof verification.

package pool

import (
	"context"

	"github.com/holiman/uint256"
)

// TokenLedger moves tokens between external accounts and the pool's custody account.
// Pull must fail with an error wrapping ErrInsufficientExternalBalance when the source
// cannot cover the amount. The custody account itself never deposits or receives.
type TokenLedger interface {
	Custody() Address
	Pull(ctx context.Context, from Address, token TokenID, amount *uint256.Int) error
	Push(ctx context.Context, to Address, token TokenID, amount *uint256.Int) error
}

// UnshieldStatement is the public part of a withdrawal a proof must attest to.
type UnshieldStatement struct {
	Token     TokenID
	Recipient Address
	Amount    *uint256.Int
	Nullifier NullifierID
}

// ProofVerifier checks the proof attached to an Unshield call.
// It returns verified=false with a nil error when it accepts a proof it did not check.
type ProofVerifier interface {
	VerifyUnshield(ctx context.Context, st UnshieldStatement, proof []byte) (verified bool, err error)
}

// UnverifiedProofs accepts every proof, including an empty one, without checking it.
// Withdrawals accepted this way are logged and recorded with Verified=false.
type UnverifiedProofs struct{}

// VerifyUnshield implements ProofVerifier.
func (UnverifiedProofs) VerifyUnshield(context.Context, UnshieldStatement, []byte) (bool, error) {
	return false, nil
}

// Store persists committed pool state.
type Store interface {
	// Load returns the persisted snapshot, or nil when nothing was ever committed.
	Load(ctx context.Context) (*Snapshot, error)
	// Commit durably applies a change-set as one atomic write.
	Commit(ctx context.Context, cs *ChangeSet) error
}

// Snapshot is the complete persisted pool state.
type Snapshot struct {
	Commitments []*CommitmentRecord
	Nullifiers  []*NullifierRecord
	Held        map[TokenID]*uint256.Int
	Released    map[TokenID]*uint256.Int
	Batches     []*MixingBatch
	Params      MixingParameters
	Admin       *AdminState
	Cursor      BatchCursor
	EventSeq    uint64
	Events      []Event
}

// ChangeSet is the write-set of one committed operation.
type ChangeSet struct {
	Commitments []*CommitmentRecord
	Nullifiers  []*NullifierRecord
	Held        map[TokenID]*uint256.Int
	Released    map[TokenID]*uint256.Int
	Batches     []*MixingBatch
	Params      *MixingParameters
	Admin       *AdminState
	Cursor      *BatchCursor
	Events      []Event
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*Snapshot, error)  { return nil, nil }
func (nopStore) Commit(context.Context, *ChangeSet) error { return nil }
