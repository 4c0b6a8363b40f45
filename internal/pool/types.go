// types.go - Core records of the shielded pool ledger.
//
// Identifiers reuse go-ethereum's 20-byte Address and 32-byte Hash so that ids produced by the
// commitment oracle, token contracts and depositor addresses round-trip through hex unchanged.

package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	// Address identifies a depositor, recipient or the owner.
	Address = common.Address
	// TokenID identifies a fungible token.
	TokenID = common.Address
	// CommitmentID is the output of the commitment oracle.
	CommitmentID = common.Hash
	// NullifierID is a one-time spend tag.
	NullifierID = common.Hash
	// BatchID numbers mixing batches from zero in opening order.
	BatchID uint64
)

// CommitmentRecord is a shielded deposit. Only Consumed ever changes after insertion.
type CommitmentRecord struct {
	ID        CommitmentID
	Token     TokenID
	Amount    *uint256.Int
	CreatedAt time.Time
	Consumed  bool
	BatchID   BatchID
}

func (c *CommitmentRecord) clone() *CommitmentRecord {
	cp := *c
	return &cp
}

// NullifierRecord marks a spend tag as used.
type NullifierRecord struct {
	ID     NullifierID
	Used   bool
	UsedAt time.Time
}

// BatchState is the lifecycle of a mixing batch: Open -> Matured -> Processed.
type BatchState string

const (
	BatchOpen      BatchState = "open"
	BatchMatured   BatchState = "matured"
	BatchProcessed BatchState = "processed"
)

// MixingBatch groups commitments that mature together.
type MixingBatch struct {
	ID       BatchID
	Members  []CommitmentID
	OpenedAt time.Time
	// MixingPeriod is the period in force when the batch was opened.
	MixingPeriod time.Duration
	State        BatchState
	ProcessedAt  time.Time
}

func (b *MixingBatch) clone() *MixingBatch {
	cp := *b
	cp.Members = append([]CommitmentID(nil), b.Members...)
	return &cp
}

// matureAt reports whether the batch has reached maturity at now.
func (b *MixingBatch) matureAt(now time.Time) bool {
	return now.Sub(b.OpenedAt) >= b.MixingPeriod
}

// effectiveState evaluates the passive maturity predicate without mutating the batch.
func (b *MixingBatch) effectiveState(now time.Time) BatchState {
	if b.State == BatchOpen && b.matureAt(now) {
		return BatchMatured
	}
	return b.State
}

// MixingParameters are the process-wide, admin-mutable mixing settings.
type MixingParameters struct {
	MixingPeriod time.Duration
	// MixSize is the target batch size. A batch stops admitting members once it is reached.
	MixSize uint32
}

// DefaultMixingParameters mirrors the original deployment: one hour, ten members.
func DefaultMixingParameters() MixingParameters {
	return MixingParameters{MixingPeriod: time.Hour, MixSize: 10}
}

// AdminState holds everything only the owner may change.
type AdminState struct {
	Owner     Address
	Paused    bool
	Blacklist map[Address]bool
	Tokens    map[TokenID]bool
}

func newAdminState(owner Address) *AdminState {
	return &AdminState{
		Owner:     owner,
		Blacklist: make(map[Address]bool),
		Tokens:    make(map[TokenID]bool),
	}
}

func (a *AdminState) clone() *AdminState {
	cp := &AdminState{
		Owner:     a.Owner,
		Paused:    a.Paused,
		Blacklist: make(map[Address]bool, len(a.Blacklist)),
		Tokens:    make(map[TokenID]bool, len(a.Tokens)),
	}
	for k, v := range a.Blacklist {
		cp.Blacklist[k] = v
	}
	for k, v := range a.Tokens {
		cp.Tokens[k] = v
	}
	return cp
}

// BatchCursor tracks batch numbering and the batch currently admitting members.
type BatchCursor struct {
	Next    BatchID
	Open    BatchID
	HasOpen bool
}

// Payout binds one pending batch member to a recipient and a nullifier in ProcessBatch.
type Payout struct {
	Recipient Address
	Nullifier NullifierID
}

// Solvency is the per-token accounting view used to check the solvency invariant.
type Solvency struct {
	Token TokenID
	// Held is the pool's custody balance.
	Held *uint256.Int
	// Backed is the sum of unconsumed commitment amounts.
	Backed *uint256.Int
	// Released is liquidity freed by batch processing and withdrawable by Unshield.
	Released *uint256.Int
}

// Solvent reports whether Held covers the unconsumed commitments.
func (s Solvency) Solvent() bool {
	return !s.Held.Lt(s.Backed)
}
