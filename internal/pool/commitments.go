// commitments.go - Append-only registry of shielded deposits.

package pool

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

func (t *txn) commitment(id CommitmentID) (*CommitmentRecord, bool) {
	if c, ok := t.commitments[id]; ok {
		return c, true
	}
	c, ok := t.base.commitments[id]
	return c, ok
}

// insertCommitment registers a new Pending commitment. Ids are unique for the pool's lifetime,
// consumed or not.
func (t *txn) insertCommitment(id CommitmentID, token TokenID, amount *uint256.Int, now time.Time) (*CommitmentRecord, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if _, exists := t.commitment(id); exists {
		return nil, fmt.Errorf("%w: %s", ErrCommitmentAlreadyExists, id.Hex())
	}
	rec := &CommitmentRecord{
		ID:        id,
		Token:     token,
		Amount:    new(uint256.Int).Set(amount),
		CreatedAt: now,
	}
	t.commitments[id] = rec
	return rec, nil
}

// markConsumed performs the one-way Pending -> Consumed transition.
func (t *txn) markConsumed(id CommitmentID) error {
	c, ok := t.commitment(id)
	if !ok || c.Consumed {
		return fmt.Errorf("%w: %s", ErrCommitmentNotFound, id.Hex())
	}
	cp := c.clone()
	cp.Consumed = true
	t.commitments[id] = cp
	return nil
}

// validCommitment returns the record when it exists and is unconsumed.
func (t *txn) validCommitment(id CommitmentID) (*CommitmentRecord, error) {
	c, ok := t.commitment(id)
	if !ok || c.Consumed {
		return nil, fmt.Errorf("%w: %s", ErrCommitmentNotFound, id.Hex())
	}
	return c, nil
}
