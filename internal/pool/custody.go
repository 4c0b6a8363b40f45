// custody.go - Per-token custody balances held by the pool.
//
// held(token) always equals the unconsumed commitment amounts for the token plus its released
// liquidity. Only the facade moves these balances, and always inside a txn.

package pool

import (
	"fmt"

	"github.com/holiman/uint256"
)

func (t *txn) heldOf(token TokenID) *uint256.Int {
	if v, ok := t.held[token]; ok {
		return v
	}
	if v, ok := t.base.held[token]; ok {
		return v
	}
	return new(uint256.Int)
}

func (t *txn) releasedOf(token TokenID) *uint256.Int {
	if v, ok := t.released[token]; ok {
		return v
	}
	if v, ok := t.base.released[token]; ok {
		return v
	}
	return new(uint256.Int)
}

// credit increases the pool's custody balance for token.
func (t *txn) credit(token TokenID, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(t.heldOf(token), amount)
	if overflow {
		return fmt.Errorf("%w: custody of %s", ErrAmountOverflow, token.Hex())
	}
	t.held[token] = sum
	return nil
}

// debit decreases the pool's custody balance for token.
func (t *txn) debit(token TokenID, amount *uint256.Int) error {
	cur := t.heldOf(token)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: held %s, requested %s", ErrInsufficientBalance, cur.Dec(), amount.Dec())
	}
	t.held[token] = new(uint256.Int).Sub(cur, amount)
	return nil
}

// release moves amount of already-held funds into the withdrawable pool.
func (t *txn) release(token TokenID, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(t.releasedOf(token), amount)
	if overflow {
		return fmt.Errorf("%w: released liquidity of %s", ErrAmountOverflow, token.Hex())
	}
	t.released[token] = sum
	return nil
}

// drawReleased pays amount out of released liquidity, reducing custody by the same amount.
func (t *txn) drawReleased(token TokenID, amount *uint256.Int) error {
	rel := t.releasedOf(token)
	if rel.Lt(amount) {
		return fmt.Errorf("%w: released %s, requested %s", ErrInsufficientBalance, rel.Dec(), amount.Dec())
	}
	if err := t.debit(token, amount); err != nil {
		return err
	}
	t.released[token] = new(uint256.Int).Sub(rel, amount)
	return nil
}
