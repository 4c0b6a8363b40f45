// operations.go - Deposit and withdrawal operations of the pool facade.

package pool

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
)

// Shield deposits amount of token from caller behind commitment.
//
// The salt is the depositor's blinding input to the commitment. The ledger cannot check it
// without the recipient, so it is neither validated nor stored.
func (p *Pool) Shield(ctx context.Context, caller Address, token TokenID, amount *uint256.Int, commitment CommitmentID, salt [32]byte) error {
	attrs := []attribute.KeyValue{attribute.String("pool.token", token.Hex())}
	return p.run(ctx, "shield", attrs, func(t *txn) error {
		if err := t.checkPaused(); err != nil {
			return err
		}
		if err := t.checkAddress(caller); err != nil {
			return err
		}
		if err := t.checkCounterparty(caller); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if commitment == (CommitmentID{}) {
			return ErrInvalidCommitment
		}
		if err := t.checkToken(token); err != nil {
			return err
		}

		rec, err := t.insertCommitment(commitment, token, amount, t.now)
		if err != nil {
			return err
		}
		if err := t.credit(token, amount); err != nil {
			return err
		}
		batch := t.admit(commitment)
		rec.BatchID = batch
		t.queuePull(caller, token, amount)

		ev := newEvent(EventShielded, t.now)
		ev.Depositor = addr(caller)
		ev.Token = addr(token)
		ev.Amount = new(uint256.Int).Set(amount)
		ev.Commitment = hashRef(commitment)
		ev.BatchID = &batch
		t.emit(ev)
		return nil
	})
}

// Unshield withdraws amount of token to recipient out of the liquidity released by processed
// batches, spending nullifier. The proof is checked by the configured ProofVerifier.
func (p *Pool) Unshield(ctx context.Context, caller Address, token TokenID, recipient Address, amount *uint256.Int, nullifier NullifierID, proof []byte) error {
	attrs := []attribute.KeyValue{attribute.String("pool.token", token.Hex())}
	return p.run(ctx, "unshield", attrs, func(t *txn) error {
		if err := t.checkPaused(); err != nil {
			return err
		}
		if err := t.checkAddress(caller); err != nil {
			return err
		}
		if err := t.checkAddress(recipient); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if recipient == (Address{}) {
			return ErrInvalidRecipient
		}
		if err := t.checkCounterparty(recipient); err != nil {
			return err
		}
		if err := t.checkToken(token); err != nil {
			return err
		}

		st := UnshieldStatement{Token: token, Recipient: recipient, Amount: amount, Nullifier: nullifier}
		verified, err := p.verifier.VerifyUnshield(ctx, st, proof)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if !verified {
			p.log.Warn().
				Str("nullifier", nullifier.Hex()).
				Msg("withdrawal accepted without a verified proof")
		}

		if t.nullifierUsed(nullifier) {
			return fmt.Errorf("%w: %s", ErrNullifierAlreadyUsed, nullifier.Hex())
		}
		if err := t.drawReleased(token, amount); err != nil {
			return err
		}
		t.queuePush(recipient, token, amount)
		if err := t.consumeNullifier(nullifier, t.now); err != nil {
			return err
		}

		ev := newEvent(EventUnshielded, t.now)
		ev.Actor = addr(caller)
		ev.Recipient = addr(recipient)
		ev.Token = addr(token)
		ev.Amount = new(uint256.Int).Set(amount)
		ev.Nullifier = hashRef(nullifier)
		ev.Verified = &verified
		t.emit(ev)
		return nil
	})
}

// MixAndWithdraw settles a group of matured commitments in one all-or-nothing call. The four
// slices are parallel: index i pays amounts[i] of commitments[i] to recipients[i] and spends
// nullifiers[i].
func (p *Pool) MixAndWithdraw(ctx context.Context, caller Address, recipients []Address, amounts []*uint256.Int, nullifiers []NullifierID, commitments []CommitmentID) error {
	attrs := []attribute.KeyValue{attribute.Int("pool.withdrawals", len(commitments))}
	return p.run(ctx, "mix_and_withdraw", attrs, func(t *txn) error {
		n := len(commitments)
		if n == 0 {
			return fmt.Errorf("%w: no withdrawals", ErrLengthMismatch)
		}
		if len(recipients) != n || len(amounts) != n || len(nullifiers) != n {
			return fmt.Errorf("%w: %d recipients, %d amounts, %d nullifiers, %d commitments",
				ErrLengthMismatch, len(recipients), len(amounts), len(nullifiers), n)
		}
		if err := t.checkPaused(); err != nil {
			return err
		}
		if err := t.checkAddress(caller); err != nil {
			return err
		}

		ws := make([]withdrawal, n)
		for i := range ws {
			if amounts[i] == nil || amounts[i].IsZero() {
				return fmt.Errorf("index %d: %w", i, ErrZeroAmount)
			}
			if recipients[i] == (Address{}) {
				return fmt.Errorf("index %d: %w", i, ErrInvalidRecipient)
			}
			if err := t.checkAddress(recipients[i]); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
			if err := t.checkCounterparty(recipients[i]); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
			ws[i] = withdrawal{
				recipient:  recipients[i],
				amount:     amounts[i],
				nullifier:  nullifiers[i],
				commitment: commitments[i],
			}
		}
		return t.mixAndWithdraw(caller, ws)
	})
}

// ProcessBatch settles a matured batch. With no payouts the member funds become released
// liquidity for Unshield; otherwise there must be one payout per pending member, in member
// insertion order.
func (p *Pool) ProcessBatch(ctx context.Context, caller Address, id BatchID, payouts []Payout) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("pool.batch", int64(id)),
		attribute.Int("pool.payouts", len(payouts)),
	}
	return p.run(ctx, "process_batch", attrs, func(t *txn) error {
		if err := t.checkPaused(); err != nil {
			return err
		}
		if err := t.checkAddress(caller); err != nil {
			return err
		}
		for i, po := range payouts {
			if po.Recipient == (Address{}) {
				return fmt.Errorf("payout %d: %w", i, ErrInvalidRecipient)
			}
			if err := t.checkAddress(po.Recipient); err != nil {
				return fmt.Errorf("payout %d: %w", i, err)
			}
			if err := t.checkCounterparty(po.Recipient); err != nil {
				return fmt.Errorf("payout %d: %w", i, err)
			}
		}
		return t.processBatch(caller, id, payouts)
	})
}
