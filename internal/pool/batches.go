// batches.go - Mixing batch scheduler and the two withdrawal protocols.

package pool

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

func (t *txn) batch(id BatchID) (*MixingBatch, bool) {
	if b, ok := t.batches[id]; ok {
		return b, true
	}
	b, ok := t.base.batches[id]
	return b, ok
}

// batchForWrite returns a txn-private copy of the batch.
func (t *txn) batchForWrite(id BatchID) *MixingBatch {
	if b, ok := t.batches[id]; ok {
		return b
	}
	b := t.base.batches[id].clone()
	t.batches[id] = b
	return b
}

// admit appends a fresh commitment to the current Open batch. A new batch is opened when
// there is none, when the current one is full, or when it has already matured.
func (t *txn) admit(id CommitmentID) BatchID {
	params := t.mixingParams()
	cur := t.batchCursor()
	if cur.HasOpen {
		if b, ok := t.batch(cur.Open); ok &&
			b.effectiveState(t.now) == BatchOpen &&
			uint32(len(b.Members)) < params.MixSize {
			wb := t.batchForWrite(b.ID)
			wb.Members = append(wb.Members, id)
			return wb.ID
		}
	}

	nb := &MixingBatch{
		ID:           cur.Next,
		Members:      []CommitmentID{id},
		OpenedAt:     t.now,
		MixingPeriod: params.MixingPeriod,
		State:        BatchOpen,
	}
	t.batches[nb.ID] = nb
	t.setCursor(BatchCursor{Next: cur.Next + 1, Open: nb.ID, HasOpen: true})
	return nb.ID
}

// checkMixingPeriod gates per-commitment withdrawal on the current mixing period.
func (t *txn) checkMixingPeriod(c *CommitmentRecord) error {
	period := t.mixingParams().MixingPeriod
	if elapsed := t.now.Sub(c.CreatedAt); elapsed < period {
		return fmt.Errorf("%w: %s has mixed for %s of %s", ErrMixingPeriodNotElapsed, c.ID.Hex(), elapsed, period)
	}
	return nil
}

// withdrawal is one index of a grouped withdrawal.
type withdrawal struct {
	recipient  Address
	amount     *uint256.Int
	nullifier  NullifierID
	commitment CommitmentID
}

// mixAndWithdraw stages every index in order. Each index sees the effects of the ones before
// it, so a commitment or nullifier repeated within the call is rejected like any other reuse.
func (t *txn) mixAndWithdraw(caller Address, ws []withdrawal) error {
	for i, w := range ws {
		c, err := t.validCommitment(w.commitment)
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		if err := t.checkMixingPeriod(c); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		if t.nullifierUsed(w.nullifier) {
			return fmt.Errorf("index %d: %w: %s", i, ErrNullifierAlreadyUsed, w.nullifier.Hex())
		}
		if !w.amount.Eq(c.Amount) {
			return fmt.Errorf("index %d: %w: requested %s, committed %s", i, ErrAmountMismatch, w.amount.Dec(), c.Amount.Dec())
		}
		if err := t.payOut(caller, c, w.recipient, w.nullifier); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	return nil
}

// payOut settles one commitment to recipient under nullifier.
func (t *txn) payOut(caller Address, c *CommitmentRecord, recipient Address, nullifier NullifierID) error {
	if err := t.debit(c.Token, c.Amount); err != nil {
		return err
	}
	t.queuePush(recipient, c.Token, c.Amount)
	if err := t.markConsumed(c.ID); err != nil {
		return err
	}
	if err := t.consumeNullifier(nullifier, t.now); err != nil {
		return err
	}

	ev := newEvent(EventUnshielded, t.now)
	ev.Actor = addr(caller)
	ev.Recipient = addr(recipient)
	ev.Token = addr(c.Token)
	ev.Amount = new(uint256.Int).Set(c.Amount)
	ev.Nullifier = hashRef(nullifier)
	t.emit(ev)
	return nil
}

// pendingMembers lists the unconsumed members of b in insertion order.
func (t *txn) pendingMembers(b *MixingBatch) []*CommitmentRecord {
	var out []*CommitmentRecord
	for _, id := range b.Members {
		if c, ok := t.commitment(id); ok && !c.Consumed {
			out = append(out, c)
		}
	}
	return out
}

// processBatch settles a matured batch. With no payouts, member funds become released
// liquidity; otherwise payouts[i] receives pending member i.
func (t *txn) processBatch(caller Address, id BatchID, payouts []Payout) error {
	b, ok := t.batch(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBatchNotFound, id)
	}
	switch b.effectiveState(t.now) {
	case BatchProcessed:
		return fmt.Errorf("%w: %d", ErrAlreadyProcessed, id)
	case BatchOpen:
		return fmt.Errorf("%w: batch %d matures at %s", ErrBatchNotMature, id, b.OpenedAt.Add(b.MixingPeriod).Format(time.RFC3339))
	}

	pending := t.pendingMembers(b)
	if len(payouts) != 0 && len(payouts) != len(pending) {
		return fmt.Errorf("%w: %d payouts for %d pending members", ErrLengthMismatch, len(payouts), len(pending))
	}

	for i, c := range pending {
		if len(payouts) == 0 {
			if err := t.markConsumed(c.ID); err != nil {
				return err
			}
			if err := t.release(c.Token, c.Amount); err != nil {
				return err
			}
			continue
		}
		if err := t.payOut(caller, c, payouts[i].Recipient, payouts[i].Nullifier); err != nil {
			return fmt.Errorf("payout %d: %w", i, err)
		}
	}

	wb := t.batchForWrite(id)
	wb.State = BatchProcessed
	wb.ProcessedAt = t.now
	if cur := t.batchCursor(); cur.HasOpen && cur.Open == id {
		cur.HasOpen = false
		t.setCursor(cur)
	}

	ev := newEvent(EventBatchProcessed, t.now)
	ev.Actor = addr(caller)
	ev.BatchID = &id
	t.emit(ev)
	return nil
}
