// txn.go - Committed state and the copy-on-write transaction overlay.
//
// Every public operation stages its mutations in a txn. Reads fall through to the committed
// state; writes only touch the overlay. A txn that fails is simply dropped, which is what makes
// each operation all-or-nothing. A txn that succeeds is turned into a ChangeSet, persisted, and
// then applied to the committed state.

package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

type state struct {
	commitments map[CommitmentID]*CommitmentRecord
	nullifiers  map[NullifierID]*NullifierRecord
	held        map[TokenID]*uint256.Int
	released    map[TokenID]*uint256.Int
	batches     map[BatchID]*MixingBatch
	params      MixingParameters
	admin       *AdminState
	cursor      BatchCursor
	eventSeq    uint64
	events      []Event
}

func newState(owner Address, params MixingParameters) *state {
	return &state{
		commitments: make(map[CommitmentID]*CommitmentRecord),
		nullifiers:  make(map[NullifierID]*NullifierRecord),
		held:        make(map[TokenID]*uint256.Int),
		released:    make(map[TokenID]*uint256.Int),
		batches:     make(map[BatchID]*MixingBatch),
		params:      params,
		admin:       newAdminState(owner),
	}
}

func stateFromSnapshot(snap *Snapshot) *state {
	s := newState(Address{}, snap.Params)
	for _, c := range snap.Commitments {
		s.commitments[c.ID] = c
	}
	for _, n := range snap.Nullifiers {
		s.nullifiers[n.ID] = n
	}
	for k, v := range snap.Held {
		s.held[k] = v
	}
	for k, v := range snap.Released {
		s.released[k] = v
	}
	for _, b := range snap.Batches {
		s.batches[b.ID] = b
	}
	if snap.Admin != nil {
		s.admin = snap.Admin
	}
	s.cursor = snap.Cursor
	s.eventSeq = snap.EventSeq
	s.events = snap.Events
	return s
}

func (s *state) apply(cs *ChangeSet) {
	for _, c := range cs.Commitments {
		s.commitments[c.ID] = c
	}
	for _, n := range cs.Nullifiers {
		s.nullifiers[n.ID] = n
	}
	for k, v := range cs.Held {
		s.held[k] = v
	}
	for k, v := range cs.Released {
		s.released[k] = v
	}
	for _, b := range cs.Batches {
		s.batches[b.ID] = b
	}
	if cs.Params != nil {
		s.params = *cs.Params
	}
	if cs.Admin != nil {
		s.admin = cs.Admin
	}
	if cs.Cursor != nil {
		s.cursor = *cs.Cursor
	}
	if n := len(cs.Events); n > 0 {
		s.events = append(s.events, cs.Events...)
		s.eventSeq = cs.Events[n-1].Seq
	}
}

// transfer is an external token movement queued by a txn.
type transfer struct {
	pull   bool
	who    Address
	token  TokenID
	amount *uint256.Int
}

type txn struct {
	base    *state
	now     time.Time
	custody Address

	commitments map[CommitmentID]*CommitmentRecord
	nullifiers  map[NullifierID]*NullifierRecord
	held        map[TokenID]*uint256.Int
	released    map[TokenID]*uint256.Int
	batches     map[BatchID]*MixingBatch
	params      *MixingParameters
	admin       *AdminState
	cursor      *BatchCursor
	events      []Event

	transfers []transfer
	settled   []transfer
}

func newTxn(base *state, now time.Time) *txn {
	return &txn{
		base:        base,
		now:         now,
		commitments: make(map[CommitmentID]*CommitmentRecord),
		nullifiers:  make(map[NullifierID]*NullifierRecord),
		held:        make(map[TokenID]*uint256.Int),
		released:    make(map[TokenID]*uint256.Int),
		batches:     make(map[BatchID]*MixingBatch),
	}
}

func (t *txn) mixingParams() MixingParameters {
	if t.params != nil {
		return *t.params
	}
	return t.base.params
}

func (t *txn) batchCursor() BatchCursor {
	if t.cursor != nil {
		return *t.cursor
	}
	return t.base.cursor
}

func (t *txn) setCursor(c BatchCursor) {
	t.cursor = &c
}

func (t *txn) adminState() *AdminState {
	if t.admin != nil {
		return t.admin
	}
	return t.base.admin
}

// adminForWrite returns a private copy of the admin state that the txn may mutate.
func (t *txn) adminForWrite() *AdminState {
	if t.admin == nil {
		t.admin = t.base.admin.clone()
	}
	return t.admin
}

func (t *txn) emit(ev Event) {
	t.events = append(t.events, ev)
}

func (t *txn) queuePull(from Address, token TokenID, amount *uint256.Int) {
	t.transfers = append(t.transfers, transfer{pull: true, who: from, token: token, amount: amount})
}

func (t *txn) queuePush(to Address, token TokenID, amount *uint256.Int) {
	t.transfers = append(t.transfers, transfer{who: to, token: token, amount: amount})
}

// settle performs the queued external transfers in order. If one fails, the ones already
// performed are compensated and the failure is returned, joined with any compensation failure.
func (t *txn) settle(ctx context.Context, ledger TokenLedger) error {
	for _, tr := range t.transfers {
		var err error
		if tr.pull {
			err = ledger.Pull(ctx, tr.who, tr.token, tr.amount)
		} else {
			err = ledger.Push(ctx, tr.who, tr.token, tr.amount)
		}
		if err != nil {
			return errors.Join(err, t.compensate(ctx, ledger))
		}
		t.settled = append(t.settled, tr)
	}
	return nil
}

// compensate reverses settled transfers, newest first.
func (t *txn) compensate(ctx context.Context, ledger TokenLedger) error {
	var errs []error
	for i := len(t.settled) - 1; i >= 0; i-- {
		tr := t.settled[i]
		var err error
		if tr.pull {
			err = ledger.Push(ctx, tr.who, tr.token, tr.amount)
		} else {
			err = ledger.Pull(ctx, tr.who, tr.token, tr.amount)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensate transfer to %s: %w", tr.who.Hex(), err))
		}
	}
	t.settled = nil
	return errors.Join(errs...)
}

// changeSet freezes the overlay. Events are numbered after seq, the last committed sequence.
func (t *txn) changeSet(seq uint64) *ChangeSet {
	cs := &ChangeSet{
		Held:     t.held,
		Released: t.released,
		Params:   t.params,
		Admin:    t.admin,
		Cursor:   t.cursor,
	}
	for _, c := range t.commitments {
		cs.Commitments = append(cs.Commitments, c)
	}
	for _, n := range t.nullifiers {
		cs.Nullifiers = append(cs.Nullifiers, n)
	}
	for _, b := range t.batches {
		cs.Batches = append(cs.Batches, b)
	}
	for i := range t.events {
		ev := t.events[i]
		ev.Seq = seq + uint64(i) + 1
		cs.Events = append(cs.Events, ev)
	}
	return cs
}
