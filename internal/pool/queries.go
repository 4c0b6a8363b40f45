// queries.go - Read-only views of committed pool state.

package pool

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// IsCommitmentValid reports whether id exists and is unconsumed.
func (p *Pool) IsCommitmentValid(id CommitmentID) bool {
	var ok bool
	p.view(func(t *txn) {
		_, err := t.validCommitment(id)
		ok = err == nil
	})
	return ok
}

// IsNullifierUsed reports whether id has been spent.
func (p *Pool) IsNullifierUsed(id NullifierID) bool {
	var used bool
	p.view(func(t *txn) { used = t.nullifierUsed(id) })
	return used
}

// GetCommitment returns a copy of the commitment record.
func (p *Pool) GetCommitment(id CommitmentID) (CommitmentRecord, error) {
	var (
		rec CommitmentRecord
		err error
	)
	p.view(func(t *txn) {
		c, ok := t.commitment(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrCommitmentNotFound, id.Hex())
			return
		}
		rec = *c.clone()
		rec.Amount = new(uint256.Int).Set(c.Amount)
	})
	return rec, err
}

// GetBatch returns a copy of the batch with its state evaluated at the current time.
func (p *Pool) GetBatch(id BatchID) (MixingBatch, error) {
	var (
		out MixingBatch
		err error
	)
	p.view(func(t *txn) {
		b, ok := t.batch(id)
		if !ok {
			err = fmt.Errorf("%w: %d", ErrBatchNotFound, id)
			return
		}
		out = *b.clone()
		out.State = b.effectiveState(t.now)
	})
	return out, err
}

// Balance returns the pool's custody balance for token.
func (p *Pool) Balance(token TokenID) *uint256.Int {
	var v *uint256.Int
	p.view(func(t *txn) { v = new(uint256.Int).Set(t.heldOf(token)) })
	return v
}

// Released returns the liquidity withdrawable through Unshield for token.
func (p *Pool) Released(token TokenID) *uint256.Int {
	var v *uint256.Int
	p.view(func(t *txn) { v = new(uint256.Int).Set(t.releasedOf(token)) })
	return v
}

// Solvency returns the accounting view of every token the pool has held or supports,
// ordered by token.
func (p *Pool) Solvency() []Solvency {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byToken := make(map[TokenID]*Solvency)
	get := func(tok TokenID) *Solvency {
		s, ok := byToken[tok]
		if !ok {
			s = &Solvency{Token: tok, Held: new(uint256.Int), Backed: new(uint256.Int), Released: new(uint256.Int)}
			byToken[tok] = s
		}
		return s
	}
	for tok := range p.st.admin.Tokens {
		get(tok)
	}
	for tok, v := range p.st.held {
		get(tok).Held.Set(v)
	}
	for tok, v := range p.st.released {
		get(tok).Released.Set(v)
	}
	for _, c := range p.st.commitments {
		if !c.Consumed {
			s := get(c.Token)
			s.Backed.Add(s.Backed, c.Amount)
		}
	}

	out := make([]Solvency, 0, len(byToken))
	for _, s := range byToken {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Cmp(out[j].Token) < 0 })
	return out
}

// MixingParameters returns the parameters currently in force.
func (p *Pool) MixingParameters() MixingParameters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.params
}

// IsPaused reports whether the pool is paused.
func (p *Pool) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.admin.Paused
}

// IsBlacklisted reports whether account is blacklisted.
func (p *Pool) IsBlacklisted(account Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.admin.Blacklist[account]
}

// IsTokenSupported reports whether token may be shielded.
func (p *Pool) IsTokenSupported(token TokenID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.admin.Tokens[token]
}

// Tokens lists the supported tokens in ascending order.
func (p *Pool) Tokens() []TokenID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TokenID, 0, len(p.st.admin.Tokens))
	for tok := range p.st.admin.Tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Owner returns the current owner.
func (p *Pool) Owner() Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.admin.Owner
}

// Events returns up to limit committed events with Seq > after, oldest first. A limit of zero
// or less returns all of them.
func (p *Pool) Events(after uint64, limit int) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Seq numbers are dense and start at 1, but a restored pool may hold only a suffix.
	evs := p.st.events
	start := sort.Search(len(evs), func(i int) bool { return evs[i].Seq > after })
	evs = evs[start:]
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	return append([]Event(nil), evs...)
}

// EventSeq returns the sequence number of the last committed event, zero when there is none.
func (p *Pool) EventSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.eventSeq
}
