// admin.go - Owner-only operations.

package pool

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// adminOp runs fn as an owner-only operation recording one event of type typ.
func (p *Pool) adminOp(ctx context.Context, op string, caller Address, typ EventType, fn func(*txn, *Event) error) error {
	attrs := []attribute.KeyValue{attribute.String("pool.caller", caller.Hex())}
	return p.run(ctx, op, attrs, func(t *txn) error {
		if err := t.requireOwner(caller); err != nil {
			return err
		}
		ev := newEvent(typ, t.now)
		ev.Actor = addr(caller)
		if err := fn(t, &ev); err != nil {
			return err
		}
		t.emit(ev)
		return nil
	})
}

// Pause stops deposits and withdrawals until Unpause.
func (p *Pool) Pause(ctx context.Context, caller Address) error {
	return p.adminOp(ctx, "pause", caller, EventPaused, func(t *txn, _ *Event) error {
		t.adminForWrite().Paused = true
		return nil
	})
}

// Unpause lifts a Pause.
func (p *Pool) Unpause(ctx context.Context, caller Address) error {
	return p.adminOp(ctx, "unpause", caller, EventUnpaused, func(t *txn, _ *Event) error {
		t.adminForWrite().Paused = false
		return nil
	})
}

// Blacklist bars account from every deposit and withdrawal path.
func (p *Pool) Blacklist(ctx context.Context, caller, account Address) error {
	return p.adminOp(ctx, "blacklist", caller, EventBlacklisted, func(t *txn, ev *Event) error {
		if account == (Address{}) {
			return ErrInvalidRecipient
		}
		t.adminForWrite().Blacklist[account] = true
		ev.Recipient = addr(account)
		return nil
	})
}

// Unblacklist lifts a Blacklist.
func (p *Pool) Unblacklist(ctx context.Context, caller, account Address) error {
	return p.adminOp(ctx, "unblacklist", caller, EventUnblacklisted, func(t *txn, ev *Event) error {
		delete(t.adminForWrite().Blacklist, account)
		ev.Recipient = addr(account)
		return nil
	})
}

// AddToken enables shielding and unshielding of token.
func (p *Pool) AddToken(ctx context.Context, caller Address, token TokenID) error {
	return p.adminOp(ctx, "add_token", caller, EventTokenAdded, func(t *txn, ev *Event) error {
		if token == (TokenID{}) {
			return ErrInvalidToken
		}
		t.adminForWrite().Tokens[token] = true
		ev.Token = addr(token)
		return nil
	})
}

// UpdateMixingParameters replaces the mixing parameters. Batches already opened keep the period
// they were opened with; the per-commitment gate of MixAndWithdraw uses the new period at once.
func (p *Pool) UpdateMixingParameters(ctx context.Context, caller Address, period time.Duration, size uint32) error {
	return p.adminOp(ctx, "update_mixing_parameters", caller, EventMixingParamsUpdated, func(t *txn, _ *Event) error {
		params := MixingParameters{MixingPeriod: period, MixSize: size}
		if err := validateParams(params); err != nil {
			return err
		}
		t.params = &params
		return nil
	})
}

// TransferOwnership hands the owner role to newOwner.
func (p *Pool) TransferOwnership(ctx context.Context, caller, newOwner Address) error {
	return p.adminOp(ctx, "transfer_ownership", caller, EventOwnershipTransferred, func(t *txn, ev *Event) error {
		if newOwner == (Address{}) {
			return fmt.Errorf("%w: new owner", ErrInvalidRecipient)
		}
		t.adminForWrite().Owner = newOwner
		ev.Recipient = addr(newOwner)
		return nil
	})
}
