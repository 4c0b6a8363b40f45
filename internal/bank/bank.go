// bank.go - Simulated ERC20-style token ledger backing the pool's deposits and payouts.
//
// The bank keeps one balance per (account, token). The pool's own custody lives under a
// dedicated custody account, so Pull and Push are plain transfers into and out of it.

package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

var (
	// ErrInvalidAmount is returned for nil or zero amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrSelfTransfer is returned when source and target of a transfer are the same account.
	ErrSelfTransfer = errors.New("transfer to self")
)

// Balance is one persisted (account, token) balance.
type Balance struct {
	Account pool.Address
	Token   pool.TokenID
	Amount  *uint256.Int
}

// Persister durably records balance changes. SaveBalances must write all of them atomically.
type Persister interface {
	LoadBalances(ctx context.Context) ([]Balance, error)
	SaveBalances(ctx context.Context, bs []Balance) error
}

type key struct {
	account pool.Address
	token   pool.TokenID
}

// Bank is an in-memory token ledger with optional persistence.
type Bank struct {
	mu       sync.RWMutex
	custody  pool.Address
	balances map[key]*uint256.Int
	persist  Persister
}

// New returns a bank whose pool custody account is custody. When p is non-nil, balances are
// restored from it and every change is written through it.
func New(ctx context.Context, custody pool.Address, p Persister) (*Bank, error) {
	b := &Bank{
		custody:  custody,
		balances: make(map[key]*uint256.Int),
		persist:  p,
	}
	if p == nil {
		return b, nil
	}
	bs, err := p.LoadBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	for _, bal := range bs {
		b.balances[key{bal.Account, bal.Token}] = bal.Amount
	}
	return b, nil
}

// Custody returns the account holding the pool's tokens.
func (b *Bank) Custody() pool.Address { return b.custody }

// BalanceOf returns account's balance of token.
func (b *Bank) BalanceOf(account pool.Address, token pool.TokenID) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(uint256.Int).Set(b.get(account, token))
}

// Balances returns every non-zero balance ordered by account then token.
func (b *Bank) Balances() []Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Balance, 0, len(b.balances))
	for k, v := range b.balances {
		if v.IsZero() {
			continue
		}
		out = append(out, Balance{Account: k.account, Token: k.token, Amount: new(uint256.Int).Set(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Account.Cmp(out[j].Account); c != 0 {
			return c < 0
		}
		return out[i].Token.Cmp(out[j].Token) < 0
	})
	return out
}

// Mint credits amount of token to account out of thin air.
func (b *Bank) Mint(ctx context.Context, account pool.Address, token pool.TokenID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sum, overflow := new(uint256.Int).AddOverflow(b.get(account, token), amount)
	if overflow {
		return fmt.Errorf("%w: mint overflows balance", pool.ErrAmountOverflow)
	}
	return b.commit(ctx, Balance{account, token, sum})
}

// Pull implements pool.TokenLedger.
func (b *Bank) Pull(ctx context.Context, from pool.Address, token pool.TokenID, amount *uint256.Int) error {
	err := b.transfer(ctx, from, b.custody, token, amount)
	if errors.Is(err, errShortfall) {
		return fmt.Errorf("%w: %s of %s: %v", pool.ErrInsufficientExternalBalance, from.Hex(), token.Hex(), err)
	}
	return err
}

// Push implements pool.TokenLedger.
func (b *Bank) Push(ctx context.Context, to pool.Address, token pool.TokenID, amount *uint256.Int) error {
	err := b.transfer(ctx, b.custody, to, token, amount)
	if errors.Is(err, errShortfall) {
		return fmt.Errorf("%w: custody of %s: %v", pool.ErrInsufficientBalance, token.Hex(), err)
	}
	return err
}

var errShortfall = errors.New("balance too low")

func (b *Bank) transfer(ctx context.Context, from, to pool.Address, token pool.TokenID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from.Hex())
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.get(from, token)
	if src.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", errShortfall, src.Dec(), amount.Dec())
	}
	dst, overflow := new(uint256.Int).AddOverflow(b.get(to, token), amount)
	if overflow {
		return fmt.Errorf("%w: transfer overflows balance", pool.ErrAmountOverflow)
	}
	return b.commit(ctx,
		Balance{from, token, new(uint256.Int).Sub(src, amount)},
		Balance{to, token, dst},
	)
}

func (b *Bank) get(account pool.Address, token pool.TokenID) *uint256.Int {
	if v, ok := b.balances[key{account, token}]; ok {
		return v
	}
	return new(uint256.Int)
}

// commit persists bs and then installs them in memory.
func (b *Bank) commit(ctx context.Context, bs ...Balance) error {
	if b.persist != nil {
		if err := b.persist.SaveBalances(ctx, bs); err != nil {
			return fmt.Errorf("persist balances: %w", err)
		}
	}
	for _, bal := range bs {
		b.balances[key{bal.Account, bal.Token}] = bal.Amount
	}
	return nil
}
