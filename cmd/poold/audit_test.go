package main

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamzaZF/shieldpool/internal/bank"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

func auditedPool(t *testing.T, shields int) *pool.Pool {
	t.Helper()
	ctx := context.Background()
	alice := common.HexToAddress(aliceHex)
	usdc := common.HexToAddress(usdcHex)
	b, err := bank.New(ctx, common.HexToAddress("0xff"), nil)
	require.NoError(t, err)
	require.NoError(t, b.Mint(ctx, alice, usdc, oneThousand()))
	p, err := pool.New(ctx, pool.Config{
		Owner:  common.HexToAddress(ownerHex),
		Params: pool.DefaultMixingParameters(),
		Tokens: []pool.TokenID{usdc},
	}, pool.WithTokenLedger(b))
	require.NoError(t, err)
	for i := 0; i < shields; i++ {
		cm := common.BigToHash(big.NewInt(int64(0xa0 + i)))
		require.NoError(t, p.Shield(ctx, alice, usdc, oneHundred(), cm, [32]byte{}))
	}
	return p
}

func seqs(evs []pool.Event) []uint64 {
	out := make([]uint64, len(evs))
	for i, ev := range evs {
		out[i] = ev.Seq
	}
	return out
}

func TestAuditorBackfillsDroppedEvents(t *testing.T) {
	p := auditedPool(t, 0)
	var got []pool.Event
	a := newAuditor(p, func(ev pool.Event) { got = append(got, ev) }, zerolog.Nop(), p.EventSeq())

	// A one-slot subscription nobody reads keeps only the first event.
	events, unsubscribe := p.Subscribe(1)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Shield(ctx, common.HexToAddress(aliceHex), common.HexToAddress(usdcHex), oneHundred(),
			common.BigToHash(big.NewInt(int64(0xc0 + i))), [32]byte{}))
	}
	require.Len(t, events, 1)

	unsubscribe()
	a.run(events)

	all := p.Events(0, 0)
	require.NotEmpty(t, all)
	assert.Equal(t, seqs(all), seqs(got))
	assert.Equal(t, p.EventSeq(), a.last)
}

func TestAuditorFillsGapsInOrder(t *testing.T) {
	p := auditedPool(t, 4)
	all := p.Events(0, 0)
	require.GreaterOrEqual(t, len(all), 4)

	var got []pool.Event
	a := newAuditor(p, func(ev pool.Event) { got = append(got, ev) }, zerolog.Nop(), 0)

	a.record(all[0])
	a.record(all[3])
	a.record(all[1])
	assert.Equal(t, seqs(all[:4]), seqs(got))

	a.catchUp()
	assert.Equal(t, seqs(all), seqs(got))
}
