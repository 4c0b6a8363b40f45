package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/HamzaZF/shieldpool/internal/api"
	"github.com/HamzaZF/shieldpool/internal/auth"
	"github.com/HamzaZF/shieldpool/internal/bank"
	"github.com/HamzaZF/shieldpool/internal/client"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

var (
	ownerKey = mustSigner("aa")
	aliceKey = mustSigner("a1")
	bobKey   = mustSigner("b0")

	owner   = ownerKey.Address()
	alice   = aliceKey.Address()
	bob     = bobKey.Address()
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	usdc    = common.HexToAddress("0x0000000000000000000000000000000000000001")

	c1 = common.HexToHash("0xc1")
	c2 = common.HexToHash("0xc2")
	n1 = common.HexToHash("0xe1")
	n2 = common.HexToHash("0xe2")
)

func mustSigner(b string) *auth.Signer {
	s, err := auth.SignerFromHex(strings.Repeat(b, 32))
	if err != nil {
		panic(err)
	}
	return s
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func setup(t *testing.T) (*client.Client, *bank.Bank, *clocktesting.FakeClock) {
	t.Helper()
	ctx := context.Background()
	b, err := bank.New(ctx, custody, nil)
	require.NoError(t, err)
	require.NoError(t, b.Mint(ctx, alice, usdc, amt(1000)))

	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := pool.New(ctx, pool.Config{
		Owner:  owner,
		Params: pool.MixingParameters{MixingPeriod: time.Hour, MixSize: 2},
		Tokens: []pool.TokenID{usdc},
	}, pool.WithTokenLedger(b), pool.WithClock(clk))
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(p))
	t.Cleanup(srv.Close)
	return client.New(srv.URL, aliceKey), b, clk
}

func TestClientMixFlow(t *testing.T) {
	ctx := context.Background()
	c, b, clk := setup(t)

	require.NoError(t, c.Shield(ctx, usdc, amt(100), c1, common.HexToHash("0x01")))
	require.NoError(t, c.Shield(ctx, usdc, amt(40), c2, common.HexToHash("0x02")))

	cm, err := c.Commitment(ctx, c2)
	require.NoError(t, err)
	assert.Equal(t, "40", cm.Amount)

	err = c.As(bobKey).MixAndWithdraw(ctx, []common.Address{bob}, []*uint256.Int{amt(100)}, []common.Hash{n1}, []common.Hash{c1})
	require.Error(t, err)
	assert.True(t, client.IsKind(err, pool.KindTiming))

	clk.Step(time.Hour)
	err = c.As(bobKey).MixAndWithdraw(ctx,
		[]common.Address{bob, carol},
		[]*uint256.Int{amt(100), amt(40)},
		[]common.Hash{n1, n2},
		[]common.Hash{c1, c2})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), b.BalanceOf(bob, usdc).Uint64())
	assert.Equal(t, uint64(40), b.BalanceOf(carol, usdc).Uint64())

	used, err := c.IsNullifierUsed(ctx, n2)
	require.NoError(t, err)
	assert.True(t, used)
	valid, err := c.IsCommitmentValid(ctx, c1)
	require.NoError(t, err)
	assert.False(t, valid)

	evs, err := c.Events(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, pool.EventUnshielded, evs[0].Type)
	assert.Equal(t, bob, *evs[0].Recipient)

	evs, err = c.Events(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(1), evs[0].Seq)
}

func TestClientAPIError(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t)

	require.NoError(t, c.Shield(ctx, usdc, amt(100), c1, common.Hash{}))
	err := c.Shield(ctx, usdc, amt(100), c1, common.Hash{})
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, string(pool.KindConflict), apiErr.Kind)
	assert.Contains(t, apiErr.Message, "commitment already exists")

	_, err = c.Batch(ctx, 9)
	assert.True(t, client.IsKind(err, pool.KindLookup))

	err = c.Pause(ctx)
	assert.True(t, client.IsKind(err, pool.KindAuthorization))

	assert.Equal(t, alice, c.Caller())
	anon := c.As(nil)
	assert.Equal(t, common.Address{}, anon.Caller())
	assert.True(t, client.IsKind(anon.Pause(ctx), api.KindUnauthenticated))
	_, err = anon.Params(ctx)
	require.NoError(t, err)
	err = client.New("http://127.0.0.1:1", ownerKey).Pause(ctx)
	require.Error(t, err)
	assert.False(t, client.IsKind(err, pool.KindAuthorization))
}

func TestClientBatchAndAdmin(t *testing.T) {
	ctx := context.Background()
	c, b, clk := setup(t)
	admin := c.As(ownerKey)

	require.NoError(t, c.Shield(ctx, usdc, amt(100), c1, common.Hash{}))
	clk.Step(time.Hour)

	require.NoError(t, c.ProcessBatch(ctx, 0, nil))
	batch, err := c.Batch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "processed", batch.State)

	bal, err := c.Balance(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.Released)

	require.NoError(t, admin.Blacklist(ctx, bob))
	listed, err := c.IsBlacklisted(ctx, bob)
	require.NoError(t, err)
	assert.True(t, listed)
	err = c.As(bobKey).Unshield(ctx, usdc, bob, amt(100), n1, nil)
	assert.True(t, client.IsKind(err, pool.KindAuthorization))

	require.NoError(t, admin.Unblacklist(ctx, bob))
	require.NoError(t, c.As(bobKey).Unshield(ctx, usdc, bob, amt(100), n1, nil))
	assert.Equal(t, uint64(100), b.BalanceOf(bob, usdc).Uint64())

	params, err := admin.UpdateMixingParameters(ctx, 2*time.Hour, 5)
	require.NoError(t, err)
	assert.Equal(t, "2h0m0s", params.MixingPeriod)
	got, err := c.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, params, got)

	dai := common.HexToAddress("0x0000000000000000000000000000000000000003")
	require.NoError(t, admin.AddToken(ctx, dai))
	require.NoError(t, admin.Pause(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, []common.Address{usdc, dai}, st.Tokens)
	require.NoError(t, admin.Unpause(ctx))

	require.NoError(t, admin.TransferOwnership(ctx, carol))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, carol, st.Owner)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.Healthy, h.OverallStatus)
}
