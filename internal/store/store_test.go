package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/HamzaZF/shieldpool/internal/bank"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

var (
	owner   = common.HexToAddress("0x0A")
	alice   = common.HexToAddress("0xA1")
	bob     = common.HexToAddress("0xB0")
	custody = common.HexToAddress("0xC0")
	token   = common.HexToAddress("0x70")
	c1      = common.HexToHash("0xc1")
	c2      = common.HexToHash("0xc2")
	n1      = common.HexToHash("0xd1")
)

func openPool(t *testing.T, ctx context.Context, s *LevelDB, clk *clocktesting.FakeClock) (*pool.Pool, *bank.Bank) {
	t.Helper()
	b, err := bank.New(ctx, custody, s)
	require.NoError(t, err)
	p, err := pool.New(ctx, pool.Config{
		Owner:  owner,
		Params: pool.MixingParameters{MixingPeriod: time.Hour, MixSize: 10},
		Tokens: []pool.TokenID{token},
	}, pool.WithStore(s), pool.WithTokenLedger(b), pool.WithClock(clk))
	require.NoError(t, err)
	return p, b
}

func TestEmptyStoreLoadsNil(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
	require.NoError(t, s.Ping())
}

func TestPoolStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "pool")
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0).UTC())

	s, err := Open(dir, false)
	require.NoError(t, err)
	p, b := openPool(t, ctx, s, clk)
	require.NoError(t, b.Mint(ctx, alice, token, uint256.NewInt(300)))
	require.NoError(t, p.Shield(ctx, alice, token, uint256.NewInt(100), c1, [32]byte{1}))
	require.NoError(t, p.Shield(ctx, alice, token, uint256.NewInt(50), c2, [32]byte{2}))
	require.NoError(t, p.Blacklist(ctx, owner, bob))

	clk.Step(time.Hour)
	require.NoError(t, p.MixAndWithdraw(ctx, alice,
		[]pool.Address{common.HexToAddress("0xD0")},
		[]*uint256.Int{uint256.NewInt(100)},
		[]pool.NullifierID{n1},
		[]pool.CommitmentID{c1}))
	require.NoError(t, s.Close())

	s, err = Open(dir, false)
	require.NoError(t, err)
	defer s.Close()
	p, b = openPool(t, ctx, s, clk)

	assert.False(t, p.IsCommitmentValid(c1))
	assert.True(t, p.IsCommitmentValid(c2))
	assert.True(t, p.IsNullifierUsed(n1))
	assert.True(t, p.IsBlacklisted(bob))
	assert.True(t, p.IsTokenSupported(token))
	assert.Equal(t, uint64(50), p.Balance(token).Uint64())
	assert.Equal(t, uint64(150), b.BalanceOf(alice, token).Uint64())
	assert.Equal(t, uint64(50), b.BalanceOf(custody, token).Uint64())

	batch, err := p.GetBatch(0)
	require.NoError(t, err)
	assert.Equal(t, []pool.CommitmentID{c1, c2}, batch.Members)
	assert.Equal(t, pool.BatchMatured, batch.State)

	evs := p.Events(0, 0)
	require.Len(t, evs, 4)
	assert.Equal(t, pool.EventShielded, evs[0].Type)
	assert.Equal(t, pool.EventUnshielded, evs[3].Type)
	assert.Equal(t, uint64(4), evs[3].Seq)
	assert.Equal(t, "100", evs[3].Amount.Dec())

	// Sequence numbers continue after a restart.
	require.NoError(t, p.Pause(ctx, owner))
	evs = p.Events(4, 0)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(5), evs[0].Seq)
}

func TestSnapshotExportImport(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0).UTC())

	src, err := OpenMemory()
	require.NoError(t, err)
	defer src.Close()
	p, b := openPool(t, ctx, src, clk)
	require.NoError(t, b.Mint(ctx, alice, token, uint256.NewInt(100)))
	require.NoError(t, p.Shield(ctx, alice, token, uint256.NewInt(100), c1, [32]byte{}))
	clk.Step(2 * time.Hour)
	require.NoError(t, p.ProcessBatch(ctx, bob, 0, nil))

	snap, err := src.Load(ctx)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, SaveSnapshot(path, snap))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap.EventSeq, loaded.EventSeq)
	assert.Equal(t, snap.Params, loaded.Params)
	assert.Equal(t, snap.Cursor, loaded.Cursor)
	assert.Equal(t, "100", loaded.Released[token].Dec())

	dst, err := OpenMemory()
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.Import(ctx, loaded))
	require.Error(t, dst.Import(ctx, loaded), "import into a populated store must fail")

	restored, err := pool.New(ctx, pool.Config{}, pool.WithStore(dst), pool.WithTokenLedger(b), pool.WithClock(clk))
	require.NoError(t, err)
	assert.Equal(t, owner, restored.Owner())
	assert.Equal(t, uint64(100), restored.Released(token).Uint64())
	assert.Equal(t, uint64(100), restored.Balance(token).Uint64())

	batch, err := restored.GetBatch(0)
	require.NoError(t, err)
	assert.Equal(t, pool.BatchProcessed, batch.State)
}

func TestChangeSetIsAtomicUnit(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	params := pool.DefaultMixingParameters()
	admin := &pool.AdminState{Owner: owner, Blacklist: map[pool.Address]bool{}, Tokens: map[pool.TokenID]bool{token: true}}
	require.NoError(t, s.Commit(ctx, &pool.ChangeSet{Params: &params, Admin: admin, Cursor: &pool.BatchCursor{}}))

	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, s.Commit(ctx, &pool.ChangeSet{
		Commitments: []*pool.CommitmentRecord{{ID: c1, Token: token, Amount: uint256.NewInt(9), CreatedAt: now}},
		Held:        map[pool.TokenID]*uint256.Int{token: uint256.NewInt(9)},
	}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Commitments, 1)
	assert.Equal(t, c1, snap.Commitments[0].ID)
	assert.True(t, snap.Commitments[0].CreatedAt.Equal(now))
	assert.Equal(t, uint64(9), snap.Held[token].Uint64())
	assert.Equal(t, params, snap.Params)
	assert.True(t, snap.Admin.Tokens[token])

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, s.Commit(cancelled, &pool.ChangeSet{}), context.Canceled)
}
