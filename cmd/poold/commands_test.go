package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
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
	"github.com/HamzaZF/shieldpool/internal/oracle"
	"github.com/HamzaZF/shieldpool/internal/pool"
	"github.com/HamzaZF/shieldpool/internal/store"
)

const usdcHex = "0x0000000000000000000000000000000000000001"

var (
	ownerKey = "0x" + strings.Repeat("aa", 32)
	aliceKey = "0x" + strings.Repeat("a1", 32)
	bobKey   = "0x" + strings.Repeat("b0", 32)

	ownerHex = addressOf(ownerKey)
	aliceHex = addressOf(aliceKey)
	bobHex   = addressOf(bobKey)
)

func addressOf(key string) string {
	s, err := auth.SignerFromHex(key)
	if err != nil {
		panic(err)
	}
	return s.Address().Hex()
}

func oneHundred() *uint256.Int  { return uint256.NewInt(100) }
func oneThousand() *uint256.Int { return uint256.NewInt(1000) }

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func startDaemon(t *testing.T) (string, *clocktesting.FakeClock) {
	t.Helper()
	ctx := context.Background()
	b, err := bank.New(ctx, common.HexToAddress("0xff"), nil)
	require.NoError(t, err)
	require.NoError(t, b.Mint(ctx, common.HexToAddress(aliceHex), common.HexToAddress(usdcHex), oneThousand()))

	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := pool.New(ctx, pool.Config{
		Owner:  common.HexToAddress(ownerHex),
		Params: pool.DefaultMixingParameters(),
		Tokens: []pool.TokenID{common.HexToAddress(usdcHex)},
	}, pool.WithTokenLedger(b), pool.WithClock(clk))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(p))
	t.Cleanup(srv.Close)
	return srv.URL, clk
}

func TestDeriveIsDeterministic(t *testing.T) {
	salt := "0x" + strings.Repeat("01", 32)
	secret := "0x" + strings.Repeat("02", 32)
	args := []string{"derive", "--recipient", bobHex, "--token", usdcHex, "--amount", "100", "--salt", salt, "--secret", secret}

	out, err := run(t, args...)
	require.NoError(t, err)
	again, err := run(t, args...)
	require.NoError(t, err)
	assert.Equal(t, out, again)

	var s [32]byte
	copy(s[:], bytes.Repeat([]byte{1}, 32))
	want := oracle.Commitment(common.HexToAddress(bobHex), common.HexToAddress(usdcHex), oneHundred(), s)
	assert.Contains(t, out, "commitment: "+want.Hex())
	assert.Contains(t, out, "salt:       "+salt)
	assert.NotContains(t, out, "proof:")

	_, err = run(t, "derive", "--recipient", bobHex, "--token", usdcHex, "--amount", "100", "--salt", "0x01")
	assert.Error(t, err)
}

func TestClientCommandsAgainstDaemon(t *testing.T) {
	url, clk := startDaemon(t)
	cm := "0x" + strings.Repeat("c1", 32)
	nf := "0x" + strings.Repeat("e1", 32)

	out, err := run(t, "shield", "--server", url, "--key", aliceKey, "--token", usdcHex, "--amount", "100", "--commitment", cm)
	require.NoError(t, err)
	assert.Contains(t, out, "shielded 100")

	_, err = run(t, "mix", "--server", url, "--key", bobKey, "--withdrawal", bobHex+":100:"+nf+":"+cm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timing")

	clk.Step(time.Hour)
	out, err = run(t, "mix", "--server", url, "--key", bobKey, "--withdrawal", bobHex+":100:"+nf+":"+cm)
	require.NoError(t, err)
	assert.Contains(t, out, "withdrew 1 commitments")

	out, err = run(t, "status", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "owner:         "+common.HexToAddress(ownerHex).Hex())
	assert.Contains(t, out, "mix size:      10")

	out, err = run(t, "events", "--server", url, "--after", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var ev pool.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, pool.EventUnshielded, ev.Type)

	_, err = run(t, "admin", "pause", "--server", url, "--key", aliceKey)
	require.Error(t, err)
	_, err = run(t, "admin", "pause", "--server", url, "--key", ownerKey)
	require.NoError(t, err)
	out, err = run(t, "admin", "params", "--server", url, "--key", ownerKey, "--period", "2h", "--size", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "mixing period 2h0m0s, mix size 3")

	_, err = run(t, "shield", "--server", url, "--key", "nobody", "--token", usdcHex, "--amount", "1", "--commitment", cm)
	assert.Error(t, err)
}

func TestUnsignedMutationIsRejected(t *testing.T) {
	t.Setenv(keyEnv, "")
	url, _ := startDaemon(t)

	_, err := run(t, "admin", "pause", "--server", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthenticated")

	t.Setenv(keyEnv, ownerKey)
	_, err = run(t, "admin", "pause", "--server", url)
	require.NoError(t, err)
}

func TestAccountCommand(t *testing.T) {
	out, err := run(t, "account")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	addr := strings.TrimSpace(strings.TrimPrefix(lines[0], "address:"))
	key := strings.TrimSpace(strings.TrimPrefix(lines[1], "key:"))
	assert.Equal(t, addr, addressOf(key))
}

func TestProcessCommand(t *testing.T) {
	url, clk := startDaemon(t)
	cm := "0x" + strings.Repeat("c2", 32)

	_, err := run(t, "shield", "--server", url, "--key", aliceKey, "--token", usdcHex, "--amount", "70", "--commitment", cm)
	require.NoError(t, err)
	clk.Step(time.Hour)

	out, err := run(t, "process", "0", "--server", url, "--key", bobKey)
	require.NoError(t, err)
	assert.Contains(t, out, "batch 0 processed (1 members)")

	out, err = run(t, "unshield", "--server", url, "--key", bobKey, "--token", usdcHex,
		"--recipient", bobHex, "--amount", "70", "--nullifier", "0x"+strings.Repeat("e9", 32))
	require.NoError(t, err)
	assert.Contains(t, out, "unshielded 70")
}

func TestParseWithdrawal(t *testing.T) {
	cm := "0x" + strings.Repeat("c1", 32)
	nf := "0x" + strings.Repeat("e1", 32)

	r, a, n, c, err := parseWithdrawal(bobHex + ":42:" + nf + ":" + cm)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(bobHex), r)
	assert.Equal(t, uint64(42), a.Uint64())
	assert.Equal(t, common.HexToHash(nf), n)
	assert.Equal(t, common.HexToHash(cm), c)

	for _, bad := range []string{
		bobHex + ":42:" + nf,
		"bob:42:" + nf + ":" + cm,
		bobHex + ":-1:" + nf + ":" + cm,
		bobHex + ":42:0xe1:" + cm,
	} {
		_, _, _, _, err := parseWithdrawal(bad)
		assert.Error(t, err, bad)
	}

	p, err := parsePayout(bobHex + ":" + nf)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(bobHex), p.Recipient)
	_, err = parsePayout(bobHex)
	assert.Error(t, err)
}

func TestSnapshotCommands(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	file := filepath.Join(t.TempDir(), "pool.json")

	db, err := store.Open(filepath.Join(src, "pool.db"), false)
	require.NoError(t, err)
	b, err := bank.New(ctx, common.HexToAddress("0xff"), db)
	require.NoError(t, err)
	require.NoError(t, b.Mint(ctx, common.HexToAddress(aliceHex), common.HexToAddress(usdcHex), oneThousand()))
	p, err := pool.New(ctx, pool.Config{
		Owner:  common.HexToAddress(ownerHex),
		Tokens: []pool.TokenID{common.HexToAddress(usdcHex)},
	}, pool.WithStore(db), pool.WithTokenLedger(b))
	require.NoError(t, err)
	require.NoError(t, p.Shield(ctx, common.HexToAddress(aliceHex), common.HexToAddress(usdcHex), oneHundred(), common.HexToHash("0xc1"), [32]byte{}))
	require.NoError(t, db.Close())

	out, err := run(t, "snapshot", "export", file, "--data-dir", src)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 commitments")
	_, err = os.Stat(file)
	require.NoError(t, err)

	_, err = run(t, "snapshot", "import", file, "--data-dir", dst)
	require.NoError(t, err)
	_, err = run(t, "snapshot", "import", file, "--data-dir", dst)
	assert.Error(t, err)

	_, err = run(t, "snapshot", "export", file, "--data-dir", t.TempDir())
	assert.Error(t, err)
}
