// snapshot.go - Portable JSON snapshot of the whole pool state.
//
// A snapshot file is a single indented JSON document. It is used for backups and for moving
// a pool between data directories; it is never read on the hot path.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

type snapshotFile struct {
	Params      paramsRecord       `json:"params"`
	Admin       adminRecord        `json:"admin"`
	Cursor      cursorRecord       `json:"cursor"`
	Held        []balanceRecord    `json:"held"`
	Released    []balanceRecord    `json:"released"`
	Commitments []commitmentRecord `json:"commitments"`
	Nullifiers  []nullifierRecord  `json:"nullifiers"`
	Batches     []batchRecord      `json:"batches"`
	Events      []pool.Event       `json:"events"`
}

// SaveSnapshot writes snap to path, replacing any existing file.
func SaveSnapshot(path string, snap *pool.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	f := snapshotFile{
		Params: paramsRecord{MixingPeriod: snap.Params.MixingPeriod, MixSize: snap.Params.MixSize},
		Cursor: cursorRecord{Next: uint64(snap.Cursor.Next), Open: uint64(snap.Cursor.Open), HasOpen: snap.Cursor.HasOpen},
		Events: snap.Events,
	}
	if snap.Admin != nil {
		f.Admin = encodeAdmin(snap.Admin)
	}
	f.Held = encodeBalances(snap.Held)
	f.Released = encodeBalances(snap.Released)
	for _, c := range snap.Commitments {
		f.Commitments = append(f.Commitments, encodeCommitment(c))
	}
	for _, n := range snap.Nullifiers {
		f.Nullifiers = append(f.Nullifiers, nullifierRecord{ID: n.ID, Used: n.Used, UsedAt: n.UsedAt.UTC()})
	}
	for _, b := range snap.Batches {
		f.Batches = append(f.Batches, encodeBatch(b))
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(&f)
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (*pool.Snapshot, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var f snapshotFile
	if err := json.NewDecoder(in).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	snap := &pool.Snapshot{
		Params: pool.MixingParameters{MixingPeriod: f.Params.MixingPeriod, MixSize: f.Params.MixSize},
		Admin:  decodeAdmin(f.Admin),
		Cursor: pool.BatchCursor{Next: pool.BatchID(f.Cursor.Next), Open: pool.BatchID(f.Cursor.Open), HasOpen: f.Cursor.HasOpen},
		Events: f.Events,
	}
	if snap.Held, err = decodeBalances(f.Held); err != nil {
		return nil, err
	}
	if snap.Released, err = decodeBalances(f.Released); err != nil {
		return nil, err
	}
	for _, r := range f.Commitments {
		c, err := decodeCommitment(r)
		if err != nil {
			return nil, err
		}
		snap.Commitments = append(snap.Commitments, c)
	}
	for _, r := range f.Nullifiers {
		snap.Nullifiers = append(snap.Nullifiers, &pool.NullifierRecord{ID: r.ID, Used: r.Used, UsedAt: r.UsedAt})
	}
	for _, r := range f.Batches {
		b, err := decodeBatch(r)
		if err != nil {
			return nil, err
		}
		snap.Batches = append(snap.Batches, b)
	}
	if n := len(snap.Events); n > 0 {
		snap.EventSeq = snap.Events[n-1].Seq
	}
	return snap, nil
}

// Import writes snap into an empty store.
func (s *LevelDB) Import(ctx context.Context, snap *pool.Snapshot) error {
	existing, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.New("store already holds pool state")
	}
	cs := &pool.ChangeSet{
		Commitments: snap.Commitments,
		Nullifiers:  snap.Nullifiers,
		Held:        snap.Held,
		Released:    snap.Released,
		Batches:     snap.Batches,
		Params:      &snap.Params,
		Admin:       snap.Admin,
		Cursor:      &snap.Cursor,
		Events:      snap.Events,
	}
	return s.Commit(ctx, cs)
}

func encodeBalances(m map[pool.TokenID]*uint256.Int) []balanceRecord {
	toks := make([]common.Address, 0, len(m))
	for tok := range m {
		toks = append(toks, tok)
	}
	sortAddresses(toks)
	out := make([]balanceRecord, 0, len(toks))
	for _, tok := range toks {
		out = append(out, balanceRecord{Token: tok, Amount: m[tok].Dec()})
	}
	return out
}

func decodeBalances(rs []balanceRecord) (map[pool.TokenID]*uint256.Int, error) {
	m := make(map[pool.TokenID]*uint256.Int, len(rs))
	for _, r := range rs {
		v, err := parseAmount(r.Amount)
		if err != nil {
			return nil, err
		}
		m[r.Token] = v
	}
	return m, nil
}
