// leveldb.go - LevelDB-backed persistence for the pool and the simulated token bank.
//
// Key layout:
//
//	cm_<hash>            commitment record
//	nf_<hash>            nullifier record
//	bal_<token>          custody balance
//	rel_<token>          released liquidity
//	bt_<%020d id>        mixing batch
//	ev_<%020d seq>       audit event
//	meta_params          mixing parameters
//	meta_admin           admin state
//	meta_batchseq        batch cursor
//	bank_<acct>_<token>  simulated bank balance

package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/HamzaZF/shieldpool/internal/bank"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

const (
	prefixCommitment = "cm_"
	prefixNullifier  = "nf_"
	prefixHeld       = "bal_"
	prefixReleased   = "rel_"
	prefixBatch      = "bt_"
	prefixEvent      = "ev_"
	prefixBank       = "bank_"

	keyParams = "meta_params"
	keyAdmin  = "meta_admin"
	keyCursor = "meta_batchseq"
)

// LevelDB persists pool state. It implements pool.Store and bank.Persister.
type LevelDB struct {
	db    *leveldb.DB
	write *opt.WriteOptions
}

// Open opens or creates the store at path. Writes are fsynced when sync is set.
func Open(path string, sync bool) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open pool store: %w", err)
	}
	return &LevelDB{db: db, write: &opt.WriteOptions{Sync: sync}}, nil
}

// OpenMemory returns a store backed by in-memory LevelDB storage.
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &LevelDB{db: db, write: &opt.WriteOptions{}}, nil
}

// Close closes the underlying database.
func (s *LevelDB) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *LevelDB) Ping() error {
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

// Commit writes the change-set as one batch.
func (s *LevelDB) Commit(ctx context.Context, cs *pool.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := new(leveldb.Batch)
	if err := encodeChangeSet(b, cs); err != nil {
		return err
	}
	if err := s.db.Write(b, s.write); err != nil {
		return fmt.Errorf("write change-set: %w", err)
	}
	return nil
}

func encodeChangeSet(b *leveldb.Batch, cs *pool.ChangeSet) error {
	put := func(key string, v any) error {
		data, err := marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		b.Put([]byte(key), data)
		return nil
	}

	for _, c := range cs.Commitments {
		if err := put(commitmentKey(c.ID), encodeCommitment(c)); err != nil {
			return err
		}
	}
	for _, n := range cs.Nullifiers {
		if err := put(nullifierKey(n.ID), nullifierRecord{ID: n.ID, Used: n.Used, UsedAt: n.UsedAt.UTC()}); err != nil {
			return err
		}
	}
	for tok, v := range cs.Held {
		if err := put(prefixHeld+tokenHex(tok), balanceRecord{Token: tok, Amount: v.Dec()}); err != nil {
			return err
		}
	}
	for tok, v := range cs.Released {
		if err := put(prefixReleased+tokenHex(tok), balanceRecord{Token: tok, Amount: v.Dec()}); err != nil {
			return err
		}
	}
	for _, bt := range cs.Batches {
		if err := put(batchKey(bt.ID), encodeBatch(bt)); err != nil {
			return err
		}
	}
	if cs.Params != nil {
		if err := put(keyParams, paramsRecord{MixingPeriod: cs.Params.MixingPeriod, MixSize: cs.Params.MixSize}); err != nil {
			return err
		}
	}
	if cs.Admin != nil {
		if err := put(keyAdmin, encodeAdmin(cs.Admin)); err != nil {
			return err
		}
	}
	if cs.Cursor != nil {
		if err := put(keyCursor, cursorRecord{Next: uint64(cs.Cursor.Next), Open: uint64(cs.Cursor.Open), HasOpen: cs.Cursor.HasOpen}); err != nil {
			return err
		}
	}
	for _, ev := range cs.Events {
		if err := put(eventKey(ev.Seq), ev); err != nil {
			return err
		}
	}
	return nil
}

// Load rebuilds the persisted snapshot. It returns nil when the store was never initialised.
func (s *LevelDB) Load(ctx context.Context) (*pool.Snapshot, error) {
	raw, err := s.db.Get([]byte(keyParams), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &pool.Snapshot{
		Held:     make(map[pool.TokenID]*uint256.Int),
		Released: make(map[pool.TokenID]*uint256.Int),
	}
	var params paramsRecord
	if err := unmarshal([]byte(keyParams), raw, &params); err != nil {
		return nil, err
	}
	snap.Params = pool.MixingParameters{MixingPeriod: params.MixingPeriod, MixSize: params.MixSize}

	var admin adminRecord
	if err := s.getJSON(keyAdmin, &admin); err != nil {
		return nil, err
	}
	snap.Admin = decodeAdmin(admin)

	var cursor cursorRecord
	if err := s.getJSON(keyCursor, &cursor); err != nil && err != leveldb.ErrNotFound {
		return nil, err
	}
	snap.Cursor = pool.BatchCursor{Next: pool.BatchID(cursor.Next), Open: pool.BatchID(cursor.Open), HasOpen: cursor.HasOpen}

	err = s.scan(ctx, prefixCommitment, func(key, value []byte) error {
		var r commitmentRecord
		if err := unmarshal(key, value, &r); err != nil {
			return err
		}
		c, err := decodeCommitment(r)
		if err != nil {
			return err
		}
		snap.Commitments = append(snap.Commitments, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(ctx, prefixNullifier, func(key, value []byte) error {
		var r nullifierRecord
		if err := unmarshal(key, value, &r); err != nil {
			return err
		}
		snap.Nullifiers = append(snap.Nullifiers, &pool.NullifierRecord{ID: r.ID, Used: r.Used, UsedAt: r.UsedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for prefix, dst := range map[string]map[pool.TokenID]*uint256.Int{prefixHeld: snap.Held, prefixReleased: snap.Released} {
		err = s.scan(ctx, prefix, func(key, value []byte) error {
			var r balanceRecord
			if err := unmarshal(key, value, &r); err != nil {
				return err
			}
			v, err := parseAmount(r.Amount)
			if err != nil {
				return err
			}
			dst[r.Token] = v
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	err = s.scan(ctx, prefixBatch, func(key, value []byte) error {
		var r batchRecord
		if err := unmarshal(key, value, &r); err != nil {
			return err
		}
		b, err := decodeBatch(r)
		if err != nil {
			return err
		}
		snap.Batches = append(snap.Batches, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Zero-padded keys iterate in sequence order.
	err = s.scan(ctx, prefixEvent, func(key, value []byte) error {
		var ev pool.Event
		if err := unmarshal(key, value, &ev); err != nil {
			return err
		}
		snap.Events = append(snap.Events, ev)
		snap.EventSeq = ev.Seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadBalances implements bank.Persister.
func (s *LevelDB) LoadBalances(ctx context.Context) ([]bank.Balance, error) {
	var out []bank.Balance
	err := s.scan(ctx, prefixBank, func(key, value []byte) error {
		var r balanceRecord
		if err := unmarshal(key, value, &r); err != nil {
			return err
		}
		v, err := parseAmount(r.Amount)
		if err != nil {
			return err
		}
		out = append(out, bank.Balance{Account: r.Account, Token: r.Token, Amount: v})
		return nil
	})
	return out, err
}

// SaveBalances implements bank.Persister.
func (s *LevelDB) SaveBalances(ctx context.Context, bs []bank.Balance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := new(leveldb.Batch)
	for _, bal := range bs {
		data, err := marshal(balanceRecord{Account: bal.Account, Token: bal.Token, Amount: bal.Amount.Dec()})
		if err != nil {
			return err
		}
		b.Put([]byte(bankKey(bal.Account, bal.Token)), data)
	}
	return s.db.Write(b, s.write)
}

func (s *LevelDB) getJSON(key string, v any) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		return err
	}
	return unmarshal([]byte(key), data, v)
}

func (s *LevelDB) scan(ctx context.Context, prefix string, fn func(key, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func tokenHex(a common.Address) string {
	return hex.EncodeToString(a[:])
}

func commitmentKey(id pool.CommitmentID) string {
	return prefixCommitment + hex.EncodeToString(id[:])
}

func nullifierKey(id pool.NullifierID) string {
	return prefixNullifier + hex.EncodeToString(id[:])
}

func batchKey(id pool.BatchID) string {
	return fmt.Sprintf("%s%020d", prefixBatch, id)
}

func eventKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", prefixEvent, seq)
}

func bankKey(account, token common.Address) string {
	return prefixBank + hex.EncodeToString(account[:]) + "_" + hex.EncodeToString(token[:])
}

func sortAddresses(as []common.Address) {
	sort.Slice(as, func(i, j int) bool { return as[i].Cmp(as[j]) < 0 })
}
