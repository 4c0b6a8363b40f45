// codec.go - JSON records for persisted pool state.
//
// Amounts are stored as decimal strings so that values above 2^64 survive every JSON reader.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

type commitmentRecord struct {
	ID        common.Hash    `json:"id"`
	Token     common.Address `json:"token"`
	Amount    string         `json:"amount"`
	CreatedAt time.Time      `json:"created_at"`
	Consumed  bool           `json:"consumed"`
	BatchID   uint64         `json:"batch_id"`
}

type nullifierRecord struct {
	ID     common.Hash `json:"id"`
	Used   bool        `json:"used"`
	UsedAt time.Time   `json:"used_at"`
}

type batchRecord struct {
	ID           uint64        `json:"id"`
	Members      []common.Hash `json:"members"`
	OpenedAt     time.Time     `json:"opened_at"`
	MixingPeriod time.Duration `json:"mixing_period"`
	State        string        `json:"state"`
	ProcessedAt  time.Time     `json:"processed_at"`
}

type paramsRecord struct {
	MixingPeriod time.Duration `json:"mixing_period"`
	MixSize      uint32        `json:"mix_size"`
}

type adminRecord struct {
	Owner     common.Address   `json:"owner"`
	Paused    bool             `json:"paused"`
	Blacklist []common.Address `json:"blacklist"`
	Tokens    []common.Address `json:"tokens"`
}

type cursorRecord struct {
	Next    uint64 `json:"next"`
	Open    uint64 `json:"open"`
	HasOpen bool   `json:"has_open"`
}

type balanceRecord struct {
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
	Amount  string         `json:"amount"`
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", s, err)
	}
	return v, nil
}

func encodeCommitment(c *pool.CommitmentRecord) commitmentRecord {
	return commitmentRecord{
		ID:        c.ID,
		Token:     c.Token,
		Amount:    c.Amount.Dec(),
		CreatedAt: c.CreatedAt.UTC(),
		Consumed:  c.Consumed,
		BatchID:   uint64(c.BatchID),
	}
}

func decodeCommitment(r commitmentRecord) (*pool.CommitmentRecord, error) {
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	return &pool.CommitmentRecord{
		ID:        r.ID,
		Token:     r.Token,
		Amount:    amount,
		CreatedAt: r.CreatedAt,
		Consumed:  r.Consumed,
		BatchID:   pool.BatchID(r.BatchID),
	}, nil
}

func encodeBatch(b *pool.MixingBatch) batchRecord {
	return batchRecord{
		ID:           uint64(b.ID),
		Members:      append([]common.Hash(nil), b.Members...),
		OpenedAt:     b.OpenedAt.UTC(),
		MixingPeriod: b.MixingPeriod,
		State:        string(b.State),
		ProcessedAt:  b.ProcessedAt.UTC(),
	}
}

func decodeBatch(r batchRecord) (*pool.MixingBatch, error) {
	switch pool.BatchState(r.State) {
	case pool.BatchOpen, pool.BatchMatured, pool.BatchProcessed:
	default:
		return nil, fmt.Errorf("batch %d: unknown state %q", r.ID, r.State)
	}
	return &pool.MixingBatch{
		ID:           pool.BatchID(r.ID),
		Members:      r.Members,
		OpenedAt:     r.OpenedAt,
		MixingPeriod: r.MixingPeriod,
		State:        pool.BatchState(r.State),
		ProcessedAt:  r.ProcessedAt,
	}, nil
}

func encodeAdmin(a *pool.AdminState) adminRecord {
	r := adminRecord{Owner: a.Owner, Paused: a.Paused}
	for addr, on := range a.Blacklist {
		if on {
			r.Blacklist = append(r.Blacklist, addr)
		}
	}
	for tok, on := range a.Tokens {
		if on {
			r.Tokens = append(r.Tokens, tok)
		}
	}
	sortAddresses(r.Blacklist)
	sortAddresses(r.Tokens)
	return r
}

func decodeAdmin(r adminRecord) *pool.AdminState {
	a := &pool.AdminState{
		Owner:     r.Owner,
		Paused:    r.Paused,
		Blacklist: make(map[pool.Address]bool, len(r.Blacklist)),
		Tokens:    make(map[pool.TokenID]bool, len(r.Tokens)),
	}
	for _, addr := range r.Blacklist {
		a.Blacklist[addr] = true
	}
	for _, tok := range r.Tokens {
		a.Tokens[tok] = true
	}
	return a
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshal(key, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
