// types.go - Request and response bodies of the REST API
//
// Amounts travel as decimal strings, addresses and ids as 0x-prefixed hex, durations in Go
// duration syntax ("1h30m").
package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

type ShieldRequest struct {
	Token      common.Address `json:"token"`
	Amount     string         `json:"amount"`
	Commitment common.Hash    `json:"commitment"`
	Salt       common.Hash    `json:"salt"`
}

type UnshieldRequest struct {
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
	Nullifier common.Hash    `json:"nullifier"`
	Proof     hexutil.Bytes  `json:"proof,omitempty"`
}

// MixRequest keeps the four parallel arrays of MixAndWithdraw.
type MixRequest struct {
	Recipients  []common.Address `json:"recipients"`
	Amounts     []string         `json:"amounts"`
	Nullifiers  []common.Hash    `json:"nullifiers"`
	Commitments []common.Hash    `json:"commitments"`
}

type PayoutBody struct {
	Recipient common.Address `json:"recipient"`
	Nullifier common.Hash    `json:"nullifier"`
}

// ProcessBatchRequest selects direct mode when Payouts is present, release mode otherwise.
type ProcessBatchRequest struct {
	Payouts []PayoutBody `json:"payouts,omitempty"`
}

type AccountRequest struct {
	Account common.Address `json:"account"`
}

type TokenRequest struct {
	Token common.Address `json:"token"`
}

type OwnerRequest struct {
	Owner common.Address `json:"owner"`
}

type ParamsBody struct {
	MixingPeriod string `json:"mixing_period"`
	MixSize      uint32 `json:"mix_size"`
}

type CommitmentResponse struct {
	ID        common.Hash    `json:"id"`
	Token     common.Address `json:"token"`
	Amount    string         `json:"amount"`
	CreatedAt time.Time      `json:"created_at"`
	Consumed  bool           `json:"consumed"`
	BatchID   uint64         `json:"batch_id"`
}

type BatchResponse struct {
	ID           uint64        `json:"id"`
	Members      []common.Hash `json:"members"`
	OpenedAt     time.Time     `json:"opened_at"`
	MixingPeriod string        `json:"mixing_period"`
	State        string        `json:"state"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

type BalanceResponse struct {
	Token     common.Address `json:"token"`
	Held      string         `json:"held"`
	Released  string         `json:"released"`
	Supported bool           `json:"supported"`
}

type SolvencyBody struct {
	Token    common.Address `json:"token"`
	Held     string         `json:"held"`
	Backed   string         `json:"backed"`
	Released string         `json:"released"`
	Solvent  bool           `json:"solvent"`
}

type StatusResponse struct {
	Owner    common.Address   `json:"owner"`
	Paused   bool             `json:"paused"`
	Params   ParamsBody       `json:"params"`
	Tokens   []common.Address `json:"tokens"`
	Solvency []SolvencyBody   `json:"solvency"`
}

type ValidResponse struct {
	Valid bool `json:"valid"`
}

type UsedResponse struct {
	Used bool `json:"used"`
}

type BlacklistedResponse struct {
	Blacklisted bool `json:"blacklisted"`
}

type OKResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func commitmentResponse(c pool.CommitmentRecord) CommitmentResponse {
	return CommitmentResponse{
		ID:        c.ID,
		Token:     c.Token,
		Amount:    c.Amount.Dec(),
		CreatedAt: c.CreatedAt,
		Consumed:  c.Consumed,
		BatchID:   uint64(c.BatchID),
	}
}

func batchResponse(b pool.MixingBatch) BatchResponse {
	resp := BatchResponse{
		ID:           uint64(b.ID),
		Members:      make([]common.Hash, len(b.Members)),
		OpenedAt:     b.OpenedAt,
		MixingPeriod: b.MixingPeriod.String(),
		State:        string(b.State),
	}
	copy(resp.Members, b.Members)
	if !b.ProcessedAt.IsZero() {
		at := b.ProcessedAt
		resp.ProcessedAt = &at
	}
	return resp
}

func paramsBody(p pool.MixingParameters) ParamsBody {
	return ParamsBody{MixingPeriod: p.MixingPeriod.String(), MixSize: p.MixSize}
}
