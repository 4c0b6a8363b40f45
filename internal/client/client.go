// client.go - REST client for the pool daemon
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/holiman/uint256"

	"github.com/HamzaZF/shieldpool/internal/api"
	"github.com/HamzaZF/shieldpool/internal/auth"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind pool.Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == string(kind)
}

// Client talks to one daemon on behalf of one signing account. A client without a signer can
// only run queries.
type Client struct {
	rest   *resty.Client
	signer *auth.Signer
}

// New returns a client for the daemon at baseURL signing with signer, which may be nil.
func New(baseURL string, signer *auth.Signer) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest, signer: signer}
}

// As returns a client sharing the connection pool but signing with signer.
func (c *Client) As(signer *auth.Signer) *Client {
	return &Client{rest: c.rest, signer: signer}
}

// Caller returns the signer's address, or the zero address without one.
func (c *Client) Caller() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr api.ErrorResponse
	req := c.rest.R().SetContext(ctx).SetError(&apiErr)

	// The body is encoded here so the signature covers the exact bytes sent.
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(raw)
	}
	if c.signer != nil && method != http.MethodGet {
		h, err := c.signer.Credentials(method, path, raw, time.Now())
		if err != nil {
			return err
		}
		for k := range h {
			req.SetHeader(k, h.Get(k))
		}
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Kind: apiErr.Kind, Message: msg}
	}
	return nil
}

func (c *Client) Shield(ctx context.Context, token common.Address, amount *uint256.Int, commitment, salt common.Hash) error {
	return c.do(ctx, http.MethodPost, "/v1/shield", api.ShieldRequest{
		Token:      token,
		Amount:     amount.Dec(),
		Commitment: commitment,
		Salt:       salt,
	}, nil)
}

func (c *Client) Unshield(ctx context.Context, token, recipient common.Address, amount *uint256.Int, nullifier common.Hash, proof []byte) error {
	return c.do(ctx, http.MethodPost, "/v1/unshield", api.UnshieldRequest{
		Token:     token,
		Recipient: recipient,
		Amount:    amount.Dec(),
		Nullifier: nullifier,
		Proof:     proof,
	}, nil)
}

func (c *Client) MixAndWithdraw(ctx context.Context, recipients []common.Address, amounts []*uint256.Int, nullifiers, commitments []common.Hash) error {
	req := api.MixRequest{
		Recipients:  recipients,
		Amounts:     make([]string, len(amounts)),
		Nullifiers:  nullifiers,
		Commitments: commitments,
	}
	for i, a := range amounts {
		req.Amounts[i] = a.Dec()
	}
	return c.do(ctx, http.MethodPost, "/v1/mix", req, nil)
}

// ProcessBatch settles batch id. A nil payouts slice releases the batch's funds for Unshield.
func (c *Client) ProcessBatch(ctx context.Context, id pool.BatchID, payouts []pool.Payout) error {
	var req api.ProcessBatchRequest
	if payouts != nil {
		req.Payouts = make([]api.PayoutBody, len(payouts))
		for i, p := range payouts {
			req.Payouts[i] = api.PayoutBody{Recipient: p.Recipient, Nullifier: p.Nullifier}
		}
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/batches/%d/process", id), req, nil)
}

// Admin

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/pause", nil, nil)
}

func (c *Client) Unpause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/unpause", nil, nil)
}

func (c *Client) Blacklist(ctx context.Context, account common.Address) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/blacklist", api.AccountRequest{Account: account}, nil)
}

func (c *Client) Unblacklist(ctx context.Context, account common.Address) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/unblacklist", api.AccountRequest{Account: account}, nil)
}

func (c *Client) AddToken(ctx context.Context, token common.Address) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/tokens", api.TokenRequest{Token: token}, nil)
}

func (c *Client) UpdateMixingParameters(ctx context.Context, period time.Duration, size uint32) (api.ParamsBody, error) {
	var out api.ParamsBody
	err := c.do(ctx, http.MethodPost, "/v1/admin/params", api.ParamsBody{MixingPeriod: period.String(), MixSize: size}, &out)
	return out, err
}

func (c *Client) TransferOwnership(ctx context.Context, newOwner common.Address) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/owner", api.OwnerRequest{Owner: newOwner}, nil)
}

// Queries

func (c *Client) Commitment(ctx context.Context, id common.Hash) (api.CommitmentResponse, error) {
	var out api.CommitmentResponse
	err := c.do(ctx, http.MethodGet, "/v1/commitments/"+id.Hex(), nil, &out)
	return out, err
}

func (c *Client) IsCommitmentValid(ctx context.Context, id common.Hash) (bool, error) {
	var out api.ValidResponse
	err := c.do(ctx, http.MethodGet, "/v1/commitments/"+id.Hex()+"/valid", nil, &out)
	return out.Valid, err
}

func (c *Client) IsNullifierUsed(ctx context.Context, id common.Hash) (bool, error) {
	var out api.UsedResponse
	err := c.do(ctx, http.MethodGet, "/v1/nullifiers/"+id.Hex(), nil, &out)
	return out.Used, err
}

func (c *Client) Batch(ctx context.Context, id pool.BatchID) (api.BatchResponse, error) {
	var out api.BatchResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/batches/%d", id), nil, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context, token common.Address) (api.BalanceResponse, error) {
	var out api.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/v1/tokens/"+token.Hex()+"/balance", nil, &out)
	return out, err
}

func (c *Client) IsBlacklisted(ctx context.Context, account common.Address) (bool, error) {
	var out api.BlacklistedResponse
	err := c.do(ctx, http.MethodGet, "/v1/blacklist/"+account.Hex(), nil, &out)
	return out.Blacklisted, err
}

func (c *Client) Params(ctx context.Context) (api.ParamsBody, error) {
	var out api.ParamsBody
	err := c.do(ctx, http.MethodGet, "/v1/params", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// Events returns up to limit events with Seq > after; limit 0 returns all of them.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]pool.Event, error) {
	var out []pool.Event
	path := "/v1/events?after=" + strconv.FormatUint(after, 10) + "&limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Health returns the daemon's health report. An unhealthy daemon answers 503; the report is
// still returned alongside the APIError.
func (c *Client) Health(ctx context.Context) (*api.SystemHealth, error) {
	var out api.SystemHealth
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("GET /health: %w", err)
	}
	if resp.IsError() {
		return &out, &APIError{Status: resp.StatusCode(), Kind: string(out.OverallStatus), Message: resp.Status()}
	}
	return &out, nil
}
