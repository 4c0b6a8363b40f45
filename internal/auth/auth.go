// auth.go - Signed request credentials for the pool API
//
// A caller proves its address by signing each state-changing request with the secp256k1 key
// behind it. The signed digest covers method, request URI, a unix timestamp, a one-time nonce
// and the Keccak-256 of the body, wrapped in the Ethereum signed-message prefix. The server
// recovers the public key from the signature and takes the caller from it.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Request headers carrying the credentials.
const (
	CallerHeader    = "X-Pool-Caller"
	TimestampHeader = "X-Pool-Timestamp"
	NonceHeader     = "X-Pool-Nonce"
	SignatureHeader = "X-Pool-Signature"
)

// DefaultWindow is how far a request timestamp may drift from the server clock.
const DefaultWindow = 5 * time.Minute

// ErrUnauthenticated is wrapped by every credential failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Digest returns the 32-byte hash signed for one request.
func Digest(method, uri string, timestamp int64, nonce string, body []byte) []byte {
	msg := fmt.Sprintf("%s\n%s\n%d\n%s\n%x", method, uri, timestamp, nonce, crypto.Keccak256(body))
	inner := crypto.Keccak256([]byte(msg))
	return crypto.Keccak256(append([]byte("\x19Ethereum Signed Message:\n32"), inner...))
}

// Signer produces credentials for one account.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSigner wraps a secp256k1 private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignerFromHex parses a hex private key, with or without 0x prefix.
func SignerFromHex(s string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSigner(key), nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// Address is the account the signer speaks for.
func (s *Signer) Address() common.Address { return s.addr }

// KeyHex returns the private key as 0x-prefixed hex.
func (s *Signer) KeyHex() string { return hexutil.Encode(crypto.FromECDSA(s.key)) }

// Credentials signs a request and returns the headers to attach to it.
func (s *Signer) Credentials(method, uri string, body []byte, now time.Time) (http.Header, error) {
	ts := now.Unix()
	nonce := uuid.NewString()
	sig, err := crypto.Sign(Digest(method, uri, ts, nonce, body), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	h := make(http.Header)
	h.Set(CallerHeader, s.addr.Hex())
	h.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	h.Set(NonceHeader, nonce)
	h.Set(SignatureHeader, hexutil.Encode(sig))
	return h, nil
}

// Verifier checks request credentials and rejects replays within the freshness window.
type Verifier struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	window    time.Duration
	seen      map[string]time.Time
	nextPrune time.Time
}

// NewVerifier accepts timestamps within window of clk's time. A non-positive window means
// DefaultWindow and a nil clock the real one.
func NewVerifier(window time.Duration, clk clock.PassiveClock) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Verifier{clock: clk, window: window, seen: make(map[string]time.Time)}
}

// Verify authenticates a request and returns the recovered caller.
func (v *Verifier) Verify(method, uri string, h http.Header, body []byte) (common.Address, error) {
	callerHex, tsText, nonce, sigHex := h.Get(CallerHeader), h.Get(TimestampHeader), h.Get(NonceHeader), h.Get(SignatureHeader)
	if callerHex == "" || tsText == "" || nonce == "" || sigHex == "" {
		return common.Address{}, fmt.Errorf("%w: missing credentials", ErrUnauthenticated)
	}
	if !common.IsHexAddress(callerHex) {
		return common.Address{}, fmt.Errorf("%w: malformed %s", ErrUnauthenticated, CallerHeader)
	}
	caller := common.HexToAddress(callerHex)

	ts, err := strconv.ParseInt(tsText, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed %s", ErrUnauthenticated, TimestampHeader)
	}
	now := v.clock.Now()
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-v.window)) || signedAt.After(now.Add(v.window)) {
		return common.Address{}, fmt.Errorf("%w: timestamp outside the %s window", ErrUnauthenticated, v.window)
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed %s", ErrUnauthenticated, SignatureHeader)
	}
	pub, err := crypto.SigToPub(Digest(method, uri, ts, nonce, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: recover signer: %v", ErrUnauthenticated, err)
	}
	if crypto.PubkeyToAddress(*pub) != caller {
		return common.Address{}, fmt.Errorf("%w: signature does not match %s", ErrUnauthenticated, caller.Hex())
	}

	// Nonces are recorded only after the signature checks out.
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prune(now)
	key := caller.Hex() + "/" + nonce
	if _, ok := v.seen[key]; ok {
		return common.Address{}, fmt.Errorf("%w: nonce already used", ErrUnauthenticated)
	}
	v.seen[key] = signedAt.Add(v.window)
	return caller, nil
}

func (v *Verifier) prune(now time.Time) {
	if now.Before(v.nextPrune) {
		return
	}
	for k, exp := range v.seen {
		if now.After(exp) {
			delete(v.seen, k)
		}
	}
	v.nextPrune = now.Add(v.window)
}
