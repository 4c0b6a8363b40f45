package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func mustSigner(t *testing.T, hexKey string) *Signer {
	t.Helper()
	s, err := SignerFromHex(hexKey)
	require.NoError(t, err)
	return s
}

func TestVerifyRecoversCaller(t *testing.T) {
	alice := mustSigner(t, "0x"+strings.Repeat("a1", 32))
	v := NewVerifier(time.Minute, clocktesting.NewFakePassiveClock(now))
	body := []byte(`{"token":"0x01"}`)

	h, err := alice.Credentials(http.MethodPost, "/v1/shield", body, now)
	require.NoError(t, err)
	caller, err := v.Verify(http.MethodPost, "/v1/shield", h, body)
	require.NoError(t, err)
	assert.Equal(t, alice.Address(), caller)

	again, err := SignerFromHex(alice.KeyHex())
	require.NoError(t, err)
	assert.Equal(t, alice.Address(), again.Address())
}

func TestVerifyRejects(t *testing.T) {
	alice := mustSigner(t, "0x"+strings.Repeat("a1", 32))
	mallory := mustSigner(t, strings.Repeat("0b", 32))
	body := []byte(`{"account":"0x01"}`)

	tests := []struct {
		name   string
		mutate func(h http.Header) (method, uri string, b []byte)
	}{
		{"no credentials", func(h http.Header) (string, string, []byte) {
			for k := range h {
				h.Del(k)
			}
			return http.MethodPost, "/v1/admin/pause", body
		}},
		{"caller header swapped", func(h http.Header) (string, string, []byte) {
			h.Set(CallerHeader, mallory.Address().Hex())
			return http.MethodPost, "/v1/admin/pause", body
		}},
		{"body tampered", func(h http.Header) (string, string, []byte) {
			return http.MethodPost, "/v1/admin/pause", []byte(`{"account":"0x02"}`)
		}},
		{"path changed", func(h http.Header) (string, string, []byte) {
			return http.MethodPost, "/v1/admin/unpause", body
		}},
		{"method changed", func(h http.Header) (string, string, []byte) {
			return http.MethodPut, "/v1/admin/pause", body
		}},
		{"short signature", func(h http.Header) (string, string, []byte) {
			h.Set(SignatureHeader, "0x0102")
			return http.MethodPost, "/v1/admin/pause", body
		}},
		{"bad timestamp", func(h http.Header) (string, string, []byte) {
			h.Set(TimestampHeader, "yesterday")
			return http.MethodPost, "/v1/admin/pause", body
		}},
		{"bad caller", func(h http.Header) (string, string, []byte) {
			h.Set(CallerHeader, "alice")
			return http.MethodPost, "/v1/admin/pause", body
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(time.Minute, clocktesting.NewFakePassiveClock(now))
			h, err := alice.Credentials(http.MethodPost, "/v1/admin/pause", body, now)
			require.NoError(t, err)
			method, uri, b := tt.mutate(h)
			_, err = v.Verify(method, uri, h, b)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestVerifyFreshnessAndReplay(t *testing.T) {
	alice := mustSigner(t, "0x"+strings.Repeat("a1", 32))
	clk := clocktesting.NewFakePassiveClock(now)
	v := NewVerifier(time.Minute, clk)

	h, err := alice.Credentials(http.MethodPost, "/v1/admin/pause", nil, now)
	require.NoError(t, err)
	_, err = v.Verify(http.MethodPost, "/v1/admin/pause", h, nil)
	require.NoError(t, err)

	_, err = v.Verify(http.MethodPost, "/v1/admin/pause", h, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "nonce already used")

	clk.SetTime(now.Add(2 * time.Minute))
	_, err = v.Verify(http.MethodPost, "/v1/admin/pause", h, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "window")

	future, err := alice.Credentials(http.MethodPost, "/v1/admin/pause", nil, now.Add(10*time.Minute))
	require.NoError(t, err)
	_, err = v.Verify(http.MethodPost, "/v1/admin/pause", future, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)

	// A fresh request after the window elapsed still goes through and old nonces are pruned.
	fresh, err := alice.Credentials(http.MethodPost, "/v1/admin/pause", nil, clk.Now())
	require.NoError(t, err)
	_, err = v.Verify(http.MethodPost, "/v1/admin/pause", fresh, nil)
	require.NoError(t, err)
	v.mu.Lock()
	assert.Len(t, v.seen, 1)
	v.mu.Unlock()
}

func TestSignerFromHexRejectsGarbage(t *testing.T) {
	_, err := SignerFromHex("0x1234")
	assert.Error(t, err)

	s, err := GenerateSigner()
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, s.Address())
}
