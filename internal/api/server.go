// server.go - REST front end of the shielded pool
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/HamzaZF/shieldpool/internal/auth"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

// errBadRequest marks malformed input that never reached the pool.
var errBadRequest = errors.New("bad request")

// KindRateLimited is the error kind of a request refused by the rate limiter.
const KindRateLimited = "rate_limited"

// KindUnauthenticated is the error kind of a request without valid credentials.
const KindUnauthenticated pool.Kind = "unauthenticated"

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to a pool.
type Server struct {
	pool     *pool.Pool
	log      zerolog.Logger
	metrics  *Metrics
	health   *HealthChecker
	limiter  *CallerRateLimiter
	auth     *auth.Verifier
	upgrader websocket.Upgrader
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func WithHealthChecker(h *HealthChecker) Option { return func(s *Server) { s.health = h } }

func WithRateLimiter(l *CallerRateLimiter) Option { return func(s *Server) { s.limiter = l } }

func WithVerifier(v *auth.Verifier) Option { return func(s *Server) { s.auth = v } }

// NewServer builds the router. Without options the server logs nothing, has no rate limit,
// checks request signatures against the real clock and reports only the pool component in
// /health.
func NewServer(p *pool.Pool, opts ...Option) *Server {
	s := &Server{
		pool:    p,
		log:     zerolog.Nop(),
		metrics: NewMetrics(p),
		limiter: NewCallerRateLimiter(0, 1),
		auth:    auth.NewVerifier(auth.DefaultWindow, nil),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthChecker("dev", nil)
	}
	s.health.RegisterComponent("pool", s.checkPool)
	s.router = s.routes()
	return s
}

// Metrics returns the server's registry wrapper.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Health returns the server's health checker so callers can register more components.
func (s *Server) Health() *HealthChecker { return s.health }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/shield", s.mutate("shield", s.shield)).Methods(http.MethodPost)
	v1.HandleFunc("/unshield", s.mutate("unshield", s.unshield)).Methods(http.MethodPost)
	v1.HandleFunc("/mix", s.mutate("mix_and_withdraw", s.mix)).Methods(http.MethodPost)
	v1.HandleFunc("/batches/{id:[0-9]+}/process", s.mutate("process_batch", s.processBatch)).Methods(http.MethodPost)

	v1.HandleFunc("/batches/{id:[0-9]+}", s.query(s.getBatch)).Methods(http.MethodGet)
	v1.HandleFunc("/commitments/{id}", s.query(s.getCommitment)).Methods(http.MethodGet)
	v1.HandleFunc("/commitments/{id}/valid", s.query(s.commitmentValid)).Methods(http.MethodGet)
	v1.HandleFunc("/nullifiers/{id}", s.query(s.nullifierUsed)).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{token}/balance", s.query(s.balance)).Methods(http.MethodGet)
	v1.HandleFunc("/blacklist/{account}", s.query(s.blacklisted)).Methods(http.MethodGet)
	v1.HandleFunc("/params", s.query(s.params)).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.query(s.status)).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.query(s.events)).Methods(http.MethodGet)
	v1.HandleFunc("/events/ws", s.streamEvents).Methods(http.MethodGet)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/pause", s.mutate("pause", s.pause)).Methods(http.MethodPost)
	admin.HandleFunc("/unpause", s.mutate("unpause", s.unpause)).Methods(http.MethodPost)
	admin.HandleFunc("/blacklist", s.mutate("blacklist", s.blacklist)).Methods(http.MethodPost)
	admin.HandleFunc("/unblacklist", s.mutate("unblacklist", s.unblacklist)).Methods(http.MethodPost)
	admin.HandleFunc("/tokens", s.mutate("add_token", s.addToken)).Methods(http.MethodPost)
	admin.HandleFunc("/params", s.mutate("update_mixing_parameters", s.updateParams)).Methods(http.MethodPost)
	admin.HandleFunc("/owner", s.mutate("transfer_ownership", s.transferOwnership)).Methods(http.MethodPost)
	return r
}

type mutation func(ctx context.Context, r *http.Request, caller pool.Address) (any, error)

// mutate wraps a state-changing handler with signature authentication, rate limiting and
// metrics. The caller handed to fn is the address recovered from the request signature.
func (s *Server) mutate(op string, fn mutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: read body: %v", errBadRequest, err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := s.auth.Verify(r.Method, r.URL.RequestURI(), r.Header, body)
		if err != nil {
			s.metrics.operations.WithLabelValues(op, resultOf(err)).Inc()
			s.log.Warn().Err(err).Str("op", op).Str("remote", r.RemoteAddr).Msg("request rejected")
			s.writeError(w, err)
			return
		}
		if !s.limiter.Allow(caller) {
			s.metrics.rateLimited.WithLabelValues(op).Inc()
			s.log.Warn().Str("caller", caller.Hex()).Str("op", op).Msg("rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Kind: KindRateLimited})
			return
		}

		start := time.Now()
		resp, err := fn(r.Context(), r, caller)
		s.metrics.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if resp == nil {
			resp = OKResponse{Status: "ok"}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) query(fn func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Operations

func (s *Server) shield(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req ShieldRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.pool.Shield(ctx, caller, req.Token, amount, req.Commitment, req.Salt)
}

func (s *Server) unshield(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req UnshieldRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.pool.Unshield(ctx, caller, req.Token, req.Recipient, amount, req.Nullifier, req.Proof)
}

func (s *Server) mix(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req MixRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	amounts := make([]*uint256.Int, len(req.Amounts))
	for i, a := range req.Amounts {
		v, err := parseAmount(a)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		amounts[i] = v
	}
	return nil, s.pool.MixAndWithdraw(ctx, caller, req.Recipients, amounts, req.Nullifiers, req.Commitments)
}

func (s *Server) processBatch(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	id, err := batchID(r)
	if err != nil {
		return nil, err
	}
	var req ProcessBatchRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	var payouts []pool.Payout
	if req.Payouts != nil {
		payouts = make([]pool.Payout, len(req.Payouts))
		for i, p := range req.Payouts {
			payouts[i] = pool.Payout{Recipient: p.Recipient, Nullifier: p.Nullifier}
		}
	}
	return nil, s.pool.ProcessBatch(ctx, caller, id, payouts)
}

// Admin

func (s *Server) pause(ctx context.Context, _ *http.Request, caller pool.Address) (any, error) {
	return nil, s.pool.Pause(ctx, caller)
}

func (s *Server) unpause(ctx context.Context, _ *http.Request, caller pool.Address) (any, error) {
	return nil, s.pool.Unpause(ctx, caller)
}

func (s *Server) blacklist(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req AccountRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return nil, s.pool.Blacklist(ctx, caller, req.Account)
}

func (s *Server) unblacklist(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req AccountRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if err := s.pool.Unblacklist(ctx, caller, req.Account); err != nil {
		return nil, err
	}
	s.limiter.Reset(req.Account)
	return nil, nil
}

func (s *Server) addToken(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req TokenRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return nil, s.pool.AddToken(ctx, caller, req.Token)
}

func (s *Server) updateParams(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req ParamsBody
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	period, err := time.ParseDuration(req.MixingPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: mixing_period: %v", errBadRequest, err)
	}
	if err := s.pool.UpdateMixingParameters(ctx, caller, period, req.MixSize); err != nil {
		return nil, err
	}
	return paramsBody(s.pool.MixingParameters()), nil
}

func (s *Server) transferOwnership(ctx context.Context, r *http.Request, caller pool.Address) (any, error) {
	var req OwnerRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return nil, s.pool.TransferOwnership(ctx, caller, req.Owner)
}

// Queries

func (s *Server) getBatch(r *http.Request) (any, error) {
	id, err := batchID(r)
	if err != nil {
		return nil, err
	}
	b, err := s.pool.GetBatch(id)
	if err != nil {
		return nil, err
	}
	return batchResponse(b), nil
}

func (s *Server) getCommitment(r *http.Request) (any, error) {
	id, err := hashVar(r, "id")
	if err != nil {
		return nil, err
	}
	c, err := s.pool.GetCommitment(id)
	if err != nil {
		return nil, err
	}
	return commitmentResponse(c), nil
}

func (s *Server) commitmentValid(r *http.Request) (any, error) {
	id, err := hashVar(r, "id")
	if err != nil {
		return nil, err
	}
	return ValidResponse{Valid: s.pool.IsCommitmentValid(id)}, nil
}

func (s *Server) nullifierUsed(r *http.Request) (any, error) {
	id, err := hashVar(r, "id")
	if err != nil {
		return nil, err
	}
	return UsedResponse{Used: s.pool.IsNullifierUsed(id)}, nil
}

func (s *Server) balance(r *http.Request) (any, error) {
	token, err := addressVar(r, "token")
	if err != nil {
		return nil, err
	}
	return BalanceResponse{
		Token:     token,
		Held:      s.pool.Balance(token).Dec(),
		Released:  s.pool.Released(token).Dec(),
		Supported: s.pool.IsTokenSupported(token),
	}, nil
}

func (s *Server) blacklisted(r *http.Request) (any, error) {
	account, err := addressVar(r, "account")
	if err != nil {
		return nil, err
	}
	return BlacklistedResponse{Blacklisted: s.pool.IsBlacklisted(account)}, nil
}

func (s *Server) params(*http.Request) (any, error) {
	return paramsBody(s.pool.MixingParameters()), nil
}

func (s *Server) status(*http.Request) (any, error) {
	resp := StatusResponse{
		Owner:    s.pool.Owner(),
		Paused:   s.pool.IsPaused(),
		Params:   paramsBody(s.pool.MixingParameters()),
		Tokens:   s.pool.Tokens(),
		Solvency: []SolvencyBody{},
	}
	for _, sv := range s.pool.Solvency() {
		resp.Solvency = append(resp.Solvency, SolvencyBody{
			Token:    sv.Token,
			Held:     sv.Held.Dec(),
			Backed:   sv.Backed.Dec(),
			Released: sv.Released.Dec(),
			Solvent:  sv.Solvent(),
		})
	}
	return resp, nil
}

func (s *Server) events(r *http.Request) (any, error) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: after: %v", errBadRequest, err)
		}
		after = n
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: limit: %v", errBadRequest, err)
		}
		limit = n
	}
	return s.pool.Events(after, limit), nil
}

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if h.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) checkPool(context.Context) error {
	for _, sv := range s.pool.Solvency() {
		if !sv.Solvent() {
			return fmt.Errorf("token %s: held %s below backed %s", sv.Token.Hex(), sv.Held.Dec(), sv.Backed.Dec())
		}
	}
	if s.pool.IsPaused() {
		return fmt.Errorf("%w: pool is paused", ErrDegraded)
	}
	return nil
}

// Helpers

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind pool.Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case pool.KindValidation:
		return http.StatusBadRequest
	case pool.KindConflict:
		return http.StatusConflict
	case pool.KindTiming:
		return http.StatusTooEarly
	case pool.KindLookup:
		return http.StatusNotFound
	case pool.KindAuthorization:
		return http.StatusForbidden
	case pool.KindResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := pool.Kind(resultOf(err))
	status := StatusOf(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body: %w", errBadRequest, err)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", errBadRequest, s, err)
	}
	return v, nil
}

func batchID(r *http.Request) (pool.BatchID, error) {
	n, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: batch id: %v", errBadRequest, err)
	}
	return pool.BatchID(n), nil
}

func hashVar(r *http.Request, name string) (common.Hash, error) {
	b, err := hexutil.Decode(mux.Vars(r)[name])
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s must be 32 bytes of 0x-prefixed hex", errBadRequest, name)
	}
	return common.BytesToHash(b), nil
}

func addressVar(r *http.Request, name string) (common.Address, error) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", errBadRequest, name)
	}
	return common.HexToAddress(v), nil
}

// statusWriter records the response status for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
