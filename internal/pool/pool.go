// pool.go - The pool facade: construction and the single-writer transaction boundary.

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// Config is the genesis configuration of a pool. It is ignored when the store already holds
// state.
type Config struct {
	Owner  Address
	Params MixingParameters
	Tokens []TokenID
}

// Option customises a Pool.
type Option func(*Pool)

// WithStore persists committed state in s.
func WithStore(s Store) Option { return func(p *Pool) { p.store = s } }

// WithTokenLedger sets the external token ledger used for deposits and payouts.
func WithTokenLedger(l TokenLedger) Option { return func(p *Pool) { p.ledger = l } }

// WithVerifier sets the Unshield proof verifier. Defaults to UnverifiedProofs.
func WithVerifier(v ProofVerifier) Option { return func(p *Pool) { p.verifier = v } }

// WithClock sets the clock the mixing period is evaluated against.
func WithClock(c clock.PassiveClock) Option { return func(p *Pool) { p.clock = c } }

// WithLogger sets the pool logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pool) { p.log = l } }

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option { return func(p *Pool) { p.tracer = t } }

// Pool is a shielded pool ledger. All methods are safe for concurrent use; writes are
// serialized and each one either commits completely or leaves no trace.
type Pool struct {
	mu sync.RWMutex
	st *state

	store    Store
	ledger   TokenLedger
	verifier ProofVerifier
	clock    clock.PassiveClock
	log      zerolog.Logger
	tracer   trace.Tracer

	subMu   sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64
}

// New opens a pool. Persisted state is loaded from the store when present; otherwise the
// genesis configuration is validated and committed.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	p := &Pool{
		store:    nopStore{},
		verifier: UnverifiedProofs{},
		clock:    clock.RealClock{},
		log:      zerolog.Nop(),
		tracer:   otel.Tracer("github.com/HamzaZF/shieldpool/internal/pool"),
		subs:     make(map[uint64]chan Event),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ledger == nil {
		return nil, errors.New("pool: token ledger is required")
	}

	snap, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pool state: %w", err)
	}
	if snap != nil {
		p.st = stateFromSnapshot(snap)
		p.log.Info().
			Int("commitments", len(snap.Commitments)).
			Int("batches", len(snap.Batches)).
			Uint64("event_seq", snap.EventSeq).
			Msg("pool state restored")
		return p, nil
	}

	if err := p.genesis(ctx, cfg); err != nil {
		return nil, err
	}
	p.log.Info().
		Str("owner", cfg.Owner.Hex()).
		Dur("mixing_period", p.st.params.MixingPeriod).
		Uint32("mix_size", p.st.params.MixSize).
		Int("tokens", len(cfg.Tokens)).
		Msg("pool initialised")
	return p, nil
}

func (p *Pool) genesis(ctx context.Context, cfg Config) error {
	params := cfg.Params
	if params == (MixingParameters{}) {
		params = DefaultMixingParameters()
	}
	if err := validateParams(params); err != nil {
		return err
	}
	if cfg.Owner == (Address{}) {
		return fmt.Errorf("%w: owner must be set", ErrInvalidParameters)
	}

	st := newState(cfg.Owner, params)
	for _, tok := range cfg.Tokens {
		if tok == (TokenID{}) {
			return ErrInvalidToken
		}
		st.admin.Tokens[tok] = true
	}
	cs := &ChangeSet{Params: &st.params, Admin: st.admin, Cursor: &st.cursor}
	if err := p.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("persist genesis: %w", err)
	}
	p.st = st
	return nil
}

func validateParams(params MixingParameters) error {
	if params.MixingPeriod <= 0 {
		return fmt.Errorf("%w: mixing period must be positive", ErrInvalidParameters)
	}
	if params.MixSize == 0 {
		return fmt.Errorf("%w: mix size must be positive", ErrInvalidParameters)
	}
	return nil
}

// run executes one write operation under the pool lock. fn stages its mutations in a txn;
// queued token transfers are then settled, the change-set persisted, and only then applied.
// Any failure on the way compensates settled transfers and discards the txn.
func (p *Pool) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(*txn) error) error {
	ctx, span := p.tracer.Start(ctx, "pool."+op, trace.WithAttributes(attrs...))
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return p.fail(span, op, err)
	}

	t := newTxn(p.st, p.clock.Now())
	t.custody = p.ledger.Custody()
	if err := fn(t); err != nil {
		return p.fail(span, op, err)
	}
	if err := t.settle(ctx, p.ledger); err != nil {
		return p.fail(span, op, err)
	}

	cs := t.changeSet(p.st.eventSeq)
	if err := p.store.Commit(ctx, cs); err != nil {
		if cerr := t.compensate(ctx, p.ledger); cerr != nil {
			p.log.Error().Err(cerr).Str("op", op).Msg("compensating token transfers failed")
		}
		return p.fail(span, op, fmt.Errorf("persist %s: %w", op, err))
	}
	p.st.apply(cs)

	span.SetAttributes(attribute.Int("pool.events", len(cs.Events)))
	span.SetStatus(codes.Ok, "")
	p.log.Debug().Str("op", op).Int("events", len(cs.Events)).Msg("operation committed")

	p.publish(cs.Events)
	return nil
}

func (p *Pool) fail(span trace.Span, op string, err error) error {
	kind := KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("pool.error_kind", string(kind)))

	ev := p.log.Debug()
	if kind == KindInternal {
		ev = p.log.Error()
	}
	ev.Err(err).Str("op", op).Str("kind", string(kind)).Msg("operation rejected")
	return err
}

// view runs fn against the committed state under the read lock.
func (p *Pool) view(fn func(*txn)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(newTxn(p.st, p.clock.Now()))
}

// Subscribe returns a channel receiving every event committed after the call, and a function
// that cancels the subscription. Slow subscribers miss events rather than block writers.
func (p *Pool) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
			close(ch)
		})
	}
}

func (p *Pool) publish(events []Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ev := range events {
		for id, ch := range p.subs {
			select {
			case ch <- ev:
			default:
				p.log.Warn().Uint64("subscriber", id).Uint64("seq", ev.Seq).Msg("event dropped for slow subscriber")
			}
		}
	}
}
