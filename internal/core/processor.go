package core

import (
	"PerpPool/internal/event"
	"PerpPool/internal/ledger"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/observability"
	"PerpPool/internal/oracle"
	"PerpPool/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// globalCheckInterval is how often (in sequences) the full ledger and
// position invariants are re-verified.
const globalCheckInterval = 1000

// Output is everything downstream consumers need from one applied command.
type Output struct {
	Envelope      *event.EventEnvelope
	Batch         *ledger.Batch
	Notifications []event.Notification
	Accounts      []AccountView
	Totals        PoolTotals
	Settlement    *Settlement
}

// Channels the processor fans out to. Persist is blocking; projection and
// publish drop when full.
type Channels struct {
	Persist    chan<- *Output
	Projection chan<- *Output
	Publish    chan<- *Output
}

// Processor sequences commands through the engine: dedup, apply, hash,
// fan out. Only the runner goroutine calls it.
type Processor struct {
	engine      *Engine
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	prices      oracle.Provider

	sequence int64
	channels Channels

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(
	engine *Engine,
	prices oracle.Provider,
	idempotency *IdempotencyChecker,
	channels Channels,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	if idempotency == nil {
		idempotency = NewIdempotencyChecker(100_000, nil, metrics, logger)
	}
	return &Processor{
		engine:      engine,
		hasher:      NewStateHasher(),
		idempotency: idempotency,
		prices:      prices,
		channels:    channels,
		metrics:     metrics,
		logger:      logger,
	}
}

func (p *Processor) Engine() *Engine { return p.engine }

func (p *Processor) Sequence() int64 { return p.sequence }

func (p *Processor) StateHash() [32]byte { return p.hasher.GetPrevHash() }

// Process applies one live command. A rejected command consumes no
// sequence number and changes no state.
func (p *Processor) Process(evt event.Event) (*Output, error) {
	start := time.Now()
	name := evt.EventType().String()

	if p.idempotency.IsDuplicate(name, evt.IdempotencyKey()) {
		p.reject(name, ErrDuplicate)
		return nil, fmt.Errorf("%s: %w", evt.IdempotencyKey(), ErrDuplicate)
	}

	prices := p.prices.Snapshot()
	seq := p.sequence + 1

	res, err := p.apply(seq, evt, prices)
	if err != nil {
		p.reject(name, err)
		return nil, err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		// the command is already applied; an unencodable payload is a bug
		panic(fmt.Sprintf("FATAL: encode %s: %v", evt.IdempotencyKey(), err))
	}

	prevHash := p.hasher.GetPrevHash()
	stateHash := p.hasher.ComputeHash(seq, p.engine.digest(res))
	p.sequence = seq

	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		AssetID:        evt.AssetID(),
		Timestamp:      time.UnixMicro(evt.EventTime()).UTC(),
		Payload:        payload,
		Prices:         prices.Encode(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if seq%globalCheckInterval == 0 {
		if err := p.engine.CheckInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated at seq=%d: %v", seq, err))
		}
	}

	out := p.output(env, res)
	p.emit(out)
	p.idempotency.MarkProcessed(name, evt.IdempotencyKey())
	p.observe(name, out, time.Since(start))
	return out, nil
}

// Replay re-applies a logged command and verifies it lands on the logged
// hash. Replayed commands are trusted: authorization happened live.
func (p *Processor) Replay(env *event.EventEnvelope) error {
	if env.Sequence != p.sequence+1 {
		return fmt.Errorf("replay gap: have seq=%d, got seq=%d", p.sequence, env.Sequence)
	}
	if env.PrevHash != p.hasher.GetPrevHash() {
		return fmt.Errorf("replay seq=%d: prev hash mismatch", env.Sequence)
	}
	evt, err := event.DecodeCommand(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}
	switch cmd := evt.(type) {
	case *event.RiskParamUpdate:
		cmd.Origin.Root = true
	case *event.WalletFunded:
		cmd.Origin.Root = true
	}

	res, err := p.apply(env.Sequence, evt, oracle.Decode(env.Prices))
	if err != nil {
		return fmt.Errorf("replay seq=%d (%s): %w", env.Sequence, env.IdempotencyKey, err)
	}
	hash := p.hasher.Peek(env.Sequence, p.engine.digest(res))
	if hash != env.StateHash {
		return fmt.Errorf("replay seq=%d: state hash mismatch: got=%x, logged=%x",
			env.Sequence, hash, env.StateHash)
	}
	p.hasher.SetPrevHash(hash)
	p.sequence = env.Sequence
	p.idempotency.MarkProcessed(env.EventType.String(), env.IdempotencyKey)
	if p.metrics != nil {
		p.metrics.ReplayCommands.Inc()
		p.metrics.Sequence.Set(float64(p.sequence))
	}
	return nil
}

func (p *Processor) apply(seq int64, evt event.Event, prices state.PriceSource) (*Result, error) {
	switch cmd := evt.(type) {
	case *event.MintRequested:
		return p.engine.Mint(seq, cmd, prices)
	case *event.RiskParamUpdate:
		return p.engine.SetRiskParams(cmd)
	case *event.SettlementTick:
		return p.engine.Tick(cmd, prices), nil
	case *event.WalletFunded:
		return p.engine.FundWallet(seq, cmd)
	default:
		return nil, fmt.Errorf("command %T: %w", evt, ErrInvalidCommand)
	}
}

func (p *Processor) output(env *event.EventEnvelope, res *Result) *Output {
	out := &Output{
		Envelope:      env,
		Batch:         res.Batch,
		Notifications: res.Notifications,
		Settlement:    res.Settlement,
		Totals:        p.engine.PoolTotals(),
	}
	for _, acct := range res.Accounts {
		out.Accounts = append(out.Accounts, p.engine.Account(acct))
	}
	return out
}

func (p *Processor) emit(out *Output) {
	if p.channels.Persist != nil {
		p.channels.Persist <- out
	}
	if p.channels.Projection != nil {
		select {
		case p.channels.Projection <- out:
		default:
			if p.metrics != nil {
				p.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if p.channels.Publish != nil {
		select {
		case p.channels.Publish <- out:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (p *Processor) reject(name string, err error) {
	reason := RejectReason(err)
	if p.metrics != nil {
		p.metrics.CommandsRejected.WithLabelValues(name, reason).Inc()
	}
	lvl := p.logger.Info()
	if !errors.Is(err, ErrDuplicate) && reason == "other" {
		lvl = p.logger.Warn()
	}
	lvl.Err(err).Str("command", name).Str("reason", reason).Msg("command rejected")
}

func (p *Processor) observe(name string, out *Output, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	m := p.metrics
	m.CommandsApplied.WithLabelValues(name).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.Sequence.Set(float64(out.Envelope.Sequence))
	m.CustodyBalance.Set(float64(out.Totals.Collateral))
	m.FeeSinkBalance.Set(float64(out.Totals.Treasury))
	for _, a := range out.Totals.Assets {
		m.OpenInterest.WithLabelValues(string(a.Asset), "long").Set(float64(a.Longs))
		m.OpenInterest.WithLabelValues(string(a.Asset), "short").Set(float64(a.Shorts))
	}

	s := out.Settlement
	if s == nil {
		return
	}
	m.TickDuration.Observe(elapsed.Seconds())
	for _, mark := range s.Marks {
		if !mark.Priced {
			m.AssetsSkipped.WithLabelValues(string(mark.Asset)).Inc()
		}
		for _, d := range mark.Drifts {
			if d.Drift < 0 && fpmath.AbsAmount(d.Drift) > d.Before {
				m.MarginClamped.Inc()
			}
		}
	}
	for _, a := range s.Actions {
		m.AccountsLiquidated.WithLabelValues(a.Kind.String()).Inc()
	}
}
