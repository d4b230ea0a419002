package core

import (
	"PerpPool/internal/event"
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SnapshotStore persists engine snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *StateSnapshot) error
}

// RunnerConfig tunes the runner loop.
type RunnerConfig struct {
	// Queue depth of pending commands and queries.
	QueueSize int

	// When > 0 the runner submits a settlement tick on this interval.
	TickInterval time.Duration

	// When > 0 a snapshot is taken every N sequences.
	SnapshotInterval int64
}

type request struct {
	evt   event.Event
	query func(*Processor)
	reply chan response
}

type response struct {
	out *Output
	err error
}

// Runner owns the processor. Every command and query runs on the runner
// goroutine, one at a time, in arrival order.
type Runner struct {
	proc      *Processor
	cfg       RunnerConfig
	requests  chan request
	done      chan struct{}
	snapshots SnapshotStore
	logger    zerolog.Logger

	lastSnapshot int64
	snapWG       sync.WaitGroup

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewRunner(proc *Processor, cfg RunnerConfig, snapshots SnapshotStore, logger zerolog.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &Runner{
		proc:         proc,
		cfg:          cfg,
		requests:     make(chan request, cfg.QueueSize),
		done:         make(chan struct{}),
		snapshots:    snapshots,
		logger:       logger,
		lastSnapshot: proc.Sequence(),
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
}

// Run serves requests until ctx is cancelled. It must be called once.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	var tickC <-chan time.Time
	if r.cfg.TickInterval > 0 {
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	r.logger.Info().
		Int64("sequence", r.proc.Sequence()).
		Dur("tick_interval", r.cfg.TickInterval).
		Msg("runner started")

	for {
		select {
		case <-ctx.Done():
			r.snapWG.Wait()
			r.logger.Info().Int64("sequence", r.proc.Sequence()).Msg("runner stopped")
			return nil

		case req := <-r.requests:
			r.serve(ctx, req)

		case now := <-tickC:
			tick := &event.SettlementTick{TickID: r.NewTickID(now), Timestamp: now.UnixMicro()}
			if _, err := r.proc.Process(tick); err != nil {
				r.logger.Error().Err(err).Str("tick_id", tick.TickID).Msg("scheduled tick failed")
			}
			r.maybeSnapshot(ctx)
		}
	}
}

func (r *Runner) serve(ctx context.Context, req request) {
	if req.query != nil {
		req.query(r.proc)
		req.reply <- response{}
		return
	}
	out, err := r.proc.Process(req.evt)
	req.reply <- response{out: out, err: err}
	if err == nil {
		r.maybeSnapshot(ctx)
	}
}

// Submit applies one command and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (*Output, error) {
	resp, err := r.call(ctx, request{evt: evt, reply: make(chan response, 1)})
	if err != nil {
		return nil, err
	}
	return resp.out, resp.err
}

// Query runs fn on the runner goroutine. fn must not retain the processor.
func (r *Runner) Query(ctx context.Context, fn func(*Processor)) error {
	_, err := r.call(ctx, request{query: fn, reply: make(chan response, 1)})
	return err
}

func (r *Runner) call(ctx context.Context, req request) (response, error) {
	select {
	case r.requests <- req:
	case <-r.done:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-r.done:
		return response{}, ErrStopped
	case <-ctx.Done():
		// the request may still be applied; the caller only stops waiting
		return response{}, ctx.Err()
	}
}

// SnapshotNow captures a snapshot on the runner goroutine and saves it.
func (r *Runner) SnapshotNow(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	var snap *StateSnapshot
	if err := r.Query(ctx, func(p *Processor) { snap = p.Snapshot() }); err != nil {
		return err
	}
	return r.snapshots.SaveSnapshot(ctx, snap)
}

func (r *Runner) maybeSnapshot(ctx context.Context) {
	if r.snapshots == nil || r.cfg.SnapshotInterval <= 0 {
		return
	}
	seq := r.proc.Sequence()
	if seq-r.lastSnapshot < r.cfg.SnapshotInterval {
		return
	}
	r.lastSnapshot = seq
	snap := r.proc.Snapshot()

	r.snapWG.Add(1)
	go func() {
		defer r.snapWG.Done()
		if err := r.snapshots.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot failed")
			return
		}
		r.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot saved")
	}()
}

// NewTickID returns a time-ordered tick identifier.
func (r *Runner) NewTickID(now time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
}
