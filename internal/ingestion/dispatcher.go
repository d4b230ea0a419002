package ingestion

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"PerpPool/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// PriceSink accepts sequenced oracle prices.
type PriceSink interface {
	Apply(u *event.PriceUpdate) (bool, error)
}

// CommandSink applies commands in order.
type CommandSink interface {
	Submit(ctx context.Context, evt event.Event) (*core.Output, error)
}

// Dispatcher decodes raw stream messages and routes them: prices to the
// feed, commands to the runner.
type Dispatcher struct {
	prices   PriceSink
	commands CommandSink
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(prices PriceSink, commands CommandSink, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		prices:   prices,
		commands: commands,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run drains in until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles its ack. Malformed messages and
// engine rejections are acked since redelivery cannot change the outcome.
// Only a stopped runner or a cancelled context leads to a NAK.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	if raw.Kind == KindPrice {
		d.handlePrice(raw)
		return
	}

	evt, err := ParseCommand(raw.Kind, raw.Data, d.now())
	if err != nil {
		d.malformed(raw, err)
		ack(raw)
		return
	}

	_, err = d.commands.Submit(ctx, evt)
	switch {
	case err == nil, errors.Is(err, core.ErrDuplicate):
		ack(raw)
	case errors.Is(err, core.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		nak(raw)
	default:
		// rejection already logged and counted by the processor
		ack(raw)
	}
}

func (d *Dispatcher) handlePrice(raw RawEvent) {
	defer ack(raw)

	u, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		d.malformed(raw, err)
		return
	}
	accepted, err := d.prices.Apply(u)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("price update rejected")
		return
	}
	if !accepted {
		d.logger.Debug().
			Str("asset", u.Asset).
			Int64("sequence", u.Sequence).
			Msg("stale price update dropped")
	}
}

func (d *Dispatcher) malformed(raw RawEvent, err error) {
	if d.metrics != nil {
		d.metrics.CommandsRejected.WithLabelValues(string(raw.Kind), "malformed").Inc()
	}
	d.logger.Warn().
		Err(err).
		Str("subject", raw.Subject).
		Str("kind", string(raw.Kind)).
		Msg("malformed message")
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
