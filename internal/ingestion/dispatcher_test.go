package ingestion_test

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/observability"
	"PerpPool/internal/oracle"
	"PerpPool/internal/state"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	submitted []event.Event
	err       error
}

func (f *fakeRunner) Submit(_ context.Context, evt event.Event) (*core.Output, error) {
	f.submitted = append(f.submitted, evt)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Output{}, nil
}

func (f *fakeRunner) NewTickID(now time.Time) string {
	return fmt.Sprintf("tick-%d", now.Unix())
}

type acks struct{ acked, naked int }

func (a *acks) raw(kind ingestion.CommandKind, data string) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject: "test",
		Kind:    kind,
		Data:    []byte(data),
		AckFunc: func() { a.acked++ },
		NakFunc: func() { a.naked++ },
	}
}

func newDispatcher(t *testing.T, runner *fakeRunner) (*ingestion.Dispatcher, *oracle.Feed, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	feed := oracle.NewFeed(state.MustUniverse("DOT"), metrics)
	return ingestion.NewDispatcher(feed, runner, metrics, zerolog.Nop()), feed, metrics
}

func TestDispatcher_PricesFeedTheOracle(t *testing.T) {
	d, feed, _ := newDispatcher(t, &fakeRunner{})
	var a acks

	d.Handle(context.Background(), a.raw(ingestion.KindPrice, `{"asset":"DOT","price":"21","sequence":2}`))
	d.Handle(context.Background(), a.raw(ingestion.KindPrice, `{"asset":"DOT","price":"19","sequence":1}`))

	price, ok := feed.Snapshot().Price("DOT")
	require.True(t, ok)
	assert.Equal(t, "21", price.String(), "stale update must not overwrite")
	assert.Equal(t, 2, a.acked)
}

func TestDispatcher_UnknownAssetPriceIsAcked(t *testing.T) {
	d, feed, _ := newDispatcher(t, &fakeRunner{})
	var a acks

	d.Handle(context.Background(), a.raw(ingestion.KindPrice, `{"asset":"BTC","price":"1","sequence":1}`))

	assert.Empty(t, feed.Snapshot().Assets())
	assert.Equal(t, 1, a.acked)
	assert.Zero(t, a.naked)
}

func TestDispatcher_CommandsGoToRunner(t *testing.T) {
	runner := &fakeRunner{}
	d, _, _ := newDispatcher(t, runner)
	var a acks

	d.Handle(context.Background(), a.raw(ingestion.KindMint,
		`{"request_id":"m-1","account_id":"`+alice+`","asset":"DOT","exposure_delta":"5","collateral_delta":"100"}`))

	require.Len(t, runner.submitted, 1)
	assert.Equal(t, "mint:m-1", runner.submitted[0].IdempotencyKey())
	assert.Equal(t, 1, a.acked)
}

func TestDispatcher_MalformedIsAckedAndCounted(t *testing.T) {
	runner := &fakeRunner{}
	d, _, metrics := newDispatcher(t, runner)
	var a acks

	d.Handle(context.Background(), a.raw(ingestion.KindMint, `{not json`))

	assert.Empty(t, runner.submitted)
	assert.Equal(t, 1, a.acked)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CommandsRejected.WithLabelValues("mint", "malformed")))
}

func TestDispatcher_AckSemantics(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		acked int
		naked int
	}{
		{"applied", nil, 1, 0},
		{"duplicate", core.ErrDuplicate, 1, 0},
		{"rejected", core.ErrNotEnoughIM, 1, 0},
		{"runner stopped", core.ErrStopped, 0, 1},
		{"cancelled", context.Canceled, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newDispatcher(t, &fakeRunner{err: tt.err})
			var a acks

			d.Handle(context.Background(), a.raw(ingestion.KindTick, `{"tick_id":"t-1"}`))

			assert.Equal(t, tt.acked, a.acked)
			assert.Equal(t, tt.naked, a.naked)
		})
	}
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	runner := &fakeRunner{}
	d, _, _ := newDispatcher(t, runner)
	in := make(chan ingestion.RawEvent, 2)
	var a acks
	in <- a.raw(ingestion.KindTick, `{"tick_id":"t-1"}`)
	in <- a.raw(ingestion.KindTick, `{"tick_id":"t-2"}`)
	close(in)

	require.NoError(t, d.Run(context.Background(), in))
	assert.Len(t, runner.submitted, 2)
	assert.Equal(t, 2, a.acked)
}

func TestGRPCIngestService_FillsIdentifiers(t *testing.T) {
	runner := &fakeRunner{}
	svc := ingestion.NewGRPCIngestService(runner)

	_, err := svc.Tick(context.Background(), ingestion.TickRequest{})
	require.NoError(t, err)
	_, err = svc.FundWallet(context.Background(), ingestion.FundWalletRequest{AccountID: alice, Amount: "10"})
	require.NoError(t, err)

	require.Len(t, runner.submitted, 2)
	tick := runner.submitted[0].(*event.SettlementTick)
	assert.Contains(t, tick.TickID, "tick-")
	fund := runner.submitted[1].(*event.WalletFunded)
	assert.NotEmpty(t, fund.RequestID)
	assert.Equal(t, int64(10), fund.Amount)
}

func TestGRPCIngestService_InvalidRequestNotSubmitted(t *testing.T) {
	runner := &fakeRunner{}
	svc := ingestion.NewGRPCIngestService(runner)

	_, err := svc.Mint(context.Background(), ingestion.MintRequest{AccountID: "bogus", Asset: "DOT"})
	require.ErrorIs(t, err, core.ErrInvalidCommand)
	assert.Empty(t, runner.submitted)
}
