package ingestion

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"context"
	"time"

	"github.com/google/uuid"
)

// Runner is the command sink the request/response API submits to.
type Runner interface {
	CommandSink
	NewTickID(now time.Time) string
}

// GRPCIngestService submits commands arriving over gRPC or HTTP and waits
// for their outcome. NATS remains the bulk path; this one answers callers.
// Requests without an id get a fresh one, so retries of those are not
// deduplicated.
type GRPCIngestService struct {
	runner Runner
	now    func() time.Time
}

func NewGRPCIngestService(runner Runner) *GRPCIngestService {
	return &GRPCIngestService{runner: runner, now: time.Now}
}

func (s *GRPCIngestService) Mint(ctx context.Context, req MintRequest) (*core.Output, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	evt, err := req.Event(s.now())
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, evt)
}

func (s *GRPCIngestService) SetRiskParams(ctx context.Context, req RiskParamsRequest) (*core.Output, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	evt, err := req.Event(s.now())
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, evt)
}

func (s *GRPCIngestService) FundWallet(ctx context.Context, req FundWalletRequest) (*core.Output, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	evt, err := req.Event(s.now())
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, evt)
}

// Tick runs a settlement cycle immediately.
func (s *GRPCIngestService) Tick(ctx context.Context, req TickRequest) (*core.Output, error) {
	now := s.now()
	if req.TickID == "" {
		req.TickID = s.runner.NewTickID(now)
	}
	evt, err := req.Event(now)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, evt)
}

func (s *GRPCIngestService) submit(ctx context.Context, evt event.Event) (*core.Output, error) {
	return s.runner.Submit(ctx, evt)
}
