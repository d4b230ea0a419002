package server

import (
	"PerpPool/internal/auth"
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	"PerpPool/internal/ingestion"
	"PerpPool/internal/query"
	"PerpPool/internal/state"
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// PoolServer is the request/response surface shared by gRPC and HTTP.
type PoolServer interface {
	SetRiskParams(ctx context.Context, req *ingestion.RiskParamsRequest) (*CommandResponse, error)
	Mint(ctx context.Context, req *ingestion.MintRequest) (*CommandResponse, error)
	Tick(ctx context.Context, req *ingestion.TickRequest) (*CommandResponse, error)
	FundWallet(ctx context.Context, req *ingestion.FundWalletRequest) (*CommandResponse, error)
	GetAccount(ctx context.Context, req *AccountRequest) (*query.AccountResponse, error)
	GetAssetParams(ctx context.Context, req *AssetRequest) (*query.AssetParamsResponse, error)
	GetPoolTotals(ctx context.Context, req *PoolRequest) (*query.PoolResponse, error)
	ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error)
	VerifyIntegrity(ctx context.Context, req *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	TakeSnapshot(ctx context.Context, req *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
}

// CommandResponse reports an applied command.
type CommandResponse struct {
	Sequence       int64    `json:"sequence"`
	IdempotencyKey string   `json:"idempotency_key"`
	StateHash      string   `json:"state_hash"`
	Notifications  []Notice `json:"notifications"`
}

type Notice struct {
	Type    string             `json:"type"`
	Payload event.Notification `json:"payload"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type AssetRequest struct {
	Asset string `json:"asset"`
}

type PoolRequest struct{}

type ListJournalsRequest struct {
	AccountID     string `json:"account_id"`
	PageSize      int    `json:"page_size"`
	AfterSequence int64  `json:"after_sequence"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type VerifyIntegrityRequest struct{}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

// Snapshotter captures and stores an engine snapshot on demand.
type Snapshotter interface {
	SnapshotNow(ctx context.Context) error
}

// PoolService implements PoolServer over the ingest and query services.
// Manual ticks and snapshots are operator actions and pass the admin gate
// here; risk params and wallet funding are gated inside the engine.
type PoolService struct {
	ingest    *ingestion.GRPCIngestService
	query     *query.QueryService
	snapshots Snapshotter
	admin     auth.Authorizer
}

// NewPoolService wires the service. A nil admin gate refuses every caller.
func NewPoolService(ingest *ingestion.GRPCIngestService, qs *query.QueryService, snapshots Snapshotter, admin auth.Authorizer) *PoolService {
	if admin == nil {
		admin = auth.RootOnly{}
	}
	return &PoolService{ingest: ingest, query: qs, snapshots: snapshots, admin: admin}
}

func (s *PoolService) authorize(ctx context.Context) error {
	if err := s.admin.AuthorizeAdmin(event.Origin{Token: bearerFromMetadata(ctx)}); err != nil {
		return toStatus(err)
	}
	return nil
}

func (s *PoolService) SetRiskParams(ctx context.Context, req *ingestion.RiskParamsRequest) (*CommandResponse, error) {
	if req.Token == "" {
		req.Token = bearerFromMetadata(ctx)
	}
	return commandResult(s.ingest.SetRiskParams(ctx, *req))
}

func (s *PoolService) Mint(ctx context.Context, req *ingestion.MintRequest) (*CommandResponse, error) {
	return commandResult(s.ingest.Mint(ctx, *req))
}

func (s *PoolService) Tick(ctx context.Context, req *ingestion.TickRequest) (*CommandResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return commandResult(s.ingest.Tick(ctx, *req))
}

func (s *PoolService) FundWallet(ctx context.Context, req *ingestion.FundWalletRequest) (*CommandResponse, error) {
	if req.Token == "" {
		req.Token = bearerFromMetadata(ctx)
	}
	return commandResult(s.ingest.FundWallet(ctx, *req))
}

func (s *PoolService) GetAccount(ctx context.Context, req *AccountRequest) (*query.AccountResponse, error) {
	account, err := parseAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	resp, err := s.query.GetAccount(ctx, account)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *PoolService) GetAssetParams(ctx context.Context, req *AssetRequest) (*query.AssetParamsResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	resp, err := s.query.GetAssetParams(ctx, state.AssetID(req.Asset))
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *PoolService) GetPoolTotals(ctx context.Context, _ *PoolRequest) (*query.PoolResponse, error) {
	resp, err := s.query.GetPoolTotals(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *PoolService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	account, err := parseAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	var after *int64
	if req.AfterSequence > 0 {
		after = &req.AfterSequence
	}
	entries, err := s.query.GetJournalHistory(ctx, account, req.PageSize, after)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *PoolService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

func (s *PoolService) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	if err := s.snapshots.SnapshotNow(ctx); err != nil {
		return nil, toStatus(err)
	}
	pool, err := s.query.GetPoolTotals(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TakeSnapshotResponse{Sequence: pool.AsOfSequence}, nil
}

func commandResult(out *core.Output, err error) (*CommandResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	env := out.Envelope
	resp := &CommandResponse{
		Sequence:       env.Sequence,
		IdempotencyKey: env.IdempotencyKey,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Notifications:  make([]Notice, 0, len(out.Notifications)),
	}
	for _, n := range out.Notifications {
		resp.Notifications = append(resp.Notifications, Notice{Type: string(n.NotificationType()), Payload: n})
	}
	return resp, nil
}

func parseAccount(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid account_id: %v", err)
	}
	return id, nil
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok {
			return tok
		}
	}
	return ""
}
