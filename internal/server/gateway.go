package server

import (
	"PerpPool/internal/ingestion"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var marshaler = &runtime.JSONBuiltin{}

// errorBody is the HTTP error payload.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP surface: the gateway routes plus health probes.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/mint", s.postMint},
		{"POST", "/v1/wallets/{account}/fund", s.postFundWallet},
		{"POST", "/v1/admin/assets/{asset}/risk-params", s.postRiskParams},
		{"POST", "/v1/admin/tick", s.postTick},
		{"POST", "/v1/admin/snapshot", s.postSnapshot},
		{"GET", "/v1/admin/integrity", s.getIntegrity},
		{"GET", "/v1/accounts/{account}", s.getAccount},
		{"GET", "/v1/accounts/{account}/journals", s.getJournals},
		{"GET", "/v1/assets/{asset}/risk-params", s.getAssetParams},
		{"GET", "/v1/pool", s.getPool},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func (s *GRPCServer) postMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req ingestion.MintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.service.Mint(r.Context(), &req)
	s.respond(w, "Mint", resp, err)
}

func (s *GRPCServer) postFundWallet(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req ingestion.FundWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.AccountID = p["account"]
	resp, err := s.service.FundWallet(withAuthorization(r), &req)
	s.respond(w, "FundWallet", resp, err)
}

func (s *GRPCServer) postRiskParams(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req ingestion.RiskParamsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Asset = p["asset"]
	resp, err := s.service.SetRiskParams(withAuthorization(r), &req)
	s.respond(w, "SetRiskParams", resp, err)
}

func (s *GRPCServer) postTick(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req ingestion.TickRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.service.Tick(withAuthorization(r), &req)
	s.respond(w, "Tick", resp, err)
}

func (s *GRPCServer) postSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.TakeSnapshot(withAuthorization(r), &TakeSnapshotRequest{})
	s.respond(w, "TakeSnapshot", resp, err)
}

func (s *GRPCServer) getIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	s.respond(w, "VerifyIntegrity", resp, err)
}

func (s *GRPCServer) getAccount(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.service.GetAccount(r.Context(), &AccountRequest{AccountID: p["account"]})
	s.respond(w, "GetAccount", resp, err)
}

func (s *GRPCServer) getJournals(w http.ResponseWriter, r *http.Request, p map[string]string) {
	req := &ListJournalsRequest{AccountID: p["account"]}
	q := r.URL.Query()
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "page_size: %v", err))
			return
		}
		req.PageSize = n
	}
	if v := q.Get("after_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "after_sequence: %v", err))
			return
		}
		req.AfterSequence = n
	}
	resp, err := s.service.ListJournals(r.Context(), req)
	s.respond(w, "ListJournals", resp, err)
}

func (s *GRPCServer) getAssetParams(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.service.GetAssetParams(r.Context(), &AssetRequest{Asset: p["asset"]})
	s.respond(w, "GetAssetParams", resp, err)
}

func (s *GRPCServer) getPool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.GetPoolTotals(r.Context(), &PoolRequest{})
	s.respond(w, "GetPoolTotals", resp, err)
}

func (s *GRPCServer) respond(w http.ResponseWriter, method string, resp any, err error) {
	code := status.Code(toStatus(err))
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues("http/"+method, code.String()).Inc()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// withAuthorization carries the Authorization header into incoming gRPC
// metadata, where the service looks for bearer tokens.
func withAuthorization(r *http.Request) context.Context {
	ctx := r.Context()
	if auth := r.Header.Get("Authorization"); auth != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", auth))
	}
	return ctx
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := marshaler.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil && err != io.EOF {
		writeError(w, status.Errorf(codes.InvalidArgument, "malformed body: %v", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	data, err := marshaler.Marshal(body)
	if err != nil {
		code = http.StatusInternalServerError
		data = []byte(`{"code":"Internal","message":"encode response"}`)
	}
	w.Header().Set("Content-Type", marshaler.ContentType(body))
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
