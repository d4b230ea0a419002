package server

import (
	"PerpPool/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "perppool.v1.PoolService"

// JSONCodec carries plain Go structs over gRPC. It is registered under the
// "json" content-subtype, so PoolService clients select it with
// grpc.CallContentSubtype("json") while health and reflection keep proto.
type JSONCodec struct{}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

// ServiceDesc describes PoolServer without generated stubs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoolServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SetRiskParams", PoolServer.SetRiskParams),
		unary("Mint", PoolServer.Mint),
		unary("Tick", PoolServer.Tick),
		unary("FundWallet", PoolServer.FundWallet),
		unary("GetAccount", PoolServer.GetAccount),
		unary("GetAssetParams", PoolServer.GetAssetParams),
		unary("GetPoolTotals", PoolServer.GetPoolTotals),
		unary("ListJournals", PoolServer.ListJournals),
		unary("VerifyIntegrity", PoolServer.VerifyIntegrity),
		unary("TakeSnapshot", PoolServer.TakeSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "perppool/v1/pool.proto",
}

func unary[Req, Resp any](name string, call func(PoolServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(PoolServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// RegisterPoolServer registers srv on s.
func RegisterPoolServer(s grpc.ServiceRegistrar, srv PoolServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// GRPCServer serves PoolServer over gRPC and over HTTP/JSON through a
// grpc-gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       PoolServer
	healthChecker *observability.HealthChecker
	healthServer  *health.Server
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// ServerDeps holds everything the servers need.
type ServerDeps struct {
	Service       PoolServer
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps, logger zerolog.Logger) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        logger,
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.observeUnary),
	)
	RegisterPoolServer(s.grpcServer, deps.Service)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(s.grpcServer)
	return s
}

// SetServing flips the gRPC health status, typically once replay finished.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// GRPC exposes the underlying server, mainly for tests.
func (s *GRPCServer) GRPC() *grpc.Server { return s.grpcServer }

// StartGRPC serves gRPC until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON surface until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *GRPCServer) observeUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
	}
	s.logger.Debug().
		Str("method", info.FullMethod).
		Str("code", code.String()).
		Dur("elapsed", time.Since(start)).
		Msg("grpc call")
	return resp, err
}
