package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// The remote generator speaks a single unary method whose request and
// response are google.protobuf.Struct values:
//
//	request:  {agent_name, step, draft, history: [{role, text}]}
//	response: {text}
const (
	generatorServiceName = "callagent.v1.ResponseGenerator"
	generateMethod       = "/" + generatorServiceName + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC generator client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	if addr == "" {
		addr = "localhost:50051"
	}
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGenerator calls a remote response generator over gRPC.
type GRPCGenerator struct {
	conn           *grpc.ClientConn
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewGRPC connects to the generator at cfg.Address and waits until the
// connection is ready so bad endpoints fail at startup.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to response generator", "address", cfg.Address)
	return &GRPCGenerator{conn: conn, requestTimeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Generate implements Generator.
func (g *GRPCGenerator) Generate(ctx context.Context, req Request) (string, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return "", err
	}

	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}

	text := out.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Close closes the gRPC connection.
func (g *GRPCGenerator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, map[string]any{"role": string(h.Role), "text": h.Text})
	}
	in, err := structpb.NewStruct(map[string]any{
		"agent_name": req.AgentName,
		"step":       req.Step,
		"draft":      req.Draft,
		"history":    history,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return in, nil
}

// ResponseGeneratorServer is implemented by generator backends.
type ResponseGeneratorServer interface {
	Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterResponseGeneratorServer registers srv on s.
func RegisterResponseGeneratorServer(s grpc.ServiceRegistrar, srv ResponseGeneratorServer) {
	s.RegisterService(&generatorServiceDesc, srv)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: generatorServiceName,
	HandlerType: (*ResponseGeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "callagent/v1/generator.proto",
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResponseGeneratorServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResponseGeneratorServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// EchoServer is a generator backend that returns the draft unchanged,
// optionally prefixed. It is used for local development and tests.
type EchoServer struct {
	Prefix string
}

// Generate implements ResponseGeneratorServer.
func (e EchoServer) Generate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	draft := in.GetFields()["draft"].GetStringValue()
	return structpb.NewStruct(map[string]any{"text": e.Prefix + draft})
}
