package transport

// #region imports
import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/gate"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #endregion

// #region service-desc

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qshield.v1.Shield"

// ShieldServer is the server side of qshield.v1.Shield.
type ShieldServer interface {
	Protect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Observe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Metrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Restore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Destroy(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type shieldMethod func(ShieldServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call shieldMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ShieldServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ShieldServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes qshield.v1.Shield for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ShieldServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Protect", ShieldServer.Protect),
		unary("Observe", ShieldServer.Observe),
		unary("Metrics", ShieldServer.Metrics),
		unary("Restore", ShieldServer.Restore),
		unary("Destroy", ShieldServer.Destroy),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qshield/v1/shield.proto",
}

// RegisterShieldServer registers srv on s.
func RegisterShieldServer(s grpc.ServiceRegistrar, srv ShieldServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// #endregion service-desc

// #region server

// Server serves qshield.v1.Shield from an orchestrator client.
type Server struct {
	client *orchestrator.Client
	logger *slog.Logger
}

// NewServer wraps client. A nil logger means slog.Default().
func NewServer(client *orchestrator.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{client: client, logger: logger}
}

// Protect handles Shield/Protect.
func (s *Server) Protect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ProtectRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	source, _ := callerAddr(ctx)
	res, err := s.client.ProtectData(ctx, req.Data, req.Policy, logging.AuditContext{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Source:    source,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(res)
}

// Observe handles Shield/Observe.
func (s *Server) Observe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ObserveRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if req.ID == "" {
		return nil, toStatus(errs.InvalidArgument("id is required"))
	}
	source, secure := callerAddr(ctx)
	ua := req.UserAgent
	if ua == "" {
		ua = firstMetadata(ctx, "user-agent")
	}
	res, err := s.client.ObserveData(ctx, req.ID, orchestrator.ObserveRequest{
		Credentials: gate.Credentials{UserID: req.UserID, Token: req.Token},
		Request: trust.RequestContext{
			UserID:    req.UserID,
			SourceIP:  source,
			UserAgent: ua,
			DeviceID:  req.DeviceID,
			TLS:       secure,
		},
		Environment: req.Environment,
		Proof:       req.Proof,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(res)
}

// Metrics handles Shield/Metrics.
func (s *Server) Metrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	m, err := s.client.Metrics(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(m)
}

// Restore handles Shield/Restore.
func (s *Server) Restore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	m, err := s.client.RestoreData(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(m)
}

// Destroy handles Shield/Destroy.
func (s *Server) Destroy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if err := s.client.DestroyData(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"id": req.ID, "destroyed": true})
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// #endregion server

// #region caller

// callerAddr returns the caller's address and whether the connection is TLS.
// A forwarding proxy may name the original client in x-forwarded-for.
func callerAddr(ctx context.Context) (string, bool) {
	var (
		addr   string
		secure bool
	)
	if p, ok := peer.FromContext(ctx); ok {
		if p.Addr != nil {
			addr = p.Addr.String()
			if host, _, err := net.SplitHostPort(addr); err == nil {
				addr = host
			}
		}
		_, secure = p.AuthInfo.(credentials.TLSInfo)
	}
	if fwd := firstMetadata(ctx, "x-forwarded-for"); fwd != "" {
		addr = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return addr, secure
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// #endregion caller

// #region interceptor

// UnaryLogger logs every call with its method, code and duration.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start))
		return resp, err
	}
}

// #endregion interceptor
