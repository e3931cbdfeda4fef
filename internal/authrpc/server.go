package authrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/pkg/auth"
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service is what the server exposes: the backend and the key directory.
type Service interface {
	auth.Backend
	auth.Directory
}

// Server adapts a Service to AuthBackendServer.
type Server struct {
	svc    Service
	logger *slog.Logger
}

var _ AuthBackendServer = (*Server)(nil)

// NewServer returns an adapter for svc.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, logger: logger}
}

// NewGRPCServer returns a gRPC server with svc registered. tlsCfg may be
// nil for tests over an in-memory network.
func NewGRPCServer(svc Service, tlsCfg *tls.Config, logger *slog.Logger) *grpc.Server {
	s := NewServer(svc, logger)
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
		grpc.ChainUnaryInterceptor(s.logCalls),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	RegisterAuthBackendServer(srv, s)
	return srv
}

func (s *Server) RequestChallenge(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	c, err := s.svc.RequestChallenge(ctx, in.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.Bytes(c), nil
}

func (s *Server) VerifyLogin(ctx context.Context, in *structpb.Struct) (*wrapperspb.BoolValue, error) {
	fields := in.GetFields()
	challenge, err := bytesField(fields, fieldChallenge)
	if err != nil {
		return nil, err
	}
	sig, err := bytesField(fields, fieldSignature)
	if err != nil {
		return nil, err
	}
	ok, err := s.svc.VerifyLogin(ctx, stringField(fields, fieldUsername), challenge, sig)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) RegisterIdentity(ctx context.Context, in *structpb.Struct) (*wrapperspb.BoolValue, error) {
	fields := in.GetFields()
	signPub, err := bytesField(fields, fieldSignPublicKey)
	if err != nil {
		return nil, err
	}
	kexPub, err := bytesField(fields, fieldKexPublicKey)
	if err != nil {
		return nil, err
	}
	ok, err := s.svc.RegisterIdentity(ctx, stringField(fields, fieldUsername),
		stringField(fields, fieldEmail), signPub, kexPub)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) GetPublicKey(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	key, err := s.svc.GetPublicKey(ctx, in.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.Bytes(key), nil
}

// toStatus maps service errors to gRPC codes. Unexpected errors are logged
// and replaced with a generic message.
func (s *Server) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnknownUser):
		return status.Error(codes.NotFound, "unknown user")
	case errors.Is(err, auth.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, cryptoerr.ErrInvalidInputLength):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.ErrorContext(ctx, "request failed", "err", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (any, error) {

	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.DebugContext(ctx, "rpc",
		"method", strings.TrimPrefix(info.FullMethod, "/"+ServiceName+"/"),
		"code", status.Code(err).String(),
		"elapsed", time.Since(start),
	)
	return resp, err
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return fields[name].GetStringValue()
}

func bytesField(fields map[string]*structpb.Value, name string) ([]byte, error) {
	v, ok := fields[name]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "missing field %s", name)
	}
	raw, err := keyfmt.Decode(v.GetStringValue(), 0)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "field %s: %v", name, err)
	}
	return raw, nil
}
