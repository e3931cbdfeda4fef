package authrpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/pkg/auth"
	"github.com/shary-app/sharycore/pkg/cryptoerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is an auth.Backend and auth.Directory talking to a remote server.
type Client struct {
	cc grpc.ClientConnInterface
}

var (
	_ auth.Backend   = (*Client)(nil)
	_ auth.Directory = (*Client)(nil)
)

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial creates a connection to addr. dial replaces the default dialer, which
// is how Tor and in-memory networks are plugged in. A nil tlsCfg means
// plaintext and is only meant for in-memory networks.
func Dial(addr string, tlsCfg *tls.Config,
	dial func(context.Context, string) (net.Conn, error)) (*grpc.ClientConn, error) {

	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize),
		),
	}
	if dial != nil {
		opts = append(opts, grpc.WithContextDialer(dial))
	}
	conn, err := grpc.NewClient("passthrough:///"+addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn, nil
}

func (c *Client) RequestChallenge(ctx context.Context, username string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, MethodRequestChallenge, wrapperspb.String(username), out)
	if err != nil {
		return nil, fromStatus("authrpc.RequestChallenge", err)
	}
	return out.GetValue(), nil
}

func (c *Client) VerifyLogin(ctx context.Context, username string, challenge, signature []byte) (bool, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldUsername:  structpb.NewStringValue(username),
		fieldChallenge: structpb.NewStringValue(keyfmt.Encode(challenge)),
		fieldSignature: structpb.NewStringValue(keyfmt.Encode(signature)),
	}}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodVerifyLogin, in, out); err != nil {
		return false, fromStatus("authrpc.VerifyLogin", err)
	}
	return out.GetValue(), nil
}

func (c *Client) RegisterIdentity(ctx context.Context, username, email string, signPub, kexPub []byte) (bool, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldUsername:      structpb.NewStringValue(username),
		fieldEmail:         structpb.NewStringValue(email),
		fieldSignPublicKey: structpb.NewStringValue(keyfmt.Encode(signPub)),
		fieldKexPublicKey:  structpb.NewStringValue(keyfmt.Encode(kexPub)),
	}}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodRegisterIdentity, in, out); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fromStatus("authrpc.RegisterIdentity", err)
	}
	return out.GetValue(), nil
}

func (c *Client) GetPublicKey(ctx context.Context, user string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, MethodGetPublicKey, wrapperspb.String(user), out); err != nil {
		return nil, fromStatus("authrpc.GetPublicKey", err)
	}
	return out.GetValue(), nil
}

// fromStatus maps gRPC codes back to the errors the server started from.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return cryptoerr.Wrap(cryptoerr.KindTransportError, op, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return auth.ErrUnknownUser
	case codes.ResourceExhausted:
		return auth.ErrRateLimited
	case codes.InvalidArgument:
		return cryptoerr.New(cryptoerr.KindInvalidInputLength, op, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return cryptoerr.Wrap(cryptoerr.KindTransportError, op, err)
	}
}
