package introspect

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/obs"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ token.RevocationChecker = (*Client)(nil)

// Client talks to a remote TokenAuthority. It satisfies httpauth.Verifier
// and token.RevocationChecker and returns the same sentinel errors as a
// local authority.Verifier.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewClient(conn grpc.ClientConnInterface, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Dial opens an instrumented plaintext connection for in-cluster use.
func Dial(target string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, obs.GRPCClientOpts()...)
	return grpc.NewClient(target, append(opts, extra...)...)
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error) {
	out, err := c.invoke(ctx, "Verify", map[string]any{"token": raw, "kind": string(expected)})
	if err != nil {
		return nil, err
	}
	claims, err := structToClaims(out)
	if err != nil {
		return nil, fmt.Errorf("%w: bad verify reply: %w", token.ErrStorageUnavailable, err)
	}
	return claims, nil
}

func (c *Client) IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	out, err := c.invoke(ctx, "CheckRevocation", map[string]any{
		"jti": tokenID,
		"sub": subjectID,
		"iat": issuedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, err
	}
	// a reply without a definite verdict must not read as "not revoked"
	v, ok := out.GetFields()["revoked"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: bad revocation reply", token.ErrStorageUnavailable)
	}
	return v.BoolValue, nil
}

// fromStatus maps a gRPC error back to a token error. Anything that is not
// a definite verdict about the token counts as the store being unavailable.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", token.ErrStorageUnavailable, err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			if terr := token.FromCode(info.GetReason()); terr != nil {
				return terr
			}
		}
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.InvalidArgument:
		return token.ErrInvalidSignature
	}
	return fmt.Errorf("%w: %s: %s", token.ErrStorageUnavailable, st.Code(), st.Message())
}
