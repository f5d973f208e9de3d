package introspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type verifier interface {
	Verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error)
}

var _ TokenAuthorityServer = (*Server)(nil)

type Server struct {
	verifier verifier
	checker  token.RevocationChecker
	log      *zap.Logger
}

func NewServer(v verifier, checker token.RevocationChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{verifier: v, checker: checker, log: log}
}

func (s *Server) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := stringField(in, "token")
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	kind := token.Kind(stringField(in, "kind"))
	if kind != "" && !kind.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown kind %q", kind)
	}

	claims, err := s.verifier.Verify(ctx, raw, kind)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return claimsToStruct(claims)
}

func (s *Server) CheckRevocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	jti, sub := stringField(in, "jti"), stringField(in, "sub")
	if jti == "" || sub == "" {
		return nil, status.Error(codes.InvalidArgument, "jti and sub are required")
	}
	iat, err := time.Parse(time.RFC3339Nano, stringField(in, "iat"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad iat: %v", err)
	}

	revoked, err := s.checker.IsRevoked(ctx, jti, sub, iat)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]any{"revoked": revoked})
}

// toStatus keeps the token error code as ErrorInfo.Reason so clients can
// rebuild the same sentinel error.
func (s *Server) toStatus(ctx context.Context, err error) error {
	code := token.Code(err)
	grpcCode := codes.Unauthenticated
	switch {
	case code == "":
		code = token.CodeStorageUnavailable
		grpcCode = codes.Unavailable
	case code == token.CodeStorageUnavailable:
		grpcCode = codes.Unavailable
	}
	if grpcCode == codes.Unavailable {
		obs.WithTrace(ctx, s.log).Error("revocation lookup failed", zap.Error(err))
	}

	st, derr := status.New(grpcCode, code).WithDetails(&errdetails.ErrorInfo{Reason: code, Domain: ErrorDomain})
	if derr != nil {
		return status.Error(grpcCode, code)
	}
	return st.Err()
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func claimsToStruct(c *token.Claims) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"jti":      c.TokenID,
		"sub":      c.Subject,
		"typ":      string(c.Kind),
		"iss":      c.Issuer,
		"ver":      c.Version,
		"iat":      c.IssuedAt.UTC().Format(time.RFC3339Nano),
		"exp":      c.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"username": c.Username,
		"email":    c.Email,
		"role":     c.Role,
	})
}

func structToClaims(s *structpb.Struct) (*token.Claims, error) {
	ver, ok := s.GetFields()["ver"].GetKind().(*structpb.Value_NumberValue)
	if !ok || int(ver.NumberValue) != token.ClaimsVersion {
		return nil, fmt.Errorf("unsupported claims version %v", s.GetFields()["ver"].AsInterface())
	}
	kind := token.Kind(stringField(s, "typ"))
	if !kind.Valid() || stringField(s, "jti") == "" || stringField(s, "sub") == "" {
		return nil, errors.New("incomplete claims")
	}
	iat, err := time.Parse(time.RFC3339Nano, stringField(s, "iat"))
	if err != nil {
		return nil, err
	}
	exp, err := time.Parse(time.RFC3339Nano, stringField(s, "exp"))
	if err != nil {
		return nil, err
	}
	return &token.Claims{
		Version:   token.ClaimsVersion,
		TokenID:   stringField(s, "jti"),
		Subject:   stringField(s, "sub"),
		Kind:      kind,
		Issuer:    stringField(s, "iss"),
		IssuedAt:  iat,
		ExpiresAt: exp,
		Username:  stringField(s, "username"),
		Email:     stringField(s, "email"),
		Role:      stringField(s, "role"),
	}, nil
}
