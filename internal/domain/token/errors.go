package token

import "errors"

var (
	ErrInvalidSignature = errors.New("token signature invalid or malformed")
	ErrExpired          = errors.New("token expired")
	ErrWrongKind        = errors.New("token kind mismatch")
	ErrRevoked          = errors.New("token revoked")

	// ErrStorageUnavailable means the revocation store could not answer.
	// Callers must not treat it as "not revoked".
	ErrStorageUnavailable = errors.New("revocation store unavailable")

	ErrInvalidIdentity = errors.New("identity has no subject")
)

// Machine-readable failure codes shared by the HTTP and gRPC boundaries.
const (
	CodeInvalid            = "TOKEN_INVALID"
	CodeExpired            = "TOKEN_EXPIRED"
	CodeWrongKind          = "TOKEN_WRONG_KIND"
	CodeRevoked            = "TOKEN_REVOKED"
	CodeStorageUnavailable = "REVOCATION_STORE_UNAVAILABLE"
)

// Code returns the discriminant for a verification failure, or "" when err
// is not one of the token errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return CodeInvalid
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrWrongKind):
		return CodeWrongKind
	case errors.Is(err, ErrRevoked):
		return CodeRevoked
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	default:
		return ""
	}
}

// FromCode is the inverse of Code.
func FromCode(code string) error {
	switch code {
	case CodeInvalid:
		return ErrInvalidSignature
	case CodeExpired:
		return ErrExpired
	case CodeWrongKind:
		return ErrWrongKind
	case CodeRevoked:
		return ErrRevoked
	case CodeStorageUnavailable:
		return ErrStorageUnavailable
	default:
		return nil
	}
}

// IsFatal reports whether err permanently invalidates the presented token.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrWrongKind) ||
		errors.Is(err, ErrRevoked)
}
