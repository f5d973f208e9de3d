package token

import (
	"time"
)

// ClaimsVersion is the schema version written into every token as "ver".
const ClaimsVersion = 1

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) Valid() bool { return k == KindAccess || k == KindRefresh }

func (k Kind) String() string { return string(k) }

// Identity is a resolved principal. The attributes are copied into the
// token at issuance and are not refreshed afterwards.
type Identity struct {
	Subject  string
	Username string
	Email    string
	Role     string
}

// Claims is the decoded payload of a verified token.
//
// Username, Email and Role are a snapshot taken when the token was minted
// and can be stale. Decisions that need current data (role changes,
// account status) must go to the identity store.
type Claims struct {
	Version   int
	TokenID   string
	Subject   string
	Kind      Kind
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time

	Username string
	Email    string
	Role     string
}

type Token struct {
	Raw    string
	Claims Claims
}

func (t *Token) ID() string           { return t.Claims.TokenID }
func (t *Token) Kind() Kind           { return t.Claims.Kind }
func (t *Token) ExpiresAt() time.Time { return t.Claims.ExpiresAt }

type Pair struct {
	Access  *Token
	Refresh *Token
}

type RevokeReason string

const (
	ReasonLogout         RevokeReason = "logout"
	ReasonRotation       RevokeReason = "rotation"
	ReasonPasswordChange RevokeReason = "password_change"
	ReasonDeactivation   RevokeReason = "deactivation"
	ReasonAdmin          RevokeReason = "admin"
)

// RevocationRecord rejects a single token before its natural expiry.
// Records are immutable; they are removed only once ExpiresAt has passed.
type RevocationRecord struct {
	TokenID   string
	SubjectID string
	Kind      Kind
	Reason    RevokeReason
	RevokedAt time.Time
	ExpiresAt time.Time
}

// SubjectRevocation rejects every token of a subject issued before
// NotBefore. ExpiresAt is the moment the last such token expires anyway.
type SubjectRevocation struct {
	SubjectID string
	NotBefore time.Time
	Reason    RevokeReason
	ExpiresAt time.Time
}

// Covers reports whether a token issued at issuedAt falls under the cutoff.
func (s SubjectRevocation) Covers(issuedAt time.Time) bool {
	return issuedAt.Before(s.NotBefore)
}
