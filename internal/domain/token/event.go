package token

import "time"

type EventType string

const (
	EventTokenRevoked   EventType = "token_revoked"
	EventSubjectRevoked EventType = "subject_revoked"
)

// RevocationEvent is the broadcast form of a new revocation. Consumers
// replay it into their own Store.
type RevocationEvent struct {
	Type      EventType    `json:"type"`
	TokenID   string       `json:"jti,omitempty"`
	SubjectID string       `json:"sub"`
	Kind      Kind         `json:"kind,omitempty"`
	Reason    RevokeReason `json:"reason"`
	RevokedAt time.Time    `json:"revoked_at,omitempty"`
	NotBefore time.Time    `json:"not_before,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func TokenRevokedEvent(rec RevocationRecord) RevocationEvent {
	return RevocationEvent{
		Type:      EventTokenRevoked,
		TokenID:   rec.TokenID,
		SubjectID: rec.SubjectID,
		Kind:      rec.Kind,
		Reason:    rec.Reason,
		RevokedAt: rec.RevokedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}

func SubjectRevokedEvent(rev SubjectRevocation) RevocationEvent {
	return RevocationEvent{
		Type:      EventSubjectRevoked,
		SubjectID: rev.SubjectID,
		Reason:    rev.Reason,
		NotBefore: rev.NotBefore,
		ExpiresAt: rev.ExpiresAt,
	}
}

// Key identifies the event for deduplication.
func (e RevocationEvent) Key() string {
	if e.Type == EventSubjectRevoked {
		return "subject:" + e.SubjectID + ":" + e.NotBefore.UTC().Format(time.RFC3339Nano)
	}
	return "token:" + e.TokenID
}

func (e RevocationEvent) Record() RevocationRecord {
	return RevocationRecord{
		TokenID:   e.TokenID,
		SubjectID: e.SubjectID,
		Kind:      e.Kind,
		Reason:    e.Reason,
		RevokedAt: e.RevokedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func (e RevocationEvent) SubjectRevocation() SubjectRevocation {
	return SubjectRevocation{
		SubjectID: e.SubjectID,
		NotBefore: e.NotBefore,
		Reason:    e.Reason,
		ExpiresAt: e.ExpiresAt,
	}
}
