package model

import (
	"fmt"
	"strings"
	"time"
)

// SyncMode selects how a session synchronizes its participants.
type SyncMode string

const (
	// ModeP2P relays opaque encrypted payloads between participants;
	// the server stores nothing.
	ModeP2P SyncMode = "p2p"
	// ModeDatabase holds one opaque state blob per session, versioned
	// by epoch, and broadcasts every accepted update.
	ModeDatabase SyncMode = "database"
)

// ParseSyncMode normalizes and validates a caller-supplied mode string.
// Unknown modes are rejected at creation time instead of producing a
// session that fails every operation with WRONG_MODE.
func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(strings.ToLower(s)) {
	case ModeP2P:
		return ModeP2P, nil
	case ModeDatabase:
		return ModeDatabase, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

// Participant is one connected client inside a session. ConnectionID is
// assigned by the transport; IdentityID is a caller-supplied label and
// is deliberately unauthenticated: the server never verifies that a
// caller is entitled to the identity it claims.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	IdentityID   string    `json:"identityId"`
	PublicKey    string    `json:"publicKey"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Session is an ephemeral in-memory sync context identified by a short
// shareable code. EncryptedState and CurrentEpoch are only meaningful
// in database mode.
type Session struct {
	Code           string
	Mode           SyncMode
	Participants   map[string]Participant // keyed by connectionId
	EncryptedState string
	CurrentEpoch   int64
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Snapshot is a deep copy of a session handed out by the registry.
// Callers may read it freely; mutations only happen inside the registry.
type Snapshot struct {
	Code           string
	Mode           SyncMode
	Participants   []Participant
	EncryptedState string
	CurrentEpoch   int64
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// ParticipantByConnection returns the participant owning the given
// connection, if present.
func (s Snapshot) ParticipantByConnection(connectionID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ConnectionID == connectionID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantByIdentity returns the participant holding the given
// identity, if present.
func (s Snapshot) ParticipantByIdentity(identityID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.IdentityID == identityID {
			return p, true
		}
	}
	return Participant{}, false
}
