package ws

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client-to-server message types
const (
	MsgJoin         MessageType = "join"
	MsgLeave        MessageType = "leave"
	MsgRelayP2P     MessageType = "relay_p2p"
	MsgSubmitState  MessageType = "submit_state"
	MsgRequestState MessageType = "request_state"
)

// Server-to-client message types
const (
	MsgSessionJoined     MessageType = "session_joined"
	MsgParticipantJoined MessageType = "participant_joined"
	MsgParticipantLeft   MessageType = "participant_left"
	MsgP2PMessage        MessageType = "p2p_message"
	MsgStateUpdated      MessageType = "state_updated"
	MsgCurrentState      MessageType = "current_state"
	MsgError             MessageType = "error"
)

// Protocol error codes, always delivered to the offending caller only.
const (
	ErrCodeIdentityTaken = "IDENTITY_TAKEN"
	ErrCodeNotInSession  = "NOT_IN_SESSION"
	ErrCodeWrongMode     = "WRONG_MODE"
	ErrCodeEpochConflict = "EPOCH_CONFLICT"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload asks to enter a session under a caller-chosen identity.
type JoinPayload struct {
	SessionCode string `json:"sessionCode"`
	IdentityID  string `json:"identityId"`
	PublicKey   string `json:"publicKey"`
	SyncMode    string `json:"syncMode"`
}

// RelayPayload carries an opaque encrypted payload to relay. An empty
// target means broadcast to every other participant.
type RelayPayload struct {
	EncryptedPayload string `json:"encryptedPayload"`
	TargetIdentityID string `json:"targetIdentityId,omitempty"`
}

// SubmitStatePayload submits a new shared state blob at the given epoch.
type SubmitStatePayload struct {
	EncryptedState string `json:"encryptedState"`
	Epoch          int64  `json:"epoch"`
}

// ParticipantInfo is the public view of a participant.
type ParticipantInfo struct {
	IdentityID string `json:"identityId"`
	PublicKey  string `json:"publicKey"`
}

// SessionJoinedPayload confirms a join to the caller. CurrentState is
// only present in database mode.
type SessionJoinedPayload struct {
	SessionCode  string            `json:"sessionCode"`
	SyncMode     string            `json:"syncMode"`
	Participants []ParticipantInfo `json:"participants"`
	CurrentState *string           `json:"currentState,omitempty"`
}

// ParticipantJoinedPayload notifies the rest of a session of a new member.
type ParticipantJoinedPayload struct {
	IdentityID string `json:"identityId"`
	PublicKey  string `json:"publicKey"`
}

// ParticipantLeftPayload notifies the rest of a session that a member left.
type ParticipantLeftPayload struct {
	IdentityID string `json:"identityId"`
}

// P2PMessagePayload delivers a relayed payload. The server never
// inspects or stores EncryptedPayload.
type P2PMessagePayload struct {
	SenderIdentityID string    `json:"senderIdentityId"`
	EncryptedPayload string    `json:"encryptedPayload"`
	Timestamp        time.Time `json:"timestamp"`
}

// StateUpdatedPayload broadcasts an accepted state submission to the
// whole session, sender included.
type StateUpdatedPayload struct {
	SenderIdentityID string    `json:"senderIdentityId"`
	EncryptedState   string    `json:"encryptedState"`
	Epoch            int64     `json:"epoch"`
	Timestamp        time.Time `json:"timestamp"`
}

// CurrentStatePayload answers a state request, caller only.
type CurrentStatePayload struct {
	EncryptedState string    `json:"encryptedState"`
	Epoch          int64     `json:"epoch"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorPayload reports a protocol error to the offending caller. It
// never terminates the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
