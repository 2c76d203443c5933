package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"pairsync/internal/model"
	"pairsync/internal/service"
)

// Protocol implements the per-connection sync protocol on top of the
// session registry:
//
//	NotJoined -> Joined(code, identity) -> (Left | Disconnected) -> NotJoined
//
// All errors are reported to the offending caller only and never close
// the connection.
type Protocol struct {
	registry *service.SessionRegistry
	hub      *Hub
}

// NewProtocol creates the protocol handler.
func NewProtocol(registry *service.SessionRegistry, hub *Hub) *Protocol {
	return &Protocol{
		registry: registry,
		hub:      hub,
	}
}

// HandleMessage dispatches one inbound envelope from a connection.
// Malformed messages are logged and dropped.
func (p *Protocol) HandleMessage(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Client %s sent malformed message: %v", c.ConnectionID, err)
		return
	}

	switch msg.Type {
	case MsgJoin:
		var payload JoinPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("Client %s sent malformed join: %v", c.ConnectionID, err)
			return
		}
		p.Join(c, payload)
	case MsgLeave:
		p.Leave(c)
	case MsgRelayP2P:
		var payload RelayPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("Client %s sent malformed relay: %v", c.ConnectionID, err)
			return
		}
		p.RelayP2P(c, payload)
	case MsgSubmitState:
		var payload SubmitStatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("Client %s sent malformed state submission: %v", c.ConnectionID, err)
			return
		}
		p.SubmitState(c, payload)
	case MsgRequestState:
		p.RequestState(c)
	default:
		log.Printf("Client %s sent unknown message type %q", c.ConnectionID, msg.Type)
	}
}

// Join enters (or creates) a session under the caller-chosen identity.
func (p *Protocol) Join(c *Client, payload JoinPayload) {
	mode, err := model.ParseSyncMode(payload.SyncMode)
	if err != nil {
		// The mode argument is ignored for sessions that already
		// exist; for a new session an unknown mode is rejected
		// rather than creating a session no operation can use.
		snap, ok := p.registry.Get(payload.SessionCode)
		if !ok {
			p.sendError(c, ErrCodeWrongMode, err.Error())
			return
		}
		mode = snap.Mode
	}

	participant := model.Participant{
		ConnectionID: c.ConnectionID,
		IdentityID:   payload.IdentityID,
		PublicKey:    payload.PublicKey,
		JoinedAt:     time.Now().UTC(),
	}

	prev, hadPrev := p.registry.GetByConnection(c.ConnectionID)

	snap, err := p.registry.Join(payload.SessionCode, mode, participant)
	if err != nil {
		// Rejected joins change nothing, including any session the
		// caller is already in.
		p.sendError(c, ErrCodeIdentityTaken,
			fmt.Sprintf("Identity '%s' is already in use in this session", payload.IdentityID))
		return
	}

	// A connection holds one session at a time: the registry dropped
	// any previous membership, announce the departure there.
	if hadPrev && !strings.EqualFold(prev.Code, snap.Code) {
		p.hub.Unsubscribe(prev.Code, c.ConnectionID)
		if old, ok := prev.ParticipantByConnection(c.ConnectionID); ok {
			p.hub.SendToSession(prev.Code, MsgParticipantLeft, ParticipantLeftPayload{
				IdentityID: old.IdentityID,
			})
		}
	}

	p.hub.Subscribe(snap.Code, c)

	log.Printf("Client %s joined session %s as %s", c.ConnectionID, snap.Code, payload.IdentityID)

	others := make([]ParticipantInfo, 0, len(snap.Participants))
	for _, member := range snap.Participants {
		if member.ConnectionID == c.ConnectionID {
			continue
		}
		others = append(others, ParticipantInfo{
			IdentityID: member.IdentityID,
			PublicKey:  member.PublicKey,
		})
	}

	joined := SessionJoinedPayload{
		SessionCode:  snap.Code,
		SyncMode:     string(snap.Mode),
		Participants: others,
	}
	if snap.Mode == model.ModeDatabase {
		state := snap.EncryptedState
		joined.CurrentState = &state
	}
	p.hub.SendToConnection(c.ConnectionID, MsgSessionJoined, joined)

	p.hub.SendToOthers(snap.Code, c.ConnectionID, MsgParticipantJoined, ParticipantJoinedPayload{
		IdentityID: participant.IdentityID,
		PublicKey:  participant.PublicKey,
	})
}

// Leave exits the caller's current session. It is the single teardown
// path: an explicit leave and a transport disconnect both land here,
// and a second call for the same membership is a no-op.
func (p *Protocol) Leave(c *Client) {
	snap, ok := p.registry.GetByConnection(c.ConnectionID)
	if !ok {
		return
	}

	p.hub.Unsubscribe(snap.Code, c.ConnectionID)

	participant, ok := p.registry.RemoveParticipant(snap.Code, c.ConnectionID)
	if !ok {
		return
	}

	log.Printf("Client %s left session %s", c.ConnectionID, snap.Code)

	p.hub.SendToSession(snap.Code, MsgParticipantLeft, ParticipantLeftPayload{
		IdentityID: participant.IdentityID,
	})
}

// RelayP2P forwards an opaque payload to one participant or to every
// other participant. P2P mode only. The payload is never inspected or
// stored.
func (p *Protocol) RelayP2P(c *Client, payload RelayPayload) {
	snap, sender, ok := p.resolve(c, model.ModeP2P, "P2P relay only available in P2P mode")
	if !ok {
		return
	}

	msg := P2PMessagePayload{
		SenderIdentityID: sender.IdentityID,
		EncryptedPayload: payload.EncryptedPayload,
		Timestamp:        time.Now().UTC(),
	}

	if payload.TargetIdentityID != "" {
		// Targeted delivery; silently dropped when no live
		// participant holds the identity.
		if target, ok := snap.ParticipantByIdentity(payload.TargetIdentityID); ok {
			p.hub.SendToConnection(target.ConnectionID, MsgP2PMessage, msg)
		}
		return
	}

	p.hub.SendToOthers(snap.Code, c.ConnectionID, MsgP2PMessage, msg)
}

// SubmitState applies a database-mode submission and broadcasts the
// accepted update to the whole session, sender included.
func (p *Protocol) SubmitState(c *Client, payload SubmitStatePayload) {
	snap, sender, ok := p.resolve(c, model.ModeDatabase, "Database updates only available in database mode")
	if !ok {
		return
	}

	updated, err := p.registry.SubmitState(snap.Code, payload.EncryptedState, payload.Epoch)
	if err != nil {
		// The session can be swept between the lookup and the
		// submission; that is an absent session, not a stale epoch.
		if errors.Is(err, service.ErrSessionNotFound) {
			p.sendError(c, ErrCodeNotInSession, "You are not in a session")
			return
		}
		p.sendError(c, ErrCodeEpochConflict, "Your epoch is outdated. Please refresh and retry.")
		return
	}

	log.Printf("Session %s state updated to epoch %d by %s", snap.Code, payload.Epoch, sender.IdentityID)

	p.hub.SendToSession(snap.Code, MsgStateUpdated, StateUpdatedPayload{
		SenderIdentityID: sender.IdentityID,
		EncryptedState:   updated.EncryptedState,
		Epoch:            updated.CurrentEpoch,
		Timestamp:        time.Now().UTC(),
	})
}

// RequestState replies to the caller with the session's current state.
// Database mode only.
func (p *Protocol) RequestState(c *Client) {
	snap, _, ok := p.resolve(c, model.ModeDatabase, "State request only available in database mode")
	if !ok {
		return
	}

	p.hub.SendToConnection(c.ConnectionID, MsgCurrentState, CurrentStatePayload{
		EncryptedState: snap.EncryptedState,
		Epoch:          snap.CurrentEpoch,
		Timestamp:      time.Now().UTC(),
	})
}

// Sweep expires idle sessions and drops their broadcast groups, so a
// connection that outlives its swept session cannot receive traffic
// for a later session reusing the same code. Satisfies
// service.Sweeper.
func (p *Protocol) Sweep(idleThreshold time.Duration) []string {
	removed := p.registry.Sweep(idleThreshold)
	for _, code := range removed {
		p.hub.DropGroup(code)
	}
	return removed
}

// resolve looks up the caller's session and checks the mode guard,
// reporting NOT_IN_SESSION or WRONG_MODE to the caller on failure.
func (p *Protocol) resolve(c *Client, want model.SyncMode, wrongModeMsg string) (model.Snapshot, model.Participant, bool) {
	snap, ok := p.registry.GetByConnection(c.ConnectionID)
	if !ok {
		p.sendError(c, ErrCodeNotInSession, "You are not in a session")
		return model.Snapshot{}, model.Participant{}, false
	}
	if snap.Mode != want {
		p.sendError(c, ErrCodeWrongMode, wrongModeMsg)
		return model.Snapshot{}, model.Participant{}, false
	}
	sender, ok := snap.ParticipantByConnection(c.ConnectionID)
	if !ok {
		return model.Snapshot{}, model.Participant{}, false
	}
	return snap, sender, true
}

func (p *Protocol) sendError(c *Client, code, message string) {
	p.hub.SendToConnection(c.ConnectionID, MsgError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
