package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pairsync/internal/model"
	"pairsync/internal/service"
)

// SessionHandler handles session creation and status endpoints
type SessionHandler struct {
	registry *service.SessionRegistry
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(registry *service.SessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	SyncMode string `json:"syncMode"`
}

// CreateSessionResponse is returned after explicit session creation
type CreateSessionResponse struct {
	SessionCode string    `json:"sessionCode"`
	SyncMode    string    `json:"syncMode"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ParticipantStatus is the status view of one participant
type ParticipantStatus struct {
	IdentityID string    `json:"identityId"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// SessionStatusResponse is the status view of a session
type SessionStatusResponse struct {
	SessionCode      string              `json:"sessionCode"`
	SyncMode         string              `json:"syncMode"`
	ParticipantCount int                 `json:"participantCount"`
	Participants     []ParticipantStatus `json:"participants"`
	CurrentEpoch     int64               `json:"currentEpoch"`
	CreatedAt        time.Time           `json:"createdAt"`
	LastActivityAt   time.Time           `json:"lastActivityAt"`
}

// Create handles POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	mode, err := model.ParseSyncMode(req.SyncMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}

	snap, err := h.registry.Create(mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	log.Printf("Created new session %s in %s mode", snap.Code, snap.Mode)

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionCode: snap.Code,
		SyncMode:    string(snap.Mode),
		CreatedAt:   snap.CreatedAt,
	})
}

// Status handles GET /v1/sessions/{code}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	snap, ok := h.registry.Get(code)
	if !ok {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session does not exist")
		return
	}

	participants := make([]ParticipantStatus, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		participants = append(participants, ParticipantStatus{
			IdentityID: p.IdentityID,
			JoinedAt:   p.JoinedAt,
		})
	}

	writeJSON(w, http.StatusOK, SessionStatusResponse{
		SessionCode:      snap.Code,
		SyncMode:         string(snap.Mode),
		ParticipantCount: len(snap.Participants),
		Participants:     participants,
		CurrentEpoch:     snap.CurrentEpoch,
		CreatedAt:        snap.CreatedAt,
		LastActivityAt:   snap.LastActivityAt,
	})
}
