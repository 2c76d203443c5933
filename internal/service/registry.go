package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"pairsync/internal/model"
)

var (
	ErrIdentityTaken   = errors.New("identity is already in use in this session")
	ErrEpochConflict   = errors.New("submitted epoch is not ahead of the session epoch")
	ErrSessionNotFound = errors.New("session does not exist")
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no I, O, 0, 1 to avoid confusion
	codeLength   = 6

	// Codes handed out by GenerateCode stay reserved until a session
	// claims them, so two racing callers can never receive the same
	// code. Unclaimed reservations expire after this long.
	codeReservationTTL = 2 * time.Minute
)

// SessionRegistry owns all live session state: the code to session map
// and the connectionId to code reverse index. Every mutation happens
// under one mutex, which makes the add/remove/delete sequence on a
// session linearizable. Sessions never leave the registry by reference;
// lookups return deep-copied snapshots.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	byConn   map[string]string    // connectionId -> session code
	reserved map[string]time.Time // generated codes awaiting their session

	now func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*model.Session),
		byConn:   make(map[string]string),
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

// GenerateCode returns a session code not currently in use, retrying on
// collision. The code is reserved until GetOrCreate claims it or the
// reservation expires.
func (r *SessionRegistry) GenerateCode() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generateCodeLocked()
}

func (r *SessionRegistry) generateCodeLocked() (string, error) {
	r.pruneReservationsLocked()

	for attempts := 0; attempts < 10; attempts++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, live := r.sessions[code]; live {
			continue
		}
		if _, held := r.reserved[code]; held {
			continue
		}
		r.reserved[code] = r.now()
		return code, nil
	}
	return "", fmt.Errorf("failed to generate unique session code")
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(code), nil
}

func (r *SessionRegistry) pruneReservationsLocked() {
	cutoff := r.now().Add(-codeReservationTTL)
	for code, issuedAt := range r.reserved {
		if issuedAt.Before(cutoff) {
			delete(r.reserved, code)
		}
	}
}

// Create generates a fresh code and inserts an empty session for it in
// one critical section. Backs explicit session creation.
func (r *SessionRegistry) Create(mode model.SyncMode) (model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateCodeLocked()
	if err != nil {
		return model.Snapshot{}, err
	}
	return snapshot(r.createLocked(code, mode)), nil
}

// GetOrCreate returns the session for code, creating one with the given
// mode if absent. The mode argument is ignored when the session already
// exists. Always refreshes the session's activity timestamp.
func (r *SessionRegistry) GetOrCreate(code string, mode model.SyncMode) model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = normalizeCode(code)
	s, ok := r.sessions[code]
	if !ok {
		s = r.createLocked(code, mode)
	}
	s.LastActivityAt = r.now()
	return snapshot(s)
}

func (r *SessionRegistry) createLocked(code string, mode model.SyncMode) *model.Session {
	delete(r.reserved, code)
	now := r.now()
	s := &model.Session{
		Code:           code,
		Mode:           mode,
		Participants:   make(map[string]model.Participant),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.sessions[code] = s
	return s
}

// Get looks up a session by code. A miss is a normal negative result.
func (r *SessionRegistry) Get(code string) (model.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[normalizeCode(code)]
	if !ok {
		return model.Snapshot{}, false
	}
	return snapshot(s), true
}

// GetByConnection looks up the session a connection currently belongs to.
func (r *SessionRegistry) GetByConnection(connectionID string) (model.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.byConn[connectionID]
	if !ok {
		return model.Snapshot{}, false
	}
	s, ok := r.sessions[code]
	if !ok {
		return model.Snapshot{}, false
	}
	return snapshot(s), true
}

// AddParticipant upserts a participant keyed by its connectionId and
// updates the reverse index. No-op if the session is absent.
func (r *SessionRegistry) AddParticipant(code string, p model.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addParticipantLocked(normalizeCode(code), p)
}

func (r *SessionRegistry) addParticipantLocked(code string, p model.Participant) bool {
	s, ok := r.sessions[code]
	if !ok {
		return false
	}
	// A connection belongs to at most one session; joining a new one
	// implicitly removes it from the old one.
	if prev, ok := r.byConn[p.ConnectionID]; ok && prev != code {
		r.removeParticipantLocked(prev, p.ConnectionID)
	}
	s.Participants[p.ConnectionID] = p
	r.byConn[p.ConnectionID] = code
	s.LastActivityAt = r.now()
	return true
}

// Join resolves or creates the session and registers the participant in
// one critical section, so the identity check and the upsert cannot
// interleave with another join. Rejects with ErrIdentityTaken when a
// different live connection already holds the identity; the same
// connection re-joining with its own identity replaces its entry.
func (r *SessionRegistry) Join(code string, mode model.SyncMode, p model.Participant) (model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = normalizeCode(code)
	s, ok := r.sessions[code]
	if !ok {
		s = r.createLocked(code, mode)
	}
	for _, existing := range s.Participants {
		if existing.IdentityID == p.IdentityID && existing.ConnectionID != p.ConnectionID {
			return model.Snapshot{}, ErrIdentityTaken
		}
	}
	r.addParticipantLocked(code, p)
	return snapshot(s), nil
}

// RemoveParticipant removes the participant and its reverse-index entry.
// When the session is emptied it is deleted in the same critical
// section, so a concurrent add cannot land on a freed session and an
// empty session is never deleted twice.
func (r *SessionRegistry) RemoveParticipant(code, connectionID string) (model.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeParticipantLocked(normalizeCode(code), connectionID)
}

func (r *SessionRegistry) removeParticipantLocked(code, connectionID string) (model.Participant, bool) {
	s, ok := r.sessions[code]
	if !ok {
		return model.Participant{}, false
	}
	p, ok := s.Participants[connectionID]
	if !ok {
		return model.Participant{}, false
	}
	delete(s.Participants, connectionID)
	delete(r.byConn, connectionID)
	s.LastActivityAt = r.now()

	if len(s.Participants) == 0 {
		delete(r.sessions, code)
		log.Printf("Session %s removed (no participants)", code)
	}
	return p, true
}

// UpdateState unconditionally overwrites the shared state and epoch.
// The caller has already validated the epoch.
func (r *SessionRegistry) UpdateState(code, state string, epoch int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateStateLocked(normalizeCode(code), state, epoch)
}

func (r *SessionRegistry) updateStateLocked(code, state string, epoch int64) bool {
	s, ok := r.sessions[code]
	if !ok {
		return false
	}
	s.EncryptedState = state
	s.CurrentEpoch = epoch
	s.LastActivityAt = r.now()
	return true
}

// SubmitState applies a database-mode submission under the epoch rule:
// the submitted epoch must be strictly greater than the session's, and
// the check and the write happen atomically so two racing submissions
// with the same epoch cannot both be accepted.
func (r *SessionRegistry) SubmitState(code, state string, epoch int64) (model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = normalizeCode(code)
	s, ok := r.sessions[code]
	if !ok {
		return model.Snapshot{}, ErrSessionNotFound
	}
	if epoch <= s.CurrentEpoch {
		return model.Snapshot{}, ErrEpochConflict
	}
	r.updateStateLocked(code, state, epoch)
	return snapshot(s), nil
}

// Sweep removes every session idle longer than idleThreshold, cleaning
// up the reverse index. Returns the removed codes.
func (r *SessionRegistry) Sweep(idleThreshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneReservationsLocked()

	cutoff := r.now().Add(-idleThreshold)
	var removed []string
	for code, s := range r.sessions {
		if !s.LastActivityAt.Before(cutoff) {
			continue
		}
		for connID := range s.Participants {
			delete(r.byConn, connID)
		}
		delete(r.sessions, code)
		removed = append(removed, code)
	}
	return removed
}

// SessionCount reports the number of live sessions.
func (r *SessionRegistry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func normalizeCode(code string) string {
	return strings.ToUpper(code)
}

func snapshot(s *model.Session) model.Snapshot {
	participants := make([]model.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}
	return model.Snapshot{
		Code:           s.Code,
		Mode:           s.Mode,
		Participants:   participants,
		EncryptedState: s.EncryptedState,
		CurrentEpoch:   s.CurrentEpoch,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
