package conversation

import (
	"context"
	"sync"
	"time"
)

// FlowKind names a multi-step conversation.
type FlowKind string

const (
	FlowRegistration    FlowKind = "registration"
	FlowMedbookUpdate   FlowKind = "medbook_update"
	FlowBlacklistAdd    FlowKind = "blacklist_add"
	FlowStaffSearch     FlowKind = "staff_search"
	FlowBlacklistRemove FlowKind = "blacklist_remove"
)

// Step names the field a flow is waiting for.
type Step string

const (
	StepConsent       Step = "consent"
	StepFullName      Step = "full_name"
	StepBirthDate     Step = "birth_date"
	StepPhone         Step = "phone"
	StepMedbookExpiry Step = "medbook_expiry"
	StepReason        Step = "reason"
	StepQuery         Step = "query"

	// StepDone marks a flow that has committed, failed or been cancelled.
	StepDone Step = ""
)

// flowSteps lists each flow's steps in order. The commit runs after the last one.
var flowSteps = map[FlowKind][]Step{
	FlowRegistration:    {StepConsent, StepFullName, StepBirthDate, StepPhone, StepMedbookExpiry},
	FlowMedbookUpdate:   {StepMedbookExpiry},
	FlowBlacklistAdd:    {StepFullName, StepPhone, StepBirthDate, StepReason},
	FlowStaffSearch:     {StepQuery},
	FlowBlacklistRemove: {StepQuery},
}

// Draft holds the fields collected so far. Nil pointers are unknown or not yet set.
type Draft struct {
	FullName      string     `json:"full_name,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Phone         *string    `json:"phone,omitempty"`
	MedbookExpiry *time.Time `json:"medbook_expiry,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Session is one user's active flow.
type Session struct {
	UserID    int64     `json:"user_id"`
	Flow      FlowKind  `json:"flow"`
	Step      Step      `json:"step"`
	Draft     Draft     `json:"draft"`
	StartedAt time.Time `json:"started_at"`
}

// SessionStore keeps at most one Session per user.
type SessionStore interface {
	// Get returns the user's session, or nil if none is active.
	Get(ctx context.Context, userID int64) (*Session, error)
	// Put creates or replaces the user's session.
	Put(ctx context.Context, sess *Session) error
	// Delete clears the user's session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID int64) error
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[int64]Session)}
}

func (s *MemorySessionStore) Get(_ context.Context, userID int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemorySessionStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = *sess
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// Len returns the number of active sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
