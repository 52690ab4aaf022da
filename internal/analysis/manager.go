package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// DefaultPageSize bounds List results per page.
const DefaultPageSize = 20

// Manager owns session lifecycle: creation, the single-active-run
// guarantee, cancellation and persistence. All state transitions go
// through it so that at most one run is ever active per session.
type Manager struct {
	store  Store
	logger log.Logger

	mu     sync.Mutex
	active map[string]*Run
}

// NewManager creates a session manager backed by store.
func NewManager(store Store, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		store:  store,
		logger: logger,
		active: make(map[string]*Run),
	}
}

// Run is a handle on an in-flight analysis for one session. Its context
// is cancelled by Manager.Cancel; Finish releases the session's active
// slot and is safe to call more than once.
type Run struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	mgr       *Manager
	once      sync.Once
}

// SessionID returns the session this run belongs to.
func (r *Run) SessionID() string { return r.sessionID }

// Context is cancelled when the run is cancelled. It does not inherit
// cancellation from the request that started the run.
func (r *Run) Context() context.Context { return r.ctx }

// Finish releases the active slot for the session. Idempotent.
func (r *Run) Finish() {
	r.once.Do(func() {
		r.cancel()
		r.mgr.mu.Lock()
		if r.mgr.active[r.sessionID] == r {
			delete(r.mgr.active, r.sessionID)
		}
		r.mgr.mu.Unlock()
	})
}

// Create persists a new pending session for the given alert.
func (m *Manager) Create(ctx context.Context, owner, alertContent string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:           ulid.Make().String(),
		Owner:        owner,
		AlertContent: alertContent,
		Status:       StatusPending,
		Messages:     []Message{NewMessage(RoleUser, alertContent, "")},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.logger.Info(ctx, "session created", "session_id", s.ID, "owner", owner)
	return s, nil
}

// StartRun claims the session's active slot and marks it running.
// Returns ErrNotFound for unknown sessions and ErrAlreadyRunning when a
// run for the session is in flight. The run's context is detached from
// ctx so a dropped client connection does not abort the analysis.
func (m *Manager) StartRun(ctx context.Context, sessionID string) (*Run, *Session, error) {
	s, found, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil, ErrNotFound
	}

	m.mu.Lock()
	if _, busy := m.active[sessionID]; busy {
		m.mu.Unlock()
		return nil, nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &Run{sessionID: sessionID, ctx: runCtx, cancel: cancel, mgr: m}
	m.active[sessionID] = run
	m.mu.Unlock()

	s.Status = StatusRunning
	s.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		run.Finish()
		return nil, nil, fmt.Errorf("persist session: %w", err)
	}
	return run, s, nil
}

// Cancel requests cancellation of the session's active run. Returns
// false when no run is active; cancelling an idle session is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	run, busy := m.active[sessionID]
	m.mu.Unlock()
	if !busy {
		return false
	}
	m.logger.Info(ctx, "cancelling run", "session_id", sessionID)
	run.cancel()
	return true
}

// Get loads a session. Returns ErrNotFound for unknown IDs.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, found, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns one page of the owner's sessions, newest first, plus the
// owner's total session count. page starts at 1.
func (m *Manager) List(ctx context.Context, owner string, page int) ([]*Session, int, error) {
	if page < 1 {
		page = 1
	}
	return m.store.List(ctx, owner, page, DefaultPageSize)
}

// Delete removes a session. Returns ErrRunActive while a run is in
// flight and ErrNotFound for unknown IDs.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, busy := m.active[sessionID]
	m.mu.Unlock()
	if busy {
		return ErrRunActive
	}
	_, found, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Info(ctx, "session deleted", "session_id", sessionID)
	return nil
}

// AppendMessage appends to a session's conversation.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	return m.store.AppendMessage(ctx, sessionID, msg)
}

// Save persists the session with a fresh UpdatedAt.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now().UTC()
	return m.store.Put(ctx, s)
}

// ResetForReanalyze clears a session's prior result and records the
// reanalysis request in the conversation. The alert content and any
// previously collected context are kept so the fresh run can reuse
// them where its stages allow.
func (m *Manager) ResetForReanalyze(ctx context.Context, s *Session) error {
	s.Result = nil
	s.CurrentStage = ""
	marker := "[reanalyze] re-running analysis for this alert"
	if alert := strings.TrimSpace(s.AlertContent); alert != "" {
		marker = fmt.Sprintf("[reanalyze] re-running analysis for: %.100s", alert)
	}
	s.Messages = append(s.Messages, NewMessage(RoleUser, marker, ""))
	return m.Save(ctx, s)
}
