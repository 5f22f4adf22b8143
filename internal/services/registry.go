package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreastra/coreastra/internal/audit"
	"github.com/coreastra/coreastra/internal/models"
	"github.com/google/uuid"
)

type SessionKind string

const (
	KindSSH SessionKind = "ssh"
	KindFTP SessionKind = "ftp"
)

type SessionStatus string

const (
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusTransferring SessionStatus = "transferring"
	StatusError        SessionStatus = "error"
	StatusDisconnected SessionStatus = "disconnected"
	StatusExpired      SessionStatus = "expired"
)

// Session is one live time-boxed remote handle. All fields are owned by
// the registry and mutated only under its lock.
type Session struct {
	ID               uuid.UUID
	Kind             SessionKind
	Host             string
	Port             int
	Username         string
	Status           SessionStatus
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastActivity     time.Time
	BytesTransferred int64
	FilesTransferred int
	CurrentPath      string
	Scratch          string

	handle RemoteHandle
}

// Handle returns the protocol handle bound to this session.
func (s *Session) Handle() RemoteHandle { return s.handle }

// OpenRequest carries the connection metadata tracked on a session.
type OpenRequest struct {
	Kind     SessionKind
	Host     string
	Port     int
	Username string
	Duration time.Duration // 0 means the configured default
}

// RegistryConfig bounds the registry.
type RegistryConfig struct {
	Capacity        int
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	IdleTimeout     time.Duration
}

// Registry owns every live session. It enforces the capacity cap,
// absolute expiry, and idle eviction; all teardown paths (explicit
// close, expiry sweep, idle sweep) converge on the same routine.
//
// The registry assumes single-process ownership: a second process with
// its own registry would silently fragment sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	pending  int // connects in flight, reserved against capacity

	cfg      RegistryConfig
	tempBase string
	recorder audit.Recorder
	now      func() time.Time
}

func NewRegistry(cfg RegistryConfig, recorder audit.Recorder) (*Registry, error) {
	tempBase, err := os.MkdirTemp("", "coreastra_")
	if err != nil {
		return nil, fmt.Errorf("create session workspace: %w", err)
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		cfg:      cfg,
		tempBase: tempBase,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// Open admits and connects a new session. When the registry is at
// capacity it first sweeps expired sessions to reclaim space, then
// rejects with ErrCapacityExceeded if still full. Connect failures
// leave no session behind.
func (r *Registry) Open(ctx context.Context, req OpenRequest, connect ConnectFunc) (*Session, error) {
	duration := req.Duration
	if duration <= 0 {
		duration = r.cfg.DefaultDuration
	}
	if duration > r.cfg.MaxDuration {
		duration = r.cfg.MaxDuration
	}

	r.mu.Lock()
	if len(r.sessions)+r.pending >= r.cfg.Capacity {
		r.sweepLocked()
		if len(r.sessions)+r.pending >= r.cfg.Capacity {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w (%d)", ErrCapacityExceeded, r.cfg.Capacity)
		}
	}
	r.pending++
	r.mu.Unlock()

	id := uuid.New()
	scratch := filepath.Join(r.tempBase, id.String())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		r.releasePending()
		return nil, fmt.Errorf("create session scratch dir: %w", err)
	}

	handle, err := connect(ctx)
	if err != nil {
		os.RemoveAll(scratch)
		r.releasePending()
		return nil, fmt.Errorf("%s connect failed: %w", req.Kind, err)
	}

	created := r.now()
	session := &Session{
		ID:           id,
		Kind:         req.Kind,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Status:       StatusConnected,
		CreatedAt:    created,
		ExpiresAt:    created.Add(duration),
		LastActivity: created,
		CurrentPath:  handle.WorkingDir(),
		Scratch:      scratch,
		handle:       handle,
	}

	r.mu.Lock()
	r.pending--
	r.sessions[id] = session
	r.mu.Unlock()

	r.recorder.Record(audit.Event{
		Action: string(req.Kind) + "_connect",
		Details: map[string]any{
			"session_id": id.String(),
			"host":       req.Host,
			"username":   req.Username,
			"duration":   duration.String(),
		},
	})
	slog.Info("Session opened", "id", id, "kind", req.Kind, "host", req.Host, "expires_at", session.ExpiresAt)

	return session, nil
}

func (r *Registry) releasePending() {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
}

// Get resolves a live session. An expired or idle-timed-out session is
// atomically evicted and reported as ErrSessionExpired; no caller ever
// observes a dead session as live.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if reason := r.deadReason(session); reason != "" {
		r.teardownLocked(session, reason)
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}

	return session, nil
}

// Touch extends the idle clock. It never extends the absolute expiry:
// a session cannot be kept alive forever by activity alone.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.LastActivity = r.now()
	}
}

// RecordTransfer bumps transfer counters and the idle clock.
func (r *Registry) RecordTransfer(id uuid.UUID, bytes int64, files int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.BytesTransferred += bytes
		session.FilesTransferred += files
		session.LastActivity = r.now()
	}
}

// SetPath updates the tracked remote working path.
func (r *Registry) SetPath(id uuid.UUID, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.CurrentPath = path
	}
}

// Close tears down a session. Closing an unknown id is a reported
// error, not a crash.
func (r *Registry) Close(id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.teardownLocked(session, reason)
	return nil
}

// Sweep evicts every expired or idle session and reports how many.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	evicted := 0
	for _, session := range r.sessions {
		if reason := r.deadReason(session); reason != "" {
			r.teardownLocked(session, reason)
			evicted++
		}
	}
	return evicted
}

// deadReason reports why a session must be evicted, or "" if it is
// live. Absolute expiry and idle timeout are independent; either one
// evicts.
func (r *Registry) deadReason(session *Session) string {
	now := r.now()
	if !now.Before(session.ExpiresAt) {
		return "Session expired"
	}
	if now.Sub(session.LastActivity) > r.cfg.IdleTimeout {
		return "Idle timeout"
	}
	return ""
}

// teardownLocked is the single teardown path. The underlying handle
// close is best-effort: its errors are logged and swallowed because the
// registry entry is removed unconditionally.
func (r *Registry) teardownLocked(session *Session, reason string) {
	if reason == "Session expired" {
		session.Status = StatusExpired
	} else {
		session.Status = StatusDisconnected
	}

	if err := session.handle.Close(); err != nil {
		slog.Warn("Session handle close failed", "id", session.ID, "error", err)
	}
	if session.Scratch != "" {
		os.RemoveAll(session.Scratch)
	}
	delete(r.sessions, session.ID)

	r.recorder.Record(audit.Event{
		Action: "connection_disconnect",
		Details: map[string]any{
			"session_id":        session.ID.String(),
			"host":              session.Host,
			"reason":            reason,
			"bytes_transferred": session.BytesTransferred,
			"files_transferred": session.FilesTransferred,
		},
	})
	slog.Info("Session closed", "id", session.ID, "host", session.Host, "reason", reason)
}

// List snapshots metadata for every live session. Dead sessions are
// evicted first so a listing never reports an expired session as
// connected.
func (r *Registry) List() []models.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	infos := make([]models.SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		infos = append(infos, r.infoLocked(session))
	}
	return infos
}

// Info snapshots one session's metadata.
func (r *Registry) Info(id uuid.UUID) (models.SessionInfo, error) {
	session, err := r.Get(id)
	if err != nil {
		return models.SessionInfo{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked(session), nil
}

func (r *Registry) infoLocked(session *Session) models.SessionInfo {
	remaining := int(session.ExpiresAt.Sub(r.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return models.SessionInfo{
		ID:                   session.ID.String(),
		Kind:                 string(session.Kind),
		Host:                 session.Host,
		Port:                 session.Port,
		Username:             session.Username,
		Status:               string(session.Status),
		CreatedAt:            session.CreatedAt,
		ExpiresAt:            session.ExpiresAt,
		LastActivity:         session.LastActivity,
		BytesTransferred:     session.BytesTransferred,
		FilesTransferred:     session.FilesTransferred,
		CurrentPath:          session.CurrentPath,
		TimeRemainingSeconds: remaining,
	}
}

// Shutdown closes every session and removes the workspace base.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for _, session := range r.sessions {
		r.teardownLocked(session, "Server shutdown")
	}
	r.mu.Unlock()

	os.RemoveAll(r.tempBase)
	slog.Info("All sessions closed")
}
