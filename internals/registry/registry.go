package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSessionExists is returned by Create when the session id is already in use.
	ErrSessionExists = errors.New("session id already in use")

	// ErrSessionNotFound is returned by AddViewer when no session has the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrOwnSession is returned by AddViewer when a streamer tries to join the
	// session it publishes. A streamer must never appear in its own viewer set.
	ErrOwnSession = errors.New("participant is the streamer of this session")
)

// Session is one active streamer plus its current viewer set. Records are owned
// exclusively by the Registry; callers only ever see Info snapshots.
type Session struct {
	ID         string
	StreamerID string
	CreatedAt  time.Time

	viewers map[string]struct{}
}

// Info is a read-only snapshot of a session, safe to hand out without the lock.
type Info struct {
	ID          string    `json:"id"`
	StreamerID  string    `json:"streamerId"`
	ViewerCount int       `json:"viewerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Destroyed describes a session removed from the registry, with the viewer set
// it had at the moment of destruction so callers can notify them.
type Destroyed struct {
	ID         string
	StreamerID string
	Viewers    []string
}

// Removal describes one session a participant was removed from as a viewer.
type Removal struct {
	SessionID   string
	StreamerID  string
	ViewerCount int
}

// Registry is the authoritative in-memory store of active sessions. Every
// operation runs under a single mutex; concurrent connection handlers see a
// serialized view.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create inserts a new session with an empty viewer set. The session id must
// not be in use by a currently-active session; ids of expired or destroyed
// sessions may be reused.
func (r *Registry) Create(sessionID, streamerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return ErrSessionExists
	}

	r.sessions[sessionID] = &Session{
		ID:         sessionID,
		StreamerID: streamerID,
		CreatedAt:  time.Now(),
		viewers:    make(map[string]struct{}),
	}

	r.logger.Info("Session created",
		zap.String("session_id", sessionID),
		zap.String("streamer_id", streamerID),
	)

	return nil
}

// Get returns a snapshot of the session, if present. Pure lookup, no mutation.
func (r *Registry) Get(sessionID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return snapshot(s), true
}

// AddViewer inserts viewerID into the session's viewer set. Re-adding an
// existing viewer is a no-op, not an error. Returns the session's streamer and
// the resulting viewer count.
func (r *Registry) AddViewer(sessionID, viewerID string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", 0, ErrSessionNotFound
	}
	if viewerID == s.StreamerID {
		return "", 0, ErrOwnSession
	}

	s.viewers[viewerID] = struct{}{}

	return s.StreamerID, len(s.viewers), nil
}

// RemoveViewer removes viewerID from the session's viewer set if present.
// Missing session or missing membership is a no-op, never an error, so
// disconnect paths can call it speculatively.
func (r *Registry) RemoveViewer(sessionID, viewerID string) (string, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", 0, false
	}
	if _, member := s.viewers[viewerID]; !member {
		return "", 0, false
	}

	delete(s.viewers, viewerID)

	return s.StreamerID, len(s.viewers), true
}

// Destroy removes a single session by id, returning its final state. Used when
// a join discovers the recorded streamer is no longer reachable.
func (r *Registry) Destroy(sessionID string) (Destroyed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Destroyed{}, false
	}

	delete(r.sessions, sessionID)

	r.logger.Info("Session destroyed",
		zap.String("session_id", sessionID),
		zap.String("streamer_id", s.StreamerID),
	)

	return destroyed(s), true
}

// DestroyIfStreamer removes every session whose streamer is participantID.
// Used on streamer disconnect or explicit end; normally matches at most one
// session, but nothing forbids a participant streaming several.
func (r *Registry) DestroyIfStreamer(participantID string) []Destroyed {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Destroyed
	for id, s := range r.sessions {
		if s.StreamerID != participantID {
			continue
		}
		delete(r.sessions, id)
		removed = append(removed, destroyed(s))

		r.logger.Info("Session destroyed, streamer gone",
			zap.String("session_id", id),
			zap.String("streamer_id", participantID),
			zap.Int("orphaned_viewers", len(s.viewers)),
		)
	}

	return removed
}

// RemoveParticipantEverywhere removes participantID from the viewer set of
// every session it is watching. The caller does not know a disconnecting
// participant's role, so this is safe to call unconditionally.
func (r *Registry) RemoveParticipantEverywhere(participantID string) []Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removals []Removal
	for id, s := range r.sessions {
		if _, member := s.viewers[participantID]; !member {
			continue
		}
		delete(s.viewers, participantID)
		removals = append(removals, Removal{
			SessionID:   id,
			StreamerID:  s.StreamerID,
			ViewerCount: len(s.viewers),
		})
	}

	return removals
}

// SweepExpired removes and returns every session older than maxAge at the
// given time. Invoked on a fixed interval; holds the lock for one pass only.
func (r *Registry) SweepExpired(maxAge time.Duration, now time.Time) []Destroyed {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Destroyed
	for id, s := range r.sessions {
		if now.Sub(s.CreatedAt) <= maxAge {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, destroyed(s))

		r.logger.Info("Expired session swept",
			zap.String("session_id", id),
			zap.String("streamer_id", s.StreamerID),
			zap.Duration("age", now.Sub(s.CreatedAt)),
		)
	}

	return expired
}

// SessionIDs returns the ids of all active sessions.
func (r *Registry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns read-only copies of all active sessions, for the
// diagnostic API.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, snapshot(s))
	}
	return infos
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func snapshot(s *Session) Info {
	return Info{
		ID:          s.ID,
		StreamerID:  s.StreamerID,
		ViewerCount: len(s.viewers),
		CreatedAt:   s.CreatedAt,
	}
}

func destroyed(s *Session) Destroyed {
	viewers := make([]string, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	return Destroyed{ID: s.ID, StreamerID: s.StreamerID, Viewers: viewers}
}
