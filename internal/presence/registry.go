package presence

import (
	"sort"
	"strings"
	"sync"

	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

// PlayerInfo is the registry's view of one user.
type PlayerInfo struct {
	UserID      string
	DisplayName string
	InGame      bool
	sessions    map[string]struct{}
}

// Entry is one row of the online list.
type Entry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
	InGame      bool   `json:"inGame"`
}

// Stats are counters used by health output and tests.
type Stats struct {
	Users    int
	Sessions int
	Indexed  int
}

// Registry maps users to their live connection-sessions.
// Both maps are guarded by mu; no method calls out while holding it.
type Registry struct {
	mu        sync.Mutex
	players   map[string]*PlayerInfo
	bySession map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		players:   make(map[string]*PlayerInfo),
		bySession: make(map[string]string),
	}
}

// Connect registers userID without a session. Existing entries are kept.
func (r *Registry) Connect(userID, displayName string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(userID, displayName)
}

// ConnectSession binds sessionID to userID. A session already bound to another user is moved.
func (r *Registry) ConnectSession(sessionID, userID, displayName string) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sessionID]; ok && prev != userID {
		r.unbind(sessionID, prev)
	}
	p := r.ensure(userID, displayName)
	p.sessions[sessionID] = struct{}{}
	r.bySession[sessionID] = userID
	obslog.L().Debug("presence_session_open",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("sessions", len(p.sessions)),
	)
}

// DisconnectSession drops sessionID. gone reports whether the owner lost its last session
// and was removed. Unknown sessions return ("", false).
func (r *Registry) DisconnectSession(sessionID string) (userID string, gone bool) {
	sessionID = strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.bySession[sessionID]
	if !ok {
		return "", false
	}
	gone = r.unbind(sessionID, userID)
	obslog.L().Debug("presence_session_close",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Bool("gone", gone),
	)
	return userID, gone
}

// Disconnect removes userID and every session bound to it.
func (r *Registry) Disconnect(userID string) bool {
	userID = strings.TrimSpace(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[userID]
	if !ok {
		return false
	}
	for sid := range p.sessions {
		delete(r.bySession, sid)
	}
	delete(r.players, userID)
	return true
}

// Snapshot lists users with at least one live session, ordered by user id.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.players))
	for _, p := range r.players {
		if len(p.sessions) == 0 {
			continue
		}
		out = append(out, Entry{UserID: p.UserID, DisplayName: p.DisplayName, InGame: p.InGame})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SetInGame flips the in-game flag of every known user in userIDs.
func (r *Registry) SetInGame(inGame bool, userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		if p, ok := r.players[id]; ok {
			p.InGame = inGame
		}
	}
}

func (r *Registry) InGame(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	return ok && p.InGame
}

// Online reports whether userID has a live session.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	return ok && len(p.sessions) > 0
}

func (r *Registry) DisplayName(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	if !ok {
		return "", false
	}
	return p.DisplayName, true
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Users: len(r.players), Indexed: len(r.bySession)}
	for _, p := range r.players {
		st.Sessions += len(p.sessions)
	}
	return st
}

func (r *Registry) ensure(userID, displayName string) *PlayerInfo {
	p, ok := r.players[userID]
	if !ok {
		p = &PlayerInfo{UserID: userID, sessions: make(map[string]struct{})}
		r.players[userID] = p
	}
	if name := strings.TrimSpace(displayName); name != "" {
		p.DisplayName = name
	} else if p.DisplayName == "" {
		p.DisplayName = userID
	}
	return p
}

// unbind must be called with mu held.
func (r *Registry) unbind(sessionID, userID string) bool {
	delete(r.bySession, sessionID)
	p, ok := r.players[userID]
	if !ok {
		return false
	}
	delete(p.sessions, sessionID)
	if len(p.sessions) == 0 {
		delete(r.players, userID)
		return true
	}
	return false
}
