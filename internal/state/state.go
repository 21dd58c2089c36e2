package state

import (
	"fmt"
	"time"
)

// SessionStatus tracks where a user session sits in its lifecycle.
type SessionStatus string

const (
	StatusNew     SessionStatus = "new"
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
)

// Agent is a human operator able to serve user sessions.
// Serving == 0 means the agent is idle.
type Agent struct {
	ID      int64  `json:"id"`
	Name    string `json:"username"`
	ChatID  int64  `json:"chatId"`
	Serving int64  `json:"serving,omitempty"`
}

// Idle reports whether the agent is not serving anyone.
func (a *Agent) Idle() bool { return a.Serving == 0 }

// UserSession is one end-user conversation. Handler == 0 means no
// primary agent is assigned. History records every agent that has ever
// handled this user, in order, without duplicates.
type UserSession struct {
	ID      int64         `json:"id"`
	ChatID  int64         `json:"chatId"`
	Name    string        `json:"username"`
	Status  SessionStatus `json:"status"`
	Handler int64         `json:"handler,omitempty"`
	History []int64       `json:"history"`
}

// RecordHandler appends an agent to the history if not already present.
func (u *UserSession) RecordHandler(agentID int64) {
	for _, id := range u.History {
		if id == agentID {
			return
		}
	}
	u.History = append(u.History, agentID)
}

// PendingRequest is an outstanding agent-role application.
// At most one exists per user id; it is deleted once resolved.
type PendingRequest struct {
	ID     int64  `json:"id"`
	Name   string `json:"username"`
	ChatID int64  `json:"chatId"`
}

// BlacklistEntry suppresses all routing for an id.
type BlacklistEntry struct {
	ID        int64     `json:"id"`
	Name      string    `json:"username"`
	BlockedAt time.Time `json:"blockedAt"`
}

// Settings holds runtime-toggleable behaviour persisted with the snapshot.
type Settings struct {
	AutoEndButton bool `json:"autoEndButton"`
}

// Snapshot is the canonical single-document state: admins, agents, user
// sessions, pending agent requests, the FIFO waiting queue and the
// blacklist. JSON field names track the original setting.json layout so
// existing documents keep loading.
type Snapshot struct {
	Admins       []int64                   `json:"admins"`
	Agents       map[int64]*Agent          `json:"service"`
	Users        map[int64]*UserSession    `json:"userChats"`
	Pending      map[int64]*PendingRequest `json:"pendingRequests"`
	WaitingQueue []int64                   `json:"waitingQueue"`
	Blacklist    map[int64]*BlacklistEntry `json:"blacklist"`
	Settings     Settings                  `json:"settings"`
}

// NewSnapshot returns an empty, uninitialized snapshot.
func NewSnapshot() *Snapshot {
	s := &Snapshot{Settings: Settings{AutoEndButton: true}}
	s.Normalize()
	return s
}

// Normalize defaults any missing collection to empty. Loads of documents
// written by older versions must not fail on absent fields.
func (s *Snapshot) Normalize() {
	if s.Admins == nil {
		s.Admins = []int64{}
	}
	if s.Agents == nil {
		s.Agents = map[int64]*Agent{}
	}
	if s.Users == nil {
		s.Users = map[int64]*UserSession{}
	}
	if s.Pending == nil {
		s.Pending = map[int64]*PendingRequest{}
	}
	if s.WaitingQueue == nil {
		s.WaitingQueue = []int64{}
	}
	if s.Blacklist == nil {
		s.Blacklist = map[int64]*BlacklistEntry{}
	}
}

// Initialized reports whether the one-time bootstrap has happened.
// The admin set only ever grows, so non-empty means initialized.
func (s *Snapshot) Initialized() bool { return len(s.Admins) > 0 }

// IsAdmin reports whether id is in the admin set.
func (s *Snapshot) IsAdmin(id int64) bool {
	if !s.Initialized() {
		return false
	}
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// InQueue reports whether id is already waiting.
func (s *Snapshot) InQueue(id int64) bool {
	for _, q := range s.WaitingQueue {
		if q == id {
			return true
		}
	}
	return false
}

// RemoveFromQueue deletes id from the waiting queue wherever it sits.
func (s *Snapshot) RemoveFromQueue(id int64) {
	for i, q := range s.WaitingQueue {
		if q == id {
			s.WaitingQueue = append(s.WaitingQueue[:i], s.WaitingQueue[i+1:]...)
			return
		}
	}
}

// IdleAgents returns the ids of all agents with no user assigned.
func (s *Snapshot) IdleAgents() []int64 {
	var idle []int64
	for id, a := range s.Agents {
		if a.Idle() {
			idle = append(idle, id)
		}
	}
	return idle
}

// Check verifies the global invariants and returns the first violation
// found. Callers log violations; they are never fatal.
func (s *Snapshot) Check() error {
	seenServing := map[int64]int64{}
	for id, a := range s.Agents {
		if a.Serving == 0 {
			continue
		}
		if prev, ok := seenServing[a.Serving]; ok {
			return fmt.Errorf("agents %d and %d both serve user %d", prev, id, a.Serving)
		}
		seenServing[a.Serving] = id
		u, ok := s.Users[a.Serving]
		if !ok {
			return fmt.Errorf("agent %d serves missing user %d", id, a.Serving)
		}
		if u.Handler != id {
			return fmt.Errorf("agent %d serves user %d but user's handler is %d", id, a.Serving, u.Handler)
		}
	}
	for id, u := range s.Users {
		if _, ok := s.Agents[id]; ok {
			return fmt.Errorf("id %d is both an agent and a user session", id)
		}
		if u.Handler == 0 {
			continue
		}
		a, ok := s.Agents[u.Handler]
		if !ok {
			return fmt.Errorf("user %d references missing handler %d", id, u.Handler)
		}
		if a.Serving != id {
			return fmt.Errorf("user %d has handler %d but that agent serves %d", id, u.Handler, a.Serving)
		}
		present := false
		for _, h := range u.History {
			if h == u.Handler {
				present = true
				break
			}
		}
		if !present {
			return fmt.Errorf("user %d handler %d missing from history", id, u.Handler)
		}
	}
	for id := range s.Blacklist {
		if _, ok := s.Agents[id]; ok {
			return fmt.Errorf("blacklisted id %d is an agent", id)
		}
		if s.IsAdmin(id) {
			return fmt.Errorf("blacklisted id %d is an admin", id)
		}
	}
	return nil
}
