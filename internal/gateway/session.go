package gateway

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Turn is one entry of session memory.
type Turn struct {
	Role    string
	Content string
}

// maxSessionTurns bounds memory to 5 user/assistant pairs; this caps both
// prompt growth and retention.
const maxSessionTurns = 10

// maxUserTurns is the number of user turns after which the session resets.
const maxUserTurns = 5

// SessionStore is the bounded, expiring session memory. It is injected
// into the pipeline rather than held as ambient process state so multiple
// instances can each own their slice of sessions.
type SessionStore struct {
	lru *expirable.LRU[string, []Turn]
}

func NewSessionStore(maxSessions int, ttl time.Duration) *SessionStore {
	if maxSessions <= 0 {
		maxSessions = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		lru: expirable.NewLRU[string, []Turn](maxSessions, nil, ttl),
	}
}

// History returns the session's turns, most recent last.
func (s *SessionStore) History(sessionID string) []Turn {
	turns, _ := s.lru.Get(sessionID)
	return turns
}

// Append records one user/assistant pair, trimming to the turn bound.
func (s *SessionStore) Append(sessionID, userText, reply string) {
	turns, _ := s.lru.Get(sessionID)
	turns = append(turns,
		Turn{Role: "user", Content: userText},
		Turn{Role: "assistant", Content: reply},
	)
	if len(turns) > maxSessionTurns {
		turns = turns[len(turns)-maxSessionTurns:]
	}
	s.lru.Add(sessionID, turns)
}

// UserTurns counts user entries currently in memory.
func (s *SessionStore) UserTurns(sessionID string) int {
	n := 0
	for _, t := range s.History(sessionID) {
		if t.Role == "user" {
			n++
		}
	}
	return n
}

// Exhausted reports whether the session has hit the user-turn bound.
func (s *SessionStore) Exhausted(sessionID string) bool {
	return s.UserTurns(sessionID) >= maxUserTurns
}

// Reset clears the session.
func (s *SessionStore) Reset(sessionID string) {
	s.lru.Remove(sessionID)
}
