package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// userCutoff invalidates every token of a user issued at or before At.
type userCutoff struct {
	At        time.Time
	ExpiresAt time.Time
}

// RevocationList tracks sessions ended before their natural expiry: single
// tokens by JTI (logout) and all tokens of a user (deactivation, password
// reset). Entries are dropped once the tokens they cover would have expired.
type RevocationList struct {
	mu      sync.RWMutex
	tokens  map[string]time.Time // JTI -> token expiry
	users   map[uuid.UUID]userCutoff
	done    chan struct{}
	closeMu sync.Once
}

// NewRevocationList creates a list and starts a goroutine that sweeps expired
// entries every interval. Call Close to stop it.
func NewRevocationList(interval time.Duration) *RevocationList {
	r := &RevocationList{
		tokens: make(map[string]time.Time),
		users:  make(map[uuid.UUID]userCutoff),
		done:   make(chan struct{}),
	}
	go r.cleanupLoop(interval)
	return r
}

// Revoke ends a single token until expiresAt.
func (r *RevocationList) Revoke(jti string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[jti] = expiresAt
}

// RevokeUser ends every token of userID issued at or before at. Tokens live
// at most ttl, so the cutoff is kept until at+ttl.
func (r *RevocationList) RevokeUser(userID uuid.UUID, at time.Time, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = userCutoff{At: at, ExpiresAt: at.Add(ttl)}
}

// IsRevoked reports whether the token identified by jti, held by userID and
// issued at issuedAt, has been revoked.
func (r *RevocationList) IsRevoked(jti string, userID uuid.UUID, issuedAt time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tokens[jti]; ok {
		return true
	}
	if c, ok := r.users[userID]; ok && !issuedAt.After(c.At) {
		return true
	}
	return false
}

// Count returns the number of tracked tokens and users.
func (r *RevocationList) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens) + len(r.users)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (r *RevocationList) Close() {
	r.closeMu.Do(func() { close(r.done) })
}

func (r *RevocationList) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweep drops entries whose tokens have expired by now.
func (r *RevocationList) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for jti, exp := range r.tokens {
		if now.After(exp) {
			delete(r.tokens, jti)
		}
	}
	for id, c := range r.users {
		if now.After(c.ExpiresAt) {
			delete(r.users, id)
		}
	}
}
