// Package challenge manages single-use, user-scoped ceremony challenges.
//
// At most one challenge is live per user. Issuing supersedes any prior
// challenge, and consuming removes it in the same statement, so a challenge
// can authorize at most one verification. A failed verification burns the
// challenge; the client must start a fresh ceremony.
package challenge

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/driftlock/driftlock/internal/auth/storage"
	apperrors "github.com/driftlock/driftlock/internal/platform/errors"
)

// Kind describes the ceremony a challenge authorizes.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindLogin        Kind = "login"
)

var (
	// ErrMissing indicates no live challenge exists for the user.
	ErrMissing = apperrors.New(apperrors.CodeChallengeMissing, "no live challenge for user")
	// ErrMismatch indicates the presented challenge does not match the stored one.
	ErrMismatch = apperrors.New(apperrors.CodeChallengeMismatch, "challenge does not match")
)

// Manager issues and consumes ceremony challenges backed by a ChallengeStore.
type Manager struct {
	store storage.ChallengeStore
	ttl   time.Duration
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock is a per-user ceremony mutex with a count of holders and waiters.
// The Manager drops the entry once the count reaches zero, so the locks map
// only holds users with a ceremony in flight.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager with the given challenge lifetime.
func NewManager(store storage.ChallengeStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		clock: time.Now,
		locks: make(map[string]*userLock),
	}
}

// Lock acquires the per-user ceremony lock and returns its release func.
//
// Concurrent ceremonies for the same user must not interleave between issue
// and consume: without this, one request's challenge could be superseded and
// then "validated" by another request's response. Ceremonies for different
// users never contend.
func (m *Manager) Lock(userID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &userLock{}
		m.locks[userID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Issue stores a challenge for the user, superseding any live one.
// The session payload embeds the challenge value the client must sign over.
func (m *Manager) Issue(ctx context.Context, userID string, kind Kind, sessionJSON string) error {
	return m.store.PutChallenge(ctx, storage.Challenge{
		UserID:      userID,
		Kind:        string(kind),
		SessionJSON: sessionJSON,
		ExpiresAt:   m.clock().UTC().Add(m.ttl),
	})
}

// Consume atomically removes and returns the user's live challenge session.
//
// Fails with ErrMissing when no challenge is stored, when it has expired, or
// when it was issued for a different ceremony kind. In every failure case the
// challenge is already gone and cannot be retried.
func (m *Manager) Consume(ctx context.Context, userID string, kind Kind) (string, error) {
	stored, err := m.store.TakeChallenge(ctx, userID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return "", ErrMissing
		}
		return "", err
	}
	if stored.ExpiresAt.Before(m.clock().UTC()) {
		return "", ErrMissing
	}
	if stored.Kind != string(kind) {
		return "", ErrMismatch
	}
	return stored.SessionJSON, nil
}

// Match compares a presented challenge value against the expected one in
// constant time.
func Match(expected, presented string) error {
	if expected == "" || presented == "" {
		return ErrMissing
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return ErrMismatch
	}
	return nil
}
