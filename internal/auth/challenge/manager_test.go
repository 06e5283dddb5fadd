package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftlock/driftlock/internal/auth/storage"
)

type memoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]storage.Challenge
}

func newMemoryChallengeStore() *memoryChallengeStore {
	return &memoryChallengeStore{challenges: make(map[string]storage.Challenge)}
}

func (s *memoryChallengeStore) PutChallenge(_ context.Context, challenge storage.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.UserID] = challenge
	return nil
}

func (s *memoryChallengeStore) TakeChallenge(_ context.Context, userID string) (storage.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[userID]
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	delete(s.challenges, userID)
	return challenge, nil
}

func TestConsumeIsSingleUse(t *testing.T) {
	store := newMemoryChallengeStore()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	if err := manager.Issue(ctx, "user-1", KindLogin, `{"challenge":"abc"}`); err != nil {
		t.Fatalf("issue: %v", err)
	}

	session, err := manager.Consume(ctx, "user-1", KindLogin)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if session != `{"challenge":"abc"}` {
		t.Fatalf("unexpected session %q", session)
	}

	if _, err := manager.Consume(ctx, "user-1", KindLogin); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected second consume to fail with ErrMissing, got %v", err)
	}
}

func TestConsumeRejectsKindMismatch(t *testing.T) {
	store := newMemoryChallengeStore()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	if err := manager.Issue(ctx, "user-1", KindRegistration, `{}`); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := manager.Consume(ctx, "user-1", KindLogin); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
	// The mismatched consume still burned the challenge.
	if _, err := manager.Consume(ctx, "user-1", KindRegistration); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected challenge to be burned, got %v", err)
	}
}

func TestConsumeRejectsExpired(t *testing.T) {
	store := newMemoryChallengeStore()
	manager := NewManager(store, time.Minute)
	current := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	manager.clock = func() time.Time { return current }
	ctx := context.Background()

	if err := manager.Issue(ctx, "user-1", KindLogin, `{}`); err != nil {
		t.Fatalf("issue: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := manager.Consume(ctx, "user-1", KindLogin); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected expired challenge to fail, got %v", err)
	}
}

func TestIssueSupersedes(t *testing.T) {
	store := newMemoryChallengeStore()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	if err := manager.Issue(ctx, "user-1", KindLogin, `{"challenge":"one"}`); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := manager.Issue(ctx, "user-1", KindLogin, `{"challenge":"two"}`); err != nil {
		t.Fatalf("reissue: %v", err)
	}

	session, err := manager.Consume(ctx, "user-1", KindLogin)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if session != `{"challenge":"two"}` {
		t.Fatalf("expected superseding challenge, got %q", session)
	}
}

func TestMatch(t *testing.T) {
	if err := Match("abc", "abc"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := Match("abc", "abd"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := Match("", "abc"); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
	if err := Match("abc", ""); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
}

func TestLockSerializesPerUser(t *testing.T) {
	manager := NewManager(newMemoryChallengeStore(), time.Minute)

	unlock := manager.Lock("user-1")
	acquired := make(chan struct{})
	go func() {
		release := manager.Lock("user-1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("expected second lock for same user to block")
	case <-time.After(20 * time.Millisecond):
	}

	// A different user's lock is independent.
	otherUnlock := manager.Lock("user-2")
	otherUnlock()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected second lock to acquire after release")
	}
}

func TestLockReleasesUserEntry(t *testing.T) {
	manager := NewManager(newMemoryChallengeStore(), time.Minute)

	for i := 0; i < 100; i++ {
		unlock := manager.Lock("user-1")
		unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := manager.Lock("user-2")
			unlock()
		}()
	}
	wg.Wait()

	manager.mu.Lock()
	held := len(manager.locks)
	manager.mu.Unlock()
	if held != 0 {
		t.Fatalf("expected no retained lock entries, got %d", held)
	}
}
