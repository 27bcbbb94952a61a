package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

type harness struct {
	svc   Service
	repo  Repository
	clock *fakeClock
}

func newHarness(t *testing.T, repo Repository) harness {
	t.Helper()
	if repo == nil {
		repo = NewMemoryRepository()
	}
	clock := newFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	svc, err := NewService(repo, tasks.Inline{Logger: logging.Discard()}, clock, &seqIDs{}, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return harness{svc: svc, repo: repo, clock: clock}
}

func (h harness) NewUser(t *testing.T, id string) {
	t.Helper()
	if _, err := h.svc.EnsureUser(context.Background(), UserProfile{ID: id, DisplayName: "Teen"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
}

func (h harness) stats(t *testing.T, id string) UserStats {
	t.Helper()
	stats, err := h.svc.GetStats(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	return stats
}

func (h harness) add(t *testing.T, id string, typ TransactionType, amount Money, category string) Transaction {
	t.Helper()
	tx, err := h.svc.AddTransaction(context.Background(), id, TransactionInput{Type: typ, Amount: amount, Category: category})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	return tx
}

func countBadge(t *testing.T, repo Repository, userID string, id BadgeID) int {
	t.Helper()
	list, err := repo.ListAchievements(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListAchievements: %v", err)
	}
	n := 0
	for _, a := range list {
		if a.BadgeID == id {
			n++
		}
	}
	return n
}
