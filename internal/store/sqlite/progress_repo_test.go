package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
)

var testNow = time.Date(2026, time.September, 14, 8, 30, 0, 0, time.UTC)

func seededRepo(t *testing.T) *ProgressRepo {
	t.Helper()
	repo := NewProgressRepo(newTestDB(t))
	if _, err := repo.EnsureUser(context.Background(), progress.UserProfile{ID: "teen", DisplayName: "Teen"}, testNow); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return repo
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	u, err := repo.EnsureUser(ctx, progress.UserProfile{ID: "teen", DisplayName: "Renamed"}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.DisplayName != "Teen" || u.Level != 1 || !u.CreatedAt.Equal(testNow) {
		t.Fatalf("second EnsureUser must return the existing user, got %+v", u)
	}
	if _, err := repo.GetUser(ctx, "nobody"); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserStampsGivenTime(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()
	at := testNow.Add(90 * time.Minute)

	u, err := repo.UpdateUser(ctx, "teen", at, func(u *progress.User) (bool, error) {
		u.Level = 3
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if !u.UpdatedAt.Equal(at) {
		t.Fatalf("expected UpdatedAt %v, got %v", at, u.UpdatedAt)
	}

	if _, err := repo.UpdateUser(ctx, "teen", at.Add(time.Hour), func(*progress.User) (bool, error) {
		return false, nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	stored, err := repo.GetUser(ctx, "teen")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.Level != 3 || !stored.UpdatedAt.Equal(at) {
		t.Fatalf("unchanged mutation must not rewrite the user, got %+v", stored)
	}
}

func TestTransactionsUpdateTotalsAtomically(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	income := progress.Transaction{ID: "t1", UserID: "teen", Type: progress.TransactionIncome, Amount: 50_00, Category: "allowance", Date: testNow, CreatedAt: testNow}
	expense := progress.Transaction{ID: "t2", UserID: "teen", Type: progress.TransactionExpense, Amount: 12_34, Category: "food", Date: testNow.Add(time.Minute), CreatedAt: testNow}

	if _, err := repo.AddTransaction(ctx, income, testNow); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	u, err := repo.AddTransaction(ctx, expense, testNow)
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if u.CurrentBalance != 37_66 || u.TotalIncome != 50_00 || u.TotalExpenses != 12_34 {
		t.Fatalf("unexpected totals %+v", u)
	}

	if _, err := repo.AddTransaction(ctx, income, testNow); !errors.Is(err, progress.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate id, got %v", err)
	}
	stored, _ := repo.GetUser(ctx, "teen")
	if stored.TotalIncome != 50_00 {
		t.Fatalf("duplicate insert must roll back the totals, got %s", stored.TotalIncome)
	}

	orphan := expense
	orphan.ID, orphan.UserID = "t3", "ghost"
	if _, err := repo.AddTransaction(ctx, orphan, testNow); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	list, err := repo.ListTransactions(ctx, "teen", progress.TransactionFilter{Type: progress.TransactionExpense})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(list) != 1 || list[0].ID != "t2" || list[0].Amount != 12_34 || !list[0].Date.Equal(expense.Date) {
		t.Fatalf("unexpected list %+v", list)
	}

	spent, err := repo.SumExpenses(ctx, "teen", "food", testNow)
	if err != nil || spent != 12_34 {
		t.Fatalf("SumExpenses = %s, %v", spent, err)
	}
	spent, _ = repo.SumExpenses(ctx, "teen", "food", testNow.Add(time.Hour))
	if spent != 0 {
		t.Fatalf("expected no spend after the window start, got %s", spent)
	}

	_, u, err = repo.DeleteTransaction(ctx, "teen", "t2", testNow)
	if err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if u.CurrentBalance != 50_00 || u.TotalExpenses != 0 {
		t.Fatalf("unexpected totals after delete %+v", u)
	}
	if _, _, err := repo.DeleteTransaction(ctx, "teen", "t2", testNow); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAwardXPOncePerSourceKey(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()
	ev := progress.XPEvent{UserID: "teen", SourceKey: "goal-completed:g1", Kind: progress.XPKindGoalCompleted, Amount: 100, AwardedAt: testNow}

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.AwardXP(ctx, ev, progress.MaxTotalXP)
			if err != nil {
				t.Errorf("AwardXP: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	awarded := 0
	for ok := range results {
		if ok {
			awarded++
		}
	}
	if awarded != 1 {
		t.Fatalf("expected exactly one award, got %d", awarded)
	}
	u, _ := repo.GetUser(ctx, "teen")
	if u.XP != 100 {
		t.Fatalf("expected 100 XP, got %d", u.XP)
	}
	n, _ := repo.CountXPEvents(ctx, "teen", progress.XPKindGoalCompleted, testNow, testNow.Add(time.Second))
	if n != 1 {
		t.Fatalf("expected one ledger row, got %d", n)
	}
}

func TestCreateAlertIfQuiet(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	for i, tc := range []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{30 * time.Minute, false},
		{59 * time.Minute, false},
		{61 * time.Minute, true},
	} {
		alert := progress.SpendingAlert{
			ID: fmt.Sprintf("a%d", i), UserID: "teen", Category: "food", Severity: progress.StatusDanger,
			SpentAmount: 85_00, LimitAmount: 100_00, Percentage: 85, Message: "careful", CreatedAt: testNow.Add(tc.offset),
		}
		got, err := repo.CreateAlertIfQuiet(ctx, alert, progress.AlertQuietPeriod)
		if err != nil {
			t.Fatalf("CreateAlertIfQuiet #%d: %v", i, err)
		}
		if got != tc.want {
			t.Fatalf("CreateAlertIfQuiet #%d = %v, want %v", i, got, tc.want)
		}
	}

	alerts, err := repo.ListAlerts(ctx, "teen", false, 10)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != "a3" || alerts[0].SpentAmount != 85_00 {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if err := repo.MarkAlertRead(ctx, "teen", "a3"); err != nil {
		t.Fatalf("MarkAlertRead: %v", err)
	}
	unread, _ := repo.ListAlerts(ctx, "teen", true, 10)
	if len(unread) != 1 || unread[0].ID != "a0" {
		t.Fatalf("unexpected unread alerts %+v", unread)
	}
	if err := repo.MarkAlertRead(ctx, "teen", "missing"); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBudgetLimitUpsertPreservesCreatedAt(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()
	limit := progress.BudgetLimit{UserID: "teen", Category: "food", LimitAmount: 40_00, Period: progress.PeriodWeekly, AlertThreshold: 80, IsActive: true}

	first, err := repo.UpsertBudgetLimit(ctx, limit, testNow)
	if err != nil {
		t.Fatalf("UpsertBudgetLimit: %v", err)
	}
	limit.LimitAmount, limit.IsActive = 60_00, false
	second, err := repo.UpsertBudgetLimit(ctx, limit, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("UpsertBudgetLimit: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected timestamps %+v", second)
	}
	if second.LimitAmount != 60_00 || second.IsActive {
		t.Fatalf("upsert did not update fields %+v", second)
	}

	if err := repo.DeleteBudgetLimit(ctx, "teen", "food"); err != nil {
		t.Fatalf("DeleteBudgetLimit: %v", err)
	}
	if _, err := repo.GetBudgetLimit(ctx, "teen", "food"); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCompleteLessonUnlocksNextWorld(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	in := progress.LessonCompletionInput{UserID: "teen", WorldID: 1, Stars: 2, LessonCount: progress.LessonsPerWorld, NextWorldID: 2, Now: testNow}
	in.LessonID = "1-1"
	if _, err := repo.CompleteLesson(ctx, in); !errors.Is(err, progress.ErrForbidden) {
		t.Fatalf("expected ErrForbidden before unlock, got %v", err)
	}
	if _, err := repo.EnsureWorldUnlocked(ctx, "teen", 1, testNow); err != nil {
		t.Fatalf("EnsureWorldUnlocked: %v", err)
	}

	var last progress.LessonCompletion
	for n := 1; n <= progress.LessonsPerWorld; n++ {
		in.LessonID = progress.LessonID(1, n)
		res, err := repo.CompleteLesson(ctx, in)
		if err != nil {
			t.Fatalf("CompleteLesson %s: %v", in.LessonID, err)
		}
		last = res
	}
	if !last.WorldCompleted || last.Progress.Stars != 12 || last.Progress.CompletedAt == nil {
		t.Fatalf("unexpected final completion %+v", last)
	}

	worlds, err := repo.ListWorldProgress(ctx, "teen")
	if err != nil {
		t.Fatalf("ListWorldProgress: %v", err)
	}
	if len(worlds) != 2 || !worlds[1].IsUnlocked || len(worlds[1].CompletedLessons) != 0 || worlds[1].Stars != 0 {
		t.Fatalf("expected world 2 unlocked and empty, got %+v", worlds)
	}

	again, err := repo.CompleteLesson(ctx, in)
	if err != nil {
		t.Fatalf("repeat CompleteLesson: %v", err)
	}
	if again.FirstTime || again.WorldCompleted || again.Progress.Stars != 12 {
		t.Fatalf("repeat completion must be a no-op, got %+v", again)
	}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("id-%d", c.n)
}

func TestServiceOverSQLite(t *testing.T) {
	repo := NewProgressRepo(newTestDB(t))
	svc, err := progress.NewService(repo, tasks.Inline{Logger: logging.Discard()}, &stepClock{now: testNow}, &counterIDs{}, progress.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.EnsureUser(ctx, progress.UserProfile{ID: "teen"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	if _, err := svc.AddTransaction(ctx, "teen", progress.TransactionInput{Type: progress.TransactionIncome, Amount: 120_00, Category: "part_time_job"}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	goal, err := svc.CreateGoal(ctx, "teen", progress.GoalInput{Name: "Concert", TargetAmount: 20_00})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if _, err := svc.UpdateGoalProgress(ctx, "teen", goal.ID, 25_00); err != nil {
		t.Fatalf("UpdateGoalProgress: %v", err)
	}

	stats, err := svc.GetStats(ctx, "teen")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	wantXP := progress.XPTransaction + progress.XPGoalCreated + progress.XPGoalProgress + progress.XPGoalCompleted
	if stats.XP != wantXP || stats.Level != 2 || stats.CurrentStreak != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	board, err := svc.ListAchievements(ctx, "teen")
	if err != nil {
		t.Fatalf("ListAchievements: %v", err)
	}
	unlocked := map[progress.BadgeID]bool{}
	for _, b := range board {
		if b.Unlocked {
			unlocked[b.ID] = true
		}
	}
	for _, id := range []progress.BadgeID{progress.BadgeFirstTransaction, progress.BadgeFirstGoal, progress.BadgeGoalCompleted, progress.BadgeSaver100} {
		if !unlocked[id] {
			t.Fatalf("expected %s unlocked, got %v", id, unlocked)
		}
	}
}
