package progress

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFirstIncomeScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")

	h.add(t, "teen", TransactionIncome, 50_00, "allowance")

	stats := h.stats(t, "teen")
	if stats.TotalIncome != 50_00 || stats.CurrentBalance != 50_00 {
		t.Fatalf("unexpected totals %+v", stats.User)
	}
	if stats.XP != XPTransaction || stats.Level != 1 {
		t.Fatalf("expected 10 XP at level 1, got %d XP level %d", stats.XP, stats.Level)
	}
	if stats.CurrentStreak != 1 || stats.LongestStreak != 1 {
		t.Fatalf("expected streak 1, got %d/%d", stats.CurrentStreak, stats.LongestStreak)
	}
	if countBadge(t, h.repo, "teen", BadgeFirstTransaction) != 1 {
		t.Fatalf("expected FIRST_TRANSACTION unlocked")
	}
	if countBadge(t, h.repo, "teen", BadgeSaver100) != 0 {
		t.Fatalf("SAVER_100 unlocked too early")
	}

	h.add(t, "teen", TransactionIncome, 50_00, "allowance")
	h.add(t, "teen", TransactionIncome, 10_00, "gift")

	if countBadge(t, h.repo, "teen", BadgeSaver100) != 1 {
		t.Fatalf("expected SAVER_100 unlocked exactly once")
	}
	again, err := h.svc.CheckAndAwardAchievements(context.Background(), "teen")
	if err != nil {
		t.Fatalf("CheckAndAwardAchievements: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing new on re-check, got %v", again)
	}
	if got := h.stats(t, "teen").XP; got != 3*XPTransaction {
		t.Fatalf("expected 30 XP, got %d", got)
	}
}

func TestBalanceInvariantAcrossAddAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	check := func() {
		t.Helper()
		s := h.stats(t, "teen")
		if s.CurrentBalance != s.TotalIncome-s.TotalExpenses {
			t.Fatalf("balance %s != income %s - expenses %s", s.CurrentBalance, s.TotalIncome, s.TotalExpenses)
		}
	}

	a := h.add(t, "teen", TransactionIncome, 120_00, "part_time_job")
	check()
	b := h.add(t, "teen", TransactionExpense, 15_50, "food")
	check()
	h.add(t, "teen", TransactionExpense, 7_25, "transportation")
	check()
	if err := h.svc.DeleteTransaction(ctx, "teen", b.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	check()
	if err := h.svc.DeleteTransaction(ctx, "teen", a.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	check()

	s := h.stats(t, "teen")
	if s.TotalIncome != 0 || s.TotalExpenses != 7_25 || s.CurrentBalance != -7_25 {
		t.Fatalf("unexpected totals after deletes %+v", s.User)
	}
	if err := h.svc.DeleteTransaction(ctx, "teen", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestAddTransactionValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	future := h.clock.Now().Add(72 * time.Hour)

	cases := []struct {
		name  string
		input TransactionInput
	}{
		{"bad type", TransactionInput{Type: "loan", Amount: 100, Category: "food"}},
		{"zero amount", TransactionInput{Type: TransactionExpense, Amount: 0, Category: "food"}},
		{"unknown category", TransactionInput{Type: TransactionExpense, Amount: 100, Category: "yachts"}},
		{"income category on expense", TransactionInput{Type: TransactionExpense, Amount: 100, Category: "allowance"}},
		{"future date", TransactionInput{Type: TransactionExpense, Amount: 100, Category: "food", Date: &future}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.AddTransaction(context.Background(), "teen", tc.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	s := h.stats(t, "teen")
	if s.TotalExpenses != 0 || s.XP != 0 {
		t.Fatalf("rejected transactions must leave no trace: %+v", s.User)
	}
}

func TestUnauthenticatedCallerIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.AddTransaction(context.Background(), "", TransactionInput{Type: TransactionIncome, Amount: 100, Category: "gift"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestGoalCompletionBonusAwardedOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	goal, err := h.svc.CreateGoal(ctx, "teen", GoalInput{Name: "New headphones", TargetAmount: 20_00})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if got := h.stats(t, "teen").XP; got != XPGoalCreated {
		t.Fatalf("expected %d XP after creating goal, got %d", XPGoalCreated, got)
	}

	res, err := h.svc.UpdateGoalProgress(ctx, "teen", goal.ID, 25_00)
	if err != nil {
		t.Fatalf("UpdateGoalProgress: %v", err)
	}
	if res.Goal.CurrentAmount != 25_00 || !res.Goal.IsCompleted || !res.JustCompleted {
		t.Fatalf("unexpected goal after progress %+v", res)
	}
	want := XPGoalCreated + XPGoalProgress + XPGoalCompleted
	if got := h.stats(t, "teen").XP; got != want {
		t.Fatalf("expected %d XP, got %d", want, got)
	}

	res, err = h.svc.UpdateGoalProgress(ctx, "teen", goal.ID, 0)
	if err != nil {
		t.Fatalf("UpdateGoalProgress(+0): %v", err)
	}
	if res.JustCompleted {
		t.Fatalf("+0 update must not complete again")
	}
	if got := h.stats(t, "teen").XP; got != want {
		t.Fatalf("completion bonus re-awarded: %d XP", got)
	}

	if _, err := h.svc.UpdateGoalProgress(ctx, "teen", goal.ID, -10_00); err != nil {
		t.Fatalf("UpdateGoalProgress(-10): %v", err)
	}
	res, err = h.svc.UpdateGoalProgress(ctx, "teen", goal.ID, 10_00)
	if err != nil {
		t.Fatalf("UpdateGoalProgress(+10): %v", err)
	}
	if !res.JustCompleted {
		t.Fatalf("expected goal to complete again")
	}
	want += XPGoalProgress
	if got := h.stats(t, "teen").XP; got != want {
		t.Fatalf("completion bonus must be granted once per goal: want %d, got %d", want, got)
	}

	if countBadge(t, h.repo, "teen", BadgeGoalCompleted) != 1 || countBadge(t, h.repo, "teen", BadgeFirstGoal) != 1 {
		t.Fatalf("expected goal badges")
	}
}

func TestGoalProgressNeverBelowZero(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	goal, _ := h.svc.CreateGoal(ctx, "teen", GoalInput{Name: "Bike", TargetAmount: 200_00, CurrentAmount: 5_00})
	res, err := h.svc.UpdateGoalProgress(ctx, "teen", goal.ID, -50_00)
	if err != nil {
		t.Fatalf("UpdateGoalProgress: %v", err)
	}
	if res.Goal.CurrentAmount != 0 {
		t.Fatalf("expected clamp at zero, got %s", res.Goal.CurrentAmount)
	}
	if _, err := h.svc.UpdateGoalProgress(ctx, "teen", "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBudgetAlertDeduplication(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "food", LimitAmount: 100_00, Period: PeriodWeekly}); err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}

	h.add(t, "teen", TransactionExpense, 80_00, "food")
	h.clock.Advance(10 * time.Minute)
	h.add(t, "teen", TransactionExpense, 5_00, "food")

	alerts, err := h.svc.ListAlerts(ctx, "teen", false)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != StatusDanger {
		t.Fatalf("expected one danger alert, got %+v", alerts)
	}

	h.clock.Advance(61 * time.Minute)
	h.add(t, "teen", TransactionExpense, 20_00, "food")
	alerts, _ = h.svc.ListAlerts(ctx, "teen", false)
	if len(alerts) != 2 || alerts[0].Severity != StatusExceeded {
		t.Fatalf("expected a new exceeded alert after the quiet hour, got %+v", alerts)
	}

	if err := h.svc.MarkAlertRead(ctx, "teen", alerts[0].ID); err != nil {
		t.Fatalf("MarkAlertRead: %v", err)
	}
	unread, _ := h.svc.ListAlerts(ctx, "teen", true)
	if len(unread) != 1 {
		t.Fatalf("expected one unread alert, got %d", len(unread))
	}
}

func TestBudgetCheckSkipsIncomeAndInactiveLimits(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()
	inactive := false

	if _, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "shopping", LimitAmount: 10_00, IsActive: &inactive}); err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	h.add(t, "teen", TransactionExpense, 50_00, "shopping")
	h.add(t, "teen", TransactionIncome, 50_00, "gift")
	h.add(t, "teen", TransactionExpense, 50_00, "entertainment")

	alerts, _ := h.svc.ListAlerts(ctx, "teen", false)
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}

func TestBudgetLimitUpsertKeepsOnePerCategory(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()
	threshold := 90

	first, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "Food", LimitAmount: 50_00})
	if err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	if first.AlertThreshold != DefaultAlertThreshold || first.Period != PeriodMonthly || !first.IsActive {
		t.Fatalf("unexpected defaults %+v", first)
	}
	h.clock.Advance(time.Minute)
	second, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "food", LimitAmount: 70_00, AlertThreshold: &threshold})
	if err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || second.LimitAmount != 70_00 || second.AlertThreshold != 90 {
		t.Fatalf("upsert did not update in place: %+v", second)
	}
	limits, _ := h.svc.ListBudgetLimits(ctx, "teen")
	if len(limits) != 1 {
		t.Fatalf("expected one limit, got %d", len(limits))
	}

	bad := 0
	if _, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "food", LimitAmount: 1, AlertThreshold: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for threshold 0, got %v", err)
	}
	if _, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "allowance", LimitAmount: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for income category, got %v", err)
	}
}

func TestBudgetStatusesUseRollingWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := h.svc.SetBudgetLimit(ctx, "teen", BudgetLimitInput{Category: "food", LimitAmount: 100_00, Period: PeriodWeekly}); err != nil {
		t.Fatalf("SetBudgetLimit: %v", err)
	}
	old := h.clock.Now().Add(-8 * 24 * time.Hour)
	if _, err := h.svc.AddTransaction(ctx, "teen", TransactionInput{Type: TransactionExpense, Amount: 90_00, Category: "food", Date: &old}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	h.add(t, "teen", TransactionExpense, 60_00, "food")

	statuses, err := h.svc.BudgetStatuses(ctx, "teen")
	if err != nil {
		t.Fatalf("BudgetStatuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Spent != 60_00 || statuses[0].Status != StatusWarning || statuses[0].Remaining != 40_00 {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	if _, err := h.svc.CategoryStatus(ctx, "teen", "health"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a limit, got %v", err)
	}
}

func TestRecalculateLevelIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	h := newHarness(t, repo)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := repo.UpdateUser(ctx, "teen", h.clock.Now(), func(u *User) (bool, error) {
		u.XP = 480
		return true, nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	first, err := h.svc.RecalculateLevel(ctx, "teen")
	if err != nil {
		t.Fatalf("RecalculateLevel: %v", err)
	}
	if !first.LevelChanged || first.Level != 4 || first.PreviousLevel != 1 {
		t.Fatalf("unexpected recalculation %+v", first)
	}
	second, err := h.svc.RecalculateLevel(ctx, "teen")
	if err != nil {
		t.Fatalf("RecalculateLevel: %v", err)
	}
	if second.LevelChanged {
		t.Fatalf("second recalculation must not change the level: %+v", second)
	}
}

func TestRecalculateLevelStampsClockTime(t *testing.T) {
	repo := NewMemoryRepository()
	h := newHarness(t, repo)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := repo.UpdateUser(ctx, "teen", h.clock.Now(), func(u *User) (bool, error) {
		u.XP = 250
		return true, nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	h.clock.Advance(3 * time.Hour)

	if _, err := h.svc.RecalculateLevel(ctx, "teen"); err != nil {
		t.Fatalf("RecalculateLevel: %v", err)
	}
	u, err := repo.GetUser(ctx, "teen")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if want := h.clock.Now().UTC(); !u.UpdatedAt.Equal(want) {
		t.Fatalf("expected UpdatedAt %v from the clock, got %v", want, u.UpdatedAt)
	}
}

func TestXPIsCappedAtMaxLevel(t *testing.T) {
	repo := NewMemoryRepository()
	h := newHarness(t, repo)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := repo.UpdateUser(ctx, "teen", h.clock.Now(), func(u *User) (bool, error) {
		u.XP = MaxTotalXP - 3
		return true, nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	h.add(t, "teen", TransactionIncome, 1_00, "gift")

	s := h.stats(t, "teen")
	if s.XP != MaxTotalXP || s.Level != MaxLevel || !s.IsMaxLevel {
		t.Fatalf("expected XP capped at %d and level %d, got %d/%d", MaxTotalXP, MaxLevel, s.XP, s.Level)
	}
}

func TestWorldUnlockAfterFinalLesson(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	worlds, err := h.svc.ListWorlds(ctx, "teen")
	if err != nil {
		t.Fatalf("ListWorlds: %v", err)
	}
	if len(worlds) != MaxWorldID || !worlds[0].Progress.IsUnlocked || worlds[1].Progress.IsUnlocked {
		t.Fatalf("expected only world 1 unlocked initially")
	}

	for n := 1; n <= LessonsPerWorld; n++ {
		res, err := h.svc.CompleteLesson(ctx, "teen", 1, LessonID(1, n), 2)
		if err != nil {
			t.Fatalf("CompleteLesson %d: %v", n, err)
		}
		if !res.FirstTime || res.XPAwarded != 20 {
			t.Fatalf("unexpected result for lesson %d: %+v", n, res)
		}
		if n == LessonsPerWorld && (res.UnlockedWorld != 2 || !res.WorldCompleted) {
			t.Fatalf("expected world 2 unlocked on the final lesson, got %+v", res)
		}
	}

	worlds, _ = h.svc.ListWorlds(ctx, "teen")
	w2 := worlds[1].Progress
	if !w2.IsUnlocked || len(w2.CompletedLessons) != 0 || w2.Stars != 0 {
		t.Fatalf("unexpected world 2 progress %+v", w2)
	}
	if worlds[0].Progress.Stars != 12 || !worlds[0].Complete {
		t.Fatalf("unexpected world 1 progress %+v", worlds[0].Progress)
	}

	xpBefore := h.stats(t, "teen").XP
	res, err := h.svc.CompleteLesson(ctx, "teen", 1, LessonID(1, 6), 3)
	if err != nil {
		t.Fatalf("repeat CompleteLesson: %v", err)
	}
	if res.FirstTime || res.WorldCompleted || res.XPAwarded != 0 || res.UnlockedWorld != 0 {
		t.Fatalf("repeat completion must be a no-op, got %+v", res)
	}
	if got := h.stats(t, "teen").XP; got != xpBefore {
		t.Fatalf("repeat completion awarded XP: %d -> %d", xpBefore, got)
	}
	if xpBefore != LessonsPerWorld*20 {
		t.Fatalf("expected %d lesson XP, got %d", LessonsPerWorld*20, xpBefore)
	}
}

func TestCompleteLessonErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := h.svc.CompleteLesson(ctx, "teen", 3, LessonID(3, 1), 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for locked world, got %v", err)
	}
	if _, err := h.svc.CompleteLesson(ctx, "teen", 1, LessonID(2, 1), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign lesson, got %v", err)
	}
	if _, err := h.svc.CompleteLesson(ctx, "teen", 9, "9-1", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown world, got %v", err)
	}
	if _, err := h.svc.CompleteLesson(ctx, "teen", 1, LessonID(1, 1), 4); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 4 stars, got %v", err)
	}
}

func TestStreakOnlyMovesForTransactions(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := h.svc.CompleteLesson(ctx, "teen", 1, LessonID(1, 1), 1); err != nil {
		t.Fatalf("CompleteLesson: %v", err)
	}
	if s := h.stats(t, "teen"); s.CurrentStreak != 0 {
		t.Fatalf("lesson must not move the streak, got %d", s.CurrentStreak)
	}

	for i := 0; i < 3; i++ {
		h.add(t, "teen", TransactionExpense, 1_00, "food")
		h.add(t, "teen", TransactionExpense, 1_00, "food")
		h.clock.Advance(24 * time.Hour)
	}
	s := h.stats(t, "teen")
	if s.CurrentStreak != 3 || s.LongestStreak != 3 {
		t.Fatalf("expected a 3-day streak, got %d/%d", s.CurrentStreak, s.LongestStreak)
	}
	if countBadge(t, h.repo, "teen", BadgeStreak3) != 1 {
		t.Fatalf("expected STREAK_3")
	}
}

func TestChallengeClaimIsIdempotentPerPeriod(t *testing.T) {
	h := newHarness(t, nil)
	h.NewUser(t, "teen")
	ctx := context.Background()

	if _, err := h.svc.ClaimChallenge(ctx, "teen", "weekly_tracker"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden before completion, got %v", err)
	}
	for i := 0; i < 5; i++ {
		h.add(t, "teen", TransactionExpense, 1_00, "food")
	}

	me, err := h.svc.GetChallengesMe(ctx, "teen")
	if err != nil {
		t.Fatalf("GetChallengesMe: %v", err)
	}
	var tracker ChallengeStatus
	for _, c := range me.Challenges {
		if c.Challenge.ID == "weekly_tracker" {
			tracker = c
		}
	}
	if !tracker.Completed || tracker.Claimed || tracker.ProgressPercent != 100 || tracker.PeriodKey != "2026-W11" {
		t.Fatalf("unexpected tracker status %+v", tracker)
	}

	xpBefore := h.stats(t, "teen").XP
	first, err := h.svc.ClaimChallenge(ctx, "teen", "weekly_tracker")
	if err != nil {
		t.Fatalf("ClaimChallenge: %v", err)
	}
	if !first.Claimed || first.XPAwarded != 50 || first.XPTotal != xpBefore+50 {
		t.Fatalf("unexpected claim %+v", first)
	}
	second, err := h.svc.ClaimChallenge(ctx, "teen", "weekly_tracker")
	if err != nil {
		t.Fatalf("second ClaimChallenge: %v", err)
	}
	if !second.AlreadyClaimed || second.Claimed || second.XPTotal != first.XPTotal {
		t.Fatalf("second claim must not award XP: %+v", second)
	}

	if _, err := h.svc.ClaimChallenge(ctx, "teen", "no_such_challenge"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
