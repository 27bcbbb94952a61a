package progress

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// BadgeID identifies an entry of the badge catalog. IDs are stable; clients store them.
type BadgeID string

const (
	BadgeFirstTransaction BadgeID = "FIRST_TRANSACTION"
	BadgeTransactions50   BadgeID = "TRANSACTIONS_50"
	BadgeFirstGoal        BadgeID = "FIRST_GOAL"
	BadgeGoalCompleted    BadgeID = "GOAL_COMPLETED"
	BadgeStreak3          BadgeID = "STREAK_3"
	BadgeStreak7          BadgeID = "STREAK_7"
	BadgeStreak30         BadgeID = "STREAK_30"
	BadgeSaver100         BadgeID = "SAVER_100"
	BadgeSaver500         BadgeID = "SAVER_500"
	BadgeSaver1000        BadgeID = "SAVER_1000"
	BadgeLevel5           BadgeID = "LEVEL_5"
	BadgeLevel10          BadgeID = "LEVEL_10"
)

// Facts are the aggregate figures badge predicates are evaluated against.
type Facts struct {
	TransactionCount   int
	GoalCount          int
	CompletedGoalCount int
	CurrentStreak      int
	Balance            Money
	Level              int
}

// Badge is one immutable catalog entry.
type Badge struct {
	ID          BadgeID           `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	unlocked    func(Facts) bool
}

// Unlocked reports whether f satisfies the badge.
func (b Badge) Unlocked(f Facts) bool {
	return b.unlocked(f)
}

var badgeCatalog = []Badge{
	{BadgeFirstTransaction, "First Steps", "Log your first transaction", "🎯", func(f Facts) bool { return f.TransactionCount >= 1 }},
	{BadgeTransactions50, "Money Tracker", "Log 50 transactions", "📊", func(f Facts) bool { return f.TransactionCount >= 50 }},
	{BadgeFirstGoal, "Goal Setter", "Create your first savings goal", "🎯", func(f Facts) bool { return f.GoalCount >= 1 }},
	{BadgeGoalCompleted, "Goal Crusher", "Complete a savings goal", "🏆", func(f Facts) bool { return f.CompletedGoalCount >= 1 }},
	{BadgeStreak3, "On a Roll", "Keep a 3-day streak", "🔥", func(f Facts) bool { return f.CurrentStreak >= 3 }},
	{BadgeStreak7, "Week Warrior", "Keep a 7-day streak", "⚡", func(f Facts) bool { return f.CurrentStreak >= 7 }},
	{BadgeStreak30, "Unstoppable", "Keep a 30-day streak", "💎", func(f Facts) bool { return f.CurrentStreak >= 30 }},
	{BadgeSaver100, "Saver", "Reach a balance of $100", "💰", func(f Facts) bool { return f.Balance >= 100_00 }},
	{BadgeSaver500, "Super Saver", "Reach a balance of $500", "💵", func(f Facts) bool { return f.Balance >= 500_00 }},
	{BadgeSaver1000, "Money Master", "Reach a balance of $1000", "🤑", func(f Facts) bool { return f.Balance >= 1000_00 }},
	{BadgeLevel5, "Rising Star", "Reach level 5", "⭐", func(f Facts) bool { return f.Level >= 5 }},
	{BadgeLevel10, "Finance Pro", "Reach level 10", "🌟", func(f Facts) bool { return f.Level >= 10 }},
}

// Badges returns a copy of the catalog.
func Badges() []Badge {
	out := make([]Badge, len(badgeCatalog))
	copy(out, badgeCatalog)
	return out
}

// BadgeByID looks a badge up in the catalog.
func BadgeByID(id BadgeID) (Badge, bool) {
	for _, b := range badgeCatalog {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

// EligibleBadges lists every catalog badge f satisfies, in catalog order.
func EligibleBadges(f Facts) []BadgeID {
	var ids []BadgeID
	for _, b := range badgeCatalog {
		if b.Unlocked(f) {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// AchievementUnlocker awards badges whose conditions are newly met.
type AchievementUnlocker struct {
	repo  Repository
	clock Clock
}

// NewAchievementUnlocker wires an unlocker to its collaborators.
func NewAchievementUnlocker(repo Repository, clock Clock) *AchievementUnlocker {
	return &AchievementUnlocker{repo: repo, clock: clock}
}

// GatherFacts reads the current aggregates for userID.
func (a *AchievementUnlocker) GatherFacts(ctx context.Context, userID string) (Facts, error) {
	var (
		facts Facts
		user  User
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := a.repo.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})

	g.Go(func() error {
		n, err := a.repo.CountTransactions(ctx, userID, TransactionFilter{})
		if err != nil {
			return fmt.Errorf("count transactions: %w", err)
		}
		facts.TransactionCount = n
		return nil
	})

	g.Go(func() error {
		total, completed, err := a.repo.CountGoals(ctx, userID)
		if err != nil {
			return fmt.Errorf("count goals: %w", err)
		}
		facts.GoalCount = total
		facts.CompletedGoalCount = completed
		return nil
	})

	if err := g.Wait(); err != nil {
		return Facts{}, err
	}

	facts.CurrentStreak = user.CurrentStreak
	facts.Balance = user.CurrentBalance
	facts.Level = user.Level
	return facts, nil
}

// CheckAndAward inserts every eligible badge and returns only the ones this call created.
// Running it again with unchanged facts returns nothing.
func (a *AchievementUnlocker) CheckAndAward(ctx context.Context, userID string) ([]BadgeID, error) {
	facts, err := a.GatherFacts(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	unlocked := []BadgeID{}
	for _, id := range EligibleBadges(facts) {
		created, err := a.repo.InsertAchievement(ctx, Achievement{UserID: userID, BadgeID: id, UnlockedAt: now})
		if err != nil {
			return unlocked, fmt.Errorf("insert achievement %s: %w", id, err)
		}
		if created {
			unlocked = append(unlocked, id)
		}
	}
	return unlocked, nil
}

// UnlockedBadge pairs a catalog badge with its unlock state for one user.
type UnlockedBadge struct {
	Badge
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// BadgeBoard returns the whole catalog annotated with what userID has unlocked.
func (a *AchievementUnlocker) BadgeBoard(ctx context.Context, userID string) ([]UnlockedBadge, error) {
	owned, err := a.repo.ListAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	at := make(map[BadgeID]time.Time, len(owned))
	for _, o := range owned {
		at[o.BadgeID] = o.UnlockedAt
	}

	board := make([]UnlockedBadge, 0, len(badgeCatalog))
	for _, b := range badgeCatalog {
		entry := UnlockedBadge{Badge: b}
		if ts, ok := at[b.ID]; ok {
			entry.Unlocked = true
			entry.UnlockedAt = &ts
		}
		board = append(board, entry)
	}
	return board, nil
}
