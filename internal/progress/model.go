package progress

import (
	"context"
	"time"
)

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// BudgetPeriod is the trailing window a budget limit applies to.
type BudgetPeriod string

const (
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
)

// BudgetStatus classifies spend against a limit.
type BudgetStatus string

const (
	StatusSafe     BudgetStatus = "safe"
	StatusWarning  BudgetStatus = "warning"
	StatusDanger   BudgetStatus = "danger"
	StatusExceeded BudgetStatus = "exceeded"
)

// XP ledger kinds.
const (
	XPKindTransaction   = "transaction"
	XPKindGoalCreated   = "goal_created"
	XPKindGoalProgress  = "goal_progress"
	XPKindGoalCompleted = "goal_completed"
	XPKindLesson        = "lesson"
	XPKindChallenge     = "challenge"
)

// User is the per-identity aggregate every action feeds into.
type User struct {
	ID               string     `json:"id" firestore:"id"`
	DisplayName      string     `json:"display_name" firestore:"display_name"`
	Email            string     `json:"email" firestore:"email"`
	CurrentBalance   Money      `json:"current_balance" firestore:"current_balance"`
	TotalIncome      Money      `json:"total_income" firestore:"total_income"`
	TotalExpenses    Money      `json:"total_expenses" firestore:"total_expenses"`
	Level            int        `json:"level" firestore:"level"`
	XP               int        `json:"xp" firestore:"xp"`
	CurrentStreak    int        `json:"current_streak" firestore:"current_streak"`
	LongestStreak    int        `json:"longest_streak" firestore:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty" firestore:"last_activity_date"`
	CreatedAt        time.Time  `json:"created_at" firestore:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" firestore:"updated_at"`
}

// UserProfile is the identity information used to create a user on first use.
type UserProfile struct {
	ID          string
	DisplayName string
	Email       string
}

func NewUser(profile UserProfile, now time.Time) User {
	return User{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Level:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ApplyTransaction adjusts the money aggregates by tx; sign is +1 to apply and -1 to reverse.
func (u *User) ApplyTransaction(tx Transaction, sign Money) {
	switch tx.Type {
	case TransactionIncome:
		u.TotalIncome += sign * tx.Amount
	case TransactionExpense:
		u.TotalExpenses += sign * tx.Amount
	}
	u.CurrentBalance = u.TotalIncome - u.TotalExpenses
}

// UserStats is the read model the UI polls: the user plus every derived progression figure.
type UserStats struct {
	User
	LevelStats
}

// Transaction is an immutable income or expense record.
type Transaction struct {
	ID          string          `json:"id" firestore:"id"`
	UserID      string          `json:"user_id" firestore:"user_id"`
	Type        TransactionType `json:"type" firestore:"type"`
	Amount      Money           `json:"amount" firestore:"amount"`
	Category    string          `json:"category" firestore:"category"`
	Description string          `json:"description" firestore:"description"`
	Date        time.Time       `json:"date" firestore:"date"`
	CreatedAt   time.Time       `json:"created_at" firestore:"created_at"`
}

// TransactionInput is the caller-supplied part of a new transaction.
type TransactionInput struct {
	Type        TransactionType `json:"type"`
	Amount      Money           `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Date        *time.Time      `json:"date"`
}

// TransactionFilter narrows list and count queries. Zero values match everything.
type TransactionFilter struct {
	Type     TransactionType
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f TransactionFilter) matches(tx Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && tx.Date.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !tx.Date.Before(f.Until) {
		return false
	}
	return true
}

// Goal is a savings target with user-driven progress.
type Goal struct {
	ID            string     `json:"id" firestore:"id"`
	UserID        string     `json:"user_id" firestore:"user_id"`
	Name          string     `json:"name" firestore:"name"`
	TargetAmount  Money      `json:"target_amount" firestore:"target_amount"`
	CurrentAmount Money      `json:"current_amount" firestore:"current_amount"`
	IsCompleted   bool       `json:"is_completed" firestore:"is_completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" firestore:"completed_at"`
	Deadline      *time.Time `json:"deadline,omitempty" firestore:"deadline"`
	CreatedAt     time.Time  `json:"created_at" firestore:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" firestore:"updated_at"`
}

// ApplyDelta moves CurrentAmount by delta, never below zero, and re-derives completion.
func (g *Goal) ApplyDelta(delta Money, now time.Time) {
	g.CurrentAmount += delta
	if g.CurrentAmount < 0 {
		g.CurrentAmount = 0
	}
	wasCompleted := g.IsCompleted
	g.IsCompleted = g.CurrentAmount >= g.TargetAmount
	switch {
	case g.IsCompleted && !wasCompleted:
		g.CompletedAt = &now
	case !g.IsCompleted:
		g.CompletedAt = nil
	}
	g.UpdatedAt = now
}

// GoalInput is the caller-supplied part of a new goal.
type GoalInput struct {
	Name          string     `json:"name"`
	TargetAmount  Money      `json:"target_amount"`
	CurrentAmount Money      `json:"current_amount"`
	Deadline      *time.Time `json:"deadline"`
}

// GoalProgressResult reports a goal progress update.
type GoalProgressResult struct {
	Goal          Goal `json:"goal"`
	JustCompleted bool `json:"just_completed"`
}

// BudgetLimit is a per-category spending ceiling. A user has at most one per category.
type BudgetLimit struct {
	UserID         string       `json:"user_id" firestore:"user_id"`
	Category       string       `json:"category" firestore:"category"`
	LimitAmount    Money        `json:"limit_amount" firestore:"limit_amount"`
	Period         BudgetPeriod `json:"period" firestore:"period"`
	AlertThreshold int          `json:"alert_threshold" firestore:"alert_threshold"`
	IsActive       bool         `json:"is_active" firestore:"is_active"`
	CreatedAt      time.Time    `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" firestore:"updated_at"`
}

// BudgetLimitInput is the caller-supplied part of a budget limit upsert.
type BudgetLimitInput struct {
	Category       string       `json:"category"`
	LimitAmount    Money        `json:"limit_amount"`
	Period         BudgetPeriod `json:"period"`
	AlertThreshold *int         `json:"alert_threshold"`
	IsActive       *bool        `json:"is_active"`
}

// SpendingAlert is an append-only notice that a category crossed a threshold.
type SpendingAlert struct {
	ID          string       `json:"id" firestore:"id"`
	UserID      string       `json:"user_id" firestore:"user_id"`
	Category    string       `json:"category" firestore:"category"`
	Severity    BudgetStatus `json:"severity" firestore:"severity"`
	SpentAmount Money        `json:"spent_amount" firestore:"spent_amount"`
	LimitAmount Money        `json:"limit_amount" firestore:"limit_amount"`
	Percentage  float64      `json:"percentage" firestore:"percentage"`
	Message     string       `json:"message" firestore:"message"`
	IsRead      bool         `json:"is_read" firestore:"is_read"`
	CreatedAt   time.Time    `json:"created_at" firestore:"created_at"`
}

// Achievement records one unlocked badge.
type Achievement struct {
	UserID     string    `json:"user_id" firestore:"user_id"`
	BadgeID    BadgeID   `json:"badge_id" firestore:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at" firestore:"unlocked_at"`
}

// XPEvent is one XP ledger entry. SourceKey is unique per user.
type XPEvent struct {
	UserID    string    `json:"user_id" firestore:"user_id"`
	SourceKey string    `json:"source_key" firestore:"source_key"`
	Kind      string    `json:"kind" firestore:"kind"`
	Amount    int       `json:"amount" firestore:"amount"`
	AwardedAt time.Time `json:"awarded_at" firestore:"awarded_at"`
}

// WorldProgress tracks one user's state in one world.
type WorldProgress struct {
	UserID           string     `json:"user_id" firestore:"user_id"`
	WorldID          int        `json:"world_id" firestore:"world_id"`
	IsUnlocked       bool       `json:"is_unlocked" firestore:"is_unlocked"`
	CompletedLessons []string   `json:"completed_lessons" firestore:"completed_lessons"`
	Stars            int        `json:"stars" firestore:"stars"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" firestore:"completed_at"`
	UpdatedAt        time.Time  `json:"updated_at" firestore:"updated_at"`
}

func (w WorldProgress) HasLesson(lessonID string) bool {
	for _, id := range w.CompletedLessons {
		if id == lessonID {
			return true
		}
	}
	return false
}

// LessonCompletionInput carries everything a repository needs to record a lesson atomically.
type LessonCompletionInput struct {
	UserID      string
	WorldID     int
	LessonID    string
	Stars       int
	LessonCount int
	// NextWorldID is unlocked when this completion finishes the world; zero means none.
	NextWorldID int
	Now         time.Time
}

// LessonCompletion is what the repository reports after recording a lesson.
type LessonCompletion struct {
	Progress       WorldProgress `json:"progress"`
	FirstTime      bool          `json:"first_time"`
	WorldCompleted bool          `json:"world_completed"`
}

// RecordLesson applies a lesson completion to w. It reports whether the lesson
// was new and whether it finished the world.
func (w *WorldProgress) RecordLesson(in LessonCompletionInput) (firstTime, worldCompleted bool) {
	if w.HasLesson(in.LessonID) {
		return false, false
	}
	w.CompletedLessons = append(w.CompletedLessons, in.LessonID)
	w.Stars += in.Stars
	w.UpdatedAt = in.Now
	if w.CompletedAt == nil && len(w.CompletedLessons) >= in.LessonCount {
		now := in.Now
		w.CompletedAt = &now
		worldCompleted = true
	}
	return true, worldCompleted
}

func LockedWorld(userID string, worldID int) WorldProgress {
	return WorldProgress{UserID: userID, WorldID: worldID, CompletedLessons: []string{}}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates identifiers for new records.
type IDGenerator interface {
	NewID() string
}

// UserStore persists user aggregates.
type UserStore interface {
	// EnsureUser returns the user, creating it from profile when absent.
	EnsureUser(ctx context.Context, profile UserProfile, now time.Time) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	// UpdateUser runs mutate against the current user atomically and stamps
	// UpdatedAt with now. The write is skipped when mutate reports no change.
	UpdateUser(ctx context.Context, userID string, now time.Time, mutate func(*User) (bool, error)) (User, error)
}

// TransactionStore persists transactions together with their effect on user aggregates.
type TransactionStore interface {
	// AddTransaction inserts tx and applies it to the owner's totals in one atomic write.
	AddTransaction(ctx context.Context, tx Transaction, now time.Time) (User, error)
	// DeleteTransaction removes a transaction and reverses its effect on the owner's totals.
	DeleteTransaction(ctx context.Context, userID, transactionID string, now time.Time) (Transaction, User, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error)
	CountTransactions(ctx context.Context, userID string, filter TransactionFilter) (int, error)
	SumExpenses(ctx context.Context, userID, category string, since time.Time) (Money, error)
}

// GoalStore persists savings goals.
type GoalStore interface {
	CreateGoal(ctx context.Context, goal Goal) error
	GetGoal(ctx context.Context, userID, goalID string) (Goal, error)
	// UpdateGoalProgress applies delta atomically and returns the goal before and after.
	UpdateGoalProgress(ctx context.Context, userID, goalID string, delta Money, now time.Time) (Goal, Goal, error)
	DeleteGoal(ctx context.Context, userID, goalID string) error
	ListGoals(ctx context.Context, userID string) ([]Goal, error)
	CountGoals(ctx context.Context, userID string) (total int, completed int, err error)
}

// BudgetStore persists budget limits and the alerts they raise.
type BudgetStore interface {
	UpsertBudgetLimit(ctx context.Context, limit BudgetLimit, now time.Time) (BudgetLimit, error)
	GetBudgetLimit(ctx context.Context, userID, category string) (BudgetLimit, error)
	ListBudgetLimits(ctx context.Context, userID string) ([]BudgetLimit, error)
	DeleteBudgetLimit(ctx context.Context, userID, category string) error
	// CreateAlertIfQuiet inserts alert unless the same user and category already
	// has an alert created within quiet before alert.CreatedAt. The check and the
	// insert are atomic.
	CreateAlertIfQuiet(ctx context.Context, alert SpendingAlert, quiet time.Duration) (bool, error)
	ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]SpendingAlert, error)
	MarkAlertRead(ctx context.Context, userID, alertID string) error
}

// AchievementStore persists unlocked badges.
type AchievementStore interface {
	// InsertAchievement stores the badge unless present and reports whether it created a row.
	InsertAchievement(ctx context.Context, achievement Achievement) (bool, error)
	ListAchievements(ctx context.Context, userID string) ([]Achievement, error)
}

// XPLedger grants XP at most once per source key.
type XPLedger interface {
	// AwardXP records event and adds its amount to the user's XP, clamped to maxXP.
	// It reports false without changing anything when the source key was already used.
	AwardXP(ctx context.Context, event XPEvent, maxXP int) (bool, error)
	HasXPEvent(ctx context.Context, userID, sourceKey string) (bool, error)
	// CountXPEvents counts ledger entries of kind awarded in [since, until).
	CountXPEvents(ctx context.Context, userID, kind string, since, until time.Time) (int, error)
}

// WorldStore persists per-world lesson progress.
type WorldStore interface {
	ListWorldProgress(ctx context.Context, userID string) ([]WorldProgress, error)
	// EnsureWorldUnlocked creates or unlocks the world row. It is idempotent.
	EnsureWorldUnlocked(ctx context.Context, userID string, worldID int, now time.Time) (WorldProgress, error)
	// CompleteLesson records a lesson, returning ErrForbidden when the world is locked or absent.
	CompleteLesson(ctx context.Context, in LessonCompletionInput) (LessonCompletion, error)
}

// Repository is the full persistence surface of the progression engine.
type Repository interface {
	UserStore
	TransactionStore
	GoalStore
	BudgetStore
	AchievementStore
	XPLedger
	WorldStore
}
