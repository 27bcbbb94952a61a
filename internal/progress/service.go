package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/events"
)

const (
	maxDescriptionLength = 200
	maxGoalNameLength    = 80
	maxFutureSkew        = 24 * time.Hour
	defaultListLimit     = 100
	maxListLimit         = 500
)

// Service is the progression engine as seen by transports.
type Service interface {
	EnsureUser(ctx context.Context, profile UserProfile) (User, error)
	GetStats(ctx context.Context, userID string) (UserStats, error)
	RecalculateLevel(ctx context.Context, userID string) (LevelRecalculation, error)
	ListCategories(ctx context.Context) []Category

	AddTransaction(ctx context.Context, userID string, input TransactionInput) (Transaction, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) error
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error)

	CreateGoal(ctx context.Context, userID string, input GoalInput) (Goal, error)
	UpdateGoalProgress(ctx context.Context, userID, goalID string, delta Money) (GoalProgressResult, error)
	DeleteGoal(ctx context.Context, userID, goalID string) error
	ListGoals(ctx context.Context, userID string) ([]Goal, error)

	SetBudgetLimit(ctx context.Context, userID string, input BudgetLimitInput) (BudgetLimit, error)
	DeleteBudgetLimit(ctx context.Context, userID, category string) error
	ListBudgetLimits(ctx context.Context, userID string) ([]BudgetLimit, error)
	BudgetStatuses(ctx context.Context, userID string) ([]BudgetEvaluation, error)
	CategoryStatus(ctx context.Context, userID, category string) (BudgetEvaluation, error)
	EvaluateCategorySpend(ctx context.Context, userID, category string) (BudgetEvaluation, error)
	ListAlerts(ctx context.Context, userID string, unreadOnly bool) ([]SpendingAlert, error)
	MarkAlertRead(ctx context.Context, userID, alertID string) error

	ListAchievements(ctx context.Context, userID string) ([]UnlockedBadge, error)
	CheckAndAwardAchievements(ctx context.Context, userID string) ([]BadgeID, error)

	ListWorlds(ctx context.Context, userID string) ([]WorldView, error)
	CompleteLesson(ctx context.Context, userID string, worldID int, lessonID string, stars int) (LessonResult, error)

	ListChallenges(ctx context.Context) ([]ChallengeDefinition, error)
	GetChallengesMe(ctx context.Context, userID string) (*ChallengesMeResponse, error)
	ClaimChallenge(ctx context.Context, userID, challengeID string) (*ClaimChallengeResponse, error)
}

// Options tunes a Service.
type Options struct {
	// Location sets the day boundary for streaks and challenge periods. Defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

type service struct {
	repo         Repository
	clock        Clock
	ids          IDGenerator
	loc          *time.Location
	logger       *slog.Logger
	achievements *AchievementUnlocker
	budgets      *BudgetEvaluator
	orchestrator *Orchestrator
}

// NewService constructs the progression service.
func NewService(repo Repository, scheduler Scheduler, clock Clock, ids IDGenerator, opts Options) (Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if ids == nil {
		ids = NewUUIDGenerator()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	achievements := NewAchievementUnlocker(repo, clock)
	budgets := NewBudgetEvaluator(repo, clock, ids)
	return &service{
		repo:         repo,
		clock:        clock,
		ids:          ids,
		loc:          opts.Location,
		logger:       opts.Logger,
		achievements: achievements,
		budgets:      budgets,
		orchestrator: NewOrchestrator(repo, scheduler, clock, achievements, budgets, opts.Location, opts.Logger),
	}, nil
}

func (s *service) now() time.Time {
	return s.clock.Now().UTC()
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthenticated
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (s *service) EnsureUser(ctx context.Context, profile UserProfile) (User, error) {
	if err := requireUser(profile.ID); err != nil {
		return User{}, err
	}
	return s.repo.EnsureUser(ctx, profile, s.now())
}

func (s *service) GetStats(ctx context.Context, userID string) (UserStats, error) {
	if err := requireUser(userID); err != nil {
		return UserStats{}, err
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	return UserStats{User: u, LevelStats: StatsForXP(u.XP)}, nil
}

func (s *service) RecalculateLevel(ctx context.Context, userID string) (LevelRecalculation, error) {
	if err := requireUser(userID); err != nil {
		return LevelRecalculation{}, err
	}
	return s.orchestrator.RecalculateLevel(ctx, userID)
}

func (s *service) ListCategories(_ context.Context) []Category {
	return Categories()
}

func (s *service) AddTransaction(ctx context.Context, userID string, input TransactionInput) (Transaction, error) {
	if err := requireUser(userID); err != nil {
		return Transaction{}, err
	}

	now := s.now()
	tx, err := buildTransaction(userID, s.ids.NewID(), input, now)
	if err != nil {
		return Transaction{}, err
	}
	if _, err := s.repo.AddTransaction(ctx, tx, now); err != nil {
		return Transaction{}, err
	}

	s.orchestrator.Dispatch(ctx, events.ActionRecorded{
		UserID:          userID,
		Kind:            events.ActionTransactionAdded,
		Awards:          []events.XPAward{{SourceKey: "transaction:" + tx.ID, Kind: XPKindTransaction, Amount: XPTransaction}},
		TransactionType: string(tx.Type),
		Category:        tx.Category,
		OccurredAt:      now,
	})
	return tx, nil
}

func buildTransaction(userID, id string, input TransactionInput, now time.Time) (Transaction, error) {
	if input.Type != TransactionIncome && input.Type != TransactionExpense {
		return Transaction{}, invalid("type must be income or expense")
	}
	if input.Amount <= 0 {
		return Transaction{}, invalid("amount must be greater than zero")
	}
	if input.Amount > MaxAmount {
		return Transaction{}, invalid("amount is too large")
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if !categoryAllows(category, input.Type) {
		return Transaction{}, invalid("category %q is not valid for %s", input.Category, input.Type)
	}
	description := strings.TrimSpace(input.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return Transaction{}, invalid("description must be at most %d characters", maxDescriptionLength)
	}
	date := now
	if input.Date != nil && !input.Date.IsZero() {
		date = input.Date.UTC()
		if date.After(now.Add(maxFutureSkew)) {
			return Transaction{}, invalid("date cannot be in the future")
		}
	}

	return Transaction{
		ID:          id,
		UserID:      userID,
		Type:        input.Type,
		Amount:      input.Amount,
		Category:    category,
		Description: description,
		Date:        date,
		CreatedAt:   now,
	}, nil
}

func (s *service) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if strings.TrimSpace(transactionID) == "" {
		return invalid("transaction id is required")
	}
	_, _, err := s.repo.DeleteTransaction(ctx, userID, transactionID, s.now())
	return err
}

func (s *service) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if filter.Type != "" && filter.Type != TransactionIncome && filter.Type != TransactionExpense {
		return nil, invalid("type must be income or expense")
	}
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListTransactions(ctx, userID, filter)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *service) CreateGoal(ctx context.Context, userID string, input GoalInput) (Goal, error) {
	if err := requireUser(userID); err != nil {
		return Goal{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || utf8.RuneCountInString(name) > maxGoalNameLength {
		return Goal{}, invalid("name must be between 1 and %d characters", maxGoalNameLength)
	}
	if input.TargetAmount <= 0 || input.TargetAmount > MaxAmount {
		return Goal{}, invalid("target amount must be greater than zero")
	}
	if input.CurrentAmount < 0 {
		return Goal{}, invalid("current amount cannot be negative")
	}

	now := s.now()
	goal := Goal{
		ID:           s.ids.NewID(),
		UserID:       userID,
		Name:         name,
		TargetAmount: input.TargetAmount,
		Deadline:     input.Deadline,
		CreatedAt:    now,
	}
	goal.ApplyDelta(input.CurrentAmount, now)
	if err := s.repo.CreateGoal(ctx, goal); err != nil {
		return Goal{}, err
	}

	awards := []events.XPAward{{SourceKey: "goal-created:" + goal.ID, Kind: XPKindGoalCreated, Amount: XPGoalCreated}}
	if goal.IsCompleted {
		awards = append(awards, goalCompletedAward(goal.ID))
	}
	s.orchestrator.Dispatch(ctx, events.ActionRecorded{
		UserID:     userID,
		Kind:       events.ActionGoalCreated,
		Awards:     awards,
		OccurredAt: now,
	})
	return goal, nil
}

func goalCompletedAward(goalID string) events.XPAward {
	return events.XPAward{SourceKey: "goal-completed:" + goalID, Kind: XPKindGoalCompleted, Amount: XPGoalCompleted}
}

func (s *service) UpdateGoalProgress(ctx context.Context, userID, goalID string, delta Money) (GoalProgressResult, error) {
	if err := requireUser(userID); err != nil {
		return GoalProgressResult{}, err
	}
	if delta > MaxAmount || delta < -MaxAmount {
		return GoalProgressResult{}, invalid("amount is too large")
	}

	now := s.now()
	before, after, err := s.repo.UpdateGoalProgress(ctx, userID, goalID, delta, now)
	if err != nil {
		return GoalProgressResult{}, err
	}

	var awards []events.XPAward
	if delta > 0 {
		awards = append(awards, events.XPAward{
			SourceKey: "goal-progress:" + goalID + ":" + s.ids.NewID(),
			Kind:      XPKindGoalProgress,
			Amount:    XPGoalProgress,
		})
	}
	justCompleted := after.IsCompleted && !before.IsCompleted
	if justCompleted {
		awards = append(awards, goalCompletedAward(goalID))
	}
	s.orchestrator.Dispatch(ctx, events.ActionRecorded{
		UserID:     userID,
		Kind:       events.ActionGoalProgressed,
		Awards:     awards,
		OccurredAt: now,
	})
	return GoalProgressResult{Goal: after, JustCompleted: justCompleted}, nil
}

func (s *service) DeleteGoal(ctx context.Context, userID, goalID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.repo.DeleteGoal(ctx, userID, goalID)
}

func (s *service) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListGoals(ctx, userID)
}

func (s *service) SetBudgetLimit(ctx context.Context, userID string, input BudgetLimitInput) (BudgetLimit, error) {
	if err := requireUser(userID); err != nil {
		return BudgetLimit{}, err
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if !categoryAllows(category, TransactionExpense) {
		return BudgetLimit{}, invalid("category %q cannot have a budget", input.Category)
	}
	if input.LimitAmount <= 0 || input.LimitAmount > MaxAmount {
		return BudgetLimit{}, invalid("limit amount must be greater than zero")
	}
	period := input.Period
	if period == "" {
		period = PeriodMonthly
	}
	if period != PeriodWeekly && period != PeriodMonthly {
		return BudgetLimit{}, invalid("period must be weekly or monthly")
	}
	threshold := DefaultAlertThreshold
	if input.AlertThreshold != nil {
		threshold = *input.AlertThreshold
	}
	if threshold < 1 || threshold > 100 {
		return BudgetLimit{}, invalid("alert threshold must be between 1 and 100")
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	return s.repo.UpsertBudgetLimit(ctx, BudgetLimit{
		UserID:         userID,
		Category:       category,
		LimitAmount:    input.LimitAmount,
		Period:         period,
		AlertThreshold: threshold,
		IsActive:       active,
	}, s.now())
}

func (s *service) DeleteBudgetLimit(ctx context.Context, userID, category string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.repo.DeleteBudgetLimit(ctx, userID, strings.ToLower(strings.TrimSpace(category)))
}

func (s *service) ListBudgetLimits(ctx context.Context, userID string) ([]BudgetLimit, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListBudgetLimits(ctx, userID)
}

func (s *service) BudgetStatuses(ctx context.Context, userID string) ([]BudgetEvaluation, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.budgets.Statuses(ctx, userID)
}

func (s *service) CategoryStatus(ctx context.Context, userID, category string) (BudgetEvaluation, error) {
	if err := requireUser(userID); err != nil {
		return BudgetEvaluation{}, err
	}
	return s.budgets.Evaluate(ctx, userID, strings.ToLower(strings.TrimSpace(category)))
}

func (s *service) EvaluateCategorySpend(ctx context.Context, userID, category string) (BudgetEvaluation, error) {
	if err := requireUser(userID); err != nil {
		return BudgetEvaluation{}, err
	}
	return s.budgets.EvaluateCategorySpend(ctx, userID, strings.ToLower(strings.TrimSpace(category)))
}

func (s *service) ListAlerts(ctx context.Context, userID string, unreadOnly bool) ([]SpendingAlert, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListAlerts(ctx, userID, unreadOnly, defaultListLimit)
}

func (s *service) MarkAlertRead(ctx context.Context, userID, alertID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return s.repo.MarkAlertRead(ctx, userID, alertID)
}

func (s *service) ListAchievements(ctx context.Context, userID string) ([]UnlockedBadge, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.achievements.BadgeBoard(ctx, userID)
}

func (s *service) CheckAndAwardAchievements(ctx context.Context, userID string) ([]BadgeID, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.achievements.CheckAndAward(ctx, userID)
}

func (s *service) ListWorlds(ctx context.Context, userID string) ([]WorldView, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.repo.EnsureWorldUnlocked(ctx, userID, 1, s.now()); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListWorldProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	return buildWorldViews(userID, rows), nil
}

func (s *service) CompleteLesson(ctx context.Context, userID string, worldID int, lessonID string, stars int) (LessonResult, error) {
	if err := requireUser(userID); err != nil {
		return LessonResult{}, err
	}
	if err := validateLesson(worldID, lessonID); err != nil {
		return LessonResult{}, err
	}
	if stars < 1 || stars > MaxLessonStars {
		return LessonResult{}, invalid("stars must be between 1 and %d", MaxLessonStars)
	}

	now := s.now()
	if worldID == 1 {
		if _, err := s.repo.EnsureWorldUnlocked(ctx, userID, 1, now); err != nil {
			return LessonResult{}, err
		}
	}

	completion, err := s.repo.CompleteLesson(ctx, LessonCompletionInput{
		UserID:      userID,
		WorldID:     worldID,
		LessonID:    lessonID,
		Stars:       stars,
		LessonCount: LessonsPerWorld,
		NextWorldID: nextWorld(worldID),
		Now:         now,
	})
	if err != nil {
		return LessonResult{}, err
	}

	res := LessonResult{LessonCompletion: completion}
	if completion.WorldCompleted {
		res.UnlockedWorld = nextWorld(worldID)
	}
	if !completion.FirstTime {
		return res, nil
	}

	res.XPAwarded = XPPerStar * stars
	s.orchestrator.Dispatch(ctx, events.ActionRecorded{
		UserID:     userID,
		Kind:       events.ActionLessonCompleted,
		Awards:     []events.XPAward{{SourceKey: "lesson:" + lessonID, Kind: XPKindLesson, Amount: res.XPAwarded}},
		OccurredAt: now,
	})
	return res, nil
}

func (s *service) ListChallenges(_ context.Context) ([]ChallengeDefinition, error) {
	return challengeDefinitions(), nil
}

func (s *service) GetChallengesMe(ctx context.Context, userID string) (*ChallengesMeResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	defs := challengeDefinitions()
	statuses := make([]ChallengeStatus, 0, len(defs))
	for _, def := range defs {
		status, err := s.challengeStatus(ctx, u, def, now)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].Challenge.Cadence > statuses[j].Challenge.Cadence
	})

	return &ChallengesMeResponse{Level: u.Level, XP: u.XP, Challenges: statuses}, nil
}

func (s *service) challengeStatus(ctx context.Context, u User, def ChallengeDefinition, now time.Time) (ChallengeStatus, error) {
	start, end, key := challengePeriod(def.Cadence, now, s.loc)
	current, err := s.challengeProgress(ctx, u, def, start, end)
	if err != nil {
		return ChallengeStatus{}, err
	}
	claimed, err := s.repo.HasXPEvent(ctx, u.ID, challengeSourceKey(def.ID, key))
	if err != nil {
		return ChallengeStatus{}, err
	}
	return ChallengeStatus{
		Challenge:       def,
		PeriodKey:       key,
		PeriodStart:     start,
		PeriodEnd:       end,
		Current:         current,
		ProgressPercent: progressPercent(current, def.Target),
		Completed:       current >= def.Target,
		Claimed:         claimed,
	}, nil
}

func (s *service) challengeProgress(ctx context.Context, u User, def ChallengeDefinition, start, end time.Time) (int, error) {
	switch def.RuleType {
	case ChallengeRuleTransactions:
		return s.repo.CountTransactions(ctx, u.ID, TransactionFilter{Since: start.UTC(), Until: end.UTC()})
	case ChallengeRuleIncomes:
		return s.repo.CountTransactions(ctx, u.ID, TransactionFilter{Type: TransactionIncome, Since: start.UTC(), Until: end.UTC()})
	case ChallengeRuleLessons:
		return s.repo.CountXPEvents(ctx, u.ID, XPKindLesson, start.UTC(), end.UTC())
	case ChallengeRuleGoalContributions:
		return s.repo.CountXPEvents(ctx, u.ID, XPKindGoalProgress, start.UTC(), end.UTC())
	case ChallengeRuleStreakMilestone:
		return u.CurrentStreak, nil
	default:
		return 0, fmt.Errorf("unknown challenge rule %q", def.RuleType)
	}
}

func (s *service) ClaimChallenge(ctx context.Context, userID, challengeID string) (*ClaimChallengeResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	def, ok := findChallenge(challengeID)
	if !ok {
		return nil, fmt.Errorf("%w: challenge %q", ErrNotFound, challengeID)
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status, err := s.challengeStatus(ctx, u, def, now)
	if err != nil {
		return nil, err
	}
	resp := &ClaimChallengeResponse{ChallengeID: def.ID, PeriodKey: status.PeriodKey}
	if status.Claimed {
		resp.AlreadyClaimed = true
		resp.XPTotal, resp.Level = u.XP, u.Level
		return resp, nil
	}
	if !status.Completed {
		return nil, fmt.Errorf("%w: challenge %q is not completed yet", ErrForbidden, def.ID)
	}

	awarded, err := s.repo.AwardXP(ctx, XPEvent{
		UserID:    userID,
		SourceKey: challengeSourceKey(def.ID, status.PeriodKey),
		Kind:      XPKindChallenge,
		Amount:    def.RewardXP,
		AwardedAt: now.UTC(),
	}, MaxTotalXP)
	if err != nil {
		return nil, err
	}
	if !awarded {
		resp.AlreadyClaimed = true
	} else {
		resp.Claimed = true
		resp.XPAwarded = def.RewardXP
		s.orchestrator.Dispatch(ctx, events.ActionRecorded{
			UserID:     userID,
			Kind:       events.ActionChallengeClaimed,
			OccurredAt: now.UTC(),
		})
	}

	if u, err = s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	resp.XPTotal, resp.Level = u.XP, u.Level
	return resp, nil
}
