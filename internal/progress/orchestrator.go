package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/events"
)

// XP granted per action.
const (
	XPTransaction   = 10
	XPGoalCreated   = 25
	XPGoalProgress  = 5
	XPGoalCompleted = 100
)

// Scheduler accepts deferred jobs. tasks.Queue and tasks.Inline implement it.
type Scheduler interface {
	Schedule(ctx context.Context, job tasks.Job) error
}

// Orchestrator turns a recorded action into the deferred progression job:
// award XP, recompute level, update the streak (transactions), check
// achievements and evaluate the budget (expenses). Every step re-reads state.
type Orchestrator struct {
	repo         Repository
	scheduler    Scheduler
	clock        Clock
	achievements *AchievementUnlocker
	budgets      *BudgetEvaluator
	loc          *time.Location
	logger       *slog.Logger
}

// NewOrchestrator wires an orchestrator to its collaborators.
func NewOrchestrator(repo Repository, scheduler Scheduler, clock Clock, achievements *AchievementUnlocker, budgets *BudgetEvaluator, loc *time.Location, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = NewSystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:         repo,
		scheduler:    scheduler,
		clock:        clock,
		achievements: achievements,
		budgets:      budgets,
		loc:          loc,
		logger:       logger,
	}
}

// Dispatch schedules the progression job for action. The primary mutation has
// already committed, so the job is detached from ctx's cancellation and
// scheduling failures are logged and swallowed.
func (o *Orchestrator) Dispatch(ctx context.Context, action events.ActionRecorded) {
	if err := o.scheduler.Schedule(context.WithoutCancel(ctx), o.Job(action)); err != nil {
		o.logger.Error("failed to schedule progression job",
			slog.String("userId", action.UserID),
			slog.String("action", string(action.Kind)),
			slog.Any("error", err),
		)
	}
}

// Job builds the ordered steps for action.
func (o *Orchestrator) Job(action events.ActionRecorded) tasks.Job {
	userID := action.UserID
	steps := []tasks.Step{
		{Name: "award_xp", Run: func(ctx context.Context) error {
			return permanentIfMissing(o.awardXP(ctx, action))
		}},
		{Name: "recalculate_level", Run: func(ctx context.Context) error {
			_, err := o.RecalculateLevel(ctx, userID)
			return permanentIfMissing(err)
		}},
	}

	if action.Kind == events.ActionTransactionAdded {
		steps = append(steps, tasks.Step{Name: "update_streak", Run: func(ctx context.Context) error {
			return permanentIfMissing(o.updateStreak(ctx, userID, action.OccurredAt))
		}})
	}

	steps = append(steps, tasks.Step{Name: "check_achievements", Run: func(ctx context.Context) error {
		unlocked, err := o.achievements.CheckAndAward(ctx, userID)
		if len(unlocked) > 0 {
			o.logger.Info("achievements unlocked", slog.String("userId", userID), slog.Any("badges", unlocked))
		}
		return permanentIfMissing(err)
	}})

	if action.Kind == events.ActionTransactionAdded && action.TransactionType == string(TransactionExpense) && action.Category != "" {
		steps = append(steps, tasks.Step{Name: "evaluate_budget", Run: func(ctx context.Context) error {
			eval, err := o.budgets.EvaluateCategorySpend(ctx, userID, action.Category)
			if eval.AlertRaised {
				o.logger.Info("spending alert raised",
					slog.String("userId", userID),
					slog.String("category", action.Category),
					slog.String("severity", string(eval.Status)),
				)
			}
			return permanentIfMissing(err)
		}})
	}

	return tasks.Job{Name: events.JobProgression, UserID: userID, Steps: steps}
}

func (o *Orchestrator) awardXP(ctx context.Context, action events.ActionRecorded) error {
	var errs []error
	for _, award := range action.Awards {
		if award.Amount <= 0 {
			continue
		}
		_, err := o.repo.AwardXP(ctx, XPEvent{
			UserID:    action.UserID,
			SourceKey: award.SourceKey,
			Kind:      award.Kind,
			Amount:    award.Amount,
			AwardedAt: action.OccurredAt.UTC(),
		}, MaxTotalXP)
		if err != nil {
			errs = append(errs, fmt.Errorf("award %s: %w", award.SourceKey, err))
		}
	}
	return errors.Join(errs...)
}

// RecalculateLevel re-derives the user's level from lifetime XP. A second call
// with no XP change in between reports LevelChanged false.
func (o *Orchestrator) RecalculateLevel(ctx context.Context, userID string) (LevelRecalculation, error) {
	var res LevelRecalculation
	_, err := o.repo.UpdateUser(ctx, userID, o.clock.Now().UTC(), func(u *User) (bool, error) {
		res = normalizeLevel(u)
		return res.LevelChanged, nil
	})
	if err != nil {
		return LevelRecalculation{}, err
	}
	return res, nil
}

func (o *Orchestrator) updateStreak(ctx context.Context, userID string, at time.Time) error {
	_, err := o.repo.UpdateUser(ctx, userID, o.clock.Now().UTC(), func(u *User) (bool, error) {
		updated, changed := UpdateStreak(*u, at, o.loc)
		if changed {
			*u = updated
		}
		return changed, nil
	})
	return err
}

func permanentIfMissing(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return tasks.Permanent(err)
	}
	return err
}
