package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertQuietPeriod suppresses a second alert for the same category within this window.
const AlertQuietPeriod = time.Hour

// DefaultAlertThreshold is used when a limit is created without a threshold.
const DefaultAlertThreshold = 80

var warningFactor = decimal.RequireFromString("0.75")

// PeriodWindow returns the trailing window length for period.
func PeriodWindow(period BudgetPeriod) time.Duration {
	if period == PeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// ClassifySpend returns the status and the spend percentage for spent against limit.
func ClassifySpend(spent, limit Money, threshold int) (BudgetStatus, decimal.Decimal) {
	if limit <= 0 {
		return StatusExceeded, decimal.Zero
	}
	pct := spent.Decimal().Div(limit.Decimal()).Mul(hundred)
	thresholdPct := decimal.NewFromInt(int64(threshold))

	switch {
	case pct.GreaterThanOrEqual(hundred):
		return StatusExceeded, pct
	case pct.GreaterThanOrEqual(thresholdPct):
		return StatusDanger, pct
	case pct.GreaterThanOrEqual(thresholdPct.Mul(warningFactor)):
		return StatusWarning, pct
	default:
		return StatusSafe, pct
	}
}

// BudgetEvaluation is the state of one category against its limit.
type BudgetEvaluation struct {
	Category    string       `json:"category"`
	Status      BudgetStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	Spent       Money        `json:"spent"`
	Limit       Money        `json:"limit"`
	Remaining   Money        `json:"remaining"`
	Percentage  float64      `json:"percentage"`
	Period      BudgetPeriod `json:"period"`
	WindowStart time.Time    `json:"window_start"`
	Active      bool         `json:"active"`
	AlertRaised bool         `json:"alert_raised"`
}

func alertMessage(status BudgetStatus, category string, spent, limit Money, pct decimal.Decimal) string {
	label := CategoryLabel(category)
	switch status {
	case StatusExceeded:
		return fmt.Sprintf("You've gone over your %s budget: $%s spent of $%s.", label, spent, limit)
	case StatusDanger:
		return fmt.Sprintf("Careful! You've used %s%% of your %s budget ($%s of $%s).", pct.Round(0).String(), label, spent, limit)
	case StatusWarning:
		return fmt.Sprintf("Heads up: %s%% of your %s budget is spent.", pct.Round(0).String(), label)
	default:
		return ""
	}
}

// BudgetEvaluator measures rolling category spend against configured limits.
type BudgetEvaluator struct {
	repo  Repository
	clock Clock
	ids   IDGenerator
}

// NewBudgetEvaluator wires an evaluator to its collaborators.
func NewBudgetEvaluator(repo Repository, clock Clock, ids IDGenerator) *BudgetEvaluator {
	return &BudgetEvaluator{repo: repo, clock: clock, ids: ids}
}

// Evaluate computes the current status of category without raising alerts.
// It returns ErrNotFound when the user has no limit for the category.
func (b *BudgetEvaluator) Evaluate(ctx context.Context, userID, category string) (BudgetEvaluation, error) {
	limit, err := b.repo.GetBudgetLimit(ctx, userID, category)
	if err != nil {
		return BudgetEvaluation{}, err
	}
	return b.evaluateLimit(ctx, limit, b.clock.Now().UTC())
}

func (b *BudgetEvaluator) evaluateLimit(ctx context.Context, limit BudgetLimit, now time.Time) (BudgetEvaluation, error) {
	since := now.Add(-PeriodWindow(limit.Period))
	spent, err := b.repo.SumExpenses(ctx, limit.UserID, limit.Category, since)
	if err != nil {
		return BudgetEvaluation{}, fmt.Errorf("sum expenses: %w", err)
	}

	status, pct := ClassifySpend(spent, limit.LimitAmount, limit.AlertThreshold)
	remaining := limit.LimitAmount - spent
	if remaining < 0 {
		remaining = 0
	}
	return BudgetEvaluation{
		Category:    limit.Category,
		Status:      status,
		Message:     alertMessage(status, limit.Category, spent, limit.LimitAmount, pct),
		Spent:       spent,
		Limit:       limit.LimitAmount,
		Remaining:   remaining,
		Percentage:  pct.Round(2).InexactFloat64(),
		Period:      limit.Period,
		WindowStart: since,
		Active:      limit.IsActive,
	}, nil
}

// EvaluateCategorySpend evaluates category and records an alert for non-safe
// statuses unless one was raised within AlertQuietPeriod. Categories without an
// active limit evaluate as safe and never alert.
func (b *BudgetEvaluator) EvaluateCategorySpend(ctx context.Context, userID, category string) (BudgetEvaluation, error) {
	limit, err := b.repo.GetBudgetLimit(ctx, userID, category)
	if errors.Is(err, ErrNotFound) {
		return BudgetEvaluation{Category: category, Status: StatusSafe}, nil
	}
	if err != nil {
		return BudgetEvaluation{}, err
	}
	if !limit.IsActive {
		return BudgetEvaluation{Category: category, Status: StatusSafe, Limit: limit.LimitAmount, Period: limit.Period}, nil
	}

	now := b.clock.Now().UTC()
	eval, err := b.evaluateLimit(ctx, limit, now)
	if err != nil {
		return BudgetEvaluation{}, err
	}
	if eval.Status == StatusSafe {
		return eval, nil
	}

	created, err := b.repo.CreateAlertIfQuiet(ctx, SpendingAlert{
		ID:          b.ids.NewID(),
		UserID:      userID,
		Category:    category,
		Severity:    eval.Status,
		SpentAmount: eval.Spent,
		LimitAmount: eval.Limit,
		Percentage:  eval.Percentage,
		Message:     eval.Message,
		CreatedAt:   now,
	}, AlertQuietPeriod)
	if err != nil {
		return eval, fmt.Errorf("create alert: %w", err)
	}
	eval.AlertRaised = created
	return eval, nil
}

// Statuses evaluates every limit the user has configured, without raising alerts.
func (b *BudgetEvaluator) Statuses(ctx context.Context, userID string) ([]BudgetEvaluation, error) {
	limits, err := b.repo.ListBudgetLimits(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := b.clock.Now().UTC()
	out := make([]BudgetEvaluation, 0, len(limits))
	for _, limit := range limits {
		eval, err := b.evaluateLimit(ctx, limit, now)
		if err != nil {
			return nil, err
		}
		out = append(out, eval)
	}
	return out, nil
}
