package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
)

// ProgressRepo persists the progression engine in SQLite.
type ProgressRepo struct {
	db *sql.DB
}

var _ progress.Repository = (*ProgressRepo)(nil)

func NewProgressRepo(db *sql.DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

const userColumns = `id, display_name, email, current_balance, total_income, total_expenses,
	level, xp, current_streak, longest_streak, last_activity_date, created_at, updated_at`

func scanUser(s scanner) (progress.User, error) {
	var (
		u                    progress.User
		lastActivity         sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&u.ID, &u.DisplayName, &u.Email,
		&u.CurrentBalance, &u.TotalIncome, &u.TotalExpenses,
		&u.Level, &u.XP, &u.CurrentStreak, &u.LongestStreak,
		&lastActivity, &createdAt, &updatedAt,
	); err != nil {
		return progress.User{}, err
	}

	var err error
	if u.LastActivityDate, err = parseNullTime(lastActivity); err != nil {
		return progress.User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return progress.User{}, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return progress.User{}, err
	}
	return u, nil
}

func loadUser(ctx context.Context, q queryer, userID string) (progress.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return progress.User{}, fmt.Errorf("%w: user %s", progress.ErrNotFound, userID)
	}
	if err != nil {
		return progress.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func saveUser(ctx context.Context, q queryer, u progress.User) error {
	_, err := q.ExecContext(ctx, `
		UPDATE users SET
			display_name = ?, email = ?,
			current_balance = ?, total_income = ?, total_expenses = ?,
			level = ?, xp = ?, current_streak = ?, longest_streak = ?,
			last_activity_date = ?, updated_at = ?
		WHERE id = ?`,
		u.DisplayName, u.Email,
		int64(u.CurrentBalance), int64(u.TotalIncome), int64(u.TotalExpenses),
		u.Level, u.XP, u.CurrentStreak, u.LongestStreak,
		formatNullTime(u.LastActivityDate), formatTime(u.UpdatedAt),
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *ProgressRepo) EnsureUser(ctx context.Context, profile progress.UserProfile, now time.Time) (progress.User, error) {
	u := progress.NewUser(profile, now)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.DisplayName, u.Email, u.Level, formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		return progress.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return loadUser(ctx, r.db, profile.ID)
}

func (r *ProgressRepo) GetUser(ctx context.Context, userID string) (progress.User, error) {
	return loadUser(ctx, r.db, userID)
}

func (r *ProgressRepo) UpdateUser(ctx context.Context, userID string, now time.Time, mutate func(*progress.User) (bool, error)) (progress.User, error) {
	var result progress.User
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		u, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		changed, err := mutate(&u)
		if err != nil {
			return err
		}
		result = u
		if !changed {
			return nil
		}
		u.UpdatedAt = now.UTC()
		result = u
		return saveUser(ctx, tx, u)
	})
	if err != nil {
		return progress.User{}, err
	}
	return result, nil
}

func (r *ProgressRepo) AddTransaction(ctx context.Context, t progress.Transaction, now time.Time) (progress.User, error) {
	var result progress.User
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		u, err := loadUser(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, type, amount, category, description, date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.UserID, string(t.Type), int64(t.Amount), t.Category, t.Description,
			formatTime(t.Date), formatTime(t.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert transaction rows: %w", err)
		} else if n == 0 {
			return progress.ErrConflict
		}

		u.ApplyTransaction(t, 1)
		u.UpdatedAt = now
		result = u
		return saveUser(ctx, tx, u)
	})
	if err != nil {
		return progress.User{}, err
	}
	return result, nil
}

const transactionColumns = `id, user_id, type, amount, category, description, date, created_at`

func scanTransaction(s scanner) (progress.Transaction, error) {
	var (
		t               progress.Transaction
		typ             string
		date, createdAt string
	)
	if err := s.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Category, &t.Description, &date, &createdAt); err != nil {
		return progress.Transaction{}, err
	}
	t.Type = progress.TransactionType(typ)

	var err error
	if t.Date, err = parseTime(date); err != nil {
		return progress.Transaction{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return progress.Transaction{}, err
	}
	return t, nil
}

func (r *ProgressRepo) DeleteTransaction(ctx context.Context, userID, transactionID string, now time.Time) (progress.Transaction, progress.User, error) {
	var (
		removed progress.Transaction
		result  progress.User
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		u, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		t, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`, userID, transactionID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: transaction %s", progress.ErrNotFound, transactionID)
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ? AND id = ?`, userID, transactionID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}

		u.ApplyTransaction(t, -1)
		u.UpdatedAt = now
		removed, result = t, u
		return saveUser(ctx, tx, u)
	})
	if err != nil {
		return progress.Transaction{}, progress.User{}, err
	}
	return removed, result, nil
}

// transactionWhere renders filter as a WHERE clause over the transactions table.
func transactionWhere(userID string, filter progress.TransactionFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "date < ?")
		args = append(args, formatTime(filter.Until))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *ProgressRepo) ListTransactions(ctx context.Context, userID string, filter progress.TransactionFilter) ([]progress.Transaction, error) {
	where, args := transactionWhere(userID, filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` ORDER BY date DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]progress.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) CountTransactions(ctx context.Context, userID string, filter progress.TransactionFilter) (int, error) {
	where, args := transactionWhere(userID, filter)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *ProgressRepo) SumExpenses(ctx context.Context, userID, category string, since time.Time) (progress.Money, error) {
	where, args := transactionWhere(userID, progress.TransactionFilter{
		Type:     progress.TransactionExpense,
		Category: category,
		Since:    since,
	})
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	return progress.Money(total), nil
}

const goalColumns = `id, user_id, name, target_amount, current_amount, is_completed,
	completed_at, deadline, created_at, updated_at`

func scanGoal(s scanner) (progress.Goal, error) {
	var (
		g                     progress.Goal
		completedAt, deadline sql.NullString
		createdAt, updatedAt  string
	)
	if err := s.Scan(
		&g.ID, &g.UserID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.IsCompleted,
		&completedAt, &deadline, &createdAt, &updatedAt,
	); err != nil {
		return progress.Goal{}, err
	}

	var err error
	if g.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return progress.Goal{}, err
	}
	if g.Deadline, err = parseNullTime(deadline); err != nil {
		return progress.Goal{}, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return progress.Goal{}, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return progress.Goal{}, err
	}
	return g, nil
}

func loadGoal(ctx context.Context, q queryer, userID, goalID string) (progress.Goal, error) {
	g, err := scanGoal(q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id = ? AND id = ?`, userID, goalID))
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Goal{}, fmt.Errorf("%w: goal %s", progress.ErrNotFound, goalID)
	}
	if err != nil {
		return progress.Goal{}, fmt.Errorf("load goal: %w", err)
	}
	return g, nil
}

func (r *ProgressRepo) CreateGoal(ctx context.Context, goal progress.Goal) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		goal.ID, goal.UserID, goal.Name, int64(goal.TargetAmount), int64(goal.CurrentAmount), boolInt(goal.IsCompleted),
		formatNullTime(goal.CompletedAt), formatNullTime(goal.Deadline), formatTime(goal.CreatedAt), formatTime(goal.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("create goal rows: %w", err)
	} else if n == 0 {
		return progress.ErrConflict
	}
	return nil
}

func (r *ProgressRepo) GetGoal(ctx context.Context, userID, goalID string) (progress.Goal, error) {
	return loadGoal(ctx, r.db, userID, goalID)
}

func (r *ProgressRepo) UpdateGoalProgress(ctx context.Context, userID, goalID string, delta progress.Money, now time.Time) (progress.Goal, progress.Goal, error) {
	var before, after progress.Goal
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		g, err := loadGoal(ctx, tx, userID, goalID)
		if err != nil {
			return err
		}
		before = g
		g.ApplyDelta(delta, now)
		after = g

		_, err = tx.ExecContext(ctx, `
			UPDATE goals SET current_amount = ?, is_completed = ?, completed_at = ?, updated_at = ?
			WHERE user_id = ? AND id = ?`,
			int64(g.CurrentAmount), boolInt(g.IsCompleted), formatNullTime(g.CompletedAt), formatTime(g.UpdatedAt),
			userID, goalID,
		)
		if err != nil {
			return fmt.Errorf("update goal: %w", err)
		}
		return nil
	})
	if err != nil {
		return progress.Goal{}, progress.Goal{}, err
	}
	return before, after, nil
}

func (r *ProgressRepo) DeleteGoal(ctx context.Context, userID, goalID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE user_id = ? AND id = ?`, userID, goalID)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: goal %s", progress.ErrNotFound, goalID))
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (r *ProgressRepo) ListGoals(ctx context.Context, userID string) ([]progress.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	out := make([]progress.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) CountGoals(ctx context.Context, userID string) (int, int, error) {
	var total, completed int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_completed), 0) FROM goals WHERE user_id = ?`, userID,
	).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("count goals: %w", err)
	}
	return total, completed, nil
}

const limitColumns = `user_id, category, limit_amount, period, alert_threshold, is_active, created_at, updated_at`

func scanLimit(s scanner) (progress.BudgetLimit, error) {
	var (
		l                    progress.BudgetLimit
		period               string
		createdAt, updatedAt string
	)
	if err := s.Scan(&l.UserID, &l.Category, &l.LimitAmount, &period, &l.AlertThreshold, &l.IsActive, &createdAt, &updatedAt); err != nil {
		return progress.BudgetLimit{}, err
	}
	l.Period = progress.BudgetPeriod(period)

	var err error
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return progress.BudgetLimit{}, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return progress.BudgetLimit{}, err
	}
	return l, nil
}

func (r *ProgressRepo) UpsertBudgetLimit(ctx context.Context, limit progress.BudgetLimit, now time.Time) (progress.BudgetLimit, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_limits (`+limitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category) DO UPDATE SET
			limit_amount = excluded.limit_amount,
			period = excluded.period,
			alert_threshold = excluded.alert_threshold,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		limit.UserID, limit.Category, int64(limit.LimitAmount), string(limit.Period),
		limit.AlertThreshold, boolInt(limit.IsActive), formatTime(now), formatTime(now),
	)
	if err != nil {
		return progress.BudgetLimit{}, fmt.Errorf("upsert budget limit: %w", err)
	}
	return r.GetBudgetLimit(ctx, limit.UserID, limit.Category)
}

func (r *ProgressRepo) GetBudgetLimit(ctx context.Context, userID, category string) (progress.BudgetLimit, error) {
	l, err := scanLimit(r.db.QueryRowContext(ctx,
		`SELECT `+limitColumns+` FROM budget_limits WHERE user_id = ? AND category = ?`, userID, category))
	if errors.Is(err, sql.ErrNoRows) {
		return progress.BudgetLimit{}, fmt.Errorf("%w: budget limit %s", progress.ErrNotFound, category)
	}
	if err != nil {
		return progress.BudgetLimit{}, fmt.Errorf("get budget limit: %w", err)
	}
	return l, nil
}

func (r *ProgressRepo) ListBudgetLimits(ctx context.Context, userID string) ([]progress.BudgetLimit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+limitColumns+` FROM budget_limits WHERE user_id = ? ORDER BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budget limits: %w", err)
	}
	defer rows.Close()

	out := make([]progress.BudgetLimit, 0)
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget limit: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budget limits: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) DeleteBudgetLimit(ctx context.Context, userID, category string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budget_limits WHERE user_id = ? AND category = ?`, userID, category)
	if err != nil {
		return fmt.Errorf("delete budget limit: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: budget limit %s", progress.ErrNotFound, category))
}

const alertColumns = `id, user_id, category, severity, spent_amount, limit_amount, percentage, message, is_read, created_at`

func scanAlert(s scanner) (progress.SpendingAlert, error) {
	var (
		a                   progress.SpendingAlert
		severity, createdAt string
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Category, &severity, &a.SpentAmount, &a.LimitAmount,
		&a.Percentage, &a.Message, &a.IsRead, &createdAt); err != nil {
		return progress.SpendingAlert{}, err
	}
	a.Severity = progress.BudgetStatus(severity)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return progress.SpendingAlert{}, err
	}
	return a, nil
}

func (r *ProgressRepo) CreateAlertIfQuiet(ctx context.Context, alert progress.SpendingAlert, quiet time.Duration) (bool, error) {
	var created bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := loadUser(ctx, tx, alert.UserID); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM spending_alerts
			WHERE user_id = ? AND category = ? AND created_at > ?
			LIMIT 1`,
			alert.UserID, alert.Category, formatTime(alert.CreatedAt.Add(-quiet)),
		).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find recent alert: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO spending_alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			alert.ID, alert.UserID, alert.Category, string(alert.Severity),
			int64(alert.SpentAmount), int64(alert.LimitAmount), alert.Percentage, alert.Message,
			boolInt(alert.IsRead), formatTime(alert.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *ProgressRepo) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]progress.SpendingAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM spending_alerts WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]progress.SpendingAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) MarkAlertRead(ctx context.Context, userID, alertID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE spending_alerts SET is_read = 1 WHERE user_id = ? AND id = ?`, userID, alertID)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: alert %s", progress.ErrNotFound, alertID))
}

func (r *ProgressRepo) InsertAchievement(ctx context.Context, achievement progress.Achievement) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO achievements (user_id, badge_id, unlocked_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO NOTHING`,
		achievement.UserID, string(achievement.BadgeID), formatTime(achievement.UnlockedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert achievement rows: %w", err)
	}
	return n == 1, nil
}

func (r *ProgressRepo) ListAchievements(ctx context.Context, userID string) ([]progress.Achievement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, badge_id, unlocked_at FROM achievements WHERE user_id = ? ORDER BY unlocked_at, badge_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	out := make([]progress.Achievement, 0)
	for rows.Next() {
		var (
			a          progress.Achievement
			badge, raw string
		)
		if err := rows.Scan(&a.UserID, &badge, &raw); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.BadgeID = progress.BadgeID(badge)
		if a.UnlockedAt, err = parseTime(raw); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) AwardXP(ctx context.Context, event progress.XPEvent, maxXP int) (bool, error) {
	var awarded bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		u, err := loadUser(ctx, tx, event.UserID)
		if err != nil {
			return err
		}
		granted := progress.GrantableXP(u.XP, event.Amount, maxXP)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO xp_events (user_id, source_key, kind, amount, awarded_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, source_key) DO NOTHING`,
			event.UserID, event.SourceKey, event.Kind, granted, formatTime(event.AwardedAt),
		)
		if err != nil {
			return fmt.Errorf("insert xp event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert xp event rows: %w", err)
		}
		if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET xp = xp + ?, updated_at = ? WHERE id = ?`,
			granted, formatTime(event.AwardedAt), event.UserID); err != nil {
			return fmt.Errorf("add xp: %w", err)
		}
		awarded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return awarded, nil
}

func (r *ProgressRepo) HasXPEvent(ctx context.Context, userID, sourceKey string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM xp_events WHERE user_id = ? AND source_key = ?`, userID, sourceKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find xp event: %w", err)
	}
	return true, nil
}

func (r *ProgressRepo) CountXPEvents(ctx context.Context, userID, kind string, since, until time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM xp_events
		WHERE user_id = ? AND kind = ? AND awarded_at >= ? AND awarded_at < ?`,
		userID, kind, formatTime(since), formatTime(until),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count xp events: %w", err)
	}
	return n, nil
}

const worldColumns = `user_id, world_id, is_unlocked, completed_lessons, stars, completed_at, updated_at`

func scanWorld(s scanner) (progress.WorldProgress, error) {
	var (
		w                  progress.WorldProgress
		lessons, updatedAt string
		completedAt        sql.NullString
	)
	if err := s.Scan(&w.UserID, &w.WorldID, &w.IsUnlocked, &lessons, &w.Stars, &completedAt, &updatedAt); err != nil {
		return progress.WorldProgress{}, err
	}
	if err := json.Unmarshal([]byte(lessons), &w.CompletedLessons); err != nil {
		return progress.WorldProgress{}, fmt.Errorf("decode completed lessons: %w", err)
	}
	if w.CompletedLessons == nil {
		w.CompletedLessons = []string{}
	}

	var err error
	if w.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return progress.WorldProgress{}, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return progress.WorldProgress{}, err
	}
	return w, nil
}

func loadWorld(ctx context.Context, q queryer, userID string, worldID int) (progress.WorldProgress, bool, error) {
	w, err := scanWorld(q.QueryRowContext(ctx,
		`SELECT `+worldColumns+` FROM world_progress WHERE user_id = ? AND world_id = ?`, userID, worldID))
	if errors.Is(err, sql.ErrNoRows) {
		return progress.WorldProgress{}, false, nil
	}
	if err != nil {
		return progress.WorldProgress{}, false, fmt.Errorf("load world: %w", err)
	}
	return w, true, nil
}

func saveWorld(ctx context.Context, q queryer, w progress.WorldProgress) error {
	lessons, err := json.Marshal(w.CompletedLessons)
	if err != nil {
		return fmt.Errorf("encode completed lessons: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO world_progress (`+worldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, world_id) DO UPDATE SET
			is_unlocked = excluded.is_unlocked,
			completed_lessons = excluded.completed_lessons,
			stars = excluded.stars,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		w.UserID, w.WorldID, boolInt(w.IsUnlocked), string(lessons), w.Stars,
		formatNullTime(w.CompletedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

// unlockWorld creates or unlocks the world row inside tx.
func unlockWorld(ctx context.Context, tx *sql.Tx, userID string, worldID int, now time.Time) (progress.WorldProgress, error) {
	w, ok, err := loadWorld(ctx, tx, userID, worldID)
	if err != nil {
		return progress.WorldProgress{}, err
	}
	if ok && w.IsUnlocked {
		return w, nil
	}
	if !ok {
		w = progress.LockedWorld(userID, worldID)
	}
	w.IsUnlocked = true
	w.UpdatedAt = now
	return w, saveWorld(ctx, tx, w)
}

func (r *ProgressRepo) ListWorldProgress(ctx context.Context, userID string) ([]progress.WorldProgress, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+worldColumns+` FROM world_progress WHERE user_id = ? ORDER BY world_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	out := make([]progress.WorldProgress, 0)
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worlds: %w", err)
	}
	return out, nil
}

func (r *ProgressRepo) EnsureWorldUnlocked(ctx context.Context, userID string, worldID int, now time.Time) (progress.WorldProgress, error) {
	var result progress.WorldProgress
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := loadUser(ctx, tx, userID); err != nil {
			return err
		}
		w, err := unlockWorld(ctx, tx, userID, worldID, now)
		result = w
		return err
	})
	if err != nil {
		return progress.WorldProgress{}, err
	}
	return result, nil
}

func (r *ProgressRepo) CompleteLesson(ctx context.Context, in progress.LessonCompletionInput) (progress.LessonCompletion, error) {
	var result progress.LessonCompletion
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		w, ok, err := loadWorld(ctx, tx, in.UserID, in.WorldID)
		if err != nil {
			return err
		}
		if !ok || !w.IsUnlocked {
			return fmt.Errorf("%w: world %d is locked", progress.ErrForbidden, in.WorldID)
		}

		firstTime, finished := w.RecordLesson(in)
		result = progress.LessonCompletion{Progress: w, FirstTime: firstTime, WorldCompleted: finished}
		if !firstTime {
			return nil
		}
		if err := saveWorld(ctx, tx, w); err != nil {
			return err
		}
		if finished && in.NextWorldID > 0 {
			if _, err := unlockWorld(ctx, tx, in.UserID, in.NextWorldID, in.Now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return progress.LessonCompletion{}, err
	}
	return result, nil
}
