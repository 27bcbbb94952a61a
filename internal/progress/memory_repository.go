package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryUserState struct {
	user         User
	transactions map[string]Transaction
	goals        map[string]Goal
	limits       map[string]BudgetLimit
	alerts       []SpendingAlert
	achievements map[BadgeID]Achievement
	xp           map[string]XPEvent
	worlds       map[int]WorldProgress
}

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]*memoryUserState
}

// NewMemoryRepository returns an in-memory repository intended for local development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]*memoryUserState)}
}

func (r *memoryRepository) state(userID string) (*memoryUserState, error) {
	st, ok := r.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return st, nil
}

func (r *memoryRepository) EnsureUser(_ context.Context, profile UserProfile, now time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.users[profile.ID]; ok {
		return st.user, nil
	}
	st := &memoryUserState{
		user:         NewUser(profile, now),
		transactions: make(map[string]Transaction),
		goals:        make(map[string]Goal),
		limits:       make(map[string]BudgetLimit),
		achievements: make(map[BadgeID]Achievement),
		xp:           make(map[string]XPEvent),
		worlds:       make(map[int]WorldProgress),
	}
	r.users[profile.ID] = st
	return st.user, nil
}

func (r *memoryRepository) GetUser(_ context.Context, userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.state(userID)
	if err != nil {
		return User{}, err
	}
	return st.user, nil
}

func (r *memoryRepository) UpdateUser(_ context.Context, userID string, now time.Time, mutate func(*User) (bool, error)) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return User{}, err
	}
	u := st.user
	changed, err := mutate(&u)
	if err != nil {
		return User{}, err
	}
	if !changed {
		return st.user, nil
	}
	u.UpdatedAt = now.UTC()
	st.user = u
	return u, nil
}

func (r *memoryRepository) AddTransaction(_ context.Context, tx Transaction, now time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(tx.UserID)
	if err != nil {
		return User{}, err
	}
	if _, exists := st.transactions[tx.ID]; exists {
		return User{}, ErrConflict
	}
	st.transactions[tx.ID] = tx
	st.user.ApplyTransaction(tx, 1)
	st.user.UpdatedAt = now
	return st.user, nil
}

func (r *memoryRepository) DeleteTransaction(_ context.Context, userID, transactionID string, now time.Time) (Transaction, User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return Transaction{}, User{}, err
	}
	tx, ok := st.transactions[transactionID]
	if !ok {
		return Transaction{}, User{}, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
	}
	delete(st.transactions, transactionID)
	st.user.ApplyTransaction(tx, -1)
	st.user.UpdatedAt = now
	return tx, st.user, nil
}

func (r *memoryRepository) matchingTransactions(userID string, filter TransactionFilter) []Transaction {
	st, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]Transaction, 0)
	for _, tx := range st.transactions {
		if filter.matches(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func (r *memoryRepository) ListTransactions(_ context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	r.mu.RLock()
	out := r.matchingTransactions(userID, filter)
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepository) CountTransactions(_ context.Context, userID string, filter TransactionFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matchingTransactions(userID, filter)), nil
}

func (r *memoryRepository) SumExpenses(_ context.Context, userID, category string, since time.Time) (Money, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total Money
	for _, tx := range r.matchingTransactions(userID, TransactionFilter{Type: TransactionExpense, Category: category, Since: since}) {
		total += tx.Amount
	}
	return total, nil
}

func (r *memoryRepository) CreateGoal(_ context.Context, goal Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(goal.UserID)
	if err != nil {
		return err
	}
	if _, exists := st.goals[goal.ID]; exists {
		return ErrConflict
	}
	st.goals[goal.ID] = goal
	return nil
}

func (r *memoryRepository) GetGoal(_ context.Context, userID, goalID string) (Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.state(userID)
	if err != nil {
		return Goal{}, err
	}
	goal, ok := st.goals[goalID]
	if !ok {
		return Goal{}, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	return goal, nil
}

func (r *memoryRepository) UpdateGoalProgress(_ context.Context, userID, goalID string, delta Money, now time.Time) (Goal, Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return Goal{}, Goal{}, err
	}
	before, ok := st.goals[goalID]
	if !ok {
		return Goal{}, Goal{}, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	after := before
	after.ApplyDelta(delta, now)
	st.goals[goalID] = after
	return before, after, nil
}

func (r *memoryRepository) DeleteGoal(_ context.Context, userID, goalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return err
	}
	if _, ok := st.goals[goalID]; !ok {
		return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	delete(st.goals, goalID)
	return nil
}

func (r *memoryRepository) ListGoals(_ context.Context, userID string) ([]Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Goal, 0)
	if st, ok := r.users[userID]; ok {
		for _, g := range st.goals {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CountGoals(_ context.Context, userID string) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.users[userID]
	if !ok {
		return 0, 0, nil
	}
	completed := 0
	for _, g := range st.goals {
		if g.IsCompleted {
			completed++
		}
	}
	return len(st.goals), completed, nil
}

func (r *memoryRepository) UpsertBudgetLimit(_ context.Context, limit BudgetLimit, now time.Time) (BudgetLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(limit.UserID)
	if err != nil {
		return BudgetLimit{}, err
	}
	if existing, ok := st.limits[limit.Category]; ok {
		limit.CreatedAt = existing.CreatedAt
	} else {
		limit.CreatedAt = now
	}
	limit.UpdatedAt = now
	st.limits[limit.Category] = limit
	return limit, nil
}

func (r *memoryRepository) GetBudgetLimit(_ context.Context, userID, category string) (BudgetLimit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, err := r.state(userID)
	if err != nil {
		return BudgetLimit{}, err
	}
	limit, ok := st.limits[category]
	if !ok {
		return BudgetLimit{}, fmt.Errorf("%w: budget limit %s", ErrNotFound, category)
	}
	return limit, nil
}

func (r *memoryRepository) ListBudgetLimits(_ context.Context, userID string) ([]BudgetLimit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BudgetLimit, 0)
	if st, ok := r.users[userID]; ok {
		for _, l := range st.limits {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (r *memoryRepository) DeleteBudgetLimit(_ context.Context, userID, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return err
	}
	if _, ok := st.limits[category]; !ok {
		return fmt.Errorf("%w: budget limit %s", ErrNotFound, category)
	}
	delete(st.limits, category)
	return nil
}

func (r *memoryRepository) CreateAlertIfQuiet(_ context.Context, alert SpendingAlert, quiet time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(alert.UserID)
	if err != nil {
		return false, err
	}
	cutoff := alert.CreatedAt.Add(-quiet)
	for _, existing := range st.alerts {
		if existing.Category == alert.Category && existing.CreatedAt.After(cutoff) {
			return false, nil
		}
	}
	st.alerts = append(st.alerts, alert)
	return true, nil
}

func (r *memoryRepository) ListAlerts(_ context.Context, userID string, unreadOnly bool, limit int) ([]SpendingAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SpendingAlert, 0)
	st, ok := r.users[userID]
	if !ok {
		return out, nil
	}
	for i := len(st.alerts) - 1; i >= 0; i-- {
		a := st.alerts[i]
		if unreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepository) MarkAlertRead(_ context.Context, userID, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return err
	}
	for i := range st.alerts {
		if st.alerts[i].ID == alertID {
			st.alerts[i].IsRead = true
			return nil
		}
	}
	return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
}

func (r *memoryRepository) InsertAchievement(_ context.Context, achievement Achievement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(achievement.UserID)
	if err != nil {
		return false, err
	}
	if _, exists := st.achievements[achievement.BadgeID]; exists {
		return false, nil
	}
	st.achievements[achievement.BadgeID] = achievement
	return true, nil
}

func (r *memoryRepository) ListAchievements(_ context.Context, userID string) ([]Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Achievement, 0)
	if st, ok := r.users[userID]; ok {
		for _, a := range st.achievements {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

func (r *memoryRepository) AwardXP(_ context.Context, event XPEvent, maxXP int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(event.UserID)
	if err != nil {
		return false, err
	}
	if _, exists := st.xp[event.SourceKey]; exists {
		return false, nil
	}
	granted := GrantableXP(st.user.XP, event.Amount, maxXP)
	event.Amount = granted
	st.xp[event.SourceKey] = event
	st.user.XP += granted
	st.user.UpdatedAt = event.AwardedAt
	return true, nil
}

func (r *memoryRepository) HasXPEvent(_ context.Context, userID, sourceKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	_, exists := st.xp[sourceKey]
	return exists, nil
}

func (r *memoryRepository) CountXPEvents(_ context.Context, userID, kind string, since, until time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.users[userID]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, ev := range st.xp {
		if ev.Kind == kind && !ev.AwardedAt.Before(since) && ev.AwardedAt.Before(until) {
			count++
		}
	}
	return count, nil
}

func copyWorld(w WorldProgress) WorldProgress {
	w.CompletedLessons = append([]string{}, w.CompletedLessons...)
	return w
}

func (r *memoryRepository) ListWorldProgress(_ context.Context, userID string) ([]WorldProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorldProgress, 0)
	if st, ok := r.users[userID]; ok {
		for _, w := range st.worlds {
			out = append(out, copyWorld(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorldID < out[j].WorldID })
	return out, nil
}

func (r *memoryRepository) EnsureWorldUnlocked(_ context.Context, userID string, worldID int, now time.Time) (WorldProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(userID)
	if err != nil {
		return WorldProgress{}, err
	}
	return copyWorld(unlockWorld(st.worlds, userID, worldID, now)), nil
}

func unlockWorld(worlds map[int]WorldProgress, userID string, worldID int, now time.Time) WorldProgress {
	w, ok := worlds[worldID]
	if ok && w.IsUnlocked {
		return w
	}
	if !ok {
		w = LockedWorld(userID, worldID)
	}
	w.IsUnlocked = true
	w.UpdatedAt = now
	worlds[worldID] = w
	return w
}

func (r *memoryRepository) CompleteLesson(_ context.Context, in LessonCompletionInput) (LessonCompletion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.state(in.UserID)
	if err != nil {
		return LessonCompletion{}, err
	}
	w, ok := st.worlds[in.WorldID]
	if !ok || !w.IsUnlocked {
		return LessonCompletion{}, fmt.Errorf("%w: world %d is locked", ErrForbidden, in.WorldID)
	}
	w = copyWorld(w)
	firstTime, finished := w.RecordLesson(in)
	if firstTime {
		st.worlds[in.WorldID] = w
	}
	if finished && in.NextWorldID > 0 {
		unlockWorld(st.worlds, in.UserID, in.NextWorldID, in.Now)
	}
	return LessonCompletion{Progress: copyWorld(w), FirstTime: firstTime, WorldCompleted: finished}, nil
}
