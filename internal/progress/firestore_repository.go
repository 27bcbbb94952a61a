package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection layout: users/{uid} holds the aggregate, everything else lives in
// per-user subcollections so one transaction can touch the user and its rows.
const (
	usersCollection        = "users"
	transactionsCollection = "transactions"
	goalsCollection        = "goals"
	limitsCollection       = "budget_limits"
	alertsCollection       = "spending_alerts"
	achievementsCollection = "achievements"
	xpEventsCollection     = "xp_events"
	worldsCollection       = "worlds"
)

type firestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository creates a Firestore-backed repository.
func NewFirestoreRepository(client *firestore.Client) Repository {
	return &firestoreRepository{client: client}
}

func (r *firestoreRepository) userDoc(userID string) *firestore.DocumentRef {
	return r.client.Collection(usersCollection).Doc(userID)
}

func (r *firestoreRepository) sub(userID, name string) *firestore.CollectionRef {
	return r.userDoc(userID).Collection(name)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func readUser(doc *firestore.DocumentSnapshot) (User, error) {
	var u User
	if err := doc.DataTo(&u); err != nil {
		return User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	u.ID = doc.Ref.ID
	return u, nil
}

func (r *firestoreRepository) txUser(tx *firestore.Transaction, userID string) (User, error) {
	doc, err := tx.Get(r.userDoc(userID))
	if isNotFound(err) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return User{}, err
	}
	return readUser(doc)
}

func (r *firestoreRepository) EnsureUser(ctx context.Context, profile UserProfile, now time.Time) (User, error) {
	u := NewUser(profile, now)
	_, err := r.userDoc(profile.ID).Create(ctx, u)
	if status.Code(err) == codes.AlreadyExists {
		return r.GetUser(ctx, profile.ID)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *firestoreRepository) GetUser(ctx context.Context, userID string) (User, error) {
	doc, err := r.userDoc(userID).Get(ctx)
	if isNotFound(err) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return User{}, err
	}
	return readUser(doc)
}

func (r *firestoreRepository) UpdateUser(ctx context.Context, userID string, now time.Time, mutate func(*User) (bool, error)) (User, error) {
	var result User
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		u, err := r.txUser(tx, userID)
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
		return tx.Set(r.userDoc(userID), u)
	})
	if err != nil {
		return User{}, err
	}
	return result, nil
}

func (r *firestoreRepository) AddTransaction(ctx context.Context, t Transaction, now time.Time) (User, error) {
	var result User
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		u, err := r.txUser(tx, t.UserID)
		if err != nil {
			return err
		}
		u.ApplyTransaction(t, 1)
		u.UpdatedAt = now
		if err := tx.Create(r.sub(t.UserID, transactionsCollection).Doc(t.ID), t); err != nil {
			return err
		}
		result = u
		return tx.Set(r.userDoc(t.UserID), u)
	})
	if status.Code(err) == codes.AlreadyExists {
		return User{}, ErrConflict
	}
	if err != nil {
		return User{}, err
	}
	return result, nil
}

func (r *firestoreRepository) DeleteTransaction(ctx context.Context, userID, transactionID string, now time.Time) (Transaction, User, error) {
	var (
		removed Transaction
		result  User
	)
	ref := r.sub(userID, transactionsCollection).Doc(transactionID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		u, err := r.txUser(tx, userID)
		if err != nil {
			return err
		}
		doc, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
		}
		if err != nil {
			return err
		}
		var t Transaction
		if err := doc.DataTo(&t); err != nil {
			return fmt.Errorf("unmarshal transaction: %w", err)
		}

		u.ApplyTransaction(t, -1)
		u.UpdatedAt = now
		if err := tx.Delete(ref); err != nil {
			return err
		}
		removed, result = t, u
		return tx.Set(r.userDoc(userID), u)
	})
	if err != nil {
		return Transaction{}, User{}, err
	}
	return removed, result, nil
}

func (r *firestoreRepository) transactionQuery(userID string, filter TransactionFilter) firestore.Query {
	q := r.sub(userID, transactionsCollection).Query
	if filter.Type != "" {
		q = q.Where("type", "==", string(filter.Type))
	}
	if filter.Category != "" {
		q = q.Where("category", "==", filter.Category)
	}
	if !filter.Since.IsZero() {
		q = q.Where("date", ">=", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("date", "<", filter.Until)
	}
	return q
}

func (r *firestoreRepository) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	q := r.transactionQuery(userID, filter).OrderBy("date", firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	out := make([]Transaction, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var t Transaction
		if err := doc.DataTo(&t); err != nil {
			return nil, fmt.Errorf("unmarshal transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *firestoreRepository) CountTransactions(ctx context.Context, userID string, filter TransactionFilter) (int, error) {
	return countDocuments(ctx, r.transactionQuery(userID, filter))
}

// countDocuments counts query results, fetching document names only.
func countDocuments(ctx context.Context, q firestore.Query) (int, error) {
	iter := q.Select().Documents(ctx)
	defer iter.Stop()

	n := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n++
	}
}

func (r *firestoreRepository) SumExpenses(ctx context.Context, userID, category string, since time.Time) (Money, error) {
	q := r.transactionQuery(userID, TransactionFilter{Type: TransactionExpense, Category: category, Since: since})
	iter := q.Select("amount").Documents(ctx)
	defer iter.Stop()

	var total Money
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		var row struct {
			Amount Money `firestore:"amount"`
		}
		if err := doc.DataTo(&row); err != nil {
			return 0, fmt.Errorf("unmarshal amount: %w", err)
		}
		total += row.Amount
	}
}

func (r *firestoreRepository) CreateGoal(ctx context.Context, goal Goal) error {
	_, err := r.sub(goal.UserID, goalsCollection).Doc(goal.ID).Create(ctx, goal)
	if status.Code(err) == codes.AlreadyExists {
		return ErrConflict
	}
	return err
}

func (r *firestoreRepository) GetGoal(ctx context.Context, userID, goalID string) (Goal, error) {
	doc, err := r.sub(userID, goalsCollection).Doc(goalID).Get(ctx)
	if isNotFound(err) {
		return Goal{}, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	if err != nil {
		return Goal{}, err
	}
	var g Goal
	if err := doc.DataTo(&g); err != nil {
		return Goal{}, fmt.Errorf("unmarshal goal: %w", err)
	}
	return g, nil
}

func (r *firestoreRepository) UpdateGoalProgress(ctx context.Context, userID, goalID string, delta Money, now time.Time) (Goal, Goal, error) {
	var before, after Goal
	ref := r.sub(userID, goalsCollection).Doc(goalID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
		}
		if err != nil {
			return err
		}
		var g Goal
		if err := doc.DataTo(&g); err != nil {
			return fmt.Errorf("unmarshal goal: %w", err)
		}
		before = g
		g.ApplyDelta(delta, now)
		after = g
		return tx.Set(ref, g)
	})
	if err != nil {
		return Goal{}, Goal{}, err
	}
	return before, after, nil
}

func (r *firestoreRepository) DeleteGoal(ctx context.Context, userID, goalID string) error {
	_, err := r.sub(userID, goalsCollection).Doc(goalID).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	return err
}

func (r *firestoreRepository) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	iter := r.sub(userID, goalsCollection).OrderBy("created_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	out := make([]Goal, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var g Goal
		if err := doc.DataTo(&g); err != nil {
			return nil, fmt.Errorf("unmarshal goal: %w", err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (r *firestoreRepository) CountGoals(ctx context.Context, userID string) (int, int, error) {
	iter := r.sub(userID, goalsCollection).Select("is_completed").Documents(ctx)
	defer iter.Stop()

	total, completed := 0, 0
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return total, completed, nil
		}
		if err != nil {
			return 0, 0, err
		}
		total++
		if done, ok := doc.Data()["is_completed"].(bool); ok && done {
			completed++
		}
	}
}

func (r *firestoreRepository) UpsertBudgetLimit(ctx context.Context, limit BudgetLimit, now time.Time) (BudgetLimit, error) {
	ref := r.sub(limit.UserID, limitsCollection).Doc(limit.Category)
	var result BudgetLimit
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		next := limit
		next.CreatedAt = now
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing BudgetLimit
			if err := doc.DataTo(&existing); err != nil {
				return fmt.Errorf("unmarshal budget limit: %w", err)
			}
			next.CreatedAt = existing.CreatedAt
		case !isNotFound(err):
			return err
		}
		next.UpdatedAt = now
		result = next
		return tx.Set(ref, next)
	})
	if err != nil {
		return BudgetLimit{}, err
	}
	return result, nil
}

func (r *firestoreRepository) GetBudgetLimit(ctx context.Context, userID, category string) (BudgetLimit, error) {
	doc, err := r.sub(userID, limitsCollection).Doc(category).Get(ctx)
	if isNotFound(err) {
		return BudgetLimit{}, fmt.Errorf("%w: budget limit %s", ErrNotFound, category)
	}
	if err != nil {
		return BudgetLimit{}, err
	}
	var limit BudgetLimit
	if err := doc.DataTo(&limit); err != nil {
		return BudgetLimit{}, fmt.Errorf("unmarshal budget limit: %w", err)
	}
	return limit, nil
}

func (r *firestoreRepository) ListBudgetLimits(ctx context.Context, userID string) ([]BudgetLimit, error) {
	docs, err := r.sub(userID, limitsCollection).OrderBy("category", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]BudgetLimit, 0, len(docs))
	for _, doc := range docs {
		var limit BudgetLimit
		if err := doc.DataTo(&limit); err != nil {
			return nil, fmt.Errorf("unmarshal budget limit: %w", err)
		}
		out = append(out, limit)
	}
	return out, nil
}

func (r *firestoreRepository) DeleteBudgetLimit(ctx context.Context, userID, category string) error {
	_, err := r.sub(userID, limitsCollection).Doc(category).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return fmt.Errorf("%w: budget limit %s", ErrNotFound, category)
	}
	return err
}

func (r *firestoreRepository) CreateAlertIfQuiet(ctx context.Context, alert SpendingAlert, quiet time.Duration) (bool, error) {
	alerts := r.sub(alert.UserID, alertsCollection)
	recent := alerts.
		Where("category", "==", alert.Category).
		Where("created_at", ">", alert.CreatedAt.Add(-quiet)).
		Limit(1)

	var created bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		if _, err := r.txUser(tx, alert.UserID); err != nil {
			return err
		}
		docs, err := tx.Documents(recent).GetAll()
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return nil
		}
		created = true
		return tx.Create(alerts.Doc(alert.ID), alert)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *firestoreRepository) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]SpendingAlert, error) {
	q := r.sub(userID, alertsCollection).Query
	if unreadOnly {
		q = q.Where("is_read", "==", false)
	}
	q = q.OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]SpendingAlert, 0, len(docs))
	for _, doc := range docs {
		var a SpendingAlert
		if err := doc.DataTo(&a); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *firestoreRepository) MarkAlertRead(ctx context.Context, userID, alertID string) error {
	_, err := r.sub(userID, alertsCollection).Doc(alertID).Update(ctx, []firestore.Update{
		{Path: "is_read", Value: true},
	})
	if isNotFound(err) {
		return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	}
	return err
}

func (r *firestoreRepository) InsertAchievement(ctx context.Context, achievement Achievement) (bool, error) {
	_, err := r.sub(achievement.UserID, achievementsCollection).Doc(string(achievement.BadgeID)).Create(ctx, achievement)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *firestoreRepository) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	docs, err := r.sub(userID, achievementsCollection).OrderBy("unlocked_at", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Achievement, 0, len(docs))
	for _, doc := range docs {
		var a Achievement
		if err := doc.DataTo(&a); err != nil {
			return nil, fmt.Errorf("unmarshal achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *firestoreRepository) AwardXP(ctx context.Context, event XPEvent, maxXP int) (bool, error) {
	eventRef := r.sub(event.UserID, xpEventsCollection).Doc(event.SourceKey)
	var awarded bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		awarded = false
		u, err := r.txUser(tx, event.UserID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(eventRef); err == nil {
			return nil
		} else if !isNotFound(err) {
			return err
		}

		ev := event
		ev.Amount = GrantableXP(u.XP, event.Amount, maxXP)
		u.XP += ev.Amount
		u.UpdatedAt = event.AwardedAt
		if err := tx.Create(eventRef, ev); err != nil {
			return err
		}
		awarded = true
		return tx.Set(r.userDoc(event.UserID), u)
	})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return awarded, nil
}

func (r *firestoreRepository) HasXPEvent(ctx context.Context, userID, sourceKey string) (bool, error) {
	_, err := r.sub(userID, xpEventsCollection).Doc(sourceKey).Get(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *firestoreRepository) CountXPEvents(ctx context.Context, userID, kind string, since, until time.Time) (int, error) {
	q := r.sub(userID, xpEventsCollection).
		Where("kind", "==", kind).
		Where("awarded_at", ">=", since).
		Where("awarded_at", "<", until)
	return countDocuments(ctx, q)
}

func (r *firestoreRepository) worldDoc(userID string, worldID int) *firestore.DocumentRef {
	return r.sub(userID, worldsCollection).Doc(strconv.Itoa(worldID))
}

func readWorld(doc *firestore.DocumentSnapshot) (WorldProgress, error) {
	var w WorldProgress
	if err := doc.DataTo(&w); err != nil {
		return WorldProgress{}, fmt.Errorf("unmarshal world progress: %w", err)
	}
	if w.CompletedLessons == nil {
		w.CompletedLessons = []string{}
	}
	return w, nil
}

func (r *firestoreRepository) ListWorldProgress(ctx context.Context, userID string) ([]WorldProgress, error) {
	docs, err := r.sub(userID, worldsCollection).OrderBy("world_id", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]WorldProgress, 0, len(docs))
	for _, doc := range docs {
		w, err := readWorld(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// txUnlockWorld reads the world row and returns it unlocked, plus whether it needs writing.
func (r *firestoreRepository) txUnlockWorld(tx *firestore.Transaction, userID string, worldID int, now time.Time) (WorldProgress, bool, error) {
	doc, err := tx.Get(r.worldDoc(userID, worldID))
	w := LockedWorld(userID, worldID)
	switch {
	case err == nil:
		if w, err = readWorld(doc); err != nil {
			return WorldProgress{}, false, err
		}
		if w.IsUnlocked {
			return w, false, nil
		}
	case !isNotFound(err):
		return WorldProgress{}, false, err
	}
	w.IsUnlocked = true
	w.UpdatedAt = now
	return w, true, nil
}

func (r *firestoreRepository) EnsureWorldUnlocked(ctx context.Context, userID string, worldID int, now time.Time) (WorldProgress, error) {
	var result WorldProgress
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := r.txUser(tx, userID); err != nil {
			return err
		}
		w, write, err := r.txUnlockWorld(tx, userID, worldID, now)
		if err != nil {
			return err
		}
		result = w
		if !write {
			return nil
		}
		return tx.Set(r.worldDoc(userID, worldID), w)
	})
	if err != nil {
		return WorldProgress{}, err
	}
	return result, nil
}

func (r *firestoreRepository) CompleteLesson(ctx context.Context, in LessonCompletionInput) (LessonCompletion, error) {
	var result LessonCompletion
	ref := r.worldDoc(in.UserID, in.WorldID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("%w: world %d is locked", ErrForbidden, in.WorldID)
		}
		if err != nil {
			return err
		}
		w, err := readWorld(doc)
		if err != nil {
			return err
		}
		if !w.IsUnlocked {
			return fmt.Errorf("%w: world %d is locked", ErrForbidden, in.WorldID)
		}

		// All reads happen before the first write.
		var (
			next      WorldProgress
			writeNext bool
		)
		if in.NextWorldID > 0 && len(w.CompletedLessons)+1 >= in.LessonCount && !w.HasLesson(in.LessonID) {
			next, writeNext, err = r.txUnlockWorld(tx, in.UserID, in.NextWorldID, in.Now)
			if err != nil {
				return err
			}
		}

		firstTime, finished := w.RecordLesson(in)
		result = LessonCompletion{Progress: w, FirstTime: firstTime, WorldCompleted: finished}
		if !firstTime {
			return nil
		}
		if err := tx.Set(ref, w); err != nil {
			return err
		}
		if finished && writeNext {
			return tx.Set(r.worldDoc(in.UserID, in.NextWorldID), next)
		}
		return nil
	})
	if err != nil {
		return LessonCompletion{}, err
	}
	return result, nil
}
