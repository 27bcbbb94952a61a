package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/application"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/auth"
)

const serviceTimeout = 10 * time.Second

// Applications is the part of the application service the API exposes.
type Applications interface {
	Submit(ctx context.Context, userID string, input application.SubmitInput) (application.Application, error)
	List(ctx context.Context, userID string) ([]application.Application, error)
}

type handler struct {
	progress     progress.Service
	applications Applications
	logger       *slog.Logger
}

type goalProgressRequest struct {
	Amount progress.Money `json:"amount"`
}

type lessonCompleteRequest struct {
	Stars int `json:"stars"`
}

// RegisterRoutes mounts the /v1 API. Every route requires a verified bearer token.
func RegisterRoutes(r chi.Router, verifier auth.Verifier, svc progress.Service, apps Applications, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{progress: svc, applications: apps, logger: logger}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		r.Use(h.ensureUser)

		r.Get("/me", h.getMe)
		r.Post("/me/recalculate-level", h.recalculateLevel)
		r.Get("/categories", h.listCategories)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.listTransactions)
			r.Post("/", h.addTransaction)
			r.Delete("/{id}", h.deleteTransaction)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.listGoals)
			r.Post("/", h.createGoal)
			r.Post("/{id}/progress", h.updateGoalProgress)
			r.Delete("/{id}", h.deleteGoal)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.listBudgetLimits)
			r.Get("/status", h.budgetStatuses)
			r.Put("/{category}", h.setBudgetLimit)
			r.Delete("/{category}", h.deleteBudgetLimit)
			r.Get("/{category}/status", h.categoryStatus)
			r.Post("/{category}/check", h.checkCategory)
		})

		r.Get("/alerts", h.listAlerts)
		r.Post("/alerts/{id}/read", h.markAlertRead)

		r.Get("/achievements", h.listAchievements)
		r.Post("/achievements/check", h.checkAchievements)

		r.Get("/worlds", h.listWorlds)
		r.Post("/worlds/{worldID}/lessons/{lessonID}/complete", h.completeLesson)

		r.Get("/challenges", h.listChallenges)
		r.Get("/challenges/me", h.challengesMe)
		r.Post("/challenges/{id}/claim", h.claimChallenge)

		r.Get("/applications", h.listApplications)
		r.Post("/applications", h.submitApplication)
	})
}

// ensureUser creates the progression aggregate on a user's first request.
func (h *handler) ensureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			h.respondError(w, r, progress.ErrUnauthenticated)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()
		if _, err := h.progress.EnsureUser(ctx, progress.UserProfile{ID: user.UserID, DisplayName: user.Name, Email: user.Email}); err != nil {
			h.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user.UserID
}

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), serviceTimeout)
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	stats, err := h.progress.GetStats(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) recalculateLevel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	res, err := h.progress.RecalculateLevel(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.progress.ListCategories(r.Context())})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	items, err := h.progress.ListTransactions(ctx, userID(r), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (h *handler) addTransaction(w http.ResponseWriter, r *http.Request) {
	var in progress.TransactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	tx, err := h.progress.AddTransaction(ctx, userID(r), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.progress.DeleteTransaction(ctx, userID(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listGoals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	goals, err := h.progress.ListGoals(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(goals)})
}

func (h *handler) createGoal(w http.ResponseWriter, r *http.Request) {
	var in progress.GoalInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	goal, err := h.progress.CreateGoal(ctx, userID(r), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, goal)
}

func (h *handler) updateGoalProgress(w http.ResponseWriter, r *http.Request) {
	var req goalProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	res, err := h.progress.UpdateGoalProgress(ctx, userID(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) deleteGoal(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.progress.DeleteGoal(ctx, userID(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listBudgetLimits(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	limits, err := h.progress.ListBudgetLimits(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(limits)})
}

func (h *handler) budgetStatuses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	statuses, err := h.progress.BudgetStatuses(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(statuses)})
}

func (h *handler) setBudgetLimit(w http.ResponseWriter, r *http.Request) {
	var in progress.BudgetLimitInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	category := chi.URLParam(r, "category")
	if in.Category != "" && in.Category != category {
		h.respondError(w, r, fmt.Errorf("%w: body category %q does not match path", progress.ErrInvalidInput, in.Category))
		return
	}
	in.Category = category

	ctx, cancel := withTimeout(r)
	defer cancel()
	limit, err := h.progress.SetBudgetLimit(ctx, userID(r), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *handler) deleteBudgetLimit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.progress.DeleteBudgetLimit(ctx, userID(r), chi.URLParam(r, "category")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) categoryStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	eval, err := h.progress.CategoryStatus(ctx, userID(r), chi.URLParam(r, "category"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *handler) checkCategory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	eval, err := h.progress.EvaluateCategorySpend(ctx, userID(r), chi.URLParam(r, "category"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	unreadOnly, err := parseBoolQuery(r, "unread")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	alerts, err := h.progress.ListAlerts(ctx, userID(r), unreadOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(alerts)})
}

func (h *handler) markAlertRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.progress.MarkAlertRead(ctx, userID(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listAchievements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	badges, err := h.progress.ListAchievements(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(badges)})
}

func (h *handler) checkAchievements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	unlocked, err := h.progress.CheckAndAwardAchievements(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": nonNil(unlocked)})
}

func (h *handler) listWorlds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	worlds, err := h.progress.ListWorlds(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": worlds})
}

func (h *handler) completeLesson(w http.ResponseWriter, r *http.Request) {
	worldID, err := strconv.Atoi(chi.URLParam(r, "worldID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: world id must be a number", progress.ErrInvalidInput))
		return
	}
	var req lessonCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	res, err := h.progress.CompleteLesson(ctx, userID(r), worldID, chi.URLParam(r, "lessonID"), req.Stars)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	defs, err := h.progress.ListChallenges(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
}

func (h *handler) challengesMe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	resp, err := h.progress.GetChallengesMe(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) claimChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	resp, err := h.progress.ClaimChallenge(ctx, userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	apps, err := h.applications.List(ctx, userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(apps)})
}

func (h *handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	var in application.SubmitInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	app, err := h.applications.Submit(ctx, userID(r), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func parseTransactionFilter(r *http.Request) (progress.TransactionFilter, error) {
	q := r.URL.Query()
	filter := progress.TransactionFilter{
		Type:     progress.TransactionType(strings.TrimSpace(q.Get("type"))),
		Category: strings.TrimSpace(q.Get("category")),
	}
	if filter.Type != "" && filter.Type != progress.TransactionIncome && filter.Type != progress.TransactionExpense {
		return filter, fmt.Errorf("%w: type must be income or expense", progress.ErrInvalidInput)
	}
	var err error
	if filter.Since, err = parseTimeQuery(q.Get("since"), "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeQuery(q.Get("until"), "until"); err != nil {
		return filter, err
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("%w: limit must be a positive integer", progress.ErrInvalidInput)
		}
		filter.Limit = n
	}
	return filter, nil
}

// parseTimeQuery accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func parseTimeQuery(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", progress.ErrInvalidInput, field)
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", progress.ErrInvalidInput, key)
	}
	return v, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
