package progress

import (
	"fmt"
	"time"
)

// ChallengeRuleType identifies how progress toward a challenge is measured.
type ChallengeRuleType string

const (
	ChallengeRuleTransactions      ChallengeRuleType = "transactions_count"
	ChallengeRuleIncomes           ChallengeRuleType = "income_count"
	ChallengeRuleLessons           ChallengeRuleType = "lessons_completed"
	ChallengeRuleGoalContributions ChallengeRuleType = "goal_contributions"
	ChallengeRuleStreakMilestone   ChallengeRuleType = "streak_milestone"
)

// ChallengeCadence is the calendar period a challenge resets on.
type ChallengeCadence string

const (
	CadenceWeekly  ChallengeCadence = "weekly"
	CadenceMonthly ChallengeCadence = "monthly"
)

// ChallengeDefinition is a static challenge template.
type ChallengeDefinition struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Cadence     ChallengeCadence  `json:"cadence"`
	RewardXP    int               `json:"reward_xp"`
	RuleType    ChallengeRuleType `json:"rule_type"`
	Target      int               `json:"target"`
}

// challengeDefinitions is the canonical challenge list. IDs are stable; clients store them.
func challengeDefinitions() []ChallengeDefinition {
	return []ChallengeDefinition{
		{
			ID:          "weekly_tracker",
			Title:       "Track It",
			Description: "Log 5 transactions this week",
			Cadence:     CadenceWeekly,
			RewardXP:    50,
			RuleType:    ChallengeRuleTransactions,
			Target:      5,
		},
		{
			ID:          "weekly_learner",
			Title:       "Study Buddy",
			Description: "Finish 3 lessons this week",
			Cadence:     CadenceWeekly,
			RewardXP:    60,
			RuleType:    ChallengeRuleLessons,
			Target:      3,
		},
		{
			ID:          "weekly_streak",
			Title:       "Seven Straight",
			Description: "Reach a 7-day streak",
			Cadence:     CadenceWeekly,
			RewardXP:    75,
			RuleType:    ChallengeRuleStreakMilestone,
			Target:      7,
		},
		{
			ID:          "monthly_earner",
			Title:       "Payday",
			Description: "Record 4 incomes this month",
			Cadence:     CadenceMonthly,
			RewardXP:    100,
			RuleType:    ChallengeRuleIncomes,
			Target:      4,
		},
		{
			ID:          "monthly_saver",
			Title:       "Stash Builder",
			Description: "Add to your savings goals 5 times this month",
			Cadence:     CadenceMonthly,
			RewardXP:    120,
			RuleType:    ChallengeRuleGoalContributions,
			Target:      5,
		},
		{
			ID:          "monthly_scholar",
			Title:       "Bookworm",
			Description: "Finish 12 lessons this month",
			Cadence:     CadenceMonthly,
			RewardXP:    150,
			RuleType:    ChallengeRuleLessons,
			Target:      12,
		},
	}
}

func findChallenge(id string) (ChallengeDefinition, bool) {
	for _, c := range challengeDefinitions() {
		if c.ID == id {
			return c, true
		}
	}
	return ChallengeDefinition{}, false
}

// challengePeriod returns the calendar period containing now in loc: ISO weeks
// starting Monday, or calendar months. The key names the period for claims.
func challengePeriod(cadence ChallengeCadence, now time.Time, loc *time.Location) (start, end time.Time, key string) {
	today := truncateToDay(now, loc)
	if cadence == CadenceMonthly {
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0), start.Format("2006-01")
	}
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	start = today.AddDate(0, 0, -(weekday - 1))
	year, week := start.ISOWeek()
	return start, start.AddDate(0, 0, 7), fmt.Sprintf("%d-W%02d", year, week)
}

func challengeSourceKey(id, periodKey string) string {
	return "challenge:" + id + ":" + periodKey
}

// ChallengeStatus is one user's standing on a challenge in the current period.
type ChallengeStatus struct {
	Challenge       ChallengeDefinition `json:"challenge"`
	PeriodKey       string              `json:"period_key"`
	PeriodStart     time.Time           `json:"period_start"`
	PeriodEnd       time.Time           `json:"period_end"`
	Current         int                 `json:"current"`
	ProgressPercent int                 `json:"progress_percent"`
	Completed       bool                `json:"completed"`
	Claimed         bool                `json:"claimed"`
}

func progressPercent(current, target int) int {
	if target <= 0 || current >= target {
		return 100
	}
	if current <= 0 {
		return 0
	}
	return current * 100 / target
}

// ChallengesMeResponse is returned by GET /v1/challenges/me.
type ChallengesMeResponse struct {
	Level      int               `json:"level"`
	XP         int               `json:"xp"`
	Challenges []ChallengeStatus `json:"challenges"`
}

// ClaimChallengeResponse is returned by POST /v1/challenges/{id}/claim.
type ClaimChallengeResponse struct {
	ChallengeID    string `json:"challenge_id"`
	PeriodKey      string `json:"period_key"`
	Claimed        bool   `json:"claimed"`
	AlreadyClaimed bool   `json:"already_claimed"`
	XPAwarded      int    `json:"xp_awarded"`
	XPTotal        int    `json:"xp_total"`
	Level          int    `json:"level"`
}
