package events

import "time"

// Job names for deferred work scheduled after a primary mutation.
const (
	JobProgression       = "progression.apply"
	JobApplicationNotify = "application.notify"
)

// ActionKind identifies the user action that produced a progression job.
type ActionKind string

const (
	ActionTransactionAdded ActionKind = "transaction_added"
	ActionGoalCreated      ActionKind = "goal_created"
	ActionGoalProgressed   ActionKind = "goal_progressed"
	ActionLessonCompleted  ActionKind = "lesson_completed"
	ActionChallengeClaimed ActionKind = "challenge_claimed"
)

// XPAward is one ledger entry to grant; SourceKey makes the grant idempotent.
type XPAward struct {
	SourceKey string `json:"sourceKey"`
	Kind      string `json:"kind"`
	Amount    int    `json:"amount"`
}

// ActionRecorded is the payload of a progression job. It carries identifiers
// only; steps re-read aggregate state when they run.
type ActionRecorded struct {
	UserID          string     `json:"userId"`
	Kind            ActionKind `json:"kind"`
	Awards          []XPAward  `json:"awards"`
	TransactionType string     `json:"transactionType,omitempty"`
	Category        string     `json:"category,omitempty"`
	OccurredAt      time.Time  `json:"occurredAt"`
}

// ApplicationSubmitted is the payload of an application notification job.
type ApplicationSubmitted struct {
	ApplicationID string    `json:"applicationId"`
	UserID        string    `json:"userId"`
	FullName      string    `json:"fullName"`
	Email         string    `json:"email"`
	Motivation    string    `json:"motivation"`
	SubmittedAt   time.Time `json:"submittedAt"`
}
