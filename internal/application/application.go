// Package application accepts program applications from users and notifies reviewers by email.
package application

import (
	"context"
	"time"
)

// Application is a submitted program application.
type Application struct {
	ID         string     `json:"id" firestore:"-"`
	UserID     string     `json:"user_id" firestore:"user_id"`
	FullName   string     `json:"full_name" firestore:"full_name"`
	Email      string     `json:"email" firestore:"email"`
	Motivation string     `json:"motivation" firestore:"motivation"`
	CreatedAt  time.Time  `json:"created_at" firestore:"created_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty" firestore:"notified_at,omitempty"`
}

// SubmitInput is the request body of an application.
type SubmitInput struct {
	FullName   string `json:"full_name" validate:"required,max=100"`
	Email      string `json:"email" validate:"required,email"`
	Motivation string `json:"motivation" validate:"required,min=50,max=2000"`
}

// Repository persists applications.
type Repository interface {
	Create(ctx context.Context, app Application) error
	MarkNotified(ctx context.Context, userID, id string, at time.Time) error
	ListByUser(ctx context.Context, userID string) ([]Application, error)
}
