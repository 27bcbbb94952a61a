package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/notify"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/events"
)

var reviewerEmail = template.Must(template.New("application").Parse(`<h2>New BudgetTeen application</h2>
<p><strong>{{.FullName}}</strong> &lt;{{.Email}}&gt; applied on {{.SubmittedAt.Format "2 Jan 2006 15:04 MST"}}.</p>
<p>User: <code>{{.UserID}}</code><br>Application: <code>{{.ApplicationID}}</code></p>
<blockquote>{{.Motivation}}</blockquote>
`))

// Options configures a Service.
type Options struct {
	Reviewers []string
	Logger    *slog.Logger
}

// Service validates and stores applications, then emails reviewers in the background.
type Service struct {
	repo      Repository
	scheduler progress.Scheduler
	sender    notify.Sender
	clock     progress.Clock
	ids       progress.IDGenerator
	validate  *validator.Validate
	reviewers []string
	logger    *slog.Logger
}

func NewService(repo Repository, scheduler progress.Scheduler, sender notify.Sender, clock progress.Clock, ids progress.IDGenerator, opts Options) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if clock == nil {
		clock = progress.NewSystemClock()
	}
	if ids == nil {
		ids = progress.NewUUIDGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		sender:    sender,
		clock:     clock,
		ids:       ids,
		validate:  newValidator(),
		reviewers: opts.Reviewers,
		logger:    opts.Logger,
	}, nil
}

// Submit stores the application. The reviewer email is sent by a deferred job
// and its failure never reaches the caller.
func (s *Service) Submit(ctx context.Context, userID string, input SubmitInput) (Application, error) {
	if strings.TrimSpace(userID) == "" {
		return Application{}, progress.ErrUnauthenticated
	}
	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = strings.TrimSpace(input.Email)
	input.Motivation = strings.TrimSpace(input.Motivation)
	if err := s.validate.Struct(input); err != nil {
		return Application{}, describeValidation(err)
	}

	app := Application{
		ID:         s.ids.NewID(),
		UserID:     userID,
		FullName:   input.FullName,
		Email:      input.Email,
		Motivation: input.Motivation,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return Application{}, fmt.Errorf("store application: %w", err)
	}

	job := s.notifyJob(events.ApplicationSubmitted{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		FullName:      app.FullName,
		Email:         app.Email,
		Motivation:    app.Motivation,
		SubmittedAt:   app.CreatedAt,
	})
	// The application is stored; the email job must not die with the request.
	if err := s.scheduler.Schedule(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("schedule application email", slog.String("applicationId", app.ID), slog.Any("error", err))
	}
	return app, nil
}

// List returns the caller's applications, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Application, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, progress.ErrUnauthenticated
	}
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) notifyJob(payload events.ApplicationSubmitted) tasks.Job {
	return tasks.Job{
		Name:   events.JobApplicationNotify,
		UserID: payload.UserID,
		Steps: []tasks.Step{
			{Name: "send_email", Run: func(ctx context.Context) error {
				if len(s.reviewers) == 0 {
					s.logger.Warn("no reviewers configured; application email skipped", slog.String("applicationId", payload.ApplicationID))
					return nil
				}
				msg, err := renderMessage(s.reviewers, payload)
				if err != nil {
					return tasks.Permanent(err)
				}
				return s.sender.Send(ctx, msg)
			}},
			{Name: "mark_notified", Run: func(ctx context.Context) error {
				err := s.repo.MarkNotified(ctx, payload.UserID, payload.ApplicationID, s.clock.Now().UTC())
				if errors.Is(err, progress.ErrNotFound) {
					return tasks.Permanent(err)
				}
				return err
			}},
		},
	}
}

func renderMessage(to []string, payload events.ApplicationSubmitted) (notify.Message, error) {
	var body bytes.Buffer
	if err := reviewerEmail.Execute(&body, payload); err != nil {
		return notify.Message{}, fmt.Errorf("render application email: %w", err)
	}
	return notify.Message{
		To:      to,
		Subject: "New application from " + payload.FullName,
		HTML:    body.String(),
	}, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", progress.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", progress.ErrInvalidInput, strings.Join(msgs, "; "))
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
