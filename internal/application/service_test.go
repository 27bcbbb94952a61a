package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/notify"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (s staticIDs) NewID() string { return s.id }

type fakeSender struct {
	send func(ctx context.Context, msg notify.Message) error
}

func (f fakeSender) Send(ctx context.Context, msg notify.Message) error {
	return f.send(ctx, msg)
}

var submittedAt = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func validInput() SubmitInput {
	return SubmitInput{
		FullName:   "Sam Rivera",
		Email:      "sam@example.com",
		Motivation: strings.Repeat("I want to learn to budget. ", 3),
	}
}

func newTestService(t *testing.T, repo Repository, sender notify.Sender, reviewers ...string) *Service {
	t.Helper()
	inline := tasks.Inline{Logger: logging.Discard(), Policy: tasks.Policy{MaxRetries: 1, BaseBackoff: time.Millisecond}}
	svc, err := NewService(repo, inline, sender, fixedClock{now: submittedAt}, staticIDs{id: "app-1"}, Options{
		Reviewers: reviewers,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestSubmitStoresAndNotifies(t *testing.T) {
	repo := NewMemoryRepository()
	var sent []notify.Message
	sender := fakeSender{send: func(_ context.Context, msg notify.Message) error {
		sent = append(sent, msg)
		return nil
	}}
	svc := newTestService(t, repo, sender, "review@example.com")

	app, err := svc.Submit(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if app.ID != "app-1" || !app.CreatedAt.Equal(submittedAt) {
		t.Fatalf("unexpected application %+v", app)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sent))
	}
	if sent[0].To[0] != "review@example.com" || sent[0].Subject != "New application from Sam Rivera" {
		t.Fatalf("unexpected message %+v", sent[0])
	}
	if !strings.Contains(sent[0].HTML, "sam@example.com") {
		t.Fatalf("email body missing applicant email: %s", sent[0].HTML)
	}

	stored, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 || stored[0].NotifiedAt == nil {
		t.Fatalf("expected application marked notified, got %+v", stored)
	}
}

type schedulerFunc func(ctx context.Context, job tasks.Job) error

func (f schedulerFunc) Schedule(ctx context.Context, job tasks.Job) error { return f(ctx, job) }

func TestSubmitSchedulesEmailPastCancelledRequest(t *testing.T) {
	var scheduled []tasks.Job
	scheduler := schedulerFunc(func(ctx context.Context, job tasks.Job) error {
		if err := ctx.Err(); err != nil {
			t.Fatalf("email job scheduled with a cancelled context: %v", err)
		}
		scheduled = append(scheduled, job)
		return nil
	})
	svc, err := NewService(NewMemoryRepository(), scheduler, fakeSender{send: func(context.Context, notify.Message) error { return nil }},
		fixedClock{now: submittedAt}, staticIDs{id: "app-1"}, Options{Reviewers: []string{"review@example.com"}, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Submit(ctx, "user-1", validInput()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(scheduled) != 1 || len(scheduled[0].Steps) != 2 {
		t.Fatalf("expected the notify job to be scheduled, got %+v", scheduled)
	}
}

func TestSubmitEscapesApplicantText(t *testing.T) {
	var html string
	sender := fakeSender{send: func(_ context.Context, msg notify.Message) error {
		html = msg.HTML
		return nil
	}}
	svc := newTestService(t, NewMemoryRepository(), sender, "review@example.com")

	in := validInput()
	in.Motivation = "<script>alert(1)</script> " + in.Motivation
	if _, err := svc.Submit(context.Background(), "user-1", in); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("motivation was not escaped: %s", html)
	}
}

func TestEmailFailureDoesNotFailSubmit(t *testing.T) {
	repo := NewMemoryRepository()
	calls := 0
	sender := fakeSender{send: func(context.Context, notify.Message) error {
		calls++
		return errors.New("relay down")
	}}
	svc := newTestService(t, repo, sender, "review@example.com")

	if _, err := svc.Submit(context.Background(), "user-1", validInput()); err != nil {
		t.Fatalf("Submit should succeed when email fails, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one retry of the email step, got %d calls", calls)
	}
	stored, _ := repo.ListByUser(context.Background(), "user-1")
	if len(stored) != 1 {
		t.Fatalf("expected application stored, got %d", len(stored))
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), fakeSender{send: func(context.Context, notify.Message) error {
		t.Fatalf("no email expected for invalid input")
		return nil
	}})

	cases := []struct {
		name   string
		mutate func(*SubmitInput)
		want   string
	}{
		{"missing name", func(in *SubmitInput) { in.FullName = "  " }, "full_name is required"},
		{"long name", func(in *SubmitInput) { in.FullName = strings.Repeat("a", 101) }, "full_name must be at most 100"},
		{"bad email", func(in *SubmitInput) { in.Email = "not-an-email" }, "email must be a valid email"},
		{"short motivation", func(in *SubmitInput) { in.Motivation = "too short" }, "motivation must be at least 50"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Submit(context.Background(), "user-1", in)
			if !errors.Is(err, progress.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestSubmitRequiresUser(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), fakeSender{send: func(context.Context, notify.Message) error { return nil }})
	if _, err := svc.Submit(context.Background(), "", validInput()); !errors.Is(err, progress.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestNoReviewersSkipsEmail(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), fakeSender{send: func(context.Context, notify.Message) error {
		t.Fatalf("sender should not be called without reviewers")
		return nil
	}})
	if _, err := svc.Submit(context.Background(), "user-1", validInput()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestMemoryRepositoryMarkNotifiedChecksOwner(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.Create(ctx, Application{ID: "a", UserID: "u1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, Application{ID: "a", UserID: "u1"}); !errors.Is(err, progress.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}
	if err := repo.MarkNotified(ctx, "u2", "a", submittedAt); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}
