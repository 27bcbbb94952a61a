package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
)

type fakeClient struct {
	send func(ctx context.Context, messages ...*mail.Msg) error
}

func (f fakeClient) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	return f.send(ctx, messages...)
}

func newTestSender(t *testing.T, cfg SMTPConfig, send func(context.Context, ...*mail.Msg) error) *SMTPSender {
	t.Helper()
	s, err := NewSMTPSender(cfg)
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC) }
	s.newClient = func() (mailClient, error) { return fakeClient{send: send}, nil }
	return s
}

func TestSMTPSenderComposesHTMLMessage(t *testing.T) {
	var sent []*mail.Msg
	s := newTestSender(t, SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"},
		func(_ context.Context, messages ...*mail.Msg) error {
			sent = messages
			return nil
		})

	err := s.Send(context.Background(), Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "New application",
		HTML:    "<p>hello</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	rcpts, err := sent[0].GetRecipients()
	if err != nil {
		t.Fatalf("GetRecipients: %v", err)
	}
	if len(rcpts) != 2 || rcpts[0] != "a@example.com" || rcpts[1] != "b@example.com" {
		t.Fatalf("unexpected recipients %v", rcpts)
	}

	var buf bytes.Buffer
	if _, err := sent[0].WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{
		"noreply@example.com",
		"Subject: New application",
		"Date: Fri, 02 Jan 2026 03:04:05 +0000",
		"text/html",
		"<p>hello</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestSMTPSenderErrors(t *testing.T) {
	s := newTestSender(t, SMTPConfig{Host: "smtp.example.com", Port: 25, Username: "u", Password: "p", From: "x@example.com", TLS: TLSOpportunistic},
		func(context.Context, ...*mail.Msg) error {
			return errors.New("connection refused")
		})

	if err := s.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected an error without recipients")
	}
	err := s.Send(context.Background(), Message{To: []string{"a@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected relay error, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: []string{"not an address"}}); err == nil {
		t.Fatalf("expected an invalid recipient to be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, Message{To: []string{"a@example.com"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSMTPSenderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
	}{
		{name: "missing host", cfg: SMTPConfig{Port: 587, From: "x@example.com"}},
		{name: "bad port", cfg: SMTPConfig{Host: "smtp.example.com", Port: 70000, From: "x@example.com"}},
		{name: "unknown tls mode", cfg: SMTPConfig{Host: "smtp.example.com", Port: 587, TLS: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSMTPSender(tt.cfg); err == nil {
				t.Fatalf("expected an error for %+v", tt.cfg)
			}
		})
	}

	for _, mode := range []TLSMode{"", TLSMandatory, TLSOpportunistic, TLSImplicit, TLSNone} {
		if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 465, TLS: mode}); err != nil {
			t.Fatalf("tls mode %q: %v", mode, err)
		}
	}
}

func TestLogSenderNeverFails(t *testing.T) {
	if err := (LogSender{Logger: logging.Discard()}).Send(context.Background(), Message{To: []string{"a@example.com"}}); err != nil {
		t.Fatalf("LogSender: %v", err)
	}
}
