package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Message is one outbound HTML email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender delivers outbound email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TLSMode controls how the SMTP connection is secured.
type TLSMode string

const (
	// TLSMandatory requires STARTTLS and fails when the relay does not offer it.
	TLSMandatory TLSMode = "mandatory"
	// TLSOpportunistic upgrades with STARTTLS when the relay offers it.
	TLSOpportunistic TLSMode = "opportunistic"
	// TLSImplicit dials straight into TLS, usually on port 465.
	TLSImplicit TLSMode = "implicit"
	// TLSNone sends in plain text. Local relays only.
	TLSNone TLSMode = "none"
)

// SMTPConfig describes the relay used by SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      TLSMode
}

type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPSender delivers mail through an SMTP relay. PLAIN auth is used when a
// username is configured.
type SMTPSender struct {
	cfg       SMTPConfig
	newClient func() (mailClient, error)
	now       func() time.Time
}

// NewSMTPSender validates cfg by building a client up front. Each Send dials
// its own connection, so the sender is safe for concurrent workers.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{
		cfg: cfg,
		newClient: func() (mailClient, error) {
			c, err := mail.NewClient(cfg.Host, opts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		now: time.Now,
	}, nil
}

func clientOptions(cfg SMTPConfig) ([]mail.Option, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	switch cfg.TLS {
	case TLSMandatory, "":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case TLSOpportunistic:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case TLSImplicit:
		opts = append(opts, mail.WithSSL())
	case TLSNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		return nil, fmt.Errorf("unsupported smtp tls mode: %s", cfg.TLS)
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("notify: message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.compose(msg)
	if err != nil {
		return err
	}
	client, err := s.newClient()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("notify: sender address %q: %w", s.cfg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("notify: recipients %s: %w", strings.Join(msg.To, ", "), err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now().UTC())
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not delivered: log sender configured",
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("bytes", len(msg.HTML)),
	)
	return nil
}
