package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/application"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/config"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/httpapi"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/notify"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/store/sqlite"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/auth"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/dto"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/server"
)

const (
	serviceName = "budgetteen-progress"
	version     = "0.1.0"
)

type repositories struct {
	progress     progress.Repository
	applications application.Repository
	close        func() error
}

func openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	switch cfg.DataStore {
	case config.DataStoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.GCPProjectID)
		if err != nil {
			return repositories{}, fmt.Errorf("firestore client: %w", err)
		}
		return repositories{
			progress:     progress.NewFirestoreRepository(client),
			applications: application.NewFirestoreRepository(client),
			close:        client.Close,
		}, nil
	case config.DataStoreSQLite:
		db, err := sqlite.OpenAndMigrate(ctx, cfg.SQLitePath)
		if err != nil {
			return repositories{}, err
		}
		return repositories{
			progress:     sqlite.NewProgressRepo(db),
			applications: sqlite.NewApplicationRepo(db),
			close:        db.Close,
		}, nil
	default:
		return repositories{
			progress:     progress.NewMemoryRepository(),
			applications: application.NewMemoryRepository(),
			close:        func() error { return nil },
		}, nil
	}
}

func newSender(cfg config.MailConfig, logger *slog.Logger) (notify.Sender, error) {
	if cfg.Mode == config.MailModeSMTP {
		sender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			TLS:      notify.TLSMode(cfg.TLS),
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	return notify.LogSender{Logger: logger}, nil
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel)

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("datastore error: %w", err)
	}
	defer func() {
		if err := repos.close(); err != nil {
			logger.Error("close datastore", slog.Any("error", err))
		}
	}()

	queue := tasks.NewQueue(logger, tasks.Options{
		Workers: cfg.Tasks.Workers,
		Buffer:  cfg.Tasks.Buffer,
		Policy: tasks.Policy{
			MaxRetries:  uint64(cfg.Tasks.MaxRetries),
			BaseBackoff: cfg.Tasks.BaseBackoff,
			StepTimeout: 30 * time.Second,
		},
	})

	progressService, err := progress.NewService(repos.progress, queue, nil, nil, progress.Options{
		Location: cfg.Location,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("progress service: %w", err)
	}

	sender, err := newSender(cfg.Mail, logger)
	if err != nil {
		return fmt.Errorf("mail sender: %w", err)
	}
	applicationService, err := application.NewService(repos.applications, queue, sender, nil, nil, application.Options{
		Reviewers: cfg.Mail.Reviewers,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("application service: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.AuthSettings())
	if err != nil {
		return fmt.Errorf("auth verifier error: %w", err)
	}

	health := dto.HealthResponse{Service: serviceName, Version: version, DataStore: string(cfg.DataStore)}
	router := server.NewRouter(health, func(r chi.Router) {
		httpapi.RegisterRoutes(r, verifier, progressService, applicationService, logger)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Close drains queued jobs after the listener stops and before the datastore closes.
	if err := server.Run(ctx, srv, logger, queue.Close); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
