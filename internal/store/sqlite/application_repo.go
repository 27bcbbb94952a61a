package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/application"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
)

// ApplicationRepo persists applications in SQLite.
type ApplicationRepo struct {
	db *sql.DB
}

var _ application.Repository = (*ApplicationRepo)(nil)

func NewApplicationRepo(db *sql.DB) *ApplicationRepo {
	return &ApplicationRepo{db: db}
}

func (r *ApplicationRepo) Create(ctx context.Context, app application.Application) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO applications (id, user_id, full_name, email, motivation, created_at, notified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		app.ID, app.UserID, app.FullName, app.Email, app.Motivation,
		formatTime(app.CreatedAt), formatNullTime(app.NotifiedAt),
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: application %s", progress.ErrConflict, app.ID))
}

func (r *ApplicationRepo) MarkNotified(ctx context.Context, userID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE applications SET notified_at = ? WHERE id = ? AND user_id = ?`,
		formatTime(at), id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark application notified: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: application %s", progress.ErrNotFound, id))
}

func (r *ApplicationRepo) ListByUser(ctx context.Context, userID string) ([]application.Application, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, full_name, email, motivation, created_at, notified_at
		FROM applications WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []application.Application
	for rows.Next() {
		var (
			app       application.Application
			createdAt string
			notified  sql.NullString
		)
		if err := rows.Scan(&app.ID, &app.UserID, &app.FullName, &app.Email, &app.Motivation, &createdAt, &notified); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		if app.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if app.NotifiedAt, err = parseNullTime(notified); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
