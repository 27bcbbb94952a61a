package application

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
)

const applicationsCollection = "applications"

type firestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository stores applications under users/{uid}/applications.
func NewFirestoreRepository(client *firestore.Client) Repository {
	return &firestoreRepository{client: client}
}

func (r *firestoreRepository) collection(userID string) *firestore.CollectionRef {
	return r.client.Collection("users").Doc(userID).Collection(applicationsCollection)
}

func (r *firestoreRepository) Create(ctx context.Context, app Application) error {
	_, err := r.collection(app.UserID).Doc(app.ID).Create(ctx, app)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: application %s", progress.ErrConflict, app.ID)
	}
	return err
}

func (r *firestoreRepository) MarkNotified(ctx context.Context, userID, id string, at time.Time) error {
	_, err := r.collection(userID).Doc(id).Update(ctx, []firestore.Update{{Path: "notified_at", Value: at}})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: application %s", progress.ErrNotFound, id)
	}
	return err
}

func (r *firestoreRepository) ListByUser(ctx context.Context, userID string) ([]Application, error) {
	iter := r.collection(userID).OrderBy("created_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var apps []Application
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var app Application
		if err := doc.DataTo(&app); err != nil {
			return nil, fmt.Errorf("unmarshal application: %w", err)
		}
		app.ID = doc.Ref.ID
		apps = append(apps, app)
	}
	return apps, nil
}
