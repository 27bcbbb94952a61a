package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
)

// MemoryRepository keeps applications in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	apps []Application
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(_ context.Context, app Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.apps {
		if existing.ID == app.ID {
			return fmt.Errorf("%w: application %s", progress.ErrConflict, app.ID)
		}
	}
	m.apps = append(m.apps, app)
	return nil
}

func (m *MemoryRepository) MarkNotified(_ context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.apps {
		if m.apps[i].ID == id && m.apps[i].UserID == userID {
			m.apps[i].NotifiedAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: application %s", progress.ErrNotFound, id)
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID string) ([]Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Application
	for i := len(m.apps) - 1; i >= 0; i-- {
		if m.apps[i].UserID == userID {
			out = append(out, m.apps[i])
		}
	}
	return out, nil
}
