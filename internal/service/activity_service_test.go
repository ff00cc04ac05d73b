package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/internal/models"
	"github.com/noah-isme/gema-review/internal/repository"
)

type memoryActivityRepo struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActivityLog
	for _, entry := range m.entries {
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, entry)
	}
	return out, int64(len(out)), nil
}

func (m *memoryActivityRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestActivityServiceRecordMasksSecrets(t *testing.T) {
	repo := &memoryActivityRepo{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewActivityService(repo, validate, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    "teacher-1",
		ActorRole:  "Teacher",
		Action:     "Grade.Overridden",
		EntityType: "Submission",
		EntityID:   "sub-1",
		Metadata: map[string]interface{}{
			"access_token": "secret",
			"reason":       "wrong unit",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["access_token"])
	require.Equal(t, "wrong unit", entry.Metadata["reason"])
	require.Equal(t, "teacher", entry.ActorRole)
	require.Equal(t, "grade.overridden", entry.Action)
	require.Equal(t, "submission", entry.EntityType)
}

func TestActivityServiceRecordRequiresAction(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{}, validator.New(), testLogger())

	_, err := svc.Record(context.Background(), ActivityEntry{EntityType: "submission"})
	require.Error(t, err)

	_, err = svc.Record(context.Background(), ActivityEntry{Action: "grading.triggered"})
	require.Error(t, err)
}

func TestActivityServiceListPaginates(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(), testLogger())

	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{ActorID: "t", Action: "batch.uploaded", EntityType: "exam"})
		require.NoError(t, err)
	}

	resp, err := svc.List(context.Background(), dto.ActivityListRequest{Page: 1, PageSize: 2, Action: "Batch.Uploaded"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	require.Equal(t, 2, resp.Pagination.TotalPages)
	require.Equal(t, int64(3), resp.Pagination.TotalItems)

	_, err = svc.List(context.Background(), dto.ActivityListRequest{PageSize: 500})
	require.Error(t, err)
}
