package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookqueue/hookqueue/internal/models"
)

func TestTaskRepositoryRoundTrip(t *testing.T) {
	pool := testPool(t)
	app := createTestApp(t, pool)
	repo := NewTaskRepository(pool, testLogger())
	ctx := context.Background()

	task := &models.Task{
		AppID:   app.ID,
		URL:     "https://example.com/hook",
		Body:    []byte(`{"event":"signup"}`),
		Charset: "iso-8859-1",
		Enctype: "application/json",
		Headers: map[string]string{"Authorization": "Bearer abc"},
		Timeout: 45,
	}
	require.NoError(t, repo.Insert(ctx, task))
	require.NotZero(t, task.ID)
	assert.False(t, task.Created.IsZero())
	assert.Equal(t, models.TaskStatusPending, task.Status)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, app.ID, got.AppID)
	assert.Equal(t, "https://example.com/hook", got.URL)
	assert.Equal(t, []byte(`{"event":"signup"}`), got.Body)
	assert.Equal(t, "iso-8859-1", got.Charset)
	assert.Equal(t, "application/json", got.Enctype)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, got.Headers)
	assert.Equal(t, 45, got.Timeout)
	assert.Zero(t, got.RetryCount)
}

func TestTaskRepositoryGetMissing(t *testing.T) {
	pool := testPool(t)
	repo := NewTaskRepository(pool, testLogger())

	got, err := repo.GetByID(context.Background(), -1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTaskRepositoryConditionalUpdate(t *testing.T) {
	pool := testPool(t)
	app := createTestApp(t, pool)
	repo := NewTaskRepository(pool, testLogger())
	ctx := context.Background()

	task := &models.Task{AppID: app.ID, URL: "https://example.com/hook"}
	require.NoError(t, repo.Insert(ctx, task))

	one := 1
	due := time.Now().UTC().Add(time.Minute)

	// Acquisition wins while the expected retry count is current.
	rows, err := repo.ConditionalUpdate(ctx, task.ID, 0, models.TaskUpdate{
		Status: models.TaskStatusInProgress, RetryCount: &one, Due: &due,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// A second writer with the same expectation loses.
	rows, err = repo.ConditionalUpdate(ctx, task.ID, 0, models.TaskUpdate{
		Status: models.TaskStatusInProgress, RetryCount: &one,
	})
	require.NoError(t, err)
	assert.Zero(t, rows)

	// The winner records its outcome against the new retry count.
	rows, err = repo.ConditionalUpdate(ctx, task.ID, 1, models.TaskUpdate{
		Status: models.TaskStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// Terminal states accept no further writes.
	rows, err = repo.ConditionalUpdate(ctx, task.ID, 1, models.TaskUpdate{
		Status: models.TaskStatusPending,
	})
	require.NoError(t, err)
	assert.Zero(t, rows)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestTaskRepositoryScanDue(t *testing.T) {
	pool := testPool(t)
	app := createTestApp(t, pool)
	repo := NewTaskRepository(pool, testLogger())
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	overdue := &models.Task{AppID: app.ID, URL: "https://example.com/hook", Due: past}
	notYet := &models.Task{AppID: app.ID, URL: "https://example.com/hook", Due: future}
	require.NoError(t, repo.Insert(ctx, overdue))
	require.NoError(t, repo.Insert(ctx, notYet))

	finished := &models.Task{AppID: app.ID, URL: "https://example.com/hook", Due: past, Status: models.TaskStatusCompleted}
	require.NoError(t, repo.Insert(ctx, finished))

	// The scan is global, so only membership of our own rows is asserted.
	due, err := repo.ScanDue(ctx, models.TaskStatusPending, time.Now().UTC(), 0, 1000)
	require.NoError(t, err)

	ids := map[int64]bool{}
	for _, task := range due {
		ids[task.ID] = true
	}
	assert.True(t, ids[overdue.ID], "overdue pending task should be scanned")
	assert.False(t, ids[notYet.ID], "future task must not be scanned")
	assert.False(t, ids[finished.ID], "completed task must not be scanned")
}

func TestTaskRepositoryCounts(t *testing.T) {
	pool := testPool(t)
	app := createTestApp(t, pool)
	repo := NewTaskRepository(pool, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.Insert(ctx, &models.Task{AppID: app.ID, URL: "https://example.com/hook"}))
	}

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pending, int64(2))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[models.TaskStatusPending], int64(2))
}
