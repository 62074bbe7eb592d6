package settings_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/settings"
	"github.com/jobboard/aicredits/internal/storage"
	"github.com/jobboard/aicredits/internal/storage/storagetest"
)

var defaults = models.AISettings{Enabled: true, Model: "gpt-4o", MaxTokens: 1000}

type countingRepo struct {
	settings.Repository
	gets int
	err  error
}

func (r *countingRepo) Get(ctx context.Context) (*models.AISettings, error) {
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	return r.Repository.Get(ctx)
}

func TestStore_DefaultsUntilSaved(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewDB(t).NewSettingsRepository()
	store := settings.NewStore(repo, defaults, time.Minute, clock.NewFakeClock(time.Now()), nil)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaults, snap)

	saved, err := store.Update(ctx, models.AISettings{Enabled: false, Model: "gpt-4o-mini", MaxTokens: 500, MonthlyBudgetUSD: 25})
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	snap, err = store.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	assert.Equal(t, "gpt-4o-mini", snap.Model)
	assert.Equal(t, models.USD(25), snap.MonthlyBudgetUSD)

	row, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, row.MaxTokens)
}

func TestStore_SnapshotIsCachedForTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := &countingRepo{Repository: storagetest.NewDB(t).NewSettingsRepository()}
	store := settings.NewStore(repo, defaults, 30*time.Second, clk, nil)

	for i := 0; i < 3; i++ {
		_, err := store.Snapshot(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.gets)

	clk.Advance(30 * time.Second)
	_, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.gets)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store := settings.NewStore(storagetest.NewDB(t).NewSettingsRepository(), defaults, time.Minute, nil, nil)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	snap.Enabled = false

	again, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, again.Enabled)
}

func TestStore_ReadErrorIsReturned(t *testing.T) {
	repo := &countingRepo{err: errors.New("db down")}
	store := settings.NewStore(repo, defaults, time.Minute, nil, nil)

	_, err := store.Snapshot(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrSettingsNotFound)
}

func TestStore_UpdateValidates(t *testing.T) {
	store := settings.NewStore(storagetest.NewDB(t).NewSettingsRepository(), defaults, time.Minute, nil, nil)

	tests := []struct {
		name string
		in   models.AISettings
	}{
		{"missing model", models.AISettings{MaxTokens: 10}},
		{"zero tokens", models.AISettings{Model: "gpt-4o"}},
		{"negative budget", models.AISettings{Model: "gpt-4o", MaxTokens: 10, MonthlyBudgetUSD: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Update(context.Background(), tt.in)
			assert.Error(t, err)
		})
	}
}
