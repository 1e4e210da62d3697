package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidenrawles/synergy/internal/adapters/repository"
	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/skill"
)

// setupTestPostgres opens a store against TEST_DB_DSN.
// Skips the test if TEST_DB_DSN is not set.
func setupTestPostgres(t *testing.T) *repository.PostgresStore {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set, skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	store, err := repository.NewPostgresStore(ctx, dsn,
		repository.WithMaxConns(4),
		repository.WithConnectTimeout(3*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()

	f, err := repository.LoadFixture("testdata/fixture.yaml")
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, f))

	projects, err := store.Projects(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "P1")
	assert.Contains(t, ids, "P2")

	require.NoError(t, store.SaveIndividualScore(ctx, "s2", model.IndividualScore{skill.Backend: 9}))
	roster, err := store.Roster(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, roster.MembersCount)
	assert.Len(t, roster.Members, 5)

	var found bool
	for _, m := range roster.Members {
		if m.StudentID == "s2" {
			found = true
			assert.InDelta(t, 9.0, m.StudentRatings["Backend"], 1e-9)
		}
	}
	assert.True(t, found)

	require.NoError(t, store.SaveGroupRating(ctx, 2, model.GroupRating{skill.FrontendUI: 4.5}))
	groups, err := store.GroupPreferences(ctx)
	require.NoError(t, err)
	for _, g := range groups {
		if g.ID == 2 {
			assert.InDelta(t, 4.5, g.Rating[skill.FrontendUI], 1e-9)
			require.Len(t, g.Preferences, 1)
			assert.Equal(t, "P2", g.Preferences[0].ProjectID)
		}
	}

	err = store.SaveGroupRating(ctx, 424242, model.GroupRating{})
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = store.Transcript(ctx, "no-such-student")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestPostgresStore_ReplaceAllocation(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()

	first := model.AllocationResult{
		RunID:       "run-1",
		Allocated:   map[int64]string{1: "P1", 2: "P2"},
		Unallocated: []int64{},
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.ReplaceAllocation(ctx, first))

	second := model.AllocationResult{
		RunID:       "run-2",
		Allocated:   map[int64]string{2: "P1"},
		Unallocated: []int64{3, 1},
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.ReplaceAllocation(ctx, second))

	got, err := store.Allocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, map[int64]string{2: "P1"}, got.Allocated)
	assert.Equal(t, []int64{3, 1}, got.Unallocated)
	assert.True(t, second.CompletedAt.Equal(got.CompletedAt))
}

func TestPostgresStore_PreferencesKeepDeclaredOrder(t *testing.T) {
	store := setupTestPostgres(t)
	ctx := context.Background()

	f := repository.Fixture{
		Projects: []model.Project{{ID: "PA", Slots: 1}, {ID: "PB", Slots: 1}},
		Groups: []repository.GroupFixture{{
			ID:          9001,
			Preferences: []model.Preference{{ProjectID: "PB", Rank: 2}, {ProjectID: "PA", Rank: 1}},
		}},
	}
	require.NoError(t, store.Seed(ctx, f))

	groups, err := store.GroupPreferences(ctx)
	require.NoError(t, err)
	var got []model.Preference
	for _, g := range groups {
		if g.ID == 9001 {
			got = g.Preferences
		}
	}
	assert.Equal(t, []model.Preference{{ProjectID: "PB", Rank: 2}, {ProjectID: "PA", Rank: 1}}, got)

	f.Groups[0].Preferences = []model.Preference{{ProjectID: "PA", Rank: 8}}
	err = store.Seed(ctx, f)
	assert.True(t, errors.Is(err, repository.ErrInvalidInput))
}
