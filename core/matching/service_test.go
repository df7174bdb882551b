package matching_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	cachesvc "github.com/gruppenschlau/gruppenschlau/services/cache"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	"github.com/gruppenschlau/gruppenschlau/storage"
	inmemdb "github.com/gruppenschlau/gruppenschlau/storage/database/inmem"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

var admin = core.Session{UserID: "admin", IsAdmin: true}

func setup(t *testing.T) (*matching.Service, *inmemdb.DB, *storage.Repositories) {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)
	db := inmemdb.NewDB()
	repos := storage.NewInmem(db)

	svc := matching.NewService(matching.ServiceDeps{
		Repo:           repos.Matching,
		Profiles:       repos.Profiles,
		Availabilities: repos.Availabilities,
		Engine:         matching.Engine{MinGroupSize: 2, MaxGroupSize: 10},
		Cache:          core.NewReadCache(cachesvc.NewInmemCache(), time.Minute, logger, nil),
		Logger:         logger,
	})
	return svc, db, repos
}

func TestService_Discover(t *testing.T) {
	svc, db, repos := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.Discover(ctx, core.Session{UserID: "u1"})
	assert.Equal(t, core.ErrForbidden, err)

	anna := testutil.CreateProfile(t, repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false, now.Add(-time.Hour))
	ben := testutil.CreateProfile(t, repos.Profiles, "Ben", "ben@test.de", "Berlin", "7. Klasse", false, now)
	testutil.CreateProfile(t, repos.Profiles, "Admin", "admin@test.de", "Berlin", "7. Klasse", true)
	for _, id := range []string{anna.ID, ben.ID} {
		testutil.AddAvailability(t, repos.Availabilities, id, availability.Monday, "16:00 - 17:00")
	}

	db.FailOn("Pool", errors.New("boom"))
	res, err := svc.Discover(ctx, admin)
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())

	db.FailOn("Pool", nil)
	res, err = svc.Discover(ctx, admin)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, []string{anna.ID, ben.ID}, res.Data[0].StudentIDs())
	assert.Equal(t, "Anna Test", res.Data[0].Students[0].Name)
}

func TestService_Commit(t *testing.T) {
	svc, _, repos := setup(t)
	ctx := context.Background()

	_, err := svc.Commit(ctx, core.Session{UserID: "u1"})
	assert.Equal(t, core.ErrForbidden, err)

	results, err := svc.Commit(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, []matching.Result{}, results)

	for _, name := range []string{"Anna", "Ben", "Carl"} {
		p := testutil.CreateProfile(t, repos.Profiles, name, name+"@test.de", "Hessen", "9. Klasse", false)
		testutil.AddAvailability(t, repos.Availabilities, p.ID, availability.Tuesday, "15:00 - 16:00")
	}

	// already in a group, so left out of the matching but part of the cohort
	dora := testutil.CreateProfile(t, repos.Profiles, "Dora", "dora@test.de", "Hessen", "9. Klasse", false)
	testutil.AddAvailability(t, repos.Availabilities, dora.ID, availability.Tuesday, "15:00 - 16:00")
	testutil.AddAvailability(t, repos.Availabilities, dora.ID, availability.Friday, "10:00 - 11:00")
	testutil.CreateGroup(t, repos.Matching, group.Group{Region: "Hessen", Grade: "9. Klasse", TimeSlots: []string{"friday 10:00 - 11:00"}}, dora.ID)

	// warm the cached views
	res, err := svc.Discover(ctx, admin)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Empty(t, svc.MatchingGroups(ctx, dora.Session()).Data)

	results, err = svc.Commit(ctx, admin)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Hessen", results[0].Region)
	assert.Equal(t, 3, results[0].StudentCount)
	assert.Equal(t, []string{"tuesday 15:00 - 16:00"}, results[0].CommonSlots)

	g, err := repos.Groups.GetGroupByID(ctx, results[0].GroupID)
	require.NoError(t, err)
	assert.Equal(t, group.StatusPending, g.Status)
	assert.Equal(t, group.DefaultMaxMembers, g.MaxMembers)
	members, err := repos.Groups.GroupMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	res, err = svc.Discover(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, res.Data, "the compatible groups view is invalidated by a commit")

	mg := svc.MatchingGroups(ctx, dora.Session())
	require.Equal(t, core.ResultOK, mg.Status)
	require.Len(t, mg.Data, 1, "the cohort sees the new group")
	assert.Equal(t, results[0].GroupID, mg.Data[0].GroupID)

	results, err = svc.Commit(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_MatchingGroups(t *testing.T) {
	svc, db, repos := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	anna := testutil.CreateProfile(t, repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	carl := testutil.CreateProfile(t, repos.Profiles, "Carl", "carl@test.de", "Berlin", "7. Klasse", false)
	assert.Empty(t, svc.MatchingGroups(ctx, core.Session{}).Data)

	testutil.AddAvailability(t, repos.Availabilities, anna.ID, availability.Monday, "16:00 - 17:00")
	testutil.AddAvailability(t, repos.Availabilities, anna.ID, availability.Wednesday, "14:00 - 15:00")
	testutil.AddAvailability(t, repos.Availabilities, carl.ID, availability.Monday, "16:00 - 17:00")
	older := testutil.CreateGroup(t, repos.Matching, group.Group{
		Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{"monday 16:00 - 17:00"}, CreatedAt: now.Add(-2 * time.Hour),
	})
	newer := testutil.CreateGroup(t, repos.Matching, group.Group{
		Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{"monday 16:00 - 17:00", "wednesday 14:00 - 15:00"}, CreatedAt: now,
	})
	testutil.CreateGroup(t, repos.Matching, group.Group{
		Region: "Berlin", Grade: "8. Klasse", TimeSlots: []string{"monday 16:00 - 17:00"}, CreatedAt: now,
	})

	t.Run("most shared slots first", func(t *testing.T) {
		res := svc.MatchingGroups(ctx, anna.Session())
		require.Equal(t, core.ResultOK, res.Status)
		require.Len(t, res.Data, 2)
		assert.Equal(t, newer.ID, res.Data[0].GroupID)
		assert.Equal(t, older.ID, res.Data[1].GroupID)
	})

	t.Run("oldest first on ties", func(t *testing.T) {
		db.FailOn("OpenGroups", errors.New("boom"))
		res := svc.MatchingGroups(ctx, carl.Session())
		assert.True(t, res.IsDegraded())

		db.FailOn("OpenGroups", nil)
		res = svc.MatchingGroups(ctx, carl.Session())
		require.Equal(t, core.ResultOK, res.Status)
		require.Len(t, res.Data, 2)
		assert.Equal(t, older.ID, res.Data[0].GroupID)
		assert.Equal(t, newer.ID, res.Data[1].GroupID)
		assert.Equal(t, []string{"monday 16:00 - 17:00"}, res.Data[1].MatchingSlots)
	})
}
