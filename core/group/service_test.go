package group_test

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
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	cachesvc "github.com/gruppenschlau/gruppenschlau/services/cache"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	"github.com/gruppenschlau/gruppenschlau/storage"
	inmemdb "github.com/gruppenschlau/gruppenschlau/storage/database/inmem"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

const mon16 = "monday 16:00 - 17:00"

var admin = core.Session{UserID: "admin", IsAdmin: true}

type dispatcherMock struct {
	entryIDs []string
	report   notification.Report
	err      error
}

func (d *dispatcherMock) Dispatch(_ context.Context, entryID string) (notification.Report, error) {
	d.entryIDs = append(d.entryIDs, entryID)
	return d.report, d.err
}

type serviceEnv struct {
	svc        *group.Service
	db         *inmemdb.DB
	repos      *storage.Repositories
	dispatcher *dispatcherMock
}

func setup(t *testing.T) serviceEnv {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)
	db := inmemdb.NewDB()
	repos := storage.NewInmem(db)
	dispatcher := &dispatcherMock{report: notification.Report{EmailsSent: 1}}

	svc := group.NewService(group.ServiceDeps{
		Repo:           repos.Groups,
		Profiles:       repos.Profiles,
		Availabilities: repos.Availabilities,
		Dispatcher:     dispatcher,
		Cache:          core.NewReadCache(cachesvc.NewInmemCache(), time.Minute, logger, nil),
		Logger:         logger,
	})
	return serviceEnv{svc: svc, db: db, repos: repos, dispatcher: dispatcher}
}

func TestService_adminOnly(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	student := core.Session{UserID: "u1"}

	_, err := env.svc.Activate(ctx, student, "g1", "https://chat.whatsapp.com/xyz")
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.Complete(ctx, student, "g1")
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.Stats(ctx, student)
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.PendingWithStudents(ctx, student)
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.Active(ctx, student)
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.Students(ctx, student, profile.QueryFilter{})
	assert.Equal(t, core.ErrForbidden, err)
	_, err = env.svc.StudentDetails(ctx, student, "u1")
	assert.Equal(t, core.ErrForbidden, err)
}

func TestService_Activate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	g := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{mon16}}, p.ID)

	t.Run("unknown group", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, admin, "lol", "https://chat.whatsapp.com/xyz")
		assert.Equal(t, group.ErrNotFound, err)
	})

	t.Run("blank link", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, admin, g.ID, "   ")
		assert.True(t, core.IsValidationError(err))
		assert.Empty(t, env.dispatcher.entryIDs)
	})

	t.Run("notification failure keeps the group active", func(t *testing.T) {
		env.dispatcher.report = notification.Report{EmailsFailed: 1}
		env.dispatcher.err = notification.ErrAllFailed

		res, err := env.svc.Activate(ctx, admin, g.ID, " https://chat.whatsapp.com/xyz ")
		require.NoError(t, err)
		assert.Equal(t, group.StatusActive, res.Group.Status)
		assert.Equal(t, "https://chat.whatsapp.com/xyz", res.Group.ChatLink.String)
		assert.True(t, res.Group.LinkSentAt.Valid)
		assert.Equal(t, 1, res.EmailsFailed)
		assert.Contains(t, res.Warning, notification.ErrAllFailed.Error())
		require.Len(t, env.dispatcher.entryIDs, 1)

		// the entry stays in the outbox for retries
		entry, err := env.repos.Notifications.GetEntry(ctx, env.dispatcher.entryIDs[0])
		require.NoError(t, err)
		assert.Equal(t, g.ID, entry.GroupID)
		assert.False(t, entry.Delivered())
	})

	t.Run("activated once", func(t *testing.T) {
		_, err := env.svc.Activate(ctx, admin, g.ID, "https://chat.whatsapp.com/other")
		assert.Equal(t, group.ErrInvalidTransition, err)
	})
}

func TestService_Complete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	pending := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse"})
	active := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", Status: group.StatusActive})

	_, err := env.svc.Complete(ctx, admin, pending.ID)
	assert.Equal(t, group.ErrInvalidTransition, err)

	g, err := env.svc.Complete(ctx, admin, active.ID)
	require.NoError(t, err)
	assert.Equal(t, group.StatusCompleted, g.Status)

	_, err = env.svc.Complete(ctx, admin, active.ID)
	assert.Equal(t, group.ErrInvalidTransition, err)
}

func TestService_Join(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anna := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	testutil.AddAvailability(t, env.repos.Availabilities, anna.ID, availability.Monday, "16:00 - 17:00")
	g := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{mon16}})

	// warm the cached membership list
	res := env.svc.MyGroups(ctx, anna.Session())
	require.Equal(t, core.ResultOK, res.Status)
	assert.Empty(t, res.Data)

	m, err := env.svc.Join(ctx, anna.Session(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, m.GroupID)
	assert.Equal(t, anna.ID, m.UserID)

	res = env.svc.MyGroups(ctx, anna.Session())
	require.Len(t, res.Data, 1)
	assert.Equal(t, g.ID, res.Data[0].Group.ID)

	_, err = env.svc.Join(ctx, anna.Session(), g.ID)
	assert.Equal(t, group.ErrAlreadyMember, err)

	_, err = env.svc.Join(ctx, core.Session{}, g.ID)
	assert.Equal(t, core.ErrForbidden, err)
}

func TestService_cachedViewsFollowGroupWrites(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anna := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	ben := testutil.CreateProfile(t, env.repos.Profiles, "Ben", "ben@test.de", "Berlin", "7. Klasse", false)
	for _, p := range []profile.Profile{anna, ben} {
		testutil.AddAvailability(t, env.repos.Availabilities, p.ID, availability.Monday, "16:00 - 17:00")
	}
	g := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{mon16}}, anna.ID)

	statusOf := func(t *testing.T) map[string]string {
		t.Helper()
		res, err := env.svc.Students(ctx, admin, profile.QueryFilter{})
		require.NoError(t, err)
		require.Equal(t, core.ResultOK, res.Status)
		statuses := make(map[string]string)
		for _, st := range res.Data {
			statuses[st.ID] = st.GroupStatus
		}
		return statuses
	}
	memberCount := func(t *testing.T) int {
		t.Helper()
		res := env.svc.MyGroups(ctx, anna.Session())
		require.Equal(t, core.ResultOK, res.Status)
		require.Len(t, res.Data, 1)
		return res.Data[0].MemberCount
	}

	// warm the cached views
	assert.Equal(t, map[string]string{anna.ID: "pending", ben.ID: group.NotAssigned}, statusOf(t))
	assert.Equal(t, 1, memberCount(t))

	_, err := env.svc.Activate(ctx, admin, g.ID, "https://chat.whatsapp.com/xyz")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{anna.ID: "active", ben.ID: group.NotAssigned}, statusOf(t))

	_, err = env.svc.Join(ctx, ben.Session(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{anna.ID: "active", ben.ID: "active"}, statusOf(t))
	assert.Equal(t, 2, memberCount(t), "existing members see the new member")

	_, err = env.svc.Complete(ctx, admin, g.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{anna.ID: "completed", ben.ID: "completed"}, statusOf(t))
}

func TestService_Stats(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	testutil.CreateProfile(t, env.repos.Profiles, "Admin", "admin@test.de", "Berlin", "7. Klasse", true)
	testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse"})
	testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", Status: group.StatusCompleted})

	env.db.FailOn("CountStudents", errors.New("boom"))
	_, err := env.svc.Stats(ctx, admin)
	assert.Error(t, err)

	env.db.FailOn("CountStudents", nil)
	stats, err := env.svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, group.Stats{TotalStudents: 1, PendingGroups: 1, CompletedGroups: 1}, stats)
}

func TestService_Students(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anna := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)

	env.db.FailOn("MembershipStatuses", errors.New("boom"))
	res, err := env.svc.Students(ctx, admin, profile.QueryFilter{})
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	assert.Empty(t, res.Data)

	// degraded reads are not cached
	env.db.FailOn("MembershipStatuses", nil)
	res, err = env.svc.Students(ctx, admin, profile.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, core.ResultOK, res.Status)
	require.Len(t, res.Data, 1)
	assert.Equal(t, anna.ID, res.Data[0].ID)
	assert.Equal(t, group.NotAssigned, res.Data[0].GroupStatus)
}

func TestService_StudentDetails(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anna := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	testutil.AddAvailability(t, env.repos.Availabilities, anna.ID, availability.Friday, "08:00 - 09:00")
	testutil.AddAvailability(t, env.repos.Availabilities, anna.ID, availability.Monday, "16:00 - 17:00")
	g := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", Status: group.StatusActive}, anna.ID)

	_, err := env.svc.StudentDetails(ctx, admin, "lol")
	assert.Equal(t, profile.ErrNotFound, err)

	// memberships are best effort
	env.db.FailOn("UserGroups", errors.New("boom"))
	details, err := env.svc.StudentDetails(ctx, admin, anna.ID)
	require.NoError(t, err)
	assert.Empty(t, details.GroupMemberships)
	assert.Equal(t, group.NotAssigned, details.GroupStatus)

	env.db.FailOn("UserGroups", nil)
	details, err = env.svc.StudentDetails(ctx, admin, anna.ID)
	require.NoError(t, err)
	require.Len(t, details.GroupMemberships, 1)
	assert.Equal(t, g.ID, details.GroupMemberships[0].Group.ID)
	assert.Equal(t, "active", details.GroupStatus)
	require.Len(t, details.Availabilities, 2)
	assert.Equal(t, availability.Monday, details.Availabilities[0].Day)
}
