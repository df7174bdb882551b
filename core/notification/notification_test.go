package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	emailsvc "github.com/gruppenschlau/gruppenschlau/services/email"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	"github.com/gruppenschlau/gruppenschlau/storage"
	inmemdb "github.com/gruppenschlau/gruppenschlau/storage/database/inmem"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

const link = "https://chat.whatsapp.com/xyz"

var admin = core.Session{UserID: "admin", IsAdmin: true}

type testEnv struct {
	conf       *core.Config
	logger     core.Logger
	repos      *storage.Repositories
	mailSvc    *emailsvc.ConsoleServiceMock
	dispatcher *notification.Dispatcher
	svc        *notification.Service
}

func setup(t *testing.T) testEnv {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)
	core.ParseEmailTemplates(conf, logger)

	repos := storage.NewInmem(inmemdb.NewDB())
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	dispatcher := notification.NewDispatcher(repos.Notifications, mailSvc, conf, logger, nil)
	return testEnv{
		conf:       conf,
		logger:     logger,
		repos:      repos,
		mailSvc:    mailSvc,
		dispatcher: dispatcher,
		svc:        notification.NewService(repos.Notifications, dispatcher),
	}
}

// groupWithMembers creates a group with Anna and Ben as members.
func (env testEnv) groupWithMembers(t *testing.T, status group.Status) group.Group {
	anna := testutil.CreateProfile(t, env.repos.Profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false)
	ben := testutil.CreateProfile(t, env.repos.Profiles, "Ben", "ben@test.de", "Berlin", "7. Klasse", false)
	return testutil.CreateGroup(t, env.repos.Matching, group.Group{
		Region:    "Berlin",
		Grade:     "7. Klasse",
		TimeSlots: []string{"monday 16:00 - 17:00", "friday 15:00 - 16:00"},
		Status:    status,
		ChatLink:  null.StringFrom(link),
	}, anna.ID, ben.ID)
}

func (env testEnv) newEntry(t *testing.T, groupID string) notification.Entry {
	entry, err := env.repos.Notifications.CreateEntry(context.Background(), notification.NewEntry(groupID, link, time.Now().UTC()))
	require.NoError(t, err)
	return entry
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("every member gets the link", func(t *testing.T) {
		env := setup(t)
		g := env.groupWithMembers(t, group.StatusActive)
		entry := env.newEntry(t, g.ID)

		report, err := env.dispatcher.Dispatch(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.Report{EmailsSent: 2}, report)

		sent := env.mailSvc.SentMessages()
		require.Len(t, sent, 2)
		for _, msg := range sent {
			assert.Contains(t, msg.Subject, "7. Klasse")
			assert.Contains(t, msg.TextContent, link)
			assert.Contains(t, msg.TextContent, "monday 16:00 - 17:00, friday 15:00 - 16:00")
			assert.Contains(t, msg.HTMLContent, link)
		}

		entry, err = env.repos.Notifications.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.True(t, entry.Delivered())
		assert.Equal(t, 1, entry.Attempts)
		assert.Equal(t, 2, entry.EmailsSent)
	})

	t.Run("partial delivery counts as delivered", func(t *testing.T) {
		env := setup(t)
		g := env.groupWithMembers(t, group.StatusActive)
		entry := env.newEntry(t, g.ID)
		env.mailSvc.FailFor("ben@test.de", errors.New("mailbox full"))

		report, err := env.dispatcher.Dispatch(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.Report{EmailsSent: 1, EmailsFailed: 1}, report)

		entry, err = env.repos.Notifications.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.True(t, entry.Delivered())
	})

	t.Run("nothing delivered", func(t *testing.T) {
		env := setup(t)
		g := env.groupWithMembers(t, group.StatusActive)
		entry := env.newEntry(t, g.ID)
		env.mailSvc.FailFor("anna@test.de", errors.New("mailbox full"))
		env.mailSvc.FailFor("ben@test.de", errors.New("mailbox full"))

		report, err := env.dispatcher.Dispatch(ctx, entry.ID)
		assert.Equal(t, notification.ErrAllFailed, err)
		assert.Equal(t, notification.Report{EmailsFailed: 2}, report)

		entry, err = env.repos.Notifications.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.False(t, entry.Delivered())
		assert.Equal(t, 1, entry.Attempts)
		assert.Equal(t, notification.ErrAllFailed.Error(), entry.LastError.String)
	})

	t.Run("no members", func(t *testing.T) {
		env := setup(t)
		g := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse", Status: group.StatusActive})
		entry := env.newEntry(t, g.ID)

		_, err := env.dispatcher.Dispatch(ctx, entry.ID)
		assert.Equal(t, notification.ErrNoRecipients, err)
	})

	t.Run("unknown entry", func(t *testing.T) {
		env := setup(t)
		_, err := env.dispatcher.Dispatch(ctx, "lol")
		assert.True(t, errors.Is(err, notification.ErrNotFound))
	})
}

func TestService_Notify(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	active := env.groupWithMembers(t, group.StatusActive)
	pending := testutil.CreateGroup(t, env.repos.Matching, group.Group{Region: "Berlin", Grade: "7. Klasse"})

	_, err := env.svc.Notify(ctx, core.Session{UserID: "u1"}, active.ID)
	assert.Equal(t, core.ErrForbidden, err)

	_, err = env.svc.Notify(ctx, admin, "lol")
	assert.Equal(t, notification.ErrNotFound, err)

	_, err = env.svc.Notify(ctx, admin, pending.ID)
	assert.Equal(t, notification.ErrGroupNotActive, err)

	// the first notification creates an outbox entry, later ones reuse it
	report, err := env.svc.Notify(ctx, admin, active.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.EmailsSent)
	first, err := env.repos.Notifications.LatestEntry(ctx, active.ID)
	require.NoError(t, err)

	_, err = env.svc.Notify(ctx, admin, active.ID)
	require.NoError(t, err)
	latest, err := env.repos.Notifications.LatestEntry(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, 2, latest.Attempts)
	assert.Len(t, env.mailSvc.SentMessages(), 4)
}

func TestService_Retry(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	g := env.groupWithMembers(t, group.StatusActive)
	entry := env.newEntry(t, g.ID)
	env.mailSvc.FailFor("anna@test.de", errors.New("mailbox full"))
	env.mailSvc.FailFor("ben@test.de", errors.New("mailbox full"))

	delivered, err := env.svc.Retry(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	env.mailSvc.Reset()
	delivered, err = env.svc.Retry(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	entry, err = env.repos.Notifications.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, entry.Delivered())
	assert.Equal(t, 2, entry.Attempts)

	delivered, err = env.svc.Retry(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestService_Retry_maxAttempts(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	g := env.groupWithMembers(t, group.StatusActive)
	env.newEntry(t, g.ID)
	env.mailSvc.FailFor("anna@test.de", errors.New("mailbox full"))
	env.mailSvc.FailFor("ben@test.de", errors.New("mailbox full"))

	for i := 0; i < 3; i++ {
		_, err := env.svc.Retry(ctx, 2)
		require.NoError(t, err)
	}
	entries, err := env.repos.Notifications.UndeliveredEntries(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts, "no attempt past the limit")
}

func TestWorker(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	g := env.groupWithMembers(t, group.StatusActive)
	entry := env.newEntry(t, g.ID)

	w := notification.NewWorker(env.svc, env.logger, 10*time.Millisecond, 3)
	w.Start()
	assert.Eventually(t, func() bool {
		e, err := env.repos.Notifications.GetEntry(ctx, entry.ID)
		return err == nil && e.Delivered()
	}, time.Second, 10*time.Millisecond)
	w.Stop()

	assert.Len(t, env.mailSvc.SentMessages(), 2)
}

func TestNewWorker_invalid(t *testing.T) {
	env := setup(t)
	assert.Panics(t, func() { notification.NewWorker(env.svc, env.logger, 0, 3) })
	assert.Panics(t, func() { notification.NewWorker(env.svc, env.logger, time.Second, 0) })
}
