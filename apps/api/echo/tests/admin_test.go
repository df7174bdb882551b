package tests

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

func Test_adminApi_permissions(t *testing.T) {
	env := setup(t)
	student := testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)
	token := getToken(t, env.app, student)

	endpoints := []httpTest{
		{method: http.MethodGet, path: "/v1/admin/stats"},
		{method: http.MethodGet, path: "/v1/admin/groups/pending"},
		{method: http.MethodGet, path: "/v1/admin/groups/active"},
		{method: http.MethodPost, path: "/v1/admin/groups/lol/activate"},
		{method: http.MethodPost, path: "/v1/admin/groups/lol/complete"},
		{method: http.MethodPost, path: "/v1/admin/groups/lol/notify"},
		{method: http.MethodGet, path: "/v1/admin/matching/compatible"},
		{method: http.MethodPost, path: "/v1/admin/matching/run"},
		{method: http.MethodGet, path: "/v1/admin/students"},
		{method: http.MethodGet, path: "/v1/admin/students/" + student.ID},
		{method: http.MethodDelete, path: "/v1/admin/students/" + student.ID},
	}
	for _, tt := range endpoints {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)

			req, rec = newAuthRequest(tt.method, tt.path, token)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
		})
	}
}

func Test_adminApi_lostDatabaseShutsDown(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateProfile(t, env.repos.Profiles, "Admin", "admin@test.de", "Berlin", "7. Klasse", true)
	token := getToken(t, env.app, admin)

	env.db.FailOn("CountStudents", core.NewShutdownError("counting students: database connection lost"))
	req, rec := newAuthRequest(http.MethodGet, "/v1/admin/stats", token)
	env.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	select {
	case <-env.app.ShutdownSignal():
	case <-time.After(time.Second):
		t.Fatal("no shutdown signal")
	}
}

func Test_adminApi_groupLifecycle(t *testing.T) {
	env := setup(t)
	profiles, avs := env.repos.Profiles, env.repos.Availabilities
	now := time.Now().UTC()

	admin := testutil.CreateProfile(t, profiles, "Admin", "admin@test.de", "Berlin", "7. Klasse", true)
	anna := testutil.CreateProfile(t, profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false, now.Add(-4*time.Hour))
	ben := testutil.CreateProfile(t, profiles, "Ben", "ben@test.de", "Berlin", "7. Klasse", false, now.Add(-3*time.Hour))
	carl := testutil.CreateProfile(t, profiles, "Carl", "carl@test.de", "Berlin", "7. Klasse", false, now.Add(-2*time.Hour))
	hanna := testutil.CreateProfile(t, profiles, "Hanna", "hanna@test.de", "Hamburg", "7. Klasse", false, now.Add(-1*time.Hour))
	for _, p := range []profile.Profile{anna, ben, carl, hanna} {
		testutil.AddAvailability(t, avs, p.ID, availability.Monday, "16:00 - 17:00")
	}
	token := getToken(t, env.app, admin)

	stats := func(t *testing.T, want group.Stats) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/stats", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, want)}, rec)
	}
	stats(t, group.Stats{TotalStudents: 4})

	t.Run("compatible groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/matching/compatible", token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var candidates []matching.Candidate
		decode(t, rec, &candidates)
		require.Len(t, candidates, 1)
		assert.Equal(t, []string{anna.ID, ben.ID, carl.ID}, candidates[0].StudentIDs())
		assert.Equal(t, []string{mon16}, candidates[0].CommonSlots)
	})

	var groupID string
	t.Run("run matching", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/matching/run", token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var results []matching.Result
		decode(t, rec, &results)
		require.Len(t, results, 1)
		assert.Equal(t, 3, results[0].StudentCount)
		groupID = results[0].GroupID

		// matched students are no longer compatible
		req, rec = newAuthRequest(http.MethodGet, "/v1/admin/matching/compatible", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallList(t)}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/matching/run", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallList(t)}, rec)
	})
	require.NotEmpty(t, groupID)
	stats(t, group.Stats{TotalStudents: 4, PendingGroups: 1})

	t.Run("pending groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/groups/pending", token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var pending []group.PendingGroup
		decode(t, rec, &pending)
		require.Len(t, pending, 1)
		assert.Equal(t, groupID, pending[0].GroupID)
		assert.Equal(t, 3, pending[0].StudentCount)
		require.Len(t, pending[0].Students, 3)
		names := make([]string, 0, 3)
		for _, s := range pending[0].Students {
			names = append(names, s.Name)
		}
		assert.ElementsMatch(t, []string{"Anna Test", "Ben Test", "Carl Test"}, names)
	})

	t.Run("activate", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/activate", token, marchallObj(t, group.ActivateGroup{}))
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"whatsapp_link": group.ErrChatLinkRequired.Error()}),
		}, rec)

		env.mailSvc.FailFor(carl.Email, errors.New("mailbox full"))
		body := marchallObj(t, group.ActivateGroup{ChatLink: "https://chat.whatsapp.com/xyz"})
		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/activate", token, body)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res group.ActivationResult
		decode(t, rec, &res)
		assert.Equal(t, group.StatusActive, res.Group.Status)
		assert.Equal(t, "https://chat.whatsapp.com/xyz", res.Group.ChatLink.String)
		assert.Equal(t, 2, res.EmailsSent)
		assert.Equal(t, 1, res.EmailsFailed)
		assert.Empty(t, res.Warning)

		sent := env.mailSvc.SentMessages()
		require.Len(t, sent, 2)
		assert.Contains(t, sent[0].TextContent, "https://chat.whatsapp.com/xyz")

		// activation happens once
		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/activate", token, body)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: group.ErrInvalidTransition.Error()}),
		}, rec)
	})
	stats(t, group.Stats{TotalStudents: 4, ActiveGroups: 1})

	t.Run("active groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/groups/active", token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var active []group.ActiveGroup
		decode(t, rec, &active)
		require.Len(t, active, 1)
		assert.Equal(t, "https://chat.whatsapp.com/xyz", active[0].ChatLink)
		assert.True(t, active[0].LinkSentAt.Valid)
	})

	t.Run("notify", func(t *testing.T) {
		env.mailSvc.Reset()
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/notify", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, notification.Report{EmailsSent: 3})}, rec)
		assert.Len(t, env.mailSvc.SentMessages(), 3)

		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/groups/lol/notify", token)
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("complete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/complete", token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var g group.Group
		decode(t, rec, &g)
		assert.Equal(t, group.StatusCompleted, g.Status)

		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/complete", token)
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)

		req, rec = newAuthRequest(http.MethodPost, "/v1/admin/groups/"+groupID+"/notify", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: notification.ErrGroupNotActive.Error()}),
		}, rec)
	})
	stats(t, group.Stats{TotalStudents: 4, CompletedGroups: 1})
}

func Test_adminApi_students(t *testing.T) {
	env := setup(t)
	profiles := env.repos.Profiles
	now := time.Now().UTC()

	admin := testutil.CreateProfile(t, profiles, "Admin", "admin@test.de", "Berlin", "7. Klasse", true)
	anna := testutil.CreateProfile(t, profiles, "Anna", "anna@test.de", "Berlin", "7. Klasse", false, now.Add(-3*time.Hour))
	ben := testutil.CreateProfile(t, profiles, "Ben", "ben@test.de", "Berlin", "8. Klasse", false, now.Add(-2*time.Hour))
	hanna := testutil.CreateProfile(t, profiles, "Hanna", "hanna@test.de", "Hamburg", "7. Klasse", false, now.Add(-1*time.Hour))
	annaSlot := testutil.AddAvailability(t, env.repos.Availabilities, anna.ID, availability.Monday, "16:00 - 17:00")
	g := testutil.CreateGroup(t, env.repos.Matching, group.Group{
		Region: "Berlin", Grade: "7. Klasse", TimeSlots: []string{mon16}, CreatedAt: now,
	}, anna.ID)
	token := getToken(t, env.app, admin)

	summary := func(p profile.Profile, status string, avCount int) group.StudentSummary {
		return group.StudentSummary{
			ID: p.ID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email, Region: p.Region, Grade: p.Grade,
			CreatedAt: p.CreatedAt, GroupStatus: status, AvailabilitiesCount: avCount,
		}
	}
	annaSum := summary(anna, string(group.StatusPending), 1)
	benSum := summary(ben, group.NotAssigned, 0)
	hannaSum := summary(hanna, group.NotAssigned, 0)

	tests := []httpTest{
		{name: "newest first, admins excluded", path: "/v1/admin/students", wantData: marchallList(t, hannaSum, benSum, annaSum)},
		{name: "filter by Bundesland", path: "/v1/admin/students?bundesland=Hamburg", wantData: marchallList(t, hannaSum)},
		{name: "filter by Klassenstufe", path: "/v1/admin/students?klassenstufe=8.%20Klasse", wantData: marchallList(t, benSum)},
		{name: "search", path: "/v1/admin/students?search=ANN", wantData: marchallList(t, hannaSum, annaSum)},
		{name: "ordering", path: "/v1/admin/students?ordering=first_name", wantData: marchallList(t, annaSum, benSum, hannaSum)},
		{name: "unknown ordering is ignored", path: "/v1/admin/students?ordering=-password", wantData: marchallList(t, hannaSum, benSum, annaSum)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.wantCode = http.StatusOK
			req, rec := newAuthRequest(http.MethodGet, tt.path, token)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("malformed filter", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/students", token, []byte(`{"bundesland": `))
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Empty(t, rec.Header().Get("X-Result-Status"))
	})

	t.Run("details", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/students/"+anna.ID, token)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var details group.StudentDetails
		decode(t, rec, &details)
		assert.Equal(t, anna.ID, details.ID)
		assert.Equal(t, string(group.StatusPending), details.GroupStatus)
		require.Len(t, details.Availabilities, 1)
		assert.Equal(t, annaSlot.ID, details.Availabilities[0].ID)
		require.Len(t, details.GroupMemberships, 1)
		assert.Equal(t, g.ID, details.GroupMemberships[0].Group.ID)

		req, rec = newAuthRequest(http.MethodGet, "/v1/admin/students/lol", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: profile.ErrNotFound.Error()})}, rec)
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/admin/students/"+admin.ID, token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: profile.ErrDeleteSelf.Error()})}, rec)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/admin/students/"+ben.ID, token)
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/admin/students/"+ben.ID, token)
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		// the cached listing was invalidated
		req, rec = newAuthRequest(http.MethodGet, "/v1/admin/students", token)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallList(t, hannaSum, annaSum)}, rec)
	})
}
