package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/gruppenschlau/gruppenschlau/apps/api/echo"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

func newProfileBody(email, region string) profile.NewProfile {
	return profile.NewProfile{
		FirstName:        "Anna",
		LastName:         "Schmidt",
		Email:            email,
		Region:           region,
		Grade:            "7. Klasse",
		SessionsPerMonth: 4,
		Password:         testutil.Password,
		PasswordConfirm:  testutil.Password,
	}
}

func Test_authApi_register(t *testing.T) {
	env := setup(t)
	testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)

	mismatch := newProfileBody("lena@test.de", "Berlin")
	mismatch.PasswordConfirm = "Other#Pwd9"
	weak := newProfileBody("lena@test.de", "Berlin")
	weak.Password, weak.PasswordConfirm = "password", "password"

	tests := []httpTest{
		{
			name: "invalid Bundesland", body: marchallObj(t, newProfileBody("lena@test.de", "Paris")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"bundesland": "invalid Bundesland"}),
		},
		{
			name: "email taken", body: marchallObj(t, newProfileBody("MAX@test.de", "Berlin")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": profile.ErrEmailExists.Error()}),
		},
		{name: "password mismatch", body: marchallObj(t, mismatch), wantCode: http.StatusBadRequest},
		{
			name: "weak password", body: marchallObj(t, weak),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"password": "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/auth/register", tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("registered", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/register", marchallObj(t, newProfileBody(" Lena@Test.de ", "Berlin")))
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp RegisterResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
		assert.NotEmpty(t, resp.Profile.ID)
		assert.Equal(t, "lena@test.de", resp.Profile.Email)
		assert.False(t, resp.Profile.IsAdmin)

		// the token authenticates the new profile
		req, rec = newAuthRequest(http.MethodGet, "/v1/profiles/me", resp.Token)
		env.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_authApi_login(t *testing.T) {
	env := setup(t)
	testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)

	invalidCreds := marchallObj(t, httpErr{Error: profile.ErrInvalidCredentials.Error()})

	tests := []httpTest{
		{name: "no data", body: marchallObj(t, LoginRequest{}), wantCode: http.StatusBadRequest},
		{
			name: "unknown email", body: marchallObj(t, LoginRequest{Email: "lol@test.de", Password: testutil.Password}),
			wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
		{
			name: "wrong password", body: marchallObj(t, LoginRequest{Email: "max@test.de", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/auth/login", tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("valid credentials", func(t *testing.T) {
		body := marchallObj(t, LoginRequest{Email: "MAX@test.de", Password: testutil.Password})
		req, rec := newRequest(http.MethodPost, "/v1/auth/login", body)
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
	})
}

func Test_authApi_refreshToken(t *testing.T) {
	env := setup(t)
	p := testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)

	req, rec := newRequest(http.MethodPost, "/v1/auth/token-refresh")
	env.app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)

	req, rec = newAuthRequest(http.MethodPost, "/v1/auth/token-refresh", getToken(t, env.app, p))
	env.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
}

func Test_profileApi_me(t *testing.T) {
	env := setup(t)
	p := testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)
	gone := testutil.CreateProfile(t, env.repos.Profiles, "Gone", "gone@test.de", "Berlin", "7. Klasse", false)
	goneToken := getToken(t, env.app, gone)
	require.NoError(t, env.repos.Profiles.DeleteProfilesByID(context.Background(), gone.ID))

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "invalid token", token: "lol", wantCode: http.StatusUnauthorized},
		{
			name: "deleted profile", token: goneToken,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
		{name: "own profile", token: getToken(t, env.app, p), wantCode: http.StatusOK, wantData: marchallObj(t, p)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/profiles/me", tt.token)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_profileApi_updateMe(t *testing.T) {
	env := setup(t)
	p := testutil.CreateProfile(t, env.repos.Profiles, "Max", "max@test.de", "Berlin", "7. Klasse", false)
	token := getToken(t, env.app, p)
	bTrue := true

	tests := []httpTest{
		{
			name: "students cannot grant themselves admin", body: marchallObj(t, profile.UpdateProfile{IsAdmin: &bTrue}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "invalid Klassenstufe", body: marchallObj(t, profile.UpdateProfile{Grade: "4. Klasse"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"klassenstufe": "invalid Klassenstufe"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPut, "/v1/profiles/me", token, tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("partial update keeps other fields", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/profiles/me", token, marchallObj(t, profile.UpdateProfile{FirstName: "Moritz"}))
		env.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got profile.Profile
		decode(t, rec, &got)
		assert.Equal(t, "Moritz", got.FirstName)
		assert.Equal(t, p.Email, got.Email)
		assert.Equal(t, p.Region, got.Region)
		assert.False(t, got.IsAdmin)
	})
}

func Test_server_home(t *testing.T) {
	env := setup(t)

	req, rec := newRequest(http.MethodGet, "/")
	env.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to GruppenSchlau API!", rec.Body.String())

	req, rec = newRequest(http.MethodGet, "/metrics")
	env.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
