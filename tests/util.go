package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

// Password satisfies the password policy for every fixture profile.
const Password = "Kx7#mQ2!vz"

// NewValidator returns a validator with every custom validation registered, and its translator.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	availability.InitValidators(validate, translator)
	return validate, translator
}

func CreateProfile(
	t *testing.T,
	repo profile.Repository,
	first, email, region, grade string,
	isAdmin bool,
	createdAt ...time.Time,
) profile.Profile {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p := profile.Profile{
		FirstName:        first,
		LastName:         "Test",
		Email:            email,
		Region:           region,
		Grade:            grade,
		SessionsPerMonth: profile.DefaultSessionsPerMonth,
		IsAdmin:          isAdmin,
		CreatedAt:        tstamp,
		UpdatedAt:        tstamp,
	}
	if err := p.SetPassword(Password); err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	p, err := repo.CreateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	return p
}

func AddAvailability(t *testing.T, repo availability.Repository, userID string, day availability.Day, slot string) availability.Availability {
	t.Helper()

	av, err := repo.Create(context.Background(), availability.Availability{
		UserID:    userID,
		Day:       day,
		TimeSlot:  slot,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddAvailability() failed: %v", err)
	}
	return av
}

// CreateGroup stores `g` with its members, all joined at g.CreatedAt.
func CreateGroup(t *testing.T, repo matching.Repository, g group.Group, memberIDs ...string) group.Group {
	t.Helper()

	if g.Status == "" {
		g.Status = group.StatusPending
	}
	if g.MaxMembers == 0 {
		g.MaxMembers = group.DefaultMaxMembers
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	groups, err := repo.CreateGroups(context.Background(), []matching.GroupWithMembers{{Group: g, MemberIDs: memberIDs}})
	if err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	return groups[0]
}
