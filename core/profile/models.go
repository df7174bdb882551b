package profile

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/gruppenschlau/gruppenschlau/core"
)

var (
	// Regions are the German federal states (Bundesländer).
	Regions = []string{
		"Baden-Württemberg",
		"Bayern",
		"Berlin",
		"Brandenburg",
		"Bremen",
		"Hamburg",
		"Hessen",
		"Mecklenburg-Vorpommern",
		"Niedersachsen",
		"Nordrhein-Westfalen",
		"Rheinland-Pfalz",
		"Saarland",
		"Sachsen",
		"Sachsen-Anhalt",
		"Schleswig-Holstein",
		"Thüringen",
	}

	// Grades are the school grade levels (Klassenstufen).
	Grades = []string{
		"5. Klasse",
		"6. Klasse",
		"7. Klasse",
		"8. Klasse",
		"9. Klasse",
		"10. Klasse",
		"11. Klasse",
		"12. Klasse",
		"13. Klasse",
	}

	SessionsPerMonthChoices = []int{1, 2, 4, 8}

	DefaultSessionsPerMonth = 4
)

type Profile struct {
	ID               string    `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email"`
	Region           string    `json:"bundesland"`
	Grade            string    `json:"klassenstufe"`
	SessionsPerMonth int       `json:"sessions_per_month"`
	IsAdmin          bool      `json:"is_admin"`
	PasswordHash     []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
}

func (p Profile) FullName() string {
	return core.CleanString(p.FirstName + " " + p.LastName)
}

func (p *Profile) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

func (p *Profile) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(pwd))
}

// Session returns the acting identity of this profile.
func (p Profile) Session() core.Session {
	return core.Session{UserID: p.ID, IsAdmin: p.IsAdmin}
}

// NewProfile contains information needed to register a new Profile.
type NewProfile struct {
	FirstName        string `json:"first_name" validate:"required,max=100,personname"`
	LastName         string `json:"last_name" validate:"required,max=100,personname"`
	Email            string `json:"email" validate:"required,email,max=254"`
	Region           string `json:"bundesland" validate:"required,region"`
	Grade            string `json:"klassenstufe" validate:"required,grade"`
	SessionsPerMonth int    `json:"sessions_per_month" validate:"omitempty,sessions"`
	Password         string `json:"password" validate:"required"`
	PasswordConfirm  string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (np *NewProfile) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	np.FirstName = core.CleanString(np.FirstName)
	np.LastName = core.CleanString(np.LastName)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.Region = core.CleanString(np.Region)
	np.Grade = core.CleanString(np.Grade)
	if np.SessionsPerMonth == 0 {
		np.SessionsPerMonth = DefaultSessionsPerMonth
	}

	if err := validate.Struct(np); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, np.Email)
}

// UpdateProfile defines what information may be provided to modify an existing Profile.
type UpdateProfile struct {
	FirstName        string `json:"first_name" validate:"omitempty,max=100,personname"`
	LastName         string `json:"last_name" validate:"omitempty,max=100,personname"`
	Email            string `json:"email" validate:"omitempty,email,max=254"`
	Region           string `json:"bundesland" validate:"omitempty,region"`
	Grade            string `json:"klassenstufe" validate:"omitempty,grade"`
	SessionsPerMonth int    `json:"sessions_per_month" validate:"omitempty,sessions"`
	IsAdmin          *bool  `json:"is_admin"`
	Password         string `json:"password" validate:"omitempty"`
	PasswordConfirm  string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

// Validate fills blank fields from `orig` then validates the result.
func (up *UpdateProfile) Validate(ctx context.Context, orig Profile, validate *validator.Validate, svc *Service) error {
	fill := func(val *string, origVal string, lower bool) {
		if v := core.CleanString(*val, lower); v != "" {
			*val = v
		} else {
			*val = origVal
		}
	}
	fill(&up.FirstName, orig.FirstName, false)
	fill(&up.LastName, orig.LastName, false)
	fill(&up.Email, orig.Email, true)
	fill(&up.Region, orig.Region, false)
	fill(&up.Grade, orig.Grade, false)
	if up.SessionsPerMonth == 0 {
		up.SessionsPerMonth = orig.SessionsPerMonth
	}

	if err := validate.Struct(up); err != nil {
		return err
	}
	if up.Email != orig.Email {
		return svc.checkUniqueness(ctx, up.Email, orig.ID)
	}
	return nil
}

type QueryFilter struct {
	Search string `query:"search"`
	Region string `query:"bundesland"`
	Grade  string `query:"klassenstufe"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Region == "" && qf.Grade == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Region = core.CleanString(qf.Region)
	qf.Grade = core.CleanString(qf.Grade)
}
