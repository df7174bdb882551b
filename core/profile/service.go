package profile

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
)

var (
	// errors
	ErrNotFound           = errors.New("profile not found")
	ErrEmailExists        = errors.New("a profile with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDeleteSelf         = errors.New("you cannot delete your own profile")
)

type (
	Repository interface {
		// CheckEmailUniqueness returns ErrEmailExists if a profile other than excludedIDs uses `email`.
		CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error
		CreateProfile(ctx context.Context, p Profile) (Profile, error)
		GetProfileByID(ctx context.Context, id string) (Profile, error)
		GetProfileByEmail(ctx context.Context, email string) (Profile, error)
		// QueryProfiles applies AND on the set QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on first name, last name or email.
		QueryProfiles(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Profile, error)
		UpdateProfile(ctx context.Context, p Profile) (Profile, error)
		// DeleteProfilesByID deletes profiles with their availabilities and memberships.
		DeleteProfilesByID(ctx context.Context, ids ...string) error
		// CountStudents counts non-admin profiles.
		CountStudents(ctx context.Context) (int, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
		cache    *core.ReadCache
		logger   core.Logger
	}
)

// OrderingFields are the fields QueryProfiles may be ordered by.
var OrderingFields = []string{"first_name", "last_name", "email", "bundesland", "klassenstufe", "created_at"}

func NewService(repo Repository, validate *validator.Validate, cache *core.ReadCache, logger core.Logger) *Service {
	return &Service{repo: repo, validate: validate, cache: cache, logger: logger}
}

func (svc *Service) checkUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, excludedIDs...); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Register creates a non-admin profile.
func (svc *Service) Register(ctx context.Context, np NewProfile) (Profile, error) {
	if err := np.Validate(ctx, svc.validate, svc); err != nil {
		return Profile{}, err
	}

	now := core.NowFunc()
	p := Profile{
		FirstName:        np.FirstName,
		LastName:         np.LastName,
		Email:            np.Email,
		Region:           np.Region,
		Grade:            np.Grade,
		SessionsPerMonth: np.SessionsPerMonth,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.SetPassword(np.Password); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}
	p, err := svc.repo.CreateProfile(ctx, p)
	if err != nil {
		return Profile{}, errors.Wrap(err, "creating profile")
	}

	svc.cache.Invalidate(ctx, core.MutationProfileRegistered, p.ID)
	return p, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return svc.repo.GetProfileByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (Profile, error) {
	return svc.repo.GetProfileByEmail(ctx, core.CleanString(email, true /* lower */))
}

// Authenticate returns the profile matching the credentials, or ErrInvalidCredentials.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (Profile, error) {
	p, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Profile{}, ErrInvalidCredentials
		}
		return Profile{}, errors.Wrap(err, "finding profile by email")
	}
	if err = p.CheckPassword(pwd); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	return p, nil
}

// Get returns the profile `id` as seen by `sess`: owners and admins only.
func (svc *Service) Get(ctx context.Context, sess core.Session, id string) (Profile, error) {
	if !sess.CanAccess(id) {
		return Profile{}, core.ErrForbidden
	}
	return svc.repo.GetProfileByID(ctx, id)
}

// Update modifies profile `id`. Owners may update themselves, admins anyone; only admins may set IsAdmin.
func (svc *Service) Update(ctx context.Context, sess core.Session, id string, up UpdateProfile) (Profile, error) {
	if !sess.CanAccess(id) {
		return Profile{}, core.ErrForbidden
	}
	if up.IsAdmin != nil && !sess.IsAdmin {
		return Profile{}, core.ErrForbidden
	}

	orig, err := svc.repo.GetProfileByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if err = up.Validate(ctx, orig, svc.validate, svc); err != nil {
		return Profile{}, err
	}

	p := orig
	p.FirstName = up.FirstName
	p.LastName = up.LastName
	p.Email = up.Email
	p.Region = up.Region
	p.Grade = up.Grade
	p.SessionsPerMonth = up.SessionsPerMonth
	p.UpdatedAt = core.NowFunc()
	if up.IsAdmin != nil {
		p.IsAdmin = *up.IsAdmin
	}
	if up.Password != "" {
		if err = p.SetPassword(up.Password); err != nil {
			return Profile{}, errors.Wrap(err, "hashing password")
		}
	}

	if p, err = svc.repo.UpdateProfile(ctx, p); err != nil {
		return Profile{}, errors.Wrap(err, "updating profile")
	}

	svc.cache.Invalidate(ctx, core.MutationProfileUpdated, p.ID)
	return p, nil
}

// SetPassword replaces the password of profile `id` after checking the policy.
func (svc *Service) SetPassword(ctx context.Context, sess core.Session, id, pwd string) error {
	if !sess.CanAccess(id) {
		return core.ErrForbidden
	}
	p, err := svc.repo.GetProfileByID(ctx, id)
	if err != nil {
		return err
	}
	if err = CheckPasswordPolicy(pwd, p); err != nil {
		return err
	}
	if err = p.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	p.UpdatedAt = core.NowFunc()
	if _, err = svc.repo.UpdateProfile(ctx, p); err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return nil
}

// Delete removes profiles with their availabilities and memberships. Admin only; never self.
func (svc *Service) Delete(ctx context.Context, sess core.Session, ids ...string) error {
	if err := sess.RequireAdmin(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if core.ContainsString(ids, sess.UserID) {
		return core.NewValidationError(ErrDeleteSelf)
	}
	if err := svc.repo.DeleteProfilesByID(ctx, ids...); err != nil {
		return errors.Wrap(err, "deleting profiles")
	}

	svc.cache.Invalidate(ctx, core.MutationProfileDeleted, ids...)
	return nil
}

// CohortIDs returns the ids of the profiles of a Bundesland and Klassenstufe.
func CohortIDs(ctx context.Context, repo Repository, region, grade string) ([]string, error) {
	ps, err := repo.QueryProfiles(ctx, QueryFilter{Region: region, Grade: grade})
	if err != nil {
		return nil, errors.Wrap(err, "querying cohort")
	}
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// IsAdmin reports whether `userID` has the admin role. Lookup failures count as "not admin".
func (svc *Service) IsAdmin(ctx context.Context, userID string) bool {
	p, err := svc.repo.GetProfileByID(ctx, userID)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			svc.logger.Error("checking admin role", errors.Wrap(err, userID))
		}
		return false
	}
	return p.IsAdmin
}
