package availability

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
)

var (
	// errors
	ErrNotFound  = errors.New("availability not found")
	ErrDuplicate = errors.New("this time slot is already selected")
)

type (
	Repository interface {
		// QueryByUser returns the availabilities of a user, in any order.
		QueryByUser(ctx context.Context, userID string) ([]Availability, error)
		GetByID(ctx context.Context, id string) (Availability, error)
		// Create returns ErrDuplicate if the user already declared the same day and slot.
		Create(ctx context.Context, av Availability) (Availability, error)
		Delete(ctx context.Context, id string) error
		// CountByUser returns the number of availabilities per user id.
		CountByUser(ctx context.Context) (map[string]int, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
		cache    *core.ReadCache
	}
)

func NewService(repo Repository, validate *validator.Validate, cache *core.ReadCache) *Service {
	return &Service{repo: repo, validate: validate, cache: cache}
}

// List returns the availabilities of `userID`, ordered by day then slot.
func (svc *Service) List(ctx context.Context, sess core.Session, userID string) ([]Availability, error) {
	if !sess.CanAccess(userID) {
		return nil, core.ErrForbidden
	}
	return core.CachedValue(ctx, svc.cache, core.KeyAvailabilities.For(userID), func(ctx context.Context) ([]Availability, error) {
		avs, err := svc.repo.QueryByUser(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "querying availabilities")
		}
		if avs == nil {
			avs = []Availability{}
		}
		Sort(avs)
		return avs, nil
	})
}

// Add declares a new weekly slot for the session's user.
func (svc *Service) Add(ctx context.Context, sess core.Session, na NewAvailability) (Availability, error) {
	if sess.UserID == "" {
		return Availability{}, core.ErrForbidden
	}
	if err := na.Validate(svc.validate); err != nil {
		return Availability{}, err
	}

	av, err := svc.repo.Create(ctx, Availability{
		UserID:    sess.UserID,
		Day:       Day(na.Day),
		TimeSlot:  na.TimeSlot,
		CreatedAt: core.NowFunc().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrDuplicate {
			return Availability{}, core.NewValidationError(err, core.FieldError{Field: "time_slot", Error: err.Error()})
		}
		return Availability{}, errors.Wrap(err, "creating availability")
	}

	svc.cache.Invalidate(ctx, core.MutationAvailabilityAdded, sess.UserID)
	return av, nil
}

// Remove deletes an availability owned by the session's user (any, for admins).
// Availabilities of other users are reported as not found.
func (svc *Service) Remove(ctx context.Context, sess core.Session, id string) error {
	av, err := svc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !sess.CanAccess(av.UserID) {
		return ErrNotFound
	}
	if err = svc.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "deleting availability")
	}

	svc.cache.Invalidate(ctx, core.MutationAvailabilityRemove, av.UserID)
	return nil
}
