package notification

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
)

type Service struct {
	repo       Repository
	dispatcher *Dispatcher
}

func NewService(repo Repository, dispatcher *Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: dispatcher}
}

// Notify re-sends the activation emails of an active group, without touching the group itself.
func (svc *Service) Notify(ctx context.Context, sess core.Session, groupID string) (Report, error) {
	if err := sess.RequireAdmin(); err != nil {
		return Report{}, err
	}

	info, err := svc.repo.GroupInfo(ctx, groupID)
	if err != nil {
		return Report{}, err
	}
	if !info.Active {
		return Report{}, ErrGroupNotActive
	}

	entry, err := svc.repo.LatestEntry(ctx, groupID)
	switch {
	case err == nil && entry.ChatLink == info.ChatLink:
	case err == nil || errors.Cause(err) == ErrNotFound:
		if entry, err = svc.repo.CreateEntry(ctx, NewEntry(groupID, info.ChatLink, core.NowFunc())); err != nil {
			return Report{}, errors.Wrap(err, "creating outbox entry")
		}
	default:
		return Report{}, errors.Wrap(err, "getting latest outbox entry")
	}

	return svc.dispatcher.Dispatch(ctx, entry.ID)
}

// Retry dispatches every undelivered entry below the attempt limit once.
// It returns the number of entries delivered by this run.
func (svc *Service) Retry(ctx context.Context, maxAttempts int) (int, error) {
	entries, err := svc.repo.UndeliveredEntries(ctx, maxAttempts)
	if err != nil {
		return 0, errors.Wrap(err, "querying undelivered entries")
	}
	var delivered int
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if _, err := svc.dispatcher.Dispatch(ctx, e.ID); err == nil {
			delivered++
		}
	}
	return delivered, nil
}
