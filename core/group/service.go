package group

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

var (
	// errors
	ErrNotFound          = errors.New("group not found")
	ErrInvalidTransition = errors.New("invalid group status transition")
	ErrChatLinkRequired  = errors.New("a chat link is required to activate a group")
	ErrNotOpen           = errors.New("group is not open for new members")
	ErrNoAvailability    = errors.New("you have no availability yet")
	ErrCohortMismatch    = errors.New("group is for another Bundesland or Klassenstufe")
	ErrNoSharedSlot      = errors.New("none of your time slots matches this group")
	ErrAlreadyMember     = errors.New("you are already a member of this group")
	ErrGroupFull         = errors.New("group is full")

	errIncompleteDetails = errors.New("incomplete student details")
)

type (
	Repository interface {
		GetGroupByID(ctx context.Context, id string) (Group, error)
		QueryGroups(ctx context.Context, filter QueryFilter) ([]Group, error)
		CountGroupsByStatus(ctx context.Context, status Status) (int, error)
		GroupMembers(ctx context.Context, groupID string) ([]Member, error)
		// PendingGroupsWithStudents lists pending groups with their members, oldest first.
		PendingGroupsWithStudents(ctx context.Context) ([]PendingGroup, error)
		// ActiveGroups lists active groups with their member count, most recent first.
		ActiveGroups(ctx context.Context) ([]ActiveGroup, error)
		// UserGroups lists the memberships of a user with their groups, most recent first.
		UserGroups(ctx context.Context, userID string) ([]UserGroup, error)
		// MembershipStatuses returns the statuses of the groups of every user having a membership.
		MembershipStatuses(ctx context.Context) (map[string][]Status, error)
		// ActivateGroup stores `g` (status, link, link_sent_at) and `entry` in one write,
		// provided the stored group is still pending. Otherwise it returns ErrInvalidTransition.
		ActivateGroup(ctx context.Context, g Group, entry notification.Entry) (Group, notification.Entry, error)
		// TransitionGroup changes the status of a group from `from` to `to`, or returns ErrInvalidTransition.
		TransitionGroup(ctx context.Context, id string, from, to Status, at time.Time) (Group, error)
		// AddMember inserts a membership unless the user already is a member (ErrAlreadyMember)
		// or the group is at capacity (ErrGroupFull). Both checks and the insert are atomic.
		AddMember(ctx context.Context, m Membership) (Membership, error)
	}

	// Dispatcher delivers the notification of an outbox entry.
	Dispatcher interface {
		Dispatch(ctx context.Context, entryID string) (notification.Report, error)
	}

	ServiceDeps struct {
		Repo           Repository
		Profiles       profile.Repository
		Availabilities availability.Repository
		Dispatcher     Dispatcher
		Cache          *core.ReadCache
		Logger         core.Logger
		Metrics        core.Metrics
	}

	Service struct {
		repo           Repository
		profiles       profile.Repository
		availabilities availability.Repository
		dispatcher     Dispatcher
		cache          *core.ReadCache
		logger         core.Logger
		metrics        core.Metrics
	}
)

func NewService(deps ServiceDeps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = core.NopMetrics
	}
	return &Service{
		repo:           deps.Repo,
		profiles:       deps.Profiles,
		availabilities: deps.Availabilities,
		dispatcher:     deps.Dispatcher,
		cache:          deps.Cache,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
	}
}

// Get returns group `id` as `sess` may see it.
func (svc *Service) Get(ctx context.Context, sess core.Session, id string) (Group, error) {
	g, err := svc.repo.GetGroupByID(ctx, id)
	if err != nil {
		return Group{}, err
	}
	return g.ForViewer(sess), nil
}

// Activate moves a pending group to active with chat link `link`, and notifies its members.
// A failed notification does not undo the activation; it is reported as ActivationResult.Warning.
func (svc *Service) Activate(ctx context.Context, sess core.Session, id, link string) (ActivationResult, error) {
	if err := sess.RequireAdmin(); err != nil {
		return ActivationResult{}, err
	}
	link = core.CleanString(link)
	if link == "" {
		return ActivationResult{}, core.NewValidationError(
			ErrChatLinkRequired,
			core.FieldError{Field: "whatsapp_link", Error: ErrChatLinkRequired.Error()},
		)
	}

	g, err := svc.repo.GetGroupByID(ctx, id)
	if err != nil {
		return ActivationResult{}, err
	}
	if !g.Status.CanTransitionTo(StatusActive) {
		return ActivationResult{}, ErrInvalidTransition
	}

	now := core.NowFunc()
	from := g.Status
	g.Status = StatusActive
	g.ChatLink = null.StringFrom(link)
	g.LinkSentAt = null.TimeFrom(now)
	g.UpdatedAt = now

	g, entry, err := svc.repo.ActivateGroup(ctx, g, notification.NewEntry(g.ID, link, now))
	if err != nil {
		return ActivationResult{}, errors.Wrap(err, "activating group")
	}
	svc.metrics.GroupTransition(string(from), string(StatusActive))
	svc.invalidateForGroup(ctx, core.MutationGroupActivated, g)

	res := ActivationResult{Group: g}
	report, err := svc.dispatcher.Dispatch(ctx, entry.ID)
	res.EmailsSent, res.EmailsFailed = report.EmailsSent, report.EmailsFailed
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("group %s activated but notification failed", g.ID), err, sess)
		res.Warning = fmt.Sprintf("group activated, but members could not be notified: %v", errors.Cause(err))
	}
	return res, nil
}

// Complete moves an active group to completed.
func (svc *Service) Complete(ctx context.Context, sess core.Session, id string) (Group, error) {
	if err := sess.RequireAdmin(); err != nil {
		return Group{}, err
	}
	g, err := svc.repo.GetGroupByID(ctx, id)
	if err != nil {
		return Group{}, err
	}
	if !g.Status.CanTransitionTo(StatusCompleted) {
		return Group{}, ErrInvalidTransition
	}

	if g, err = svc.repo.TransitionGroup(ctx, id, g.Status, StatusCompleted, core.NowFunc()); err != nil {
		return Group{}, errors.Wrap(err, "completing group")
	}
	svc.metrics.GroupTransition(string(StatusActive), string(StatusCompleted))
	svc.invalidateForGroup(ctx, core.MutationGroupCompleted, g)
	return g, nil
}

// invalidateForGroup drops the views of `m`, including the per-user views of every group member
// and of every student of the group's cohort.
func (svc *Service) invalidateForGroup(ctx context.Context, m core.Mutation, g Group) {
	members, err := svc.repo.GroupMembers(ctx, g.ID)
	if err != nil {
		svc.logger.Error("listing group members for cache invalidation", errors.Wrap(err, g.ID))
	}
	cohort, err := profile.CohortIDs(ctx, svc.profiles, g.Region, g.Grade)
	if err != nil {
		svc.logger.Error("listing cohort for cache invalidation", errors.Wrap(err, g.ID))
	}

	ids := make([]string, 0, len(members)+len(cohort))
	seen := make(map[string]bool, cap(ids))
	for _, mem := range members {
		if !seen[mem.ID] {
			seen[mem.ID] = true
			ids = append(ids, mem.ID)
		}
	}
	for _, id := range cohort {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	svc.cache.Invalidate(ctx, m, ids...)
}

// Join adds the session's user to group `id`.
// The group must be open and below capacity, for the user's Bundesland and Klassenstufe,
// and share at least one time slot with the user's availabilities.
func (svc *Service) Join(ctx context.Context, sess core.Session, id string) (Membership, error) {
	if sess.UserID == "" {
		return Membership{}, core.ErrForbidden
	}

	g, err := svc.repo.GetGroupByID(ctx, id)
	if err != nil {
		return Membership{}, err
	}
	if !g.Status.IsOpen() {
		return Membership{}, ErrNotOpen
	}

	student, err := svc.profiles.GetProfileByID(ctx, sess.UserID)
	if err != nil {
		return Membership{}, errors.Wrap(err, "getting profile")
	}
	avs, err := svc.availabilities.QueryByUser(ctx, sess.UserID)
	if err != nil {
		return Membership{}, errors.Wrap(err, "querying availabilities")
	}
	if len(avs) == 0 {
		return Membership{}, core.NewValidationError(ErrNoAvailability)
	}
	if student.Region != g.Region || student.Grade != g.Grade {
		return Membership{}, core.NewValidationError(ErrCohortMismatch)
	}
	if len(g.SharedSlots(availability.Labels(avs))) == 0 {
		return Membership{}, core.NewValidationError(ErrNoSharedSlot)
	}

	m, err := svc.repo.AddMember(ctx, Membership{GroupID: g.ID, UserID: sess.UserID, JoinedAt: core.NowFunc()})
	if err != nil {
		return Membership{}, err
	}

	svc.invalidateForGroup(ctx, core.MutationMemberJoined, g)
	return m, nil
}

// MyGroups lists the session user's memberships. Store failures degrade to an empty result.
func (svc *Service) MyGroups(ctx context.Context, sess core.Session) core.ReadResult[UserGroup] {
	if sess.UserID == "" {
		return core.OK[UserGroup](nil)
	}
	res := core.CachedRead(ctx, svc.cache, core.KeyUserGroups.For(sess.UserID), 1, func(ctx context.Context) ([]UserGroup, error) {
		return svc.repo.UserGroups(ctx, sess.UserID)
	})
	for i := range res.Data {
		res.Data[i].Group = res.Data[i].Group.ForViewer(sess)
	}
	return res
}

// PendingWithStudents lists pending groups with their members. Admin only.
func (svc *Service) PendingWithStudents(ctx context.Context, sess core.Session) ([]PendingGroup, error) {
	if err := sess.RequireAdmin(); err != nil {
		return nil, err
	}
	return core.CachedValue(ctx, svc.cache, core.KeyPendingGroups.Name, func(ctx context.Context) ([]PendingGroup, error) {
		groups, err := svc.repo.PendingGroupsWithStudents(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "querying pending groups")
		}
		if groups == nil {
			groups = []PendingGroup{}
		}
		return groups, nil
	})
}

// Active lists active groups with their chat links. Admin only.
func (svc *Service) Active(ctx context.Context, sess core.Session) ([]ActiveGroup, error) {
	if err := sess.RequireAdmin(); err != nil {
		return nil, err
	}
	return core.CachedValue(ctx, svc.cache, core.KeyActiveGroups.Name, func(ctx context.Context) ([]ActiveGroup, error) {
		groups, err := svc.repo.ActiveGroups(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "querying active groups")
		}
		if groups == nil {
			groups = []ActiveGroup{}
		}
		return groups, nil
	})
}

// Stats counts students and groups per status. The four counts run concurrently
// and are not guaranteed to come from the same snapshot.
func (svc *Service) Stats(ctx context.Context, sess core.Session) (Stats, error) {
	if err := sess.RequireAdmin(); err != nil {
		return Stats{}, err
	}
	return core.CachedValue(ctx, svc.cache, core.KeyAdminStats.Name, svc.countStats)
}

func (svc *Service) countStats(ctx context.Context) (Stats, error) {
	var stats Stats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := svc.profiles.CountStudents(gctx)
		stats.TotalStudents = n
		return errors.Wrap(err, "counting students")
	})
	counts := []struct {
		status Status
		dest   *int
	}{
		{StatusPending, &stats.PendingGroups},
		{StatusActive, &stats.ActiveGroups},
		{StatusCompleted, &stats.CompletedGroups},
	}
	for _, c := range counts {
		c := c
		g.Go(func() error {
			n, err := svc.repo.CountGroupsByStatus(gctx, c.status)
			*c.dest = n
			return errors.Wrapf(err, "counting %s groups", c.status)
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Students lists non-admin profiles with their assignment status and availability count. Admin only.
// Store failures degrade to an empty result; the unfiltered listing is cached.
func (svc *Service) Students(ctx context.Context, sess core.Session, filter profile.QueryFilter, ordering ...core.DBOrdering) (core.ReadResult[StudentSummary], error) {
	if err := sess.RequireAdmin(); err != nil {
		return core.ReadResult[StudentSummary]{}, err
	}
	filter.Clean()
	ordering = core.FilterOrderings(ordering, profile.OrderingFields...)

	load := func(ctx context.Context) ([]StudentSummary, error) {
		return svc.loadStudents(ctx, filter, ordering)
	}
	if filter.IsEmpty() && len(ordering) == 0 {
		return core.CachedRead(ctx, svc.cache, core.KeyAllStudents.Name, 0, load), nil
	}
	return core.CachedRead(ctx, nil, "", 0, load), nil
}

func (svc *Service) loadStudents(ctx context.Context, filter profile.QueryFilter, ordering []core.DBOrdering) ([]StudentSummary, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}

	var (
		profiles []profile.Profile
		statuses map[string][]Status
		avCounts map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		profiles, err = svc.profiles.QueryProfiles(gctx, filter, ordering...)
		return errors.Wrap(err, "querying profiles")
	})
	g.Go(func() (err error) {
		statuses, err = svc.repo.MembershipStatuses(gctx)
		return errors.Wrap(err, "querying membership statuses")
	})
	g.Go(func() (err error) {
		avCounts, err = svc.availabilities.CountByUser(gctx)
		return errors.Wrap(err, "counting availabilities")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	students := make([]StudentSummary, 0, len(profiles))
	for _, p := range profiles {
		if p.IsAdmin {
			continue
		}
		students = append(students, StudentSummary{
			ID:                  p.ID,
			FirstName:           p.FirstName,
			LastName:            p.LastName,
			Email:               p.Email,
			Region:              p.Region,
			Grade:               p.Grade,
			CreatedAt:           p.CreatedAt,
			GroupStatus:         AssignmentStatus(statuses[p.ID]),
			AvailabilitiesCount: avCounts[p.ID],
		})
	}
	return students, nil
}

// StudentDetails returns a student's profile, availabilities and memberships. Admin only.
func (svc *Service) StudentDetails(ctx context.Context, sess core.Session, userID string) (StudentDetails, error) {
	if err := sess.RequireAdmin(); err != nil {
		return StudentDetails{}, err
	}
	var partial *StudentDetails
	details, err := core.CachedValue(ctx, svc.cache, core.KeyStudentDetails.For(userID), func(ctx context.Context) (StudentDetails, error) {
		p, err := svc.profiles.GetProfileByID(ctx, userID)
		if err != nil {
			return StudentDetails{}, err
		}

		details := StudentDetails{Profile: p, Availabilities: []availability.Availability{}, GroupMemberships: []UserGroup{}}
		// availabilities and memberships are best effort; incomplete details are not cached
		var incomplete bool
		if avs, err := svc.availabilities.QueryByUser(ctx, userID); err != nil {
			svc.logger.Error("querying student availabilities", errors.Wrap(err, userID))
			incomplete = true
		} else if avs != nil {
			availability.Sort(avs)
			details.Availabilities = avs
		}
		if ugs, err := svc.repo.UserGroups(ctx, userID); err != nil {
			svc.logger.Error("querying student groups", errors.Wrap(err, userID))
			incomplete = true
		} else if ugs != nil {
			details.GroupMemberships = ugs
		}

		statuses := make([]Status, 0, len(details.GroupMemberships))
		for _, ug := range details.GroupMemberships {
			statuses = append(statuses, ug.Group.Status)
		}
		details.GroupStatus = AssignmentStatus(statuses)
		if incomplete {
			partial = &details
			return StudentDetails{}, errIncompleteDetails
		}
		return details, nil
	})
	if err == errIncompleteDetails {
		return *partial, nil
	}
	return details, err
}

// SortPendingGroups orders pending groups oldest first; repositories may use it.
func SortPendingGroups(groups []PendingGroup) {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.Before(groups[j].CreatedAt) })
}
