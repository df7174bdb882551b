package matching

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

var (
	// errors
	ErrStudentAssigned = errors.New("student is already assigned to an open group")
)

type (
	// GroupWithMembers is a group with the ids of its members.
	GroupWithMembers struct {
		Group     group.Group
		MemberIDs []string
	}

	Repository interface {
		// Pool returns the non-admin students having at least one availability
		// and no pending or active membership.
		Pool(ctx context.Context) (Pool, error)
		// OpenGroups returns the pending and active groups of a cohort with their members.
		OpenGroups(ctx context.Context, region, grade string) ([]GroupWithMembers, error)
		// CreateGroups stores the groups and their memberships in one write.
		// It returns ErrStudentAssigned, and stores nothing, if a member joined an open group meanwhile.
		CreateGroups(ctx context.Context, groups []GroupWithMembers) ([]group.Group, error)
	}

	// Result describes a group created by Commit.
	Result struct {
		GroupID      string   `json:"created_group_id"`
		Region       string   `json:"bundesland"`
		Grade        string   `json:"klassenstufe"`
		StudentCount int      `json:"student_count"`
		CommonSlots  []string `json:"common_slots"`
	}

	// MatchingGroup is an open group a student could join.
	MatchingGroup struct {
		GroupID        string       `json:"group_id"`
		Region         string       `json:"bundesland"`
		Grade          string       `json:"klassenstufe"`
		Status         group.Status `json:"status"`
		TimeSlots      []string     `json:"time_slots"`
		MatchingSlots  []string     `json:"matching_slots"`
		CurrentMembers int          `json:"current_members"`
		MaxMembers     int          `json:"max_members"`
	}

	ServiceDeps struct {
		Repo           Repository
		Profiles       profile.Repository
		Availabilities availability.Repository
		Engine         Engine
		Cache          *core.ReadCache
		Logger         core.Logger
	}

	Service struct {
		repo           Repository
		profiles       profile.Repository
		availabilities availability.Repository
		engine         Engine
		cache          *core.ReadCache
		logger         core.Logger
	}
)

func NewService(deps ServiceDeps) *Service {
	if deps.Engine.MaxGroupSize <= 0 || deps.Engine.MaxGroupSize > group.DefaultMaxMembers {
		deps.Engine.MaxGroupSize = group.DefaultMaxMembers
	}
	return &Service{
		repo:           deps.Repo,
		profiles:       deps.Profiles,
		availabilities: deps.Availabilities,
		engine:         deps.Engine,
		cache:          deps.Cache,
		logger:         deps.Logger,
	}
}

// Discover lists the groups automatic matching would create, without creating them. Admin only.
// Any failure degrades to an empty result.
func (svc *Service) Discover(ctx context.Context, sess core.Session) (core.ReadResult[Candidate], error) {
	if err := sess.RequireAdmin(); err != nil {
		return core.ReadResult[Candidate]{}, err
	}
	return core.CachedRead(ctx, svc.cache, core.KeyCompatibleGroups.Name, 0, func(ctx context.Context) ([]Candidate, error) {
		pool, err := svc.repo.Pool(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading matching pool")
		}
		return svc.engine.Match(pool), nil
	}), nil
}

// Commit creates a pending group for every candidate, with its members. Admin only.
// Creating no group is not an error.
func (svc *Service) Commit(ctx context.Context, sess core.Session) ([]Result, error) {
	if err := sess.RequireAdmin(); err != nil {
		return nil, err
	}

	pool, err := svc.repo.Pool(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading matching pool")
	}
	candidates := svc.engine.Match(pool)
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	now := core.NowFunc()
	toCreate := make([]GroupWithMembers, 0, len(candidates))
	assigned := make([]string, 0)
	for _, c := range candidates {
		toCreate = append(toCreate, GroupWithMembers{
			Group: group.Group{
				Region:     c.Region,
				Grade:      c.Grade,
				TimeSlots:  c.CommonSlots,
				Status:     group.StatusPending,
				MaxMembers: group.DefaultMaxMembers,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			MemberIDs: c.StudentIDs(),
		})
		assigned = append(assigned, c.StudentIDs()...)
	}

	groups, err := svc.repo.CreateGroups(ctx, toCreate)
	if err != nil {
		return nil, errors.Wrap(err, "creating groups")
	}

	results := make([]Result, 0, len(groups))
	for i, g := range groups {
		results = append(results, Result{
			GroupID:      g.ID,
			Region:       g.Region,
			Grade:        g.Grade,
			StudentCount: len(toCreate[i].MemberIDs),
			CommonSlots:  g.TimeSlots,
		})
	}

	svc.cache.Invalidate(ctx, core.MutationMatchingCommitted, svc.affectedIDs(ctx, groups, assigned)...)
	return results, nil
}

// affectedIDs are the assigned students plus every student of the cohorts that got a new group.
func (svc *Service) affectedIDs(ctx context.Context, groups []group.Group, assigned []string) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0, len(assigned))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range assigned {
		add(id)
	}

	cohorts := make(map[[2]string]bool)
	for _, g := range groups {
		key := [2]string{g.Region, g.Grade}
		if cohorts[key] {
			continue
		}
		cohorts[key] = true
		cohort, err := profile.CohortIDs(ctx, svc.profiles, g.Region, g.Grade)
		if err != nil {
			svc.logger.Error("listing cohort for cache invalidation", err)
			continue
		}
		for _, id := range cohort {
			add(id)
		}
	}
	return ids
}

// MatchingGroups lists the open groups the session's user could join, best matches first.
// Failures degrade to an empty result and are not retried.
func (svc *Service) MatchingGroups(ctx context.Context, sess core.Session) core.ReadResult[MatchingGroup] {
	if sess.UserID == "" {
		return core.OK[MatchingGroup](nil)
	}
	return core.CachedRead(ctx, svc.cache, core.KeyMatchingGroups.For(sess.UserID), 0, func(ctx context.Context) ([]MatchingGroup, error) {
		return svc.findMatchingGroups(ctx, sess.UserID)
	})
}

func (svc *Service) findMatchingGroups(ctx context.Context, userID string) ([]MatchingGroup, error) {
	student, err := svc.profiles.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "getting profile")
	}
	avs, err := svc.availabilities.QueryByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying availabilities")
	}
	if len(avs) == 0 {
		return []MatchingGroup{}, nil
	}
	labels := availability.Labels(avs)

	open, err := svc.repo.OpenGroups(ctx, student.Region, student.Grade)
	if err != nil {
		return nil, errors.Wrap(err, "querying open groups")
	}

	type ranked struct {
		mg      MatchingGroup
		created int64
	}
	matches := make([]ranked, 0, len(open))
	for _, gm := range open {
		g := gm.Group
		if !g.Status.IsOpen() || len(gm.MemberIDs) >= g.MaxMembers || core.ContainsString(gm.MemberIDs, userID) {
			continue
		}
		shared := g.SharedSlots(labels)
		if len(shared) == 0 {
			continue
		}
		matches = append(matches, ranked{
			mg: MatchingGroup{
				GroupID:        g.ID,
				Region:         g.Region,
				Grade:          g.Grade,
				Status:         g.Status,
				TimeSlots:      g.TimeSlots,
				MatchingSlots:  shared,
				CurrentMembers: len(gm.MemberIDs),
				MaxMembers:     g.MaxMembers,
			},
			created: g.CreatedAt.UnixNano(),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if len(matches[i].mg.MatchingSlots) != len(matches[j].mg.MatchingSlots) {
			return len(matches[i].mg.MatchingSlots) > len(matches[j].mg.MatchingSlots)
		}
		return matches[i].created < matches[j].created
	})

	res := make([]MatchingGroup, 0, len(matches))
	for _, m := range matches {
		res = append(res, m.mg)
	}
	return res, nil
}
