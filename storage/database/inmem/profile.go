package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

type profileRepository struct {
	db *DB
}

var _ profile.Repository = (*profileRepository)(nil)

func NewProfileRepository(db *DB) profile.Repository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) query() []profile.Profile {
	profiles := make([]profile.Profile, 0, len(repo.db.profiles))
	for _, p := range repo.db.profiles {
		profiles = append(profiles, *p)
	}
	return profiles
}

func (repo *profileRepository) CheckEmailUniqueness(_ context.Context, email string, excludedIDs ...string) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, p := range repo.db.profiles {
		if p.Email == email && !core.ContainsString(excludedIDs, p.ID) {
			return profile.ErrEmailExists
		}
	}
	return nil
}

func (repo *profileRepository) CreateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.profiles {
		if existing.Email == p.Email {
			return profile.Profile{}, profile.ErrEmailExists
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	repo.db.profiles[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) GetProfileByID(_ context.Context, id string) (profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("GetProfileByID"); err != nil {
		return profile.Profile{}, err
	}
	if p, ok := repo.db.profiles[id]; ok {
		return *p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) GetProfileByEmail(_ context.Context, email string) (profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, p := range repo.db.profiles {
		if p.Email == email {
			return *p, nil
		}
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) QueryProfiles(_ context.Context, filter profile.QueryFilter, ordering ...core.DBOrdering) ([]profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("QueryProfiles"); err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	profiles := make([]profile.Profile, 0)
	for _, p := range repo.query() {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.FirstName), search) &&
			!strings.Contains(strings.ToLower(p.LastName), search) &&
			!strings.Contains(p.Email, search) {
			continue
		}
		if filter.Region != "" && p.Region != filter.Region {
			continue
		}
		if filter.Grade != "" && p.Grade != filter.Grade {
			continue
		}
		profiles = append(profiles, p)
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := profileField(profiles[i], ord.Field), profileField(profiles[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles, nil
}

func profileField(p profile.Profile, field string) string {
	switch field {
	case "first_name":
		return strings.ToLower(p.FirstName)
	case "last_name":
		return strings.ToLower(p.LastName)
	case "email":
		return p.Email
	case "bundesland":
		return p.Region
	case "klassenstufe":
		return p.Grade
	default:
		return p.CreatedAt.Format("2006-01-02T15:04:05.000000000")
	}
}

func (repo *profileRepository) UpdateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.profiles[p.ID]
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	if p.PasswordHash == nil {
		p.PasswordHash = orig.PasswordHash
	}
	p.CreatedAt = orig.CreatedAt
	repo.db.profiles[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) DeleteProfilesByID(_ context.Context, ids ...string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, id := range ids {
		delete(repo.db.profiles, id)
	}
	for avID, av := range repo.db.availabilities {
		if core.ContainsString(ids, av.UserID) {
			delete(repo.db.availabilities, avID)
		}
	}
	for mID, m := range repo.db.memberships {
		if core.ContainsString(ids, m.UserID) {
			delete(repo.db.memberships, mID)
		}
	}
	return nil
}

func (repo *profileRepository) CountStudents(context.Context) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("CountStudents"); err != nil {
		return 0, err
	}
	var n int
	for _, p := range repo.db.profiles {
		if !p.IsAdmin {
			n++
		}
	}
	return n, nil
}
