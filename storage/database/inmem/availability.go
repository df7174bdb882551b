package inmemdb

import (
	"context"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
)

type availabilityRepository struct {
	db *DB
}

var _ availability.Repository = (*availabilityRepository)(nil)

func NewAvailabilityRepository(db *DB) availability.Repository {
	return &availabilityRepository{db: db}
}

func (repo *availabilityRepository) QueryByUser(_ context.Context, userID string) ([]availability.Availability, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("QueryByUser"); err != nil {
		return nil, err
	}
	avs := make([]availability.Availability, 0)
	for _, av := range repo.db.availabilities {
		if av.UserID == userID {
			avs = append(avs, *av)
		}
	}
	return avs, nil
}

func (repo *availabilityRepository) GetByID(_ context.Context, id string) (availability.Availability, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if av, ok := repo.db.availabilities[id]; ok {
		return *av, nil
	}
	return availability.Availability{}, availability.ErrNotFound
}

func (repo *availabilityRepository) Create(_ context.Context, av availability.Availability) (availability.Availability, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.availabilities {
		if existing.UserID == av.UserID && existing.Day == av.Day && existing.TimeSlot == av.TimeSlot {
			return availability.Availability{}, availability.ErrDuplicate
		}
	}
	if av.ID == "" {
		av.ID = newID()
	}
	repo.db.availabilities[av.ID] = &av
	return av, nil
}

func (repo *availabilityRepository) Delete(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.availabilities[id]; !ok {
		return availability.ErrNotFound
	}
	delete(repo.db.availabilities, id)
	return nil
}

func (repo *availabilityRepository) CountByUser(context.Context) (map[string]int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if err := repo.db.failure("CountByUser"); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, av := range repo.db.availabilities {
		counts[av.UserID]++
	}
	return counts, nil
}
