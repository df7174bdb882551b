// Package storage selects and opens the repositories backing the services.
package storage

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	"github.com/gruppenschlau/gruppenschlau/storage/database"
	inmemdb "github.com/gruppenschlau/gruppenschlau/storage/database/inmem"
	sqlxrepos "github.com/gruppenschlau/gruppenschlau/storage/database/sqlx"
)

var ErrUnknownStorage = errors.New("unknown storage")

type Repositories struct {
	Profiles       profile.Repository
	Availabilities availability.Repository
	Groups         group.Repository
	Matching       matching.Repository
	Notifications  notification.Repository

	db *sqlx.DB // nil for the in-memory store
}

func NewInmem(db *inmemdb.DB) *Repositories {
	return &Repositories{
		Profiles:       inmemdb.NewProfileRepository(db),
		Availabilities: inmemdb.NewAvailabilityRepository(db),
		Groups:         inmemdb.NewGroupRepository(db),
		Matching:       inmemdb.NewMatchingRepository(db),
		Notifications:  inmemdb.NewNotificationRepository(db),
	}
}

func NewSQL(db *sqlx.DB) *Repositories {
	return &Repositories{
		Profiles:       sqlxrepos.NewProfileRepository(db),
		Availabilities: sqlxrepos.NewAvailabilityRepository(db),
		Groups:         sqlxrepos.NewGroupRepository(db),
		Matching:       sqlxrepos.NewMatchingRepository(db),
		Notifications:  sqlxrepos.NewNotificationRepository(db),
		db:             db,
	}
}

// Open returns the repositories of the configured storage.
// For postgres, the database is created and migrated first when `setUp` is true.
func Open(conf *core.Config, setUp bool) (*Repositories, error) {
	switch conf.Storage {
	case core.StorageInmem:
		return NewInmem(inmemdb.NewDB()), nil
	case core.StoragePostgres:
		if setUp {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, errors.Wrap(err, "creating database")
			}
		}
		db, err := database.Connect(conf)
		if err != nil {
			return nil, errors.Wrap(err, "connecting to database")
		}
		if setUp {
			if err = database.Migrate(db.DB); err != nil {
				_ = db.Close()
				return nil, errors.Wrap(err, "migrating database")
			}
		}
		return NewSQL(db), nil
	default:
		return nil, errors.Wrap(ErrUnknownStorage, conf.Storage)
	}
}

// DB returns the underlying SQL database, if any.
func (r *Repositories) DB() *sqlx.DB { return r.db }

func (r *Repositories) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
