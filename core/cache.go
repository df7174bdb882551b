package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ReadKey names a cached read view.
type ReadKey struct {
	Name    string
	PerUser bool
}

func (k ReadKey) For(userID string) string {
	if !k.PerUser {
		return k.Name
	}
	return k.Name + ":" + userID
}

var (
	KeyPendingGroups    = ReadKey{Name: "pending-groups"}
	KeyActiveGroups     = ReadKey{Name: "active-groups"}
	KeyAdminStats       = ReadKey{Name: "admin-stats"}
	KeyCompatibleGroups = ReadKey{Name: "compatible-groups"}
	KeyAllStudents      = ReadKey{Name: "all-students"}
	KeyMatchingGroups   = ReadKey{Name: "matching-groups", PerUser: true}
	KeyUserGroups       = ReadKey{Name: "user-groups", PerUser: true}
	KeyAvailabilities   = ReadKey{Name: "availabilities", PerUser: true}
	KeyStudentDetails   = ReadKey{Name: "student-details", PerUser: true}
)

// Mutation names a write that makes cached views stale.
type Mutation string

const (
	MutationProfileRegistered  Mutation = "profile-registered"
	MutationProfileUpdated     Mutation = "profile-updated"
	MutationProfileDeleted     Mutation = "profile-deleted"
	MutationAvailabilityAdded  Mutation = "availability-added"
	MutationAvailabilityRemove Mutation = "availability-removed"
	MutationGroupActivated     Mutation = "group-activated"
	MutationGroupCompleted     Mutation = "group-completed"
	MutationMemberJoined       Mutation = "member-joined"
	MutationMatchingCommitted  Mutation = "matching-committed"
)

// Invalidations maps every mutation to the views it makes stale.
// Per-user keys are expanded with the user ids passed to ReadCache.Invalidate: for group writes these are
// the group's members and every student of its Bundesland and Klassenstufe.
var Invalidations = map[Mutation][]ReadKey{
	MutationProfileRegistered: {KeyAdminStats, KeyAllStudents, KeyCompatibleGroups},
	MutationProfileUpdated: {
		KeyAdminStats, KeyAllStudents, KeyCompatibleGroups, KeyPendingGroups, KeyActiveGroups,
		KeyStudentDetails, KeyMatchingGroups,
	},
	MutationProfileDeleted: {
		KeyAdminStats, KeyAllStudents, KeyCompatibleGroups, KeyPendingGroups, KeyActiveGroups,
		KeyStudentDetails, KeyMatchingGroups, KeyUserGroups, KeyAvailabilities,
	},
	MutationAvailabilityAdded: {
		KeyAvailabilities, KeyMatchingGroups, KeyCompatibleGroups, KeyStudentDetails, KeyAllStudents,
	},
	MutationAvailabilityRemove: {
		KeyAvailabilities, KeyMatchingGroups, KeyCompatibleGroups, KeyStudentDetails, KeyAllStudents,
	},
	MutationGroupActivated: {
		KeyPendingGroups, KeyActiveGroups, KeyAdminStats, KeyUserGroups, KeyStudentDetails,
		KeyMatchingGroups, KeyAllStudents,
	},
	MutationGroupCompleted: {
		KeyActiveGroups, KeyAdminStats, KeyUserGroups, KeyStudentDetails, KeyMatchingGroups, KeyAllStudents,
	},
	MutationMemberJoined: {
		KeyMatchingGroups, KeyUserGroups, KeyPendingGroups, KeyActiveGroups, KeyAdminStats,
		KeyCompatibleGroups, KeyStudentDetails, KeyAllStudents,
	},
	MutationMatchingCommitted: {
		KeyPendingGroups, KeyCompatibleGroups, KeyAdminStats, KeyAllStudents,
		KeyUserGroups, KeyMatchingGroups, KeyStudentDetails,
	},
}

// InvalidationKeys expands the declared views of a mutation into concrete cache keys.
func InvalidationKeys(m Mutation, userIDs ...string) []string {
	views := Invalidations[m]
	keys := make([]string, 0, len(views)+len(userIDs))
	for _, k := range views {
		if !k.PerUser {
			keys = append(keys, k.Name)
			continue
		}
		for _, uid := range userIDs {
			keys = append(keys, k.For(uid))
		}
	}
	return keys
}

// ReadCache caches JSON-encoded read views and knows how to invalidate them.
// A nil *ReadCache is valid and caches nothing.
type ReadCache struct {
	cache   Cache
	ttl     time.Duration
	logger  Logger
	metrics Metrics
}

func NewReadCache(cache Cache, ttl time.Duration, logger Logger, metrics Metrics) *ReadCache {
	if metrics == nil {
		metrics = NopMetrics
	}
	return &ReadCache{cache: cache, ttl: ttl, logger: logger, metrics: metrics}
}

// Invalidate drops the views made stale by `m`. Cache failures are logged, never returned:
// the write already happened and a stale view expires with its TTL.
func (rc *ReadCache) Invalidate(ctx context.Context, m Mutation, userIDs ...string) {
	if rc == nil || rc.cache == nil {
		return
	}
	keys := InvalidationKeys(m, userIDs...)
	if len(keys) == 0 {
		return
	}
	if err := rc.cache.Delete(ctx, keys...); err != nil {
		rc.logError(fmt.Sprintf("invalidating %s", m), err)
	}
}

func (rc *ReadCache) logError(msg string, err error) {
	if rc.logger != nil {
		rc.logger.Error(msg, err)
	}
}

func (rc *ReadCache) get(ctx context.Context, key string, dest interface{}) bool {
	if rc == nil || rc.cache == nil {
		return false
	}
	data, ok, err := rc.cache.Get(ctx, key)
	if err != nil {
		rc.logError("reading cache", errors.Wrap(err, key))
		return false
	}
	if ok {
		if err = json.Unmarshal(data, dest); err != nil {
			rc.logError("decoding cached view", errors.Wrap(err, key))
			ok = false
		}
	}
	rc.metrics.CacheLookup(viewName(key), ok)
	return ok
}

func (rc *ReadCache) set(ctx context.Context, key string, value interface{}) {
	if rc == nil || rc.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		rc.logError("encoding view", errors.Wrap(err, key))
		return
	}
	if err = rc.cache.Set(ctx, key, data, rc.ttl); err != nil {
		rc.logError("writing cache", errors.Wrap(err, key))
	}
}

func (rc *ReadCache) degraded(key string, err error) {
	if rc == nil {
		return
	}
	rc.metrics.DegradedRead(viewName(key))
	rc.logError(fmt.Sprintf("degraded read %q", key), err)
}

func viewName(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// CachedRead serves `key` from the cache or runs `load`, retrying it up to `retries` more times.
// Successful loads are cached; failures yield a degraded result and are never cached.
func CachedRead[T any](ctx context.Context, rc *ReadCache, key string, retries int, load func(context.Context) ([]T, error)) ReadResult[T] {
	var cached []T
	if rc.get(ctx, key, &cached) {
		return OK(cached)
	}

	var (
		data []T
		err  error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if data, err = load(ctx); err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		rc.degraded(key, err)
		return Degraded[T](err)
	}

	res := OK(data)
	rc.set(ctx, key, res.Data)
	return res
}

// CachedValue is CachedRead for single-object views; errors are returned as is and never cached.
func CachedValue[T any](ctx context.Context, rc *ReadCache, key string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if rc.get(ctx, key, &cached) {
		return cached, nil
	}
	val, err := load(ctx)
	if err != nil {
		return val, err
	}
	rc.set(ctx, key, val)
	return val, nil
}
