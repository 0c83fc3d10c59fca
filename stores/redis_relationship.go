package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/rowguard"
)

// RedisRelationshipCache is a read-through cache in front of another
// RelationshipLookup (key: rel:{actorID}:{domain}). Cache misses and Redis
// errors fall through to the backing lookup; a Redis failure never turns into
// a denial on its own.
type RedisRelationshipCache struct {
	client *redis.Client
	next   rowguard.RelationshipLookup
	ttl    time.Duration
	keyFmt string
}

func NewRedisRelationshipCache(client *redis.Client, next rowguard.RelationshipLookup, ttl time.Duration) *RedisRelationshipCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRelationshipCache{client: client, next: next, ttl: ttl, keyFmt: "rel:%d:%s"}
}

func (r *RedisRelationshipCache) key(actorID int64, domain string) string {
	return fmt.Sprintf(r.keyFmt, actorID, domain)
}

func (r *RedisRelationshipCache) HasRelationship(ctx context.Context, actorID int64, domain string) (bool, error) {
	k := r.key(actorID, domain)
	if val, err := r.client.Get(ctx, k).Result(); err == nil {
		return relationshipFromValue(val), nil
	} else if !errors.Is(err, redis.Nil) {
		// Fall through to the source of truth on transport errors.
		ok, srcErr := r.next.HasRelationship(ctx, actorID, domain)
		return ok, srcErr
	}
	ok, err := r.next.HasRelationship(ctx, actorID, domain)
	if err != nil {
		return false, err
	}
	// Best-effort write; a failed cache set is not an error.
	r.client.Set(ctx, k, relationshipValue(ok), r.ttl)
	return ok, nil
}

// Cached values: "1" for a valid relationship, "0" for a confirmed absence.
// Negative answers are cached too, so absent links do not hammer the source.
func relationshipValue(ok bool) string {
	if ok {
		return "1"
	}
	return "0"
}

func relationshipFromValue(val string) bool {
	return val == "1"
}

// Invalidate drops the cached answer for one actor/domain pair. Call it after
// Link or Unlink so the next check hits the source of truth.
func (r *RedisRelationshipCache) Invalidate(ctx context.Context, actorID int64, domain string) error {
	return r.client.Del(ctx, r.key(actorID, domain)).Err()
}
