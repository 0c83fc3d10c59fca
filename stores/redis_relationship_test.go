package stores

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableRedis returns a client whose every command fails fast with a
// transport error.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisRelationshipCacheFallsBackOnTransportError(t *testing.T) {
	ctx := context.Background()
	next := NewMemoryRelationshipStore()
	next.Link(55, "7", time.Time{}, time.Time{})

	cache := NewRedisRelationshipCache(unreachableRedis(t), next, time.Minute)

	// A broken cache never turns into a denial on its own.
	ok, err := cache.HasRelationship(ctx, 55, "7")
	if err != nil {
		t.Fatalf("has relationship: %v", err)
	}
	if !ok {
		t.Fatalf("expected fallback to report the linked relationship")
	}

	// Negative answers from the source pass through unchanged.
	ok, err = cache.HasRelationship(ctx, 55, "8")
	if err != nil {
		t.Fatalf("has relationship: %v", err)
	}
	if ok {
		t.Fatalf("expected fallback to report no relationship")
	}
}

func TestRelationshipValueMapping(t *testing.T) {
	if relationshipValue(true) != "1" || relationshipValue(false) != "0" {
		t.Fatalf("unexpected cached values: %q/%q", relationshipValue(true), relationshipValue(false))
	}
	if !relationshipFromValue("1") {
		t.Fatalf(`expected "1" to decode as a valid relationship`)
	}
	for _, val := range []string{"0", "", "yes"} {
		if relationshipFromValue(val) {
			t.Fatalf("expected %q to decode as no relationship", val)
		}
	}
}
