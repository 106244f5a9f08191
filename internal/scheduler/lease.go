package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lease expired cannot drop the next holder's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrLeaseLost = errors.New("lease expired before release")

// Lease is a single-holder lock on one Redis key across scheduler replicas.
type Lease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewLease(rdb *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lease if nobody holds it. The returned release func must
// be called once the protected work is done.
func (l *Lease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int()
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrLeaseLost
		}
		return nil
	}
	return release, true, nil
}
