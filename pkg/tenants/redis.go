package tenants

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMemberships keeps one sorted set per email, scored by the time the
// membership was first added.
type RedisMemberships struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ Memberships = (*RedisMemberships)(nil)

func NewRedisMemberships(rdb *redis.Client, prefix string) *RedisMemberships {
	if prefix == "" {
		prefix = "realmauth:memberships:"
	}
	return &RedisMemberships{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisMemberships) key(email string) string {
	return r.prefix + normalizeEmail(email)
}

func (r *RedisMemberships) Add(ctx context.Context, email, realmName string) error {
	return r.rdb.ZAddNX(ctx, r.key(email), redis.Z{
		Score:  float64(r.now().UnixNano()),
		Member: realmName,
	}).Err()
}

func (r *RedisMemberships) RealmsFor(ctx context.Context, email string) ([]string, error) {
	return r.rdb.ZRange(ctx, r.key(email), 0, -1).Result()
}
