package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QFMIngest/model"
	"QFMIngest/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "qfm:work:"

// enqueue: KEYS pending, queued, lease, dirty; ARGV trackID
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  redis.call('SET', KEYS[4], '1')
  return 2
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// lease: KEYS pending, queued, processing; ARGV leasePrefix, token, ttlMillis, dirtyPrefix
var leaseScript = redis.NewScript(`
local processing = redis.call('LRANGE', KEYS[3], 0, -1)
for i = #processing, 1, -1 do
  local id = processing[i]
  if redis.call('EXISTS', ARGV[1] .. id) == 0 then
    redis.call('LREM', KEYS[3], 0, id)
    redis.call('DEL', ARGV[4] .. id)
    if redis.call('SADD', KEYS[2], id) == 1 then
      redis.call('LPUSH', KEYS[1], id)
    end
  end
end
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('SREM', KEYS[2], id)
redis.call('RPUSH', KEYS[3], id)
redis.call('SET', ARGV[1] .. id, ARGV[2], 'PX', ARGV[3])
return id
`)

// leaseTrack: KEYS pending, queued, processing, lease; ARGV trackID, token, ttlMillis
var leaseTrackScript = redis.NewScript(`
if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('RPUSH', KEYS[3], ARGV[1])
redis.call('SET', KEYS[4], ARGV[2], 'PX', ARGV[3])
return 1
`)

// renew: KEYS lease; ARGV token, ttlMillis
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// release: KEYS lease, processing, dirty, pending, queued; ARGV token, trackID
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('LREM', KEYS[2], 0, ARGV[2])
if redis.call('DEL', KEYS[3]) == 1 then
  if redis.call('SADD', KEYS[5], ARGV[2]) == 1 then
    redis.call('RPUSH', KEYS[4], ARGV[2])
  end
end
return 1
`)

// RedisLeaser keeps per-kind queues in Redis. Each kind has a pending list with a
// companion set for dedup, a processing list, and one expiring key per held lease.
type RedisLeaser struct {
	rdb      *redis.Client
	database repository.Database
	ttl      time.Duration
}

// NewRedisLeaser 创建基于 Redis 的租约器，状态写入通过 database 完成
func NewRedisLeaser(rdb *redis.Client, database repository.Database, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{rdb: rdb, database: database, ttl: ttl}
}

type kindKeys struct {
	pending    string
	queued     string
	processing string
	lease      string // prefix, track id appended
	dirty      string // prefix, track id appended
}

func keysFor(kind model.WorkKind) kindKeys {
	base := redisKeyPrefix + string(kind) + ":"
	return kindKeys{
		pending:    base + "pending",
		queued:     base + "queued",
		processing: base + "processing",
		lease:      base + "lease:",
		dirty:      base + "dirty:",
	}
}

func (l *RedisLeaser) ttlMillis() int64 {
	return l.ttl.Milliseconds()
}

// Enqueue 添加工作项
func (l *RedisLeaser) Enqueue(ctx context.Context, kind model.WorkKind, trackID string) error {
	k := keysFor(kind)
	keys := []string{k.pending, k.queued, k.lease + trackID, k.dirty + trackID}
	if err := enqueueScript.Run(ctx, l.rdb, keys, trackID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s work for %s: %w", kind, trackID, err)
	}
	return nil
}

// Lease 领取最早的可用工作项，过期租约先回到队首
func (l *RedisLeaser) Lease(ctx context.Context, kind model.WorkKind) (*Lease, error) {
	k := keysFor(kind)
	token := uuid.NewString()
	id, err := leaseScript.Run(ctx, l.rdb,
		[]string{k.pending, k.queued, k.processing},
		k.lease, token, l.ttlMillis(), k.dirty,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease %s work: %w", kind, err)
	}
	return &Lease{Kind: kind, TrackID: id, Token: token, LeasedAt: time.Now()}, nil
}

// LeaseTrack 领取指定曲目的工作项
func (l *RedisLeaser) LeaseTrack(ctx context.Context, kind model.WorkKind, trackID string) (*Lease, error) {
	k := keysFor(kind)
	token := uuid.NewString()
	n, err := leaseTrackScript.Run(ctx, l.rdb,
		[]string{k.pending, k.queued, k.processing, k.lease + trackID},
		trackID, token, l.ttlMillis(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to lease %s work for %s: %w", kind, trackID, err)
	}
	if n == 0 {
		return nil, nil
	}
	return &Lease{Kind: kind, TrackID: trackID, Token: token, LeasedAt: time.Now()}, nil
}

// Pending 检查曲目是否有排队中的工作项
func (l *RedisLeaser) Pending(ctx context.Context, kind model.WorkKind, trackID string) (bool, error) {
	ok, err := l.rdb.SIsMember(ctx, keysFor(kind).queued, trackID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check pending work: %w", err)
	}
	return ok, nil
}

// Renew 续期租约
func (l *RedisLeaser) Renew(ctx context.Context, held *Lease) error {
	k := keysFor(held.Kind)
	n, err := renewScript.Run(ctx, l.rdb, []string{k.lease + held.TrackID}, held.Token, l.ttlMillis()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", held, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: renew %s", ErrLeaseConflict, held)
	}
	held.LeasedAt = time.Now()
	return nil
}

// Release 校验令牌，写入曲目状态后清除租约。两步不在同一事务中
// Unlike DBLeaser the status write and the lease removal are not atomic: a
// crash in between leaves the new status with the item still leased, and the
// item is handed out again once the lease expires.
func (l *RedisLeaser) Release(ctx context.Context, held *Lease, status *model.TrackStatus) error {
	k := keysFor(held.Kind)
	leaseKey := k.lease + held.TrackID

	current, err := l.rdb.Get(ctx, leaseKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read lease %s: %w", held, err)
	}
	if current != held.Token {
		return fmt.Errorf("%w: release %s", ErrLeaseConflict, held)
	}

	if status != nil {
		if err := l.database.SetTrackStatus(ctx, held.TrackID, *status); err != nil {
			return fmt.Errorf("failed to set track status: %w", err)
		}
	}

	n, err := releaseScript.Run(ctx, l.rdb,
		[]string{leaseKey, k.processing, k.dirty + held.TrackID, k.pending, k.queued},
		held.Token, held.TrackID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", held, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: release %s", ErrLeaseConflict, held)
	}
	return nil
}

// Stats 统计队列长度
func (l *RedisLeaser) Stats(ctx context.Context) (map[model.WorkKind]Stats, error) {
	out := make(map[model.WorkKind]Stats, len(model.WorkKinds))
	for _, kind := range model.WorkKinds {
		k := keysFor(kind)
		pending, err := l.rdb.LLen(ctx, k.pending).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count pending %s work: %w", kind, err)
		}
		leased, err := l.rdb.LLen(ctx, k.processing).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s leases: %w", kind, err)
		}
		out[kind] = Stats{Pending: pending, Leased: leased}
	}
	return out, nil
}
