package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

// Redis key naming. All keys are prefixed with "herald:" to avoid
// collisions.
const (
	redisKeyPrefix = "herald:"

	// delayKey is the Sorted Set of pending entries, scored by fire
	// time in unix milliseconds. Members are "{entryID}|{jobID}".
	delayKey = redisKeyPrefix + "delay"
)

// jobEntriesKey returns the Set tracking pending entry members for a
// job: herald:job_entries:{jobID}
func jobEntriesKey(jobID string) string {
	return redisKeyPrefix + "job_entries:" + jobID
}

// claimScript atomically pops due entries from the delay set. Claiming
// via ZREM inside the script guarantees each entry fires on exactly one
// consumer.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
if #due == 0 then
	return due
end
local members = {}
for i = 1, #due, 2 do
	members[#members + 1] = due[i]
end
redis.call('ZREM', KEYS[1], unpack(members))
return due
`)

// Redis is a DelayQueue backed by a Redis sorted set. Entries survive
// process restarts and may be shared by multiple consumer processes;
// the claim script hands each fired entry to exactly one of them.
type Redis struct {
	client   goredis.UniversalClient
	logger   *slog.Logger
	interval time.Duration
	batch    int

	fired chan Entry
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// RedisOption configures the redis delay queue.
type RedisOption func(*Redis)

// WithRedisPollInterval sets how often the claim script runs.
func WithRedisPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.interval = d }
}

// WithRedisBatchSize caps how many entries one claim may pop.
func WithRedisBatchSize(n int) RedisOption {
	return func(r *Redis) { r.batch = n }
}

// WithRedisLogger sets the logger for poll failures.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis creates a redis-backed delay queue and starts its poll loop.
func NewRedis(client goredis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		logger:   slog.Default(),
		interval: 250 * time.Millisecond,
		batch:    128,
		fired:    make(chan Entry, 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.poll()
	return r
}

// Enqueue adds the job to the delay set.
func (r *Redis) Enqueue(ctx context.Context, jobID id.JobID, delay time.Duration) (id.EntryID, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return id.EntryID{}, herald.ErrQueueClosed
	}

	entryID := id.NewEntryID()
	if delay < 0 {
		delay = 0
	}
	member := entryID.String() + "|" + jobID.String()
	score := float64(time.Now().UTC().Add(delay).UnixMilli())

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, delayKey, goredis.Z{Score: score, Member: member})
	pipe.SAdd(ctx, jobEntriesKey(jobID.String()), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return id.EntryID{}, fmt.Errorf("herald/queue: redis enqueue: %w", err)
	}
	return entryID, nil
}

// CancelEntry removes a single pending entry. The job ID is not known
// from the entry ID alone, so the delay set is scanned by member
// prefix.
func (r *Redis) CancelEntry(ctx context.Context, entryID id.EntryID) error {
	prefix := entryID.String() + "|"

	var cursor uint64
	for {
		members, next, err := r.client.ZScan(ctx, delayKey, cursor, prefix+"*", 64).Result()
		if err != nil {
			return fmt.Errorf("herald/queue: redis cancel entry: %w", err)
		}
		// ZScan yields member, score pairs.
		for i := 0; i < len(members); i += 2 {
			member := members[i]
			if !strings.HasPrefix(member, prefix) {
				continue
			}
			_, jobID, _ := strings.Cut(member, "|")
			pipe := r.client.TxPipeline()
			pipe.ZRem(ctx, delayKey, member)
			pipe.SRem(ctx, jobEntriesKey(jobID), member)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("herald/queue: redis cancel entry: %w", err)
			}
			return nil
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// CancelJob removes every pending entry for the job.
func (r *Redis) CancelJob(ctx context.Context, jobID id.JobID) error {
	key := jobEntriesKey(jobID.String())
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/queue: redis cancel job: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, delayKey, args...)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/queue: redis cancel job: %w", err)
	}
	return nil
}

// Fired returns the delivery channel.
func (r *Redis) Fired() <-chan Entry {
	return r.fired
}

// Close stops the poll loop and closes the fired channel. Pending
// entries stay in Redis for other consumers.
func (r *Redis) Close(_ context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	close(r.fired)
	return nil
}

func (r *Redis) poll() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.claim(); err != nil {
				r.logger.Error("delay queue claim failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Redis) claim() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval*4)
	defer cancel()

	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	raw, err := claimScript.Run(ctx, r.client, []string{delayKey}, now, r.batch).Slice()
	if err != nil {
		return fmt.Errorf("herald/queue: claim script: %w", err)
	}

	for i := 0; i+1 < len(raw); i += 2 {
		member, ok := raw[i].(string)
		if !ok {
			continue
		}
		entry, parseErr := parseMember(member, raw[i+1])
		if parseErr != nil {
			r.logger.Warn("dropping malformed delay entry", slog.String("member", member))
			continue
		}

		// Entry is claimed; drop it from the job index regardless of
		// whether delivery below succeeds.
		if err := r.client.SRem(ctx, jobEntriesKey(entry.JobID.String()), member).Err(); err != nil {
			r.logger.Warn("job index cleanup failed", slog.String("error", err.Error()))
		}

		select {
		case r.fired <- entry:
		case <-r.done:
			return nil
		}
	}
	return nil
}

func parseMember(member string, rawScore any) (Entry, error) {
	entryStr, jobStr, found := strings.Cut(member, "|")
	if !found {
		return Entry{}, fmt.Errorf("herald/queue: malformed member %q", member)
	}
	entryID, err := id.ParseEntryID(entryStr)
	if err != nil {
		return Entry{}, err
	}
	jobID, err := id.ParseJobID(jobStr)
	if err != nil {
		return Entry{}, err
	}

	var fireAt time.Time
	switch s := rawScore.(type) {
	case string:
		if ms, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
			fireAt = time.UnixMilli(ms).UTC()
		}
	case int64:
		fireAt = time.UnixMilli(s).UTC()
	case float64:
		fireAt = time.UnixMilli(int64(s)).UTC()
	}
	return Entry{ID: entryID, JobID: jobID, FireAt: fireAt}, nil
}
