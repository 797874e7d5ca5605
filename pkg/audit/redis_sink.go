package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces the keys written by RedisSink
const DefaultRedisPrefix = "tally:audit:"

// RedisSink keeps one sorted set per entity, scored by created_at in
// microseconds. Members carry a zero padded insertion counter before the
// record JSON so equal scores order by insertion.
type RedisSink struct {
	client *redis.Client
	opts   sinkOptions
}

// NewRedisSink creates a Redis sink
func NewRedisSink(client *redis.Client, opts ...SinkOption) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSink{client: client, opts: newSinkOptions(DefaultRedisPrefix, opts)}, nil
}

func (s *RedisSink) entityKey(key EntityKey) string {
	return s.opts.prefix + "entity:" + key.Type + ":" + key.ID
}

func (s *RedisSink) counterKey() string { return s.opts.prefix + "seq" }

func (s *RedisSink) indexKey() string { return s.opts.prefix + "entities" }

// Store implements Sink. The record and the entity index are written in a
// single MULTI block.
func (s *RedisSink) Store(ctx context.Context, record Record) (err error) {
	start := time.Now()
	defer func() { s.opts.observe("store", DriverRedis, start, err) }()

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.counterKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate insertion counter: %w", err)
	}

	key := s.entityKey(record.Key())
	member := fmt.Sprintf("%019d|%s", seq, body)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(record.createdAt.UnixMicro()), Member: member})
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store audit record: %w", err)
	}
	return nil
}

// Prune implements Pruner with a single ZREMRANGEBYRANK, which is atomic
func (s *RedisSink) Prune(ctx context.Context, key EntityKey, keep int) (deleted int64, err error) {
	start := time.Now()
	defer func() { s.opts.observe("prune", DriverRedis, start, err) }()

	deleted, err = s.client.ZRemRangeByRank(ctx, s.entityKey(key), 0, int64(-(keep + 1))).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	return deleted, nil
}

// List implements Querier
func (s *RedisSink) List(ctx context.Context, key EntityKey) (records []Record, err error) {
	start := time.Now()
	defer func() { s.opts.observe("list", DriverRedis, start, err) }()

	members, err := s.client.ZRange(ctx, s.entityKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}

	records = make([]Record, 0, len(members))
	for _, m := range members {
		r, err := decodeRedisMember(m)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// PurgeBefore implements Expirer across every entity in the index
func (s *RedisSink) PurgeBefore(ctx context.Context, cutoff time.Time) (total int64, err error) {
	start := time.Now()
	defer func() { s.opts.observe("purge", DriverRedis, start, err) }()

	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read entity index: %w", err)
	}

	max := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)
	for _, key := range keys {
		n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Result()
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

// Close does not close the client as it may be shared
func (s *RedisSink) Close() error {
	return nil
}

func decodeRedisMember(member string) (Record, error) {
	i := strings.IndexByte(member, '|')
	if i < 0 {
		return Record{}, fmt.Errorf("malformed audit member %q", member)
	}
	var r Record
	if err := json.Unmarshal([]byte(member[i+1:]), &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
