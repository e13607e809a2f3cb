package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "offline-shell:"

// putScript writes an entry only while the cache is still listed, so a
// concurrent Delete cannot leave an unlisted hash behind.
// KEYS: names set, cache hash. ARGV: cache name, entry key, entry.
var putScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// RedisStorage keeps the set of cache names in one Redis set
// and every cache as a hash of JSON-encoded entries.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a storage on top of client.
// An empty prefix selects the default key prefix.
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + "caches"
}

func (s *RedisStorage) cacheKey(name string) string {
	return s.prefix + "cache:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, err
	}
	return redisHandle{s: s, name: name}, nil
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

type redisHandle struct {
	s    *RedisStorage
	name string
}

func (h redisHandle) Name() string {
	return h.name
}

func (h redisHandle) Put(ctx context.Context, key string, res Response) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	keys := []string{h.s.namesKey(), h.s.cacheKey(h.name)}
	written, err := putScript.Run(ctx, h.s.client, keys, h.name, key, data).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return ErrCacheDeleted
	}
	return nil
}

func (h redisHandle) Match(ctx context.Context, key string) (Response, bool, error) {
	data, err := h.s.client.HGet(ctx, h.s.cacheKey(h.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, err
	}
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		return Response{}, false, err
	}
	return res, true, nil
}
