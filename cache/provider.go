package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open creates the storage for the named provider.
// The dsn is a file name for sqlite, a directory for leveldb,
// and a redis URL (redis://host:port/db) for redis. It is ignored for memory.
func Open(provider, dsn string) (Storage, error) {
	switch provider {
	case "memory":
		return NewMemStorage(), nil
	case "sqlite", "":
		if dsn == "memory" {
			dsn = ""
		}
		return NewSQLiteStorage(dsn)
	case "leveldb":
		if dsn == "" {
			dsn = "./data/leveldb"
		}
		return NewLevelDBStorage(dsn)
	case "redis":
		if dsn == "" {
			dsn = "redis://localhost:6379/0"
		}
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("redis dsn: %w", err)
		}
		return NewRedisStorage(redis.NewClient(opts), ""), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}
