package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Open selects and constructs a Checkpointer from a SESSION_STORE_URL-style
// connection string (§6): "", "memory://" for MemoryCheckpointer,
// "bolt://<path>" for BoltCheckpointer, "postgres://..." for
// PostgresCheckpointer, "redis://..." for RedisCheckpointer.
func Open(url string) (Checkpointer, error) {
	switch {
	case url == "" || url == "memory://":
		return NewMemoryCheckpointer(), nil
	case strings.HasPrefix(url, "bolt://"):
		path := strings.TrimPrefix(url, "bolt://")
		return OpenBoltCheckpointer(path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgresCheckpointer(url)
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parsing redis checkpoint url: %w", err)
		}
		return NewRedisCheckpointer(redis.NewClient(opts), time.Hour), nil
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE_URL scheme: %q", url)
	}
}
