package receita

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultCacheTTL = 24 * time.Hour

// Cache is the part of a redis client the read-through cache needs.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cached serves lookups from redis and falls back to Next on a miss.
// Cache errors are logged and never fail a lookup.
type Cached struct {
	Next   Lookup
	Redis  Cache
	TTL    time.Duration
	Logger *zap.Logger
}

func (c Cached) key(cnpj string) string { return "avcb:cnpj:" + cnpj }

func (c Cached) GetByCNPJ(ctx context.Context, cnpj string) (Company, error) {
	digits := NormalizeCNPJ(cnpj)
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	raw, err := c.Redis.Get(ctx, c.key(digits)).Bytes()
	switch {
	case err == nil:
		var company Company
		if jerr := json.Unmarshal(raw, &company); jerr == nil {
			return company, nil
		}
		log.Warn("discarding unreadable cached company", zap.String("cnpj", digits))
	case !errors.Is(err, redis.Nil):
		log.Warn("company cache read failed", zap.String("cnpj", digits), zap.Error(err))
	}
	company, err := c.Next.GetByCNPJ(ctx, digits)
	if err != nil {
		return Company{}, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if data, err := json.Marshal(company); err == nil {
		if err := c.Redis.Set(ctx, c.key(digits), data, ttl).Err(); err != nil {
			log.Warn("company cache write failed", zap.String("cnpj", digits), zap.Error(err))
		}
	}
	return company, nil
}

// NewRedis opens a client from a redis:// URL.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
