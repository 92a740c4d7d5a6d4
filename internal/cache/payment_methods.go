package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"busticket/internal/logger"
	"busticket/internal/models"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// MethodLoader is the store the cache falls back to.
type MethodLoader interface {
	GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error)
	GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error)
	GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error)
}

// Sealer protects merchant credentials while they sit in Redis.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// PaymentMethodCache is a read-through cache of payment method configuration.
// Redis failures degrade to the loader; missing methods are not cached.
type PaymentMethodCache struct {
	rdb    redis.Cmdable
	loader MethodLoader
	sealer Sealer
	ttl    time.Duration
}

func NewPaymentMethodCache(rdb redis.Cmdable, loader MethodLoader, sealer Sealer, ttl time.Duration) *PaymentMethodCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PaymentMethodCache{rdb: rdb, loader: loader, sealer: sealer, ttl: ttl}
}

func (c *PaymentMethodCache) GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	return c.get(ctx, "payment_method:code:"+code, func() (*models.PaymentMethod, error) {
		return c.loader.GetPaymentMethodByCode(ctx, code)
	})
}

func (c *PaymentMethodCache) GetPaymentMethodByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	return c.get(ctx, "payment_method:id:"+strconv.FormatInt(id, 10), func() (*models.PaymentMethod, error) {
		return c.loader.GetPaymentMethodByID(ctx, id)
	})
}

func (c *PaymentMethodCache) GetActivePaymentMethodByProvider(ctx context.Context, provider models.Provider) (*models.PaymentMethod, error) {
	return c.get(ctx, "payment_method:provider:"+string(provider), func() (*models.PaymentMethod, error) {
		return c.loader.GetActivePaymentMethodByProvider(ctx, provider)
	})
}

func (c *PaymentMethodCache) get(ctx context.Context, key string, load func() (*models.PaymentMethod, error)) (*models.PaymentMethod, error) {
	log := logger.WithContext(ctx).With("cache_key", key)

	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		m, derr := c.decode(raw)
		if derr == nil {
			return m, nil
		}
		log.Warn("Dropping unreadable cache entry", "error", derr)
	case !errors.Is(err, redis.Nil):
		log.Warn("Cache lookup failed", "error", err)
	}

	m, err := load()
	if err != nil || m == nil {
		return m, err
	}

	value, err := c.encode(m)
	if err != nil {
		log.Warn("Failed to encode payment method for cache", "error", err)
		return m, nil
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		log.Warn("Failed to fill cache", "error", err)
	}
	return m, nil
}

func (c *PaymentMethodCache) encode(m *models.PaymentMethod) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	if c.sealer == nil {
		return string(data), nil
	}
	return c.sealer.Seal(data)
}

func (c *PaymentMethodCache) decode(raw string) (*models.PaymentMethod, error) {
	data := []byte(raw)
	if c.sealer != nil {
		opened, err := c.sealer.Open(raw)
		if err != nil {
			return nil, err
		}
		data = opened
	}
	var m models.PaymentMethod
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
