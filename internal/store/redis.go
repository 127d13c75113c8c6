package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

// Redis keeps each record as a JSON document in a single list, so insertion order
// is list order and pagination maps onto LRANGE.
type Redis struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
}

// OpenRedis connects to url (redis://host:port/db) and verifies the connection.
func OpenRedis(ctx context.Context, url, key string, timeout time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(opts), key, timeout)
	pingCtx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.rdb.Ping(pingCtx).Err(); err != nil {
		_ = r.rdb.Close()
		return nil, unavailable("ping redis", err)
	}
	return r, nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, key string, timeout time.Duration) *Redis {
	if key == "" {
		key = "mockinvoice:invoices"
	}
	return &Redis{rdb: rdb, key: key, timeout: timeout}
}

func (r *Redis) Kind() string { return config.StorageRedis }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Insert(ctx context.Context, records []invoice.Email) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]any, 0, len(records))
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode invoice %s: %w", record.MessageID, err)
		}
		values = append(values, data)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.rdb.RPush(ctx, r.key, values...).Err(); err != nil {
		return unavailable("redis RPUSH", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, offset, limit int) ([]invoice.Email, error) {
	if limit == 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	raw, err := r.rdb.LRange(ctx, r.key, int64(offset), stop).Result()
	if err != nil {
		return nil, unavailable("redis LRANGE", err)
	}
	records := make([]invoice.Email, 0, len(raw))
	for i, item := range raw {
		var record invoice.Email
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, corrupt(fmt.Sprintf("decode redis item %d", offset+i), err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	n, err := r.rdb.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, unavailable("redis LLEN", err)
	}
	return int(n), nil
}

func (r *Redis) Clear(ctx context.Context) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return unavailable("redis DEL", err)
	}
	return nil
}

func (r *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
