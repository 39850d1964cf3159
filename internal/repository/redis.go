package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/onetimeview/onetimeview/internal/model"
	"github.com/redis/go-redis/v9"
)

// Compile-time interface checks
var (
	_ SecretRepository  = (*redisSecretRepository)(nil)
	_ HandoffRepository = (*redisHandoffRepository)(nil)
)

// NewRedisClient connects and verifies the connection.
func NewRedisClient(options *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Secrets live in a hash: "data" holds the JSON record, the counters are
// separate fields so the scripts below can test and update them atomically.
// A sorted set indexes deadlines for the sweep.

var consumeSecretScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'data', 'view_count', 'max_views', 'expiry')
if not f[1] then
	return false
end
local views = tonumber(f[2])
local max = tonumber(f[3])
local expiry = tonumber(f[4])
if views >= max then
	return false
end
if expiry > 0 and tonumber(ARGV[1]) >= expiry then
	return false
end
views = views + 1
if views >= max then
	redis.call('DEL', KEYS[1])
	redis.call('ZREM', KEYS[2], ARGV[2])
	return {f[1], views, 1}
end
redis.call('HSET', KEYS[1], 'view_count', views)
return {f[1], views, 0}
`)

var failedAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local attempts = redis.call('HINCRBY', KEYS[1], 'failed_attempts', 1)
local f = redis.call('HMGET', KEYS[1], 'data', 'view_count')
if attempts >= tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1])
	redis.call('ZREM', KEYS[2], ARGV[2])
	return {f[1], tonumber(f[2]), attempts, 1}
end
return {f[1], tonumber(f[2]), attempts, 0}
`)

// takeHandoffScript deletes an unexpired handoff and returns its data.
var takeHandoffScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'data', 'expiry')
if not f[1] then
	return false
end
if tonumber(ARGV[1]) >= tonumber(f[2]) then
	return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return f[1]
`)

// removeExpiredScript deletes a record whose deadline has passed and returns
// its data. The index entry is dropped even when the record is already gone.
var removeExpiredScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'data', 'expiry')
if f[1] and tonumber(f[2]) > 0 and tonumber(ARGV[1]) < tonumber(f[2]) then
	return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
if not f[1] then
	return false
end
return f[1]
`)

type redisSecretRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSecretRepository(client redis.UniversalClient, prefix string) SecretRepository {
	return &redisSecretRepository{client: client, prefix: prefix}
}

func (r *redisSecretRepository) key(id string) string {
	return r.prefix + "secret:" + id
}

func (r *redisSecretRepository) index() string {
	return r.prefix + "secrets:expiry"
}

func (r *redisSecretRepository) Create(ctx context.Context, secret *model.Secret) error {
	data, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}

	var expiry int64
	if secret.ExpiryTime != nil {
		expiry = secret.ExpiryTime.UnixMilli()
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(secret.ID),
			"data", data,
			"view_count", secret.ViewCount,
			"max_views", secret.MaxViews,
			"failed_attempts", secret.FailedAttempts,
			"expiry", expiry,
		)
		if expiry > 0 {
			pipe.ZAdd(ctx, r.index(), redis.Z{Score: float64(expiry), Member: secret.ID})
		}
		return nil
	})
	return err
}

func (r *redisSecretRepository) ByID(ctx context.Context, id string) (*model.Secret, error) {
	fields, err := r.client.HMGet(ctx, r.key(id), "data", "view_count", "failed_attempts").Result()
	if err != nil {
		return nil, err
	}
	data, ok := fields[0].(string)
	if !ok {
		return nil, ErrSecretNotFound
	}

	secret, err := decodeSecret(data)
	if err != nil {
		return nil, err
	}
	secret.ViewCount = atoi(fields[1])
	secret.FailedAttempts = atoi(fields[2])

	return secret, nil
}

func (r *redisSecretRepository) Consume(ctx context.Context, id string, now time.Time) (*model.Secret, bool, error) {
	res, err := consumeSecretScript.Run(ctx, r.client,
		[]string{r.key(id), r.index()},
		now.UnixMilli(), id,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, ErrSecretNotFound
	}
	if err != nil {
		return nil, false, err
	}

	secret, err := decodeSecret(res[0].(string))
	if err != nil {
		return nil, false, err
	}
	secret.ViewCount = int(res[1].(int64))

	return secret, res[2].(int64) == 1, nil
}

func (r *redisSecretRepository) RecordFailedAttempt(ctx context.Context, id string, limit int) (*model.Secret, bool, error) {
	res, err := failedAttemptScript.Run(ctx, r.client,
		[]string{r.key(id), r.index()},
		limit, id,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, ErrSecretNotFound
	}
	if err != nil {
		return nil, false, err
	}

	secret, err := decodeSecret(res[0].(string))
	if err != nil {
		return nil, false, err
	}
	secret.ViewCount = int(res[1].(int64))
	secret.FailedAttempts = int(res[2].(int64))

	return secret, res[3].(int64) == 1, nil
}

func (r *redisSecretRepository) DeleteExpired(ctx context.Context, now time.Time) ([]*model.Secret, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.index(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var secrets []*model.Secret
	for _, id := range ids {
		data, err := removeExpiredScript.Run(ctx, r.client,
			[]string{r.key(id), r.index()},
			now.UnixMilli(), id,
		).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return secrets, err
		}

		secret, err := decodeSecret(data)
		if err != nil {
			return secrets, err
		}
		secrets = append(secrets, secret)
	}

	return secrets, nil
}

type redisHandoffRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisHandoffRepository(client redis.UniversalClient, prefix string) HandoffRepository {
	return &redisHandoffRepository{client: client, prefix: prefix}
}

func (r *redisHandoffRepository) key(id string) string {
	return r.prefix + "handoff:" + id
}

func (r *redisHandoffRepository) index() string {
	return r.prefix + "handoffs:expiry"
}

func (r *redisHandoffRepository) Create(ctx context.Context, handoff *model.Handoff) error {
	data, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("failed to encode handoff: %w", err)
	}

	expiry := handoff.ExpiresAt.UnixMilli()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(handoff.ID), "data", data, "expiry", expiry)
		pipe.ZAdd(ctx, r.index(), redis.Z{Score: float64(expiry), Member: handoff.ID})
		return nil
	})
	return err
}

func (r *redisHandoffRepository) Consume(ctx context.Context, id string, now time.Time) (*model.Handoff, error) {
	data, err := takeHandoffScript.Run(ctx, r.client,
		[]string{r.key(id), r.index()},
		now.UnixMilli(), id,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrHandoffNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeHandoff(data)
}

func (r *redisHandoffRepository) DeleteExpired(ctx context.Context, now time.Time) ([]*model.Handoff, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.index(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var handoffs []*model.Handoff
	for _, id := range ids {
		data, err := removeExpiredScript.Run(ctx, r.client,
			[]string{r.key(id), r.index()},
			now.UnixMilli(), id,
		).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return handoffs, err
		}

		h, err := decodeHandoff(data)
		if err != nil {
			return handoffs, err
		}
		handoffs = append(handoffs, h)
	}

	return handoffs, nil
}

func decodeSecret(data string) (*model.Secret, error) {
	var secret model.Secret
	err := json.Unmarshal([]byte(data), &secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	return &secret, nil
}

func decodeHandoff(data string) (*model.Handoff, error) {
	var h model.Handoff
	err := json.Unmarshal([]byte(data), &h)
	if err != nil {
		return nil, fmt.Errorf("failed to decode handoff: %w", err)
	}
	return &h, nil
}

func atoi(v any) int {
	s, _ := v.(string)
	n, _ := strconv.Atoi(s)
	return n
}
