package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache — обертка над распределенным кешем. Значения простые
// байтовые строки, все операции — перезапись при записи и чтение при
// чтении, поэтому блокировки не нужны: последний писатель побеждает.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает клиента и проверяет соединение
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient оборачивает готового клиента, нужен в тестах
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get возвращает значение по ключу; (nil, false, nil) — промах
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set записывает значение с указанным сроком жизни
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete удаляет ключ
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// TTL возвращает оставшийся срок жизни ключа
func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	return ttl, nil
}

// DeleteByPrefix удаляет все ключи с данным префиксом через SCAN,
// чтобы не блокировать redis на больших наборах
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	it := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for it.Next(ctx) {
		if err := c.client.Del(ctx, it.Val()).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", it.Val(), err)
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Close закрывает соединение
func (c *RedisCache) Close() error {
	return c.client.Close()
}
