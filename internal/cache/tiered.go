package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"
)

const (
	// Параметры по умолчанию: локальный уровень живет недолго и
	// мало вмещает, распределенный — дольше и больше.
	DefaultLocalCapacity = 10000
	DefaultLocalTTL      = 5 * time.Minute
	DefaultRemoteBaseTTL = 5 * time.Minute
	DefaultRemoteJitter  = 5 * time.Minute
)

// Distributed — распределенный уровень кеша. Реализуется RedisCache,
// в тестах подменяется.
type Distributed interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Tiered — двухуровневый сквозной кеш страниц выдачи. Кеш сознательно
// терпим к устареванию: на пути записи инвалидации нет, предел
// устаревания равен TTL. Для принудительного сброса есть EvictAll.
type Tiered struct {
	namespace string
	local     *Local
	remote    Distributed

	baseTTL time.Duration
	jitter  time.Duration

	// randInt63n подменяется в тестах для детерминированного джиттера
	randInt63n func(int64) int64
}

// NewTiered собирает кеш с заданным пространством имен ключей
func NewTiered(namespace string, local *Local, remote Distributed, baseTTL, jitter time.Duration) *Tiered {
	return &Tiered{
		namespace:  namespace,
		local:      local,
		remote:     remote,
		baseTTL:    baseTTL,
		jitter:     jitter,
		randInt63n: rand.Int63n,
	}
}

// Key детерминированно выводит ключ кеша из параметров запроса:
// параметры сериализуются в JSON и хешируются md5, ключ имеет вид
// {namespace}:{operation}:{digest}.
func (t *Tiered) Key(operation string, query interface{}) (string, error) {
	condition, err := json.Marshal(query)
	if err != nil {
		return "", fmt.Errorf("failed to marshal query: %w", err)
	}
	digest := md5.Sum(condition)
	return fmt.Sprintf("%s:%s:%s", t.namespace, operation, hex.EncodeToString(digest[:])), nil
}

// GetPage ищет страницу сначала в локальном кеше, затем в
// распределенном. Попадание на распределенном уровне прогревает
// локальный, чтобы следующие обращения не ходили по сети.
func (t *Tiered) GetPage(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.local.Get(key); ok {
		return value, true
	}

	value, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		// Недоступность кеша не фатальна: страница будет
		// прочитана из БД
		log.Printf("[Cache] remote get failed for %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	t.local.Set(key, value)
	return value, true
}

// PutPage кладет страницу на оба уровня. Распределенная запись
// получает случайную добавку к TTL, чтобы ключи, записанные в один
// момент, не истекали одновременно и не устраивали лавину запросов
// к БД.
func (t *Tiered) PutPage(ctx context.Context, key string, page []byte) {
	t.local.Set(key, page)

	ttl := t.baseTTL
	if t.jitter > 0 {
		ttl += time.Duration(t.randInt63n(int64(t.jitter)))
	}
	if err := t.remote.Set(ctx, key, page, ttl); err != nil {
		log.Printf("[Cache] remote set failed for %s: %v", key, err)
	}
}

// InvalidateKey убирает один ключ с обоих уровней. На пути записи
// не вызывается, оставлен для точечного сброса оператором.
func (t *Tiered) InvalidateKey(ctx context.Context, key string) {
	t.local.Delete(key)
	if err := t.remote.Delete(ctx, key); err != nil {
		log.Printf("[Cache] remote delete failed for %s: %v", key, err)
	}
}

// EvictAll сбрасывает все ключи пространства имен на обоих уровнях.
// Применяется оператором после внеполосных изменений данных.
func (t *Tiered) EvictAll(ctx context.Context) error {
	t.local.Flush()
	if err := t.remote.DeleteByPrefix(ctx, t.namespace+":"); err != nil {
		return fmt.Errorf("failed to evict distributed cache: %w", err)
	}
	return nil
}
