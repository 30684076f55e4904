package cache

import (
	"container/list"
	"sync"
	"time"
)

// localEntry хранит значение вместе с моментом записи
type localEntry struct {
	key     string
	value   []byte
	written time.Time
	order   *list.Element
}

// Local — процессный кеш с фиксированным TTL и LRU-вытеснением по
// емкости. Принадлежит одному процессу, межпроцессной согласованности
// не дает и не обещает.
type Local struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*localEntry
	order    *list.List

	// now подменяется в тестах
	now func() time.Time
}

func NewLocal(capacity int, ttl time.Duration) *Local {
	return &Local{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*localEntry, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get возвращает значение и признак попадания. Просроченная запись
// удаляется на месте.
func (c *Local) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.written) >= c.ttl {
		c.remove(e)
		return nil, false
	}
	c.order.MoveToFront(e.order)
	return e.value, true
}

// Set записывает значение, при переполнении вытесняя самую старую запись
func (c *Local) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.written = c.now()
		c.order.MoveToFront(e.order)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*localEntry))
	}

	e := &localEntry{key: key, value: value, written: c.now()}
	e.order = c.order.PushFront(e)
	c.entries[key] = e
}

// Delete убирает запись по ключу
func (c *Local) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Flush очищает кеш целиком
func (c *Local) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*localEntry, c.capacity)
	c.order.Init()
}

// Len возвращает текущее число записей
func (c *Local) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Local) remove(e *localEntry) {
	c.order.Remove(e.order)
	delete(c.entries, e.key)
}
