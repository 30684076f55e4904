// Package keylock реализует короткоживущие взаимоисключающие блокировки
// по строковому ключу. Используется для сериализации проверки
// «есть ли у владельца пространство» при его создании: разные владельцы
// никогда не блокируют друг друга.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock — карта блокировок с ленивым созданием записей. Запись
// удаляется из карты только когда ее не держит и не ждет ни одна
// горутина: счетчик ссылок исключает гонку между снятием блокировки
// и повторным захватом по тому же ключу.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock захватывает блокировку по ключу, при необходимости создавая её
func (k *KeyLock) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock снимает блокировку и удаляет запись, если она больше никому
// не нужна
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keylock: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// WithLock выполняет fn под блокировкой по ключу
func (k *KeyLock) WithLock(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// Len возвращает число живых записей, нужен в тестах для проверки,
// что карта не растет бесконечно
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
