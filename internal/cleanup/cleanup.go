// Package cleanup реализует отложенное удаление объектов из блобного
// хранилища. Запись в очередь происходит только после фиксации
// транзакции в БД (или при заведомо осиротевшем объекте), само
// удаление — best effort вне пути запроса: сбой логируется и не
// влияет на результат исходной операции.
package cleanup

import (
	"context"
	"log"
	"sync"
	"time"
)

const deleteTimeout = 30 * time.Second

// ObjectDeleter — то, что умеет удалять объект по ключу
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// Task — одно задание на удаление: ключи объектов одной картинки
// (оригинал и миниатюра)
type Task struct {
	Keys []string
}

// Queue — очередь отложенных удалений с одним воркером
type Queue struct {
	deleter ObjectDeleter
	tasks   chan Task

	closeOnce sync.Once
	done      chan struct{}
}

// New создает очередь и запускает воркер
func New(deleter ObjectDeleter, buffer int) *Queue {
	q := &Queue{
		deleter: deleter,
		tasks:   make(chan Task, buffer),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue ставит ключи в очередь на удаление. Пустые ключи
// отбрасываются. При переполненной очереди задание теряется с
// предупреждением: потеря означает лишь осиротевший блоб, а не
// нарушение целостности.
func (q *Queue) Enqueue(keys ...string) {
	task := Task{}
	for _, key := range keys {
		if key != "" {
			task.Keys = append(task.Keys, key)
		}
	}
	if len(task.Keys) == 0 {
		return
	}

	select {
	case q.tasks <- task:
	default:
		log.Printf("[Cleanup] queue is full, dropping deletion of %v", task.Keys)
	}
}

// Close останавливает прием заданий и дожидается, пока воркер
// обработает уже поставленные
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		for _, key := range task.Keys {
			ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
			if err := q.deleter.DeleteObject(ctx, key); err != nil {
				log.Printf("[Cleanup] failed to delete object %s: %v", key, err)
			}
			cancel()
		}
	}
}
