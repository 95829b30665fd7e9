package cache

import (
	"errors"
	"time"
)

// ErrMiss возвращается адаптерами, когда ключ отсутствует или истёк.
var ErrMiss = errors.New("cache miss")

// Store описывает требования к key/value хранилищу с TTL.
// Кэш никогда не авторитетен: реализации не обязаны переживать рестарт,
// а конкурентные записи одного ключа разрешаются как last-writer-wins.
type Store interface {
	// Get возвращает значение или ErrMiss.
	Get(key string) ([]byte, error)
	// Set записывает значение с TTL. ttl <= 0 означает "без истечения".
	Set(key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключ. Отсутствие ключа ошибкой не считается.
	Delete(key string) error
	// Increment атомарно увеличивает счётчик и сбрасывает его TTL.
	// Возвращает новое значение счётчика.
	Increment(key string, ttl time.Duration) (int64, error)
}
