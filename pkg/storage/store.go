// Package storage is the key/value persistence used for conversations and
// loop snapshots. Callers treat every backend as fallible and keep working
// from memory when a call fails.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("storage: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverLibSQL = "libsql"
)

// Open returns the backend named by driver. path is ignored for the memory
// driver.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverBolt:
		return OpenBolt(path)
	case DriverLibSQL, "sqlite":
		return OpenLibSQL(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
