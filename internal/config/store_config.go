package config

import (
	"strconv"
	"time"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetStoreTimeout() time.Duration
	GetValkeyAddress() string
	GetValkeyPassword() string
	GetValkeyDB() int
	GetValkeyKeyPrefix() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetStoreBackend selects the grant store: "memory" (default) or
// "valkey". Setting VALKEY_ADDR implies "valkey".
func (Store) GetStoreBackend() string {
	backend := GetEnv("STORE_BACKEND", "")
	if backend != "" {
		return backend
	}
	if GetEnv("VALKEY_ADDR", "") != "" {
		return "valkey"
	}
	return "memory"
}

func (Store) GetStoreTimeout() time.Duration {
	return GetDurationEnv("STORE_TIMEOUT", 5*time.Second)
}

func (Store) GetValkeyAddress() string {
	return GetEnv("VALKEY_ADDR", "localhost:6379")
}

func (Store) GetValkeyPassword() string {
	return GetEnv("VALKEY_PASSWORD", "")
}

func (Store) GetValkeyDB() int {
	db, err := strconv.Atoi(GetEnv("VALKEY_DB", "0"))
	if err != nil {
		return 0
	}
	return db
}

func (Store) GetValkeyKeyPrefix() string {
	return GetEnv("VALKEY_KEY_PREFIX", "oauth")
}
