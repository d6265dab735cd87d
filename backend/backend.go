/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package backend

import (
	"sync"

	"github.com/pickme-go/log/v2"
)

type Builder func(name string) (Backend, error)

// Backend is a byte oriented key value store. Broadcast blobs are kept in a Backend
// until the job that registered them is done.
type Backend interface {
	Name() string
	Set(key []byte, value []byte) error
	// Get returns a nil slice and no error when the key does not exist.
	Get(key []byte) ([]byte, error)
	Iterator() Iterator
	Delete(key []byte) error
	String() string
	Persistent() bool
	Close() error
}

type Iterator interface {
	SeekToFirst()
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close()
}

// Factory creates a Builder for backends rooted at dir.
type Factory func(dir string, logger log.Logger) Builder

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a backend available by name to configuration files.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

func Lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}
