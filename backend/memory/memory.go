/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/mapjoin/backend"
	"github.com/pickme-go/metrics/v2"
)

func init() {
	backend.Register(`memory`, func(_ string, logger log.Logger) backend.Builder {
		config := NewConfig()
		config.Logger = logger
		return Builder(config)
	})
}

type Config struct {
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	return &Config{
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
	}
}

type memoryBackend struct {
	name    string
	records map[string][]byte
	size    int64
	mu      *sync.RWMutex
	logger  log.Logger
	metrics struct {
		size metrics.Gauge
	}
}

func Builder(config *Config) backend.Builder {
	return func(name string) (backend.Backend, error) {
		b := NewMemoryBackend(config.Logger, config.MetricsReporter).(*memoryBackend)
		b.name = name
		return b, nil
	}
}

func NewMemoryBackend(logger log.Logger, reporter metrics.Reporter) backend.Backend {
	m := &memoryBackend{
		name:    `memory`,
		records: make(map[string][]byte),
		mu:      new(sync.RWMutex),
		logger:  logger.NewLog(log.Prefixed(`memory-backend`)),
	}

	m.metrics.size = reporter.Gauge(metrics.MetricConf{
		Path:   `mapjoin_backend_memory_bytes`,
		Labels: []string{`name`},
	})

	return m
}

func (m *memoryBackend) Name() string {
	return m.name
}

func (m *memoryBackend) String() string {
	return fmt.Sprintf(`memory backend [%s] with %d records`, m.name, m.len())
}

func (m *memoryBackend) Persistent() bool {
	return false
}

func (m *memoryBackend) Set(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// values are copied so callers may reuse their buffers
	v := make([]byte, len(value))
	copy(v, value)

	if old, ok := m.records[string(key)]; ok {
		m.size -= int64(len(old))
	}
	m.records[string(key)] = v
	m.size += int64(len(v))
	m.metrics.size.Count(float64(m.size), map[string]string{`name`: m.name})

	return nil
}

func (m *memoryBackend) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.records[string(key)]
	if !ok {
		return nil, nil
	}

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memoryBackend) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.records[string(key)]; ok {
		m.size -= int64(len(old))
		delete(m.records, string(key))
		m.metrics.size.Count(float64(m.size), map[string]string{`name`: m.name})
	}

	return nil
}

// Iterator walks a snapshot of the keys taken at call time in byte order.
func (m *memoryBackend) Iterator() backend.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &iterator{keys: keys, backend: m}
}

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string][]byte)
	m.size = 0
	m.logger.Info(fmt.Sprintf(`backend [%s] closed`, m.name))
	return nil
}

func (m *memoryBackend) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

type iterator struct {
	keys    []string
	cur     int
	backend *memoryBackend
}

func (i *iterator) SeekToFirst() {
	i.cur = 0
}

func (i *iterator) Valid() bool {
	return i.cur < len(i.keys)
}

func (i *iterator) Next() {
	i.cur++
}

func (i *iterator) Key() []byte {
	return []byte(i.keys[i.cur])
}

func (i *iterator) Value() []byte {
	v, _ := i.backend.Get([]byte(i.keys[i.cur]))
	return v
}

func (i *iterator) Close() {
	i.keys = nil
}
