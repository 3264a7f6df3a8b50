package learn

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MemoryMetrics counts reuses of fitted stages.
type MemoryMetrics interface {
	MemoryHitInc()
}

// Memory caches fitted pipeline prefixes in process. Concurrent requests for
// the same key wait for a single fit. Entries live as long as the Memory; a
// Memory must only be shared by pipelines trained on the same data splits.
type Memory struct {
	Metrics MemoryMetrics

	mu      sync.Mutex
	entries map[string]any
	group   singleflight.Group
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]any)}
}

func (m *Memory) do(key string, fit func() (any, error)) (any, error) {
	if v, ok := m.lookup(key); ok {
		m.hit()
		return v, nil
	}

	ran := false
	v, err, _ := m.group.Do(key, func() (any, error) {
		// a previous flight may have finished since the lookup above
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		ran = true
		v, err := fit()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.entries == nil {
			m.entries = make(map[string]any)
		}
		m.entries[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err == nil && !ran {
		m.hit()
	}
	return v, err
}

func (m *Memory) lookup(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) hit() {
	if m.Metrics != nil {
		m.Metrics.MemoryHitInc()
	}
}

// Len returns the number of cached prefixes.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type foldKey struct{}

// WithFold tags ctx with the id of the training split being fit. Pipelines
// only consult their Memory when a fold id is present.
func WithFold(ctx context.Context, fold string) context.Context {
	return context.WithValue(ctx, foldKey{}, fold)
}

func foldFrom(ctx context.Context) (string, bool) {
	fold, ok := ctx.Value(foldKey{}).(string)
	return fold, ok
}
