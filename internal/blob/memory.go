package blob

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/runledger/runledger/internal/model"
)

// Memory is an in-process Store for tests. It mirrors the S3 semantics the
// pipeline depends on: overwrite-safe puts, prefix listing, and tier tags.
// An optional FailPut hook injects write failures for retry tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject

	// FailPut, when non-nil, is consulted before every Put. Returning a
	// non-nil error aborts the write without mutating state.
	FailPut func(key string) error
}

type memObject struct {
	data        []byte
	contentType string
	tier        model.StorageTier
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memObject{data: cp, contentType: contentType, tier: model.TierHot}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) SetTier(ctx context.Context, key string, tier model.StorageTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return ErrNotFound
	}
	obj.tier = tier
	m.objects[key] = obj
	return nil
}

func (m *Memory) Tier(ctx context.Context, key string) (model.StorageTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return "", ErrNotFound
	}
	return obj.tier, nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
