// Package testsupport provides in-memory stand-ins for the external systems the
// pipeline talks to.
package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"QFMIngest/storage"
)

// MemoryStore is a BlobStore backed by a map. Hooks inject failures per call.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]map[string]memObject

	// FailPut, FailGet and FailDelete are consulted before the operation; a
	// non-nil return aborts it with that error.
	FailPut    func(container, path string) error
	FailGet    func(container, path string) error
	FailDelete func(container, path string) error

	Puts    []string
	Deletes []string
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string]memObject)}
}

func key(container, path string) string { return container + "/" + path }

func (m *MemoryStore) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	if m.FailGet != nil {
		if err := m.FailGet(container, path); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[container][path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBlobNotFound, key(container, path))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) Put(ctx context.Context, container, path string, r io.Reader, size int64, contentType string) error {
	if m.FailPut != nil {
		if err := m.FailPut(container, path); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[container] == nil {
		m.objects[container] = make(map[string]memObject)
	}
	m.objects[container][path] = memObject{data: data, contentType: contentType, modified: time.Now()}
	m.Puts = append(m.Puts, key(container, path))
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, container, path string) error {
	if m.FailDelete != nil {
		if err := m.FailDelete(container, path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects[container], path)
	m.Deletes = append(m.Deletes, key(container, path))
	return nil
}

func (m *MemoryStore) EnsureContainer(ctx context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[container] == nil {
		m.objects[container] = make(map[string]memObject)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, container, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for p, obj := range m.objects[container] {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, storage.ObjectInfo{
			Key:          p,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			ContentType:  obj.contentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Seed stores data directly, bypassing hooks and the Puts log.
func (m *MemoryStore) Seed(container, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[container] == nil {
		m.objects[container] = make(map[string]memObject)
	}
	m.objects[container][path] = memObject{data: append([]byte(nil), data...), modified: time.Now()}
}

// Has reports whether the object exists.
func (m *MemoryStore) Has(container, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[container][path]
	return ok
}

// Bytes returns a copy of the stored object, or nil.
func (m *MemoryStore) Bytes(container, path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[container][path]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

// ContentType returns the content type the object was stored with.
func (m *MemoryStore) ContentType(container, path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[container][path].contentType
}

// Keys lists every path in container, sorted.
func (m *MemoryStore) Keys(container string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects[container]))
	for p := range m.objects[container] {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ storage.BlobStore = (*MemoryStore)(nil)
	_ storage.Lister    = (*MemoryStore)(nil)
)
