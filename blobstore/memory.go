package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryBlob struct {
	data     []byte
	modified time.Time
}

// Memory keeps blobs in process memory.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[name]
	return ok, nil
}

func (m *Memory) Read(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[name]
	if !ok {
		return nil, notFound(name)
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

func (m *Memory) Write(ctx context.Context, name string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = memoryBlob{data: buf, modified: time.Now().UTC()}
	return nil
}

func (m *Memory) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[name]; !ok {
		return false, nil
	}
	delete(m.blobs, name)
	return true, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var blobs []Blob
	for name, b := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			blobs = append(blobs, Blob{Name: name, Length: int64(len(b.data)), LastModified: b.modified})
		}
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (m *Memory) Close() error {
	return nil
}
