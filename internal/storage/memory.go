package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
)

// Memory implements KV and ImageStore in process memory.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	images map[string]storedImage
}

type storedImage struct {
	item gallery.Item
	data []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		images: make(map[string]storedImage),
	}
}

// Get implements KV.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements KV.
func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

// Images exposes m as an ImageStore.
func (m *Memory) Images() ImageStore {
	return memoryImages{m}
}

type memoryImages struct{ m *Memory }

func (mi memoryImages) Put(_ context.Context, item gallery.Item, data []byte) error {
	mi.m.mu.Lock()
	mi.m.images[item.ID] = storedImage{item: item, data: append([]byte(nil), data...)}
	mi.m.mu.Unlock()
	return nil
}

func (mi memoryImages) GetAll(_ context.Context) ([]gallery.Item, error) {
	mi.m.mu.RLock()
	items := make([]gallery.Item, 0, len(mi.m.images))
	for _, img := range mi.m.images {
		items = append(items, img.item)
	}
	mi.m.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (mi memoryImages) Get(_ context.Context, id string) (gallery.Item, []byte, error) {
	mi.m.mu.RLock()
	defer mi.m.mu.RUnlock()
	img, ok := mi.m.images[id]
	if !ok {
		return gallery.Item{}, nil, ErrImageNotFound
	}
	return img.item, append([]byte(nil), img.data...), nil
}
