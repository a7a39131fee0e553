package settings

import "sync"

// Holder keeps the current settings value and hands out copies.
// Updates are whole-value replacements.
type Holder struct {
	mu    sync.RWMutex
	value AppSettings
}

// NewHolder returns a Holder seeded with initial.
func NewHolder(initial AppSettings) *Holder {
	return &Holder{value: initial.Normalize()}
}

// Get returns the current settings.
func (h *Holder) Get() AppSettings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Set replaces the current settings and returns the normalized value stored.
func (h *Holder) Set(next AppSettings) AppSettings {
	next = next.Normalize()
	h.mu.Lock()
	h.value = next
	h.mu.Unlock()
	return next
}
