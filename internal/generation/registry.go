package generation

import (
	"sort"
	"sync"

	"github.com/fedutinova/shopgen/internal/common"
)

// Models maps a model selector to the vendor client serving it.
type Models struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewModels() *Models {
	return &Models{clients: make(map[string]Client)}
}

func (m *Models) Register(model string, c Client) {
	m.mu.Lock()
	m.clients[model] = c
	m.mu.Unlock()
}

func (m *Models) Lookup(model string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[model]
	if !ok {
		return nil, common.InvalidInput("model %q is not available", model)
	}
	return c, nil
}

// Available lists the registered selectors, sorted.
func (m *Models) Available() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for k := range m.clients {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
