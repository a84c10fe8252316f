package fees

import (
	"context"
	"strings"
	"sync"

	"github.com/example/delivery-dispatch/internal/models"
)

// StaticMenu is an in-memory MenuChecker keyed by restaurant then item.
// Items not present are treated as unavailable.
type StaticMenu struct {
	mu    sync.RWMutex
	items map[string]map[string]bool
}

func NewStaticMenu() *StaticMenu {
	return &StaticMenu{items: make(map[string]map[string]bool)}
}

func (m *StaticMenu) Set(restaurantID, menuItemID string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[restaurantID]
	if !ok {
		r = make(map[string]bool)
		m.items[restaurantID] = r
	}
	r[menuItemID] = available
}

func (m *StaticMenu) Available(ctx context.Context, restaurantID, menuItemID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[restaurantID][menuItemID], nil
}

// StaticPromos is an in-memory PromoResolver; codes are case-insensitive.
type StaticPromos struct {
	mu    sync.RWMutex
	codes map[string]models.PromoCode
}

func NewStaticPromos() *StaticPromos {
	return &StaticPromos{codes: make(map[string]models.PromoCode)}
}

func (p *StaticPromos) Add(c models.PromoCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[strings.ToUpper(c.Code)] = c
}

func (p *StaticPromos) Resolve(ctx context.Context, code string) (models.PromoCode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.codes[strings.ToUpper(code)]
	return c, ok
}
