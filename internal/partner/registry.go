package partner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/models"
)

// Registry is the durable record of delivery partners. Reserve is the hot
// contention point: it must be a conditional claim, never read-then-write,
// so two orders can never hold the same partner.
type Registry interface {
	Get(ctx context.Context, id string) (models.DeliveryPartner, error)
	Upsert(ctx context.Context, p models.DeliveryPartner) error
	UpdateLocation(ctx context.Context, u models.LocationUpdate) error

	// Reserve atomically claims the partner for orderID. It returns false
	// (without error) when the partner was already claimed or unknown.
	Reserve(ctx context.Context, partnerID, orderID string) (bool, error)

	// Release returns the partner to the available pool.
	Release(ctx context.Context, partnerID string) error

	// Complete releases the partner and credits one finished delivery.
	Complete(ctx context.Context, partnerID string) error
}

type MemoryRegistry struct {
	mu       sync.Mutex
	partners map[string]models.DeliveryPartner
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{partners: make(map[string]models.DeliveryPartner)}
}

func (m *MemoryRegistry) Get(ctx context.Context, id string) (models.DeliveryPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return models.DeliveryPartner{}, fmt.Errorf("%w: partner %s", apperr.ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryRegistry) Upsert(ctx context.Context, p models.DeliveryPartner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Updated = time.Now()
	m.partners[p.ID] = p
	return nil
}

func (m *MemoryRegistry) UpdateLocation(ctx context.Context, u models.LocationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[u.PartnerID]
	if !ok {
		p = models.DeliveryPartner{ID: u.PartnerID, IsAvailable: u.Available}
	}
	p.CurrentLocation = u.Loc
	p.Rating = u.Rating
	// a reserved partner stays reserved regardless of what the client reports
	if p.CurrentOrderID == nil {
		p.IsAvailable = u.Available
	}
	p.Updated = time.Now()
	m.partners[u.PartnerID] = p
	return nil
}

func (m *MemoryRegistry) Reserve(ctx context.Context, partnerID, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[partnerID]
	if !ok || !p.IsAvailable {
		return false, nil
	}
	p.IsAvailable = false
	p.CurrentOrderID = &orderID
	p.Updated = time.Now()
	m.partners[partnerID] = p
	return true, nil
}

func (m *MemoryRegistry) Release(ctx context.Context, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[partnerID]
	if !ok {
		return fmt.Errorf("%w: partner %s", apperr.ErrNotFound, partnerID)
	}
	p.IsAvailable = true
	p.CurrentOrderID = nil
	p.Updated = time.Now()
	m.partners[partnerID] = p
	return nil
}

func (m *MemoryRegistry) Complete(ctx context.Context, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[partnerID]
	if !ok {
		return fmt.Errorf("%w: partner %s", apperr.ErrNotFound, partnerID)
	}
	p.IsAvailable = true
	p.CurrentOrderID = nil
	p.TotalDeliveries++
	p.Updated = time.Now()
	m.partners[partnerID] = p
	return nil
}
