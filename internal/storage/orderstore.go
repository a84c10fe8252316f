package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/models"
)

// Patch carries the optional field changes applied together with a status move.
type Patch struct {
	DeliveryPartnerID     *string
	Assignment            *models.Assignment
	EstimatedDeliveryTime *time.Time
	ActualDeliveryTime    *time.Time
	PaymentCaptured       *bool
}

// OrderStore defines persistence for orders. UpdateStatus is conditional on
// the order's current status and appends the tracking entry in the same
// operation: a transition that updates status but loses its history entry, or
// vice versa, is a correctness bug.
type OrderStore interface {
	Insert(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, entry models.TrackingEntry, patch Patch) (bool, error)
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryStore) Insert(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := cloneOrder(o)
	m.orders[o.ID] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, entry models.TrackingEntry, patch Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.Tracking = append(o.Tracking, entry)
	applyPatch(o, patch)
	o.UpdatedAt = entry.Timestamp
	return true, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func applyPatch(o *models.Order, p Patch) {
	if p.DeliveryPartnerID != nil {
		o.DeliveryPartnerID = p.DeliveryPartnerID
	}
	if p.Assignment != nil {
		o.Assignment = p.Assignment
	}
	if p.EstimatedDeliveryTime != nil {
		o.EstimatedDeliveryTime = p.EstimatedDeliveryTime
	}
	if p.ActualDeliveryTime != nil {
		o.ActualDeliveryTime = p.ActualDeliveryTime
	}
	if p.PaymentCaptured != nil {
		o.PaymentCaptured = *p.PaymentCaptured
	}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	cp.Tracking = append([]models.TrackingEntry(nil), o.Tracking...)
	if o.Assignment != nil {
		a := *o.Assignment
		cp.Assignment = &a
	}
	if o.DeliveryPartnerID != nil {
		id := *o.DeliveryPartnerID
		cp.DeliveryPartnerID = &id
	}
	return &cp
}
