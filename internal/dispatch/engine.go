package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/eta"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/hub"
	"github.com/example/delivery-dispatch/internal/lifecycle"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/partner"
	"github.com/example/delivery-dispatch/internal/storage"
)

// Transitioner is what the engine needs from the order state machine.
type Transitioner interface {
	Transition(ctx context.Context, orderID string, to models.OrderStatus, meta lifecycle.Meta) (*models.Order, error)
}

// Notifier delivers the new-assignment push to the selected partner.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, payload interface{}) error
}

// Engine matches ready orders to available partners. Reservation is a
// conditional claim on the registry; when a candidate is snatched by a
// concurrent dispatch the engine moves to the next one, and re-queries the
// geo index once before giving up a radius ring.
type Engine struct {
	Geo       geo.GeoIndex
	Partners  partner.Registry
	Orders    storage.OrderStore
	Lifecycle Transitioner
	Notifier  Notifier
	Hub       *hub.Hub
	ETACache  *eta.Cache
	Cfg       config.DispatchConfig
	Logger    *slog.Logger

	mu       sync.Mutex
	cooldown map[string]map[string]time.Time // orderID -> partnerID -> expiry

	now func() time.Time
}

func NewEngine(g geo.GeoIndex, reg partner.Registry, orders storage.OrderStore, lc Transitioner, n Notifier, h *hub.Hub, cfg config.DispatchConfig, logger *slog.Logger) *Engine {
	return &Engine{
		Geo:       g,
		Partners:  reg,
		Orders:    orders,
		Lifecycle: lc,
		Notifier:  n,
		Hub:       h,
		ETACache:  eta.NewCache(time.Minute),
		Cfg:       cfg,
		Logger:    logger,
		cooldown:  make(map[string]map[string]time.Time),
		now:       time.Now,
	}
}

// Assign selects and reserves a partner for orderID and moves the order to
// assigned_to_delivery. The search expands through the radius schedule and is
// bounded by the assign timeout; with no reservable candidate anywhere it
// fails with NoPartnerAvailable and the order stays in ready_for_pickup.
func (e *Engine) Assign(ctx context.Context, orderID string) (*models.Assignment, error) {
	o, err := e.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusReadyForPickup {
		return nil, fmt.Errorf("%w: order %s is %s, want %s", apperr.ErrIllegalTransition, orderID, o.Status, models.StatusReadyForPickup)
	}

	timeout := e.Cfg.AssignTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()
	partnerID, err := e.reserve(ctx, o)
	if err != nil {
		observability.DispatchFailures.Inc()
		return nil, err
	}
	observability.AssignmentLatency.Observe(e.now().Sub(start).Seconds())

	asg := &models.Assignment{
		OrderID:             orderID,
		PartnerID:           partnerID,
		AssignedAt:          e.now(),
		PickupCode:          numericCode(4),
		DropoffCode:         numericCode(4),
		EstimatedPickupTime: e.estimatePickup(ctx, partnerID, o.PickupLocation),
	}

	if _, err := e.Lifecycle.Transition(ctx, orderID, models.StatusAssignedToDelivery, lifecycle.Meta{
		Actor:      "system",
		Note:       "partner assigned",
		PartnerID:  partnerID,
		Assignment: asg,
	}); err != nil {
		if relErr := e.Partners.Release(ctx, partnerID); relErr != nil {
			e.Logger.Error("release after failed transition", "partner_id", partnerID, "error", relErr)
		}
		return nil, err
	}
	observability.AssignmentsTotal.Inc()

	e.notifyPartner(partnerID, asg)
	return asg, nil
}

// reserve walks the radius schedule twice: candidates lost to a concurrent
// claim are skipped, and the second pass is the single re-query the contract
// allows after a ring is exhausted.
func (e *Engine) reserve(ctx context.Context, o *models.Order) (string, error) {
	for pass := 0; pass < 2; pass++ {
		for _, radius := range e.Cfg.RadiusScheduleKm {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: search timed out", apperr.ErrNoPartnerAvailable)
			}
			cands := e.Geo.FindCandidates(o.PickupLocation, radius, e.Cfg.CandidateLimit)
			for _, c := range cands {
				if e.onCooldown(o.ID, c.ID) {
					continue
				}
				ok, err := e.Partners.Reserve(ctx, c.ID, o.ID)
				if err != nil {
					e.Logger.Error("reservation attempt failed", "partner_id", c.ID, "error", err)
					continue
				}
				if !ok {
					observability.ReservationRaces.Inc()
					continue
				}
				return c.ID, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no reservable partner within %.0f km", apperr.ErrNoPartnerAvailable, maxRadius(e.Cfg.RadiusScheduleKm))
}

// Reject releases the partner, puts them on a cool-down for this order so
// they are not immediately re-offered, reverts the order to ready_for_pickup,
// and re-runs assignment.
func (e *Engine) Reject(ctx context.Context, orderID, partnerID, reason string) (*models.Assignment, error) {
	o, err := e.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusAssignedToDelivery || o.DeliveryPartnerID == nil || *o.DeliveryPartnerID != partnerID {
		return nil, fmt.Errorf("%w: order %s has no active assignment for partner %s", apperr.ErrIllegalTransition, orderID, partnerID)
	}

	note := fmt.Sprintf("assignment rejected by partner: %s", reason)
	entry := models.TrackingEntry{Status: models.StatusReadyForPickup, Note: note, Timestamp: e.now()}
	ok, err := e.Orders.UpdateStatus(ctx, orderID, models.StatusAssignedToDelivery, models.StatusReadyForPickup, entry, storage.Patch{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s moved during reject", apperr.ErrConflictingUpdate, orderID)
	}
	if err := e.Partners.Release(ctx, partnerID); err != nil {
		e.Logger.Error("release on reject failed", "partner_id", partnerID, "error", err)
	}
	e.addCooldown(orderID, partnerID)

	if e.Hub != nil {
		e.Hub.Publish(hub.OrderChannel(orderID), hub.Envelope{Event: "assignment_rejected", Data: map[string]string{
			"order_id": orderID, "partner_id": partnerID, "reason": reason,
		}})
	}
	return e.Assign(ctx, orderID)
}

// RunRetry periodically re-attempts dispatch for delivery orders stuck in
// ready_for_pickup, so a momentary partner drought does not fail the order
// permanently.
func (e *Engine) RunRetry(ctx context.Context) {
	interval := e.Cfg.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.retryPending(ctx)
		}
	}
}

func (e *Engine) retryPending(ctx context.Context) {
	orders, err := e.Orders.ListByStatus(ctx, models.StatusReadyForPickup)
	if err != nil {
		e.Logger.Error("retry scan failed", "error", err)
		return
	}
	for _, o := range orders {
		if o.Type != models.TypeDelivery {
			continue
		}
		if _, err := e.Assign(ctx, o.ID); err != nil {
			e.Logger.Debug("retry assign", "order_id", o.ID, "error", err)
		}
	}
}

func (e *Engine) estimatePickup(ctx context.Context, partnerID string, pickup models.Location) time.Time {
	p, err := e.Partners.Get(ctx, partnerID)
	if err != nil {
		return e.now().Add(10 * time.Minute)
	}
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(p.CurrentLocation, pickup); ok {
			return e.now().Add(time.Duration(v) * time.Second)
		}
	}
	sec := eta.EstimateSeconds(p.CurrentLocation, pickup, e.Cfg.DefaultSpeedMps)
	if e.ETACache != nil {
		e.ETACache.Set(p.CurrentLocation, pickup, sec)
	}
	return e.now().Add(time.Duration(sec) * time.Second)
}

func (e *Engine) notifyPartner(partnerID string, asg *models.Assignment) {
	if e.Hub != nil {
		e.Hub.Publish(hub.PartnerChannel(partnerID), hub.Envelope{Event: "new_assignment", Data: asg})
	}
	if e.Notifier == nil {
		return
	}
	timeout := e.Cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// notification failure never rolls back the reservation; the partner can
	// still see the assignment through reconnect
	if err := e.Notifier.SendToUser(ctx, partnerID, map[string]interface{}{
		"type":       "new_assignment",
		"assignment": asg,
	}); err != nil {
		e.Logger.Warn("partner notification failed", "partner_id", partnerID, "error", err)
	}
}

func (e *Engine) onCooldown(orderID, partnerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.cooldown[orderID]
	if !ok {
		return false
	}
	until, ok := m[partnerID]
	if !ok {
		return false
	}
	if e.now().After(until) {
		delete(m, partnerID)
		if len(m) == 0 {
			delete(e.cooldown, orderID)
		}
		return false
	}
	return true
}

func (e *Engine) addCooldown(orderID, partnerID string) {
	cd := e.Cfg.RejectCooldown
	if cd <= 0 {
		cd = 10 * time.Minute
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.cooldown[orderID]
	if !ok {
		m = make(map[string]time.Time)
		e.cooldown[orderID] = m
	}
	m[partnerID] = e.now().Add(cd)
}

func maxRadius(schedule []float64) float64 {
	var max float64
	for _, r := range schedule {
		if r > max {
			max = r
		}
	}
	return max
}

// numericCode returns an n-digit confirmation code for in-person handoff.
func numericCode(n int) string {
	limit := big.NewInt(1)
	for i := 0; i < n; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return fmt.Sprintf("%0*d", n, time.Now().UnixNano()%10000)
	}
	return fmt.Sprintf("%0*d", n, v)
}
