package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/eta"
	"github.com/example/delivery-dispatch/internal/fees"
	"github.com/example/delivery-dispatch/internal/hub"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/partner"
	"github.com/example/delivery-dispatch/internal/payments"
	"github.com/example/delivery-dispatch/internal/storage"
)

// forward is the order state flow as code; cancellation is handled separately
// because it is reachable from every non-terminal state.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.StatusPendingPayment:     models.StatusConfirmed,
	models.StatusConfirmed:          models.StatusPreparing,
	models.StatusPreparing:          models.StatusReadyForPickup,
	models.StatusReadyForPickup:     models.StatusAssignedToDelivery,
	models.StatusAssignedToDelivery: models.StatusPickedUp,
	models.StatusPickedUp:           models.StatusOutForDelivery,
	models.StatusOutForDelivery:     models.StatusDelivered,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.OrderStatus) bool {
	if to == models.StatusCancelled {
		return !from.Terminal()
	}
	return forward[from] == to
}

// Dispatcher is what the machine needs from the dispatch engine; the concrete
// engine is injected after construction to break the mutual dependency.
type Dispatcher interface {
	Assign(ctx context.Context, orderID string) (*models.Assignment, error)
}

// Meta carries per-transition context: who acted, where, and which
// confirmation code (if any) they presented.
type Meta struct {
	Actor      string
	Note       string
	Location   *models.Location
	Code       string
	PartnerID  string
	Assignment *models.Assignment
}

// Machine validates and applies order status transitions, invoking side
// effects (fee capture, partner release, dispatch, fan-out) as states are
// reached. All writes are conditioned on the order's current status so
// concurrent mutually-exclusive transitions cannot both succeed.
type Machine struct {
	store    storage.OrderStore
	partners partner.Registry
	payments payments.Gateway
	hub      *hub.Hub
	notifier Notifier
	calc     *fees.Calculator
	cfg      config.DispatchConfig
	logger   *slog.Logger

	dispatcher Dispatcher
	now        func() time.Time
}

// Notifier mirrors notify.Gateway; declared locally so tests can fake it
// without importing the notify package.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, payload interface{}) error
}

func NewMachine(store storage.OrderStore, partners partner.Registry, pay payments.Gateway, h *hub.Hub, notifier Notifier, calc *fees.Calculator, cfg config.DispatchConfig, logger *slog.Logger) *Machine {
	return &Machine{
		store:    store,
		partners: partners,
		payments: pay,
		hub:      h,
		notifier: notifier,
		calc:     calc,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetDispatcher wires the dispatch engine in; must be called before any order
// can reach ready_for_pickup.
func (m *Machine) SetDispatcher(d Dispatcher) { m.dispatcher = d }

type CreateCommand struct {
	UserID       string
	RestaurantID string
	Type         models.OrderType
	Items        []models.OrderItem
	Pickup       models.Location
	Dropoff      models.Location
	PromoCode    string
	Currency     string
}

// Create quotes the order, places a payment hold, and persists the order in
// pending_payment with its first tracking entry.
func (m *Machine) Create(ctx context.Context, cmd CreateCommand) (*models.Order, error) {
	if cmd.UserID == "" || cmd.RestaurantID == "" {
		return nil, fmt.Errorf("%w: missing user or restaurant", apperr.ErrInvalidOrder)
	}
	if cmd.Type == "" {
		cmd.Type = models.TypeDelivery
	}
	f, err := m.calc.Quote(ctx, cmd.RestaurantID, cmd.Items, cmd.Pickup, cmd.Dropoff, cmd.PromoCode)
	if err != nil {
		return nil, err
	}

	id := newID()
	currency := cmd.Currency
	if currency == "" {
		currency = "inr"
	}
	chargeRef, err := m.payments.Hold(ctx, toMinorUnits(f.Total), currency, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPaymentFailed, err)
	}

	now := m.now()
	o := &models.Order{
		ID:              id,
		UserID:          cmd.UserID,
		RestaurantID:    cmd.RestaurantID,
		Type:            cmd.Type,
		Status:          models.StatusPendingPayment,
		Items:           cmd.Items,
		PickupLocation:  cmd.Pickup,
		DropoffLocation: cmd.Dropoff,
		Fees:            f,
		ChargeRef:       chargeRef,
		Tracking: []models.TrackingEntry{
			{Status: models.StatusPendingPayment, Note: "order placed", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	observability.OrdersCreated.Inc()
	m.publish(o, "order_created")
	return o, nil
}

// ConfirmPayment moves a paid order from pending_payment to confirmed.
func (m *Machine) ConfirmPayment(ctx context.Context, orderID string) (*models.Order, error) {
	return m.Transition(ctx, orderID, models.StatusConfirmed, Meta{Actor: "payment", Note: "payment confirmed"})
}

// Transition validates the edge, appends one tracking entry atomically with
// the status write, applies state-specific side effects, and fans the change
// out through the hub.
func (m *Machine) Transition(ctx context.Context, orderID string, to models.OrderStatus, meta Meta) (*models.Order, error) {
	if to == models.StatusCancelled {
		return m.Cancel(ctx, orderID, meta.Note, meta.Actor)
	}
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrIllegalTransition, o.Status, to)
	}
	if err := m.checkCode(o, to, meta.Code); err != nil {
		return nil, err
	}

	now := m.now()
	patch := storage.Patch{}
	switch to {
	case models.StatusAssignedToDelivery:
		if meta.PartnerID == "" || meta.Assignment == nil {
			return nil, fmt.Errorf("%w: assignment required", apperr.ErrIllegalTransition)
		}
		pid := meta.PartnerID
		patch.DeliveryPartnerID = &pid
		patch.Assignment = meta.Assignment
		est := now.Add(time.Duration(eta.EstimateSeconds(o.PickupLocation, o.DropoffLocation, m.cfg.DefaultSpeedMps)) * time.Second)
		patch.EstimatedDeliveryTime = &est
	case models.StatusDelivered:
		patch.ActualDeliveryTime = &now
		if o.ChargeRef != "" {
			captured := true
			patch.PaymentCaptured = &captured
		}
	}

	entry := models.TrackingEntry{Status: to, Location: meta.Location, Note: meta.Note, Timestamp: now}
	ok, err := m.store.UpdateStatus(ctx, orderID, o.Status, to, entry, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s moved past %s", apperr.ErrConflictingUpdate, orderID, o.Status)
	}
	observability.TransitionsTotal.WithLabelValues(string(to)).Inc()

	updated, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch to {
	case models.StatusDelivered:
		m.settleDelivered(ctx, updated)
	case models.StatusReadyForPickup:
		if updated.Type == models.TypeDelivery && m.dispatcher != nil {
			go m.autoDispatch(updated.ID)
		}
	}

	m.publish(updated, "status_changed")
	m.notifyUser(updated.UserID, map[string]interface{}{
		"type":     "order_update",
		"order_id": updated.ID,
		"status":   updated.Status,
	})
	return updated, nil
}

// Cancel is allowed from any non-terminal state. A second cancel returns
// AlreadyCancelled and leaves everything unchanged; callers treat that as a
// no-op success.
func (m *Machine) Cancel(ctx context.Context, orderID, reason, actor string) (*models.Order, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.StatusCancelled {
		return nil, apperr.ErrAlreadyCancelled
	}
	if o.Status == models.StatusDelivered {
		return nil, fmt.Errorf("%w: delivered orders cannot be cancelled", apperr.ErrIllegalTransition)
	}

	now := m.now()
	note := reason
	if actor != "" {
		note = fmt.Sprintf("cancelled by %s: %s", actor, reason)
	}
	entry := models.TrackingEntry{Status: models.StatusCancelled, Note: note, Timestamp: now}
	ok, err := m.store.UpdateStatus(ctx, orderID, o.Status, models.StatusCancelled, entry, storage.Patch{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s moved past %s", apperr.ErrConflictingUpdate, orderID, o.Status)
	}
	observability.TransitionsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()

	if o.DeliveryPartnerID != nil {
		if err := m.partners.Release(ctx, *o.DeliveryPartnerID); err != nil {
			m.logger.Error("partner release failed", "partner_id", *o.DeliveryPartnerID, "error", err)
		}
	}
	m.unwindPayment(ctx, o)

	updated, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m.publish(updated, "order_cancelled")
	m.notifyUser(updated.UserID, map[string]interface{}{
		"type":     "order_cancelled",
		"order_id": updated.ID,
		"reason":   reason,
	})
	return updated, nil
}

func (m *Machine) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return m.store.Get(ctx, orderID)
}

func (m *Machine) settleDelivered(ctx context.Context, o *models.Order) {
	if o.ChargeRef != "" {
		if err := m.payments.Capture(ctx, o.ChargeRef); err != nil {
			m.logger.Error("payment capture failed", "order_id", o.ID, "error", err)
		}
	}
	if o.DeliveryPartnerID != nil {
		if err := m.partners.Complete(ctx, *o.DeliveryPartnerID); err != nil {
			m.logger.Error("partner completion failed", "partner_id", *o.DeliveryPartnerID, "error", err)
		}
	}
}

// unwindPayment refunds a captured charge, or voids the hold when nothing was
// captured yet.
func (m *Machine) unwindPayment(ctx context.Context, o *models.Order) {
	if o.ChargeRef == "" {
		return
	}
	if o.PaymentCaptured {
		if _, err := m.payments.Refund(ctx, o.ChargeRef, 0); err != nil {
			m.logger.Error("refund failed", "order_id", o.ID, "error", err)
		}
		return
	}
	if err := m.payments.VoidHold(ctx, o.ChargeRef); err != nil {
		m.logger.Error("void hold failed", "order_id", o.ID, "error", err)
	}
}

func (m *Machine) checkCode(o *models.Order, to models.OrderStatus, code string) error {
	if code == "" || o.Assignment == nil {
		return nil
	}
	switch to {
	case models.StatusPickedUp:
		if code != o.Assignment.PickupCode {
			return fmt.Errorf("%w: pickup code mismatch", apperr.ErrInvalidOrder)
		}
	case models.StatusDelivered:
		if code != o.Assignment.DropoffCode {
			return fmt.Errorf("%w: dropoff code mismatch", apperr.ErrInvalidOrder)
		}
	}
	return nil
}

func (m *Machine) autoDispatch(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AssignTimeout)
	defer cancel()
	if _, err := m.dispatcher.Assign(ctx, orderID); err != nil {
		m.logger.Warn("auto-dispatch failed", "order_id", orderID, "error", err)
	}
}

func (m *Machine) publish(o *models.Order, event string) {
	if m.hub == nil {
		return
	}
	ev := hub.Envelope{Event: event, Data: o}
	m.hub.Publish(hub.OrderChannel(o.ID), ev)
	m.hub.Publish(hub.UserChannel(o.UserID), ev)
	if o.DeliveryPartnerID != nil && deliveryRelevant(o.Status) {
		m.hub.Publish(hub.PartnerChannel(*o.DeliveryPartnerID), ev)
	}
}

func deliveryRelevant(s models.OrderStatus) bool {
	switch s {
	case models.StatusAssignedToDelivery, models.StatusPickedUp,
		models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled:
		return true
	}
	return false
}

// notifyUser is best-effort: a flaky notification channel never blocks order
// progress, so failures are logged and swallowed.
func (m *Machine) notifyUser(userID string, payload interface{}) {
	if m.notifier == nil {
		return
	}
	timeout := m.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.notifier.SendToUser(ctx, userID, payload); err != nil {
		m.logger.Warn("notification delivery failed", "user_id", userID, "error", err)
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
