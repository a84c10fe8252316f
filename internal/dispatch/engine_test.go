package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/lifecycle"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/partner"
	"github.com/example/delivery-dispatch/internal/storage"
)

// fakeGeo returns a fixed candidate list per radius ring.
type fakeGeo struct {
	rings map[float64][]geo.Candidate
}

func (f *fakeGeo) FindCandidates(origin models.Location, radiusKm float64, limit int) []geo.Candidate {
	return f.rings[radiusKm]
}

func (f *fakeGeo) Upsert(u models.LocationUpdate) {}

// fakeMachine applies the assignment transition directly against the store,
// standing in for the full state machine.
type fakeMachine struct {
	store storage.OrderStore
}

func (f *fakeMachine) Transition(ctx context.Context, orderID string, to models.OrderStatus, meta lifecycle.Meta) (*models.Order, error) {
	o, err := f.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	pid := meta.PartnerID
	entry := models.TrackingEntry{Status: to, Note: meta.Note, Timestamp: time.Now()}
	ok, err := f.store.UpdateStatus(ctx, orderID, o.Status, to, entry, storage.Patch{
		DeliveryPartnerID: &pid,
		Assignment:        meta.Assignment,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrConflictingUpdate
	}
	return f.store.Get(ctx, orderID)
}

type recordingNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (r *recordingNotifier) SendToUser(ctx context.Context, userID string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, userID)
	return nil
}

type engineFixture struct {
	engine   *Engine
	geo      *fakeGeo
	store    *storage.MemoryStore
	registry *partner.MemoryRegistry
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	g := &fakeGeo{rings: make(map[float64][]geo.Candidate)}
	store := storage.NewMemoryStore()
	registry := partner.NewMemoryRegistry()
	notifier := &recordingNotifier{}
	cfg := config.DispatchConfig{
		RadiusScheduleKm: []float64{3, 5, 10},
		CandidateLimit:   8,
		AssignTimeout:    2 * time.Second,
		RejectCooldown:   10 * time.Minute,
		NotifyTimeout:    time.Second,
		DefaultSpeedMps:  10,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(g, registry, store, &fakeMachine{store: store}, notifier, nil, cfg, logger)
	return &engineFixture{engine: e, geo: g, store: store, registry: registry, notifier: notifier}
}

func seedReadyOrder(t *testing.T, fx *engineFixture, id string) {
	t.Helper()
	err := fx.store.Insert(context.Background(), &models.Order{
		ID:     id,
		UserID: "u1",
		Type:   models.TypeDelivery,
		Status: models.StatusReadyForPickup,
		Tracking: []models.TrackingEntry{
			{Status: models.StatusReadyForPickup, Timestamp: time.Now()},
		},
	})
	if err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func seedPartner(t *testing.T, fx *engineFixture, id string) {
	t.Helper()
	if err := fx.registry.Upsert(context.Background(), models.DeliveryPartner{ID: id, IsAvailable: true}); err != nil {
		t.Fatalf("seed partner %s: %v", id, err)
	}
}

func TestAssignNoPartnerAvailable(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")

	_, err := fx.engine.Assign(context.Background(), "o1")
	if !errors.Is(err, apperr.ErrNoPartnerAvailable) {
		t.Fatalf("expected ErrNoPartnerAvailable, got %v", err)
	}
	o, _ := fx.store.Get(context.Background(), "o1")
	if o.Status != models.StatusReadyForPickup {
		t.Fatalf("failed dispatch moved the order to %s", o.Status)
	}
}

func TestAssignRequiresReadyOrder(t *testing.T) {
	fx := newEngineFixture(t)
	_ = fx.store.Insert(context.Background(), &models.Order{ID: "o1", Status: models.StatusConfirmed})
	_, err := fx.engine.Assign(context.Background(), "o1")
	if !errors.Is(err, apperr.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestAssignExpandsRadiusSchedule(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	seedPartner(t, fx, "p-far")
	// the only candidate sits in the outermost ring
	fx.geo.rings[10] = []geo.Candidate{{ID: "p-far", Rating: 4.8, DistanceKm: 8.2}}

	asg, err := fx.engine.Assign(context.Background(), "o1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if asg.PartnerID != "p-far" {
		t.Fatalf("assigned %s, want p-far", asg.PartnerID)
	}
	for _, code := range []string{asg.PickupCode, asg.DropoffCode} {
		if len(code) != 4 {
			t.Fatalf("confirmation code %q is not 4 digits", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("confirmation code %q contains non-digit", code)
			}
		}
	}

	o, _ := fx.store.Get(context.Background(), "o1")
	if o.Status != models.StatusAssignedToDelivery || o.DeliveryPartnerID == nil || *o.DeliveryPartnerID != "p-far" {
		t.Fatalf("order not assigned: %+v", o)
	}
	p, _ := fx.registry.Get(context.Background(), "p-far")
	if p.IsAvailable || p.CurrentOrderID == nil || *p.CurrentOrderID != "o1" {
		t.Fatalf("partner not reserved: %+v", p)
	}
	fx.notifier.mu.Lock()
	defer fx.notifier.mu.Unlock()
	if len(fx.notifier.sends) != 1 || fx.notifier.sends[0] != "p-far" {
		t.Fatalf("partner not notified: %v", fx.notifier.sends)
	}
}

func TestAssignSkipsClaimedCandidate(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	seedPartner(t, fx, "p1")
	seedPartner(t, fx, "p2")
	fx.geo.rings[3] = []geo.Candidate{
		{ID: "p1", Rating: 5.0, DistanceKm: 0.5},
		{ID: "p2", Rating: 4.0, DistanceKm: 1.5},
	}
	// p1 is already carrying another order; the stale index entry must be
	// skipped, not fail the dispatch
	if ok, _ := fx.registry.Reserve(context.Background(), "p1", "other"); !ok {
		t.Fatal("pre-reserve failed")
	}

	asg, err := fx.engine.Assign(context.Background(), "o1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if asg.PartnerID != "p2" {
		t.Fatalf("assigned %s, want p2", asg.PartnerID)
	}
}

func TestConcurrentAssignSinglePartner(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	seedReadyOrder(t, fx, "o2")
	seedPartner(t, fx, "p1")
	fx.geo.rings[3] = []geo.Candidate{{ID: "p1", Rating: 4.5, DistanceKm: 1}}

	var wg sync.WaitGroup
	results := make(map[string]error, 2)
	var mu sync.Mutex
	for _, id := range []string{"o1", "o2"} {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			_, err := fx.engine.Assign(context.Background(), orderID)
			mu.Lock()
			results[orderID] = err
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	var won, lost int
	for id, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, apperr.ErrNoPartnerAvailable):
			lost++
		default:
			t.Fatalf("order %s failed unexpectedly: %v", id, err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected one winner and one loser, got won=%d lost=%d", won, lost)
	}
	p, _ := fx.registry.Get(context.Background(), "p1")
	if p.CurrentOrderID == nil {
		t.Fatal("partner carries no order after concurrent assign")
	}
}

func TestRejectCooldownReassignsElsewhere(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	seedPartner(t, fx, "p1")
	seedPartner(t, fx, "p2")
	// p1 outranks p2, so p1 is assigned first
	fx.geo.rings[3] = []geo.Candidate{
		{ID: "p1", Rating: 5.0, DistanceKm: 0.5},
		{ID: "p2", Rating: 4.0, DistanceKm: 1.0},
	}

	first, err := fx.engine.Assign(context.Background(), "o1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if first.PartnerID != "p1" {
		t.Fatalf("assigned %s, want p1", first.PartnerID)
	}

	second, err := fx.engine.Reject(context.Background(), "o1", "p1", "vehicle breakdown")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if second.PartnerID != "p2" {
		t.Fatalf("reassigned to %s, want p2 (p1 is on cool-down)", second.PartnerID)
	}

	p1, _ := fx.registry.Get(context.Background(), "p1")
	if !p1.IsAvailable || p1.CurrentOrderID != nil {
		t.Fatalf("rejecting partner not released: %+v", p1)
	}

	o, _ := fx.store.Get(context.Background(), "o1")
	if o.Status != models.StatusAssignedToDelivery {
		t.Fatalf("order status = %s, want assigned_to_delivery", o.Status)
	}
	// the revert to ready_for_pickup must be visible in the tracking log
	var reverted bool
	for _, e := range o.Tracking {
		if e.Status == models.StatusReadyForPickup && e.Note != "" {
			reverted = true
		}
	}
	if !reverted {
		t.Fatalf("reject left no revert entry in tracking: %+v", o.Tracking)
	}
}

func TestRejectWithoutAlternativeLeavesOrderReady(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	seedPartner(t, fx, "p1")
	fx.geo.rings[3] = []geo.Candidate{{ID: "p1", Rating: 4.5, DistanceKm: 1}}

	if _, err := fx.engine.Assign(context.Background(), "o1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err := fx.engine.Reject(context.Background(), "o1", "p1", "too far")
	if !errors.Is(err, apperr.ErrNoPartnerAvailable) {
		t.Fatalf("expected ErrNoPartnerAvailable, got %v", err)
	}
	o, _ := fx.store.Get(context.Background(), "o1")
	if o.Status != models.StatusReadyForPickup {
		t.Fatalf("order status = %s, want ready_for_pickup", o.Status)
	}
	p, _ := fx.registry.Get(context.Background(), "p1")
	if !p.IsAvailable {
		t.Fatalf("partner still claimed after reject: %+v", p)
	}
}

func TestRejectRequiresActiveAssignment(t *testing.T) {
	fx := newEngineFixture(t)
	seedReadyOrder(t, fx, "o1")
	_, err := fx.engine.Reject(context.Background(), "o1", "p1", "whatever")
	if !errors.Is(err, apperr.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestCooldownExpires(t *testing.T) {
	fx := newEngineFixture(t)
	base := time.Now()
	fx.engine.now = func() time.Time { return base }
	fx.engine.addCooldown("o1", "p1")
	if !fx.engine.onCooldown("o1", "p1") {
		t.Fatal("cool-down not active immediately after reject")
	}
	fx.engine.now = func() time.Time { return base.Add(11 * time.Minute) }
	if fx.engine.onCooldown("o1", "p1") {
		t.Fatal("cool-down still active after expiry")
	}
}
