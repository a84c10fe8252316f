package partner

import (
	"context"
	"sync"
	"testing"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestReserveIsExclusive(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	_ = reg.Upsert(ctx, models.DeliveryPartner{ID: "p1", IsAvailable: true})

	ok, err := reg.Reserve(ctx, "p1", "o1")
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = reg.Reserve(ctx, "p1", "o2")
	if err != nil {
		t.Fatalf("second reserve errored: %v", err)
	}
	if ok {
		t.Fatal("second reserve succeeded on a claimed partner")
	}

	p, err := reg.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.IsAvailable || p.CurrentOrderID == nil || *p.CurrentOrderID != "o1" {
		t.Fatalf("invariant broken after reserve: %+v", p)
	}
}

func TestConcurrentReserveExactlyOneWinner(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	_ = reg.Upsert(ctx, models.DeliveryPartner{ID: "p1", IsAvailable: true})

	const n = 50
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		orderID := string(rune('a' + i%26))
		go func(oid string) {
			defer wg.Done()
			if ok, _ := reg.Reserve(ctx, "p1", oid); ok {
				wins <- oid
			}
		}(orderID)
	}
	wg.Wait()
	close(wins)
	if got := len(wins); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestReleaseRestoresInvariant(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	_ = reg.Upsert(ctx, models.DeliveryPartner{ID: "p1", IsAvailable: true})
	if ok, _ := reg.Reserve(ctx, "p1", "o1"); !ok {
		t.Fatal("reserve failed")
	}
	if err := reg.Release(ctx, "p1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	p, _ := reg.Get(ctx, "p1")
	if !p.IsAvailable || p.CurrentOrderID != nil {
		t.Fatalf("invariant broken after release: %+v", p)
	}
}

func TestCompleteIncrementsDeliveries(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	_ = reg.Upsert(ctx, models.DeliveryPartner{ID: "p1", IsAvailable: true})
	_, _ = reg.Reserve(ctx, "p1", "o1")
	if err := reg.Complete(ctx, "p1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	p, _ := reg.Get(ctx, "p1")
	if p.TotalDeliveries != 1 {
		t.Fatalf("totalDeliveries = %d, want 1", p.TotalDeliveries)
	}
	if !p.IsAvailable || p.CurrentOrderID != nil {
		t.Fatalf("partner not released after complete: %+v", p)
	}
}

func TestUpdateLocationKeepsReservation(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	_ = reg.Upsert(ctx, models.DeliveryPartner{ID: "p1", IsAvailable: true})
	_, _ = reg.Reserve(ctx, "p1", "o1")

	// a stale client heartbeat claiming availability must not clear the claim
	_ = reg.UpdateLocation(ctx, models.LocationUpdate{PartnerID: "p1", Loc: models.Location{Lat: 1}, Available: true})
	p, _ := reg.Get(ctx, "p1")
	if p.IsAvailable || p.CurrentOrderID == nil {
		t.Fatalf("heartbeat overrode reservation: %+v", p)
	}
	if p.CurrentLocation.Lat != 1 {
		t.Fatalf("location not updated: %+v", p)
	}
}
