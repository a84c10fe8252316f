package geo

import (
	"math"
	"testing"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km
	d := HaversineKm(0, 0, 1, 0)
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19 km, got %f", d)
	}
}

func upsert(idx *Index, id string, lat, lng, rating float64, available bool) {
	idx.Upsert(models.LocationUpdate{PartnerID: id, Loc: models.Location{Lat: lat, Lng: lng}, Rating: rating, Available: available})
}

func TestFindCandidatesOrdering(t *testing.T) {
	idx := NewIndex()
	origin := models.Location{Lat: 0, Lng: 0}
	upsert(idx, "far-high", 0.02, 0, 5.0, true)  // ~2.2 km
	upsert(idx, "near-high", 0.01, 0, 5.0, true) // ~1.1 km
	upsert(idx, "near-low", 0.001, 0, 3.0, true) // closest but worst rated
	upsert(idx, "offline", 0.001, 0, 5.0, false)

	got := idx.FindCandidates(origin, 10, 10)
	want := []string{"near-high", "far-high", "near-low"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestFindCandidatesTieBreakOnID(t *testing.T) {
	idx := NewIndex()
	upsert(idx, "b", 0.01, 0, 4.5, true)
	upsert(idx, "a", 0.01, 0, 4.5, true)
	got := idx.FindCandidates(models.Location{}, 5, 10)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected deterministic id order [a b], got %v", got)
	}
}

func TestFindCandidatesRadiusFilter(t *testing.T) {
	idx := NewIndex()
	upsert(idx, "inside", 0.01, 0, 4.0, true)  // ~1.1 km
	upsert(idx, "outside", 0.5, 0, 5.0, true)  // ~55 km
	got := idx.FindCandidates(models.Location{}, 3, 10)
	if len(got) != 1 || got[0].ID != "inside" {
		t.Fatalf("radius filter failed: %v", got)
	}
}

func TestFindCandidatesEmptyIsNotError(t *testing.T) {
	idx := NewIndex()
	if got := idx.FindCandidates(models.Location{}, 10, 5); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestFindCandidatesLimit(t *testing.T) {
	idx := NewIndex()
	for _, id := range []string{"a", "b", "c", "d"} {
		upsert(idx, id, 0.01, 0, 4.0, true)
	}
	if got := idx.FindCandidates(models.Location{}, 5, 2); len(got) != 2 {
		t.Fatalf("limit ignored, got %d candidates", len(got))
	}
}
