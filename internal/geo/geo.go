package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// Candidate is one available partner returned by a geo lookup.
type Candidate struct {
	ID         string
	Rating     float64
	DistanceKm float64
}

// GeoIndex is the minimal lookup surface the dispatch engine needs.
// An empty result is not an error; the caller decides whether it is fatal.
type GeoIndex interface {
	FindCandidates(origin models.Location, radiusKm float64, limit int) []Candidate
	Upsert(u models.LocationUpdate)
}

type Index struct {
	mu       sync.RWMutex
	partners map[string]entry
}

type entry struct {
	loc       models.Location
	rating    float64
	available bool
	updated   time.Time
}

func NewIndex() *Index {
	return &Index{partners: make(map[string]entry)}
}

func (g *Index) Upsert(u models.LocationUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partners[u.PartnerID] = entry{loc: u.Loc, rating: u.Rating, available: u.Available, updated: time.Now()}
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.partners, id)
}

// FindCandidates scans available partners within radiusKm of origin, ordered
// by rating descending, then distance ascending, then id. Deterministic for a
// fixed snapshot of the index.
func (g *Index) FindCandidates(origin models.Location, radiusKm float64, limit int) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.partners))
	for id, e := range g.partners {
		if !e.available {
			continue
		}
		d := HaversineKm(origin.Lat, origin.Lng, e.loc.Lat, e.loc.Lng)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{ID: id, Rating: e.rating, DistanceKm: d})
	}
	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Rating != cs[j].Rating {
			return cs[i].Rating > cs[j].Rating
		}
		if cs[i].DistanceKm != cs[j].DistanceKm {
			return cs[i].DistanceKm < cs[j].DistanceKm
		}
		return cs[i].ID < cs[j].ID
	})
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
