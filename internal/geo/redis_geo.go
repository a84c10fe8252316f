package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// RedisGeo implements GeoIndex on Redis GEO commands so the index survives
// process restarts and can be fed by the location consumer.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(u models.LocationUpdate) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: u.Loc.Lng, Latitude: u.Loc.Lat, Name: u.PartnerID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(u.PartnerID), map[string]interface{}{
		"rating":    strconv.FormatFloat(u.Rating, 'f', -1, 64),
		"available": strconv.FormatBool(u.Available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) FindCandidates(origin models.Location, radiusKm float64, limit int) []Candidate {
	res, err := r.client.GeoRadius(r.ctx, r.key, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithDist: true, Count: limit * 4, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Candidate, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if m["available"] != "true" {
			continue
		}
		c := Candidate{ID: g.Name, DistanceKm: g.Dist}
		if v, ok := m["rating"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.Rating = f
			}
		}
		out = append(out, c)
	}
	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func metaKey(id string) string { return "partner:meta:" + id }
