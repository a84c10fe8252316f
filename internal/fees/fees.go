package fees

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/models"
)

// Config holds the fee schedule. Amounts are in currency units.
type Config struct {
	FreeDeliveryThreshold float64
	BaseDeliveryFee       float64
	PerKmRate             float64
	PlatformFeeRate       float64
	TaxRate               float64
}

func DefaultConfig() Config {
	return Config{
		FreeDeliveryThreshold: 500,
		BaseDeliveryFee:       40,
		PerKmRate:             8,
		PlatformFeeRate:       0.05,
		TaxRate:               0.18,
	}
}

// MenuChecker answers whether an item is currently orderable at a restaurant.
type MenuChecker interface {
	Available(ctx context.Context, restaurantID, menuItemID string) (bool, error)
}

// PromoResolver resolves a promo code; ok is false for unknown codes.
type PromoResolver interface {
	Resolve(ctx context.Context, code string) (models.PromoCode, bool)
}

// Calculator is a pure quote function: no side effects, deterministic for
// identical inputs. Distance is haversine between pickup and dropoff.
type Calculator struct {
	cfg    Config
	menu   MenuChecker
	promos PromoResolver
	now    func() time.Time
}

func NewCalculator(cfg Config, menu MenuChecker, promos PromoResolver) *Calculator {
	return &Calculator{cfg: cfg, menu: menu, promos: promos, now: time.Now}
}

// Quote computes the full fee breakdown for an order.
// Tax applies after the platform fee is added to the taxable base.
func (c *Calculator) Quote(ctx context.Context, restaurantID string, items []models.OrderItem, pickup, dropoff models.Location, promoCode string) (models.Fees, error) {
	if len(items) == 0 {
		return models.Fees{}, fmt.Errorf("%w: empty item list", apperr.ErrInvalidOrder)
	}
	var subtotal float64
	for _, it := range items {
		if it.Quantity <= 0 {
			return models.Fees{}, fmt.Errorf("%w: item %s has quantity %d", apperr.ErrInvalidOrder, it.MenuItemID, it.Quantity)
		}
		if it.UnitPrice < 0 {
			return models.Fees{}, fmt.Errorf("%w: item %s has negative price", apperr.ErrInvalidOrder, it.MenuItemID)
		}
		if c.menu != nil {
			ok, err := c.menu.Available(ctx, restaurantID, it.MenuItemID)
			if err != nil {
				return models.Fees{}, fmt.Errorf("%w: menu lookup: %v", apperr.ErrInvalidOrder, err)
			}
			if !ok {
				return models.Fees{}, fmt.Errorf("%w: item %s unavailable", apperr.ErrInvalidOrder, it.MenuItemID)
			}
		}
		subtotal += it.UnitPrice * float64(it.Quantity)
	}

	f := models.Fees{Subtotal: round2(subtotal)}

	if f.Subtotal < c.cfg.FreeDeliveryThreshold {
		distKm := geo.HaversineKm(pickup.Lat, pickup.Lng, dropoff.Lat, dropoff.Lng)
		f.DeliveryFee = round2(c.cfg.BaseDeliveryFee + distKm*c.cfg.PerKmRate)
	}

	f.PlatformFee = round2(f.Subtotal * c.cfg.PlatformFeeRate)
	f.Tax = round2((f.Subtotal + f.PlatformFee) * c.cfg.TaxRate)
	f.Discount = round2(c.discount(ctx, promoCode, f.Subtotal))
	f.Total = round2(f.Subtotal + f.DeliveryFee + f.PlatformFee + f.Tax - f.Discount)
	return f, nil
}

func (c *Calculator) discount(ctx context.Context, code string, subtotal float64) float64 {
	if code == "" || c.promos == nil {
		return 0
	}
	p, ok := c.promos.Resolve(ctx, code)
	if !ok {
		return 0
	}
	if !p.ExpiresAt.IsZero() && c.now().After(p.ExpiresAt) {
		return 0
	}
	if subtotal < p.MinSubtotal {
		return 0
	}
	d := p.Flat
	if p.Percent > 0 {
		d = subtotal * p.Percent
	}
	if d > subtotal {
		d = subtotal
	}
	return d
}

// round2 keeps amounts exact to the smallest currency unit.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
