package partner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/models"
)

// PostgresRegistry keeps partner state in Postgres. Reservation relies on a
// conditional UPDATE so the claim is decided by the database, not by whatever
// stale row a racing request read.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRegistry{db: db}, nil
}

func (p *PostgresRegistry) Get(ctx context.Context, id string) (models.DeliveryPartner, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, vehicle_type, rating, loc_lat, loc_lng,
		       is_available, current_order_id, total_deliveries, updated_at
		FROM delivery_partners WHERE id = $1`, id)

	var out models.DeliveryPartner
	var orderID sql.NullString
	err := row.Scan(&out.ID, &out.Name, &out.Phone, &out.VehicleType, &out.Rating,
		&out.CurrentLocation.Lat, &out.CurrentLocation.Lng,
		&out.IsAvailable, &orderID, &out.TotalDeliveries, &out.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryPartner{}, fmt.Errorf("%w: partner %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return models.DeliveryPartner{}, err
	}
	if orderID.Valid {
		out.CurrentOrderID = &orderID.String
	}
	return out, nil
}

func (p *PostgresRegistry) Upsert(ctx context.Context, d models.DeliveryPartner) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO delivery_partners(id, name, phone, vehicle_type, rating, loc_lat, loc_lng, is_available, current_order_id, total_deliveries, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, vehicle_type = EXCLUDED.vehicle_type,
			rating = EXCLUDED.rating, loc_lat = EXCLUDED.loc_lat, loc_lng = EXCLUDED.loc_lng,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.Phone, d.VehicleType, d.Rating,
		d.CurrentLocation.Lat, d.CurrentLocation.Lng,
		d.IsAvailable, d.CurrentOrderID, d.TotalDeliveries, time.Now())
	return err
}

func (p *PostgresRegistry) UpdateLocation(ctx context.Context, u models.LocationUpdate) error {
	// availability only changes while the partner is unreserved
	_, err := p.db.ExecContext(ctx, `
		UPDATE delivery_partners
		SET loc_lat = $1, loc_lng = $2, rating = $3,
		    is_available = CASE WHEN current_order_id IS NULL THEN $4 ELSE is_available END,
		    updated_at = $5
		WHERE id = $6`,
		u.Loc.Lat, u.Loc.Lng, u.Rating, u.Available, time.Now(), u.PartnerID)
	return err
}

func (p *PostgresRegistry) Reserve(ctx context.Context, partnerID, orderID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE delivery_partners
		SET is_available = FALSE, current_order_id = $1, updated_at = $2
		WHERE id = $3 AND is_available = TRUE`,
		orderID, time.Now(), partnerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresRegistry) Release(ctx context.Context, partnerID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE delivery_partners
		SET is_available = TRUE, current_order_id = NULL, updated_at = $1
		WHERE id = $2`, time.Now(), partnerID)
	return err
}

func (p *PostgresRegistry) Complete(ctx context.Context, partnerID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE delivery_partners
		SET is_available = TRUE, current_order_id = NULL,
		    total_deliveries = total_deliveries + 1, updated_at = $1
		WHERE id = $2`, time.Now(), partnerID)
	return err
}
