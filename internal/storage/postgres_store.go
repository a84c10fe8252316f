package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/models"
)

// PostgresStore persists orders with items/fees/assignment as jsonb and the
// tracking log in its own append-only table. Status moves and the tracking
// append share one transaction, with the UPDATE conditioned on the current
// status so concurrent transitions cannot both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Insert(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	fees, err := json.Marshal(o.Fees)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders(id, user_id, restaurant_id, order_type, status,
			items, fees, pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			charge_ref, payment_captured, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.UserID, o.RestaurantID, string(o.Type), string(o.Status),
		items, fees, o.PickupLocation.Lat, o.PickupLocation.Lng, o.PickupLocation.Address,
		o.DropoffLocation.Lat, o.DropoffLocation.Lng, o.DropoffLocation.Address,
		o.ChargeRef, o.PaymentCaptured, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, e := range o.Tracking {
		if err := appendTracking(ctx, tx, o.ID, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, order_type, status,
			items, fees, pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			delivery_partner_id, assignment, charge_ref, payment_captured,
			estimated_delivery_at, actual_delivery_at, created_at, updated_at
		FROM orders WHERE id = $1`, id)

	var o models.Order
	var orderType, status string
	var items, fees []byte
	var partnerID sql.NullString
	var assignment []byte
	var estAt, actAt sql.NullTime

	err := row.Scan(&o.ID, &o.UserID, &o.RestaurantID, &orderType, &status,
		&items, &fees, &o.PickupLocation.Lat, &o.PickupLocation.Lng, &o.PickupLocation.Address,
		&o.DropoffLocation.Lat, &o.DropoffLocation.Lng, &o.DropoffLocation.Address,
		&partnerID, &assignment, &o.ChargeRef, &o.PaymentCaptured,
		&estAt, &actAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	o.Type = models.OrderType(orderType)
	o.Status = models.OrderStatus(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fees, &o.Fees); err != nil {
		return nil, err
	}
	if partnerID.Valid {
		o.DeliveryPartnerID = &partnerID.String
	}
	if len(assignment) > 0 {
		var a models.Assignment
		if err := json.Unmarshal(assignment, &a); err == nil {
			o.Assignment = &a
		}
	}
	if estAt.Valid {
		o.EstimatedDeliveryTime = &estAt.Time
	}
	if actAt.Valid {
		o.ActualDeliveryTime = &actAt.Time
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT status, loc_lat, loc_lng, note, created_at
		FROM order_tracking WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e models.TrackingEntry
		var st string
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&st, &lat, &lng, &e.Note, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = models.OrderStatus(st)
		if lat.Valid && lng.Valid {
			e.Location = &models.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		o.Tracking = append(o.Tracking, e)
	}
	return &o, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, entry models.TrackingEntry, patch Patch) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var assignment []byte
	if patch.Assignment != nil {
		if assignment, err = json.Marshal(patch.Assignment); err != nil {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1,
			delivery_partner_id = COALESCE($2, delivery_partner_id),
			assignment = COALESCE($3, assignment),
			estimated_delivery_at = COALESCE($4, estimated_delivery_at),
			actual_delivery_at = COALESCE($5, actual_delivery_at),
			payment_captured = COALESCE($6, payment_captured),
			updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(to), patch.DeliveryPartnerID, assignment,
		patch.EstimatedDeliveryTime, patch.ActualDeliveryTime, patch.PaymentCaptured,
		entry.Timestamp, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	if err := appendTracking(ctx, tx, id, entry); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM orders WHERE status = $1`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func appendTracking(ctx context.Context, tx *sql.Tx, orderID string, e models.TrackingEntry) error {
	var lat, lng *float64
	if e.Location != nil {
		lat, lng = &e.Location.Lat, &e.Location.Lng
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_tracking(order_id, status, loc_lat, loc_lng, note, created_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		orderID, string(e.Status), lat, lng, e.Note, ts)
	return err
}
