package models

import "time"

// Location is a point on the map plus the human-readable address it resolves to.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type OrderStatus string

const (
	StatusPendingPayment     OrderStatus = "pending_payment"
	StatusConfirmed          OrderStatus = "confirmed"
	StatusPreparing          OrderStatus = "preparing"
	StatusReadyForPickup     OrderStatus = "ready_for_pickup"
	StatusAssignedToDelivery OrderStatus = "assigned_to_delivery"
	StatusPickedUp           OrderStatus = "picked_up"
	StatusOutForDelivery     OrderStatus = "out_for_delivery"
	StatusDelivered          OrderStatus = "delivered"
	StatusCancelled          OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type OrderType string

const (
	TypeDelivery OrderType = "delivery"
	TypePickup   OrderType = "pickup"
)

type OrderItem struct {
	MenuItemID     string   `json:"menu_item_id"`
	Quantity       int      `json:"quantity"`
	UnitPrice      float64  `json:"unit_price"`
	Customizations []string `json:"customizations,omitempty"`
}

// Fees is computed once at order creation and never mutated afterwards.
// Total = Subtotal + DeliveryFee + PlatformFee + Tax - Discount.
type Fees struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"delivery_fee"`
	PlatformFee float64 `json:"platform_fee"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

// TrackingEntry is one append-only history record; exactly one per transition.
type TrackingEntry struct {
	Status    OrderStatus `json:"status"`
	Location  *Location   `json:"location,omitempty"`
	Note      string      `json:"note,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Order struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	RestaurantID          string          `json:"restaurant_id"`
	DeliveryPartnerID     *string         `json:"delivery_partner_id,omitempty"`
	Type                  OrderType       `json:"type"`
	Status                OrderStatus     `json:"status"`
	Items                 []OrderItem     `json:"items"`
	PickupLocation        Location        `json:"pickup_location"`
	DropoffLocation       Location        `json:"dropoff_location"`
	Fees                  Fees            `json:"fees"`
	Tracking              []TrackingEntry `json:"tracking_data"`
	Assignment            *Assignment     `json:"assignment,omitempty"`
	ChargeRef             string          `json:"-"`
	PaymentCaptured       bool            `json:"-"`
	EstimatedDeliveryTime *time.Time      `json:"estimated_delivery_time,omitempty"`
	ActualDeliveryTime    *time.Time      `json:"actual_delivery_time,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DeliveryPartner invariant: IsAvailable == false iff CurrentOrderID != nil.
type DeliveryPartner struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	VehicleType     string    `json:"vehicle_type"`
	Rating          float64   `json:"rating"` // 0..5
	CurrentLocation Location  `json:"current_location"`
	IsAvailable     bool      `json:"is_available"`
	CurrentOrderID  *string   `json:"current_order_id,omitempty"`
	TotalDeliveries int       `json:"total_deliveries"`
	Updated         time.Time `json:"updated"`
}

// Assignment links one order to one partner for the duration of delivery.
type Assignment struct {
	OrderID             string    `json:"order_id"`
	PartnerID           string    `json:"partner_id"`
	AssignedAt          time.Time `json:"assigned_at"`
	EstimatedPickupTime time.Time `json:"estimated_pickup_time"`
	PickupCode          string    `json:"pickup_code"`
	DropoffCode         string    `json:"dropoff_code"`
}

// LocationUpdate is the wire shape partner clients push and the ingest
// pipeline carries through Kafka into the geo index.
type LocationUpdate struct {
	PartnerID string   `json:"partner_id"`
	Loc       Location `json:"loc"`
	Rating    float64  `json:"rating"`
	Available bool     `json:"available"`
}

type PromoCode struct {
	Code        string    `json:"code"`
	Percent     float64   `json:"percent"`      // 0..1, applied to subtotal
	Flat        float64   `json:"flat"`         // flat amount, used when Percent == 0
	MinSubtotal float64   `json:"min_subtotal"` // promo ignored below this
	ExpiresAt   time.Time `json:"expires_at"`
}
