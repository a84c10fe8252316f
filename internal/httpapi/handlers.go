package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/delivery-dispatch/internal/apperr"
	"github.com/example/delivery-dispatch/internal/lifecycle"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	UserID       string             `json:"user_id"`
	RestaurantID string             `json:"restaurant_id"`
	Type         models.OrderType   `json:"type"`
	Items        []models.OrderItem `json:"items"`
	Pickup       models.Location    `json:"pickup_location"`
	Dropoff      models.Location    `json:"dropoff_location"`
	PromoCode    string             `json:"promo_code"`
	Currency     string             `json:"currency"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	o, err := s.Machine.Create(r.Context(), lifecycle.CreateCommand{
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Type:         req.Type,
		Items:        req.Items,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		PromoCode:    req.PromoCode,
		Currency:     req.Currency,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Machine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type transitionRequest struct {
	To       models.OrderStatus `json:"to"`
	Actor    string             `json:"actor"`
	Note     string             `json:"note"`
	Code     string             `json:"code"`
	Location *models.Location   `json:"location"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	o, err := s.Machine.Transition(r.Context(), mux.Vars(r)["id"], req.To, lifecycle.Meta{
		Actor:    req.Actor,
		Note:     req.Note,
		Code:     req.Code,
		Location: req.Location,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	id := mux.Vars(r)["id"]
	o, err := s.Machine.Cancel(r.Context(), id, req.Reason, req.Actor)
	if errors.Is(err, apperr.ErrAlreadyCancelled) {
		// idempotent: the second cancel is a no-op success
		if cur, getErr := s.Machine.Get(r.Context(), id); getErr == nil {
			writeJSON(w, http.StatusOK, cur)
			return
		}
	}
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	asg, err := s.Engine.Assign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

type assignmentActionRequest struct {
	PartnerID string `json:"partner_id"`
	Reason    string `json:"reason"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req assignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	o, err := s.Machine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "")
		return
	}
	if o.Status != models.StatusAssignedToDelivery || o.DeliveryPartnerID == nil || *o.DeliveryPartnerID != req.PartnerID {
		writeError(w, apperr.ErrIllegalTransition, "no active assignment for this partner")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req assignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	asg, err := s.Engine.Reject(r.Context(), mux.Vars(r)["id"], req.PartnerID, req.Reason)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

// stripeEvent is the minimal slice of a webhook event the core cares about.
type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Metadata struct {
				OrderID string `json:"order_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.ErrPaymentFailed, "unreadable payload")
		return
	}
	if !s.Payments.VerifySignature(payload, r.Header.Get("Stripe-Signature")) {
		writeError(w, apperr.ErrPaymentFailed, "signature verification failed")
		return
	}
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Data.Object.Metadata.OrderID == "" {
		writeError(w, apperr.ErrPaymentFailed, "event missing order reference")
		return
	}
	switch ev.Type {
	case "payment_intent.amount_capturable_updated", "payment_intent.succeeded":
		o, err := s.Machine.ConfirmPayment(r.Context(), ev.Data.Object.Metadata.OrderID)
		if err != nil {
			writeError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, o)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePartnerLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, apperr.ErrInvalidOrder, "malformed request body")
		return
	}
	if u.PartnerID == "" {
		writeError(w, apperr.ErrInvalidOrder, "partner_id required")
		return
	}
	// publish to kafka when configured; the consumer keeps redis in sync
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(u); err != nil {
			s.logger.Warn("kafka publish failed", "partner_id", u.PartnerID, "error", err)
		}
	}
	s.Geo.Upsert(u)
	if err := s.Partners.UpdateLocation(r.Context(), u); err != nil {
		s.logger.Warn("registry location update failed", "partner_id", u.PartnerID, "error", err)
	}
	observability.PartnerUpdates.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the structured {kind, message} error shape.
func writeError(w http.ResponseWriter, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"kind":    apperr.Kind(err),
		"message": msg,
	})
}
