package httpapi

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/hub"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/lifecycle"
	"github.com/example/delivery-dispatch/internal/partner"
	"github.com/example/delivery-dispatch/internal/payments"
)

// Server wires the order core behind the HTTP and websocket surface.
type Server struct {
	Machine  *lifecycle.Machine
	Engine   *dispatch.Engine
	Hub      *hub.Hub
	Geo      geo.GeoIndex
	Partners partner.Registry
	Kafka    *ingest.KafkaProducer
	Payments payments.Gateway

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(machine *lifecycle.Machine, engine *dispatch.Engine, h *hub.Hub, g geo.GeoIndex, reg partner.Registry, kp *ingest.KafkaProducer, pay payments.Gateway, logger *slog.Logger) *Server {
	s := &Server{
		Machine:  machine,
		Engine:   engine,
		Hub:      h,
		Geo:      g,
		Partners: reg,
		Kafka:    kp,
		Payments: pay,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/assign", s.handleAssign).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/payments/webhook", s.handlePaymentWebhook).Methods("POST")
	s.mux.HandleFunc("/internal/partner/locations", s.handlePartnerLocation).Methods("POST")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}
