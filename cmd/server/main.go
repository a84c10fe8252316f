package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/fees"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/httpapi"
	"github.com/example/delivery-dispatch/internal/hub"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/lifecycle"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/notify"
	"github.com/example/delivery-dispatch/internal/partner"
	"github.com/example/delivery-dispatch/internal/payments"
	"github.com/example/delivery-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN)
	}

	var store storage.OrderStore
	var registry partner.Registry
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("order store: %v", err)
		}
		store = ps
		pr, err := partner.NewPostgresRegistry(cfg.PGDSN)
		if err != nil {
			log.Fatalf("partner registry: %v", err)
		}
		registry = pr
	} else {
		store = storage.NewMemoryStore()
		registry = partner.NewMemoryRegistry()
	}

	var geoIndex geo.GeoIndex
	if cfg.RedisAddr != "" {
		geoIndex = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		geoIndex = geo.NewIndex()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	var notifier notify.Gateway = notify.Noop{}
	if cfg.PushEndpoint != "" {
		notifier = notify.NewPushGateway(cfg.PushEndpoint, cfg.PushKey)
	}

	pay := payments.NewStripeClient()
	broadcast := hub.New()
	calc := fees.NewCalculator(fees.Config{
		FreeDeliveryThreshold: cfg.Fees.FreeDeliveryThreshold,
		BaseDeliveryFee:       cfg.Fees.BaseDeliveryFee,
		PerKmRate:             cfg.Fees.PerKmRate,
		PlatformFeeRate:       cfg.Fees.PlatformFeeRate,
		TaxRate:               cfg.Fees.TaxRate,
	}, nil, fees.NewStaticPromos())

	machine := lifecycle.NewMachine(store, registry, pay, broadcast, notifier, calc, cfg.Dispatch, logger)
	engine := dispatch.NewEngine(geoIndex, registry, store, machine, notifier, broadcast, cfg.Dispatch, logger)
	machine.SetDispatcher(engine)

	srv := httpapi.NewServer(machine, engine, broadcast, geoIndex, registry, kp, pay, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.RunRetry(ctx)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("delivery-dispatch listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_core.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_core.sql")
}
