package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"pass-commerce/internal/auth"
	"pass-commerce/internal/config"
	"pass-commerce/internal/logger"
	"pass-commerce/internal/notify"
	"pass-commerce/internal/order"
	orderdb "pass-commerce/internal/order/db"
	orderkafka "pass-commerce/internal/order/kafka"
	"pass-commerce/internal/order/order_api"
	rediswrap "pass-commerce/internal/order/redis"
	"pass-commerce/internal/payment"
	paymentdb "pass-commerce/internal/payment/db"
	"pass-commerce/internal/payment/payment_api"
	"pass-commerce/internal/promo"
	"pass-commerce/internal/redemption"
	"pass-commerce/internal/redemption/redemption_api"
	"pass-commerce/internal/sse"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	maxRetries := 5
	var err error
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		err = sqldb.Ping()
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Commerce Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	var kafkaProducer *orderkafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = orderkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		defer kafkaProducer.Close()
		if err := orderkafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Lifecycle topics ensured")
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	locks := rediswrap.NewLocks(redisClient)
	emitter := sse.NewPaymentEventEmitter()
	notifier := notify.Fanout{
		notify.NewSMSNotifier(cfg.Notify, log),
		notify.NewEmailLogger(log),
	}

	orderDB := &orderdb.DB{Bun: bunDB}
	promoService := promo.NewService(bunDB, log)
	var publisher order.KafkaPublisher
	if kafkaProducer != nil {
		publisher = kafkaProducer
	}
	orderService := order.NewOrderService(orderDB, promoService, publisher, cfg.Commerce, log)

	chapa := payment.NewChapa(cfg.Payments.Chapa, log)
	telebirr, err := payment.NewTelebirr(cfg.Payments.Telebirr, log)
	if err != nil {
		log.Fatal("PAYMENT", fmt.Sprintf("Telebirr configuration invalid: %v", err))
	}
	cbe := payment.NewCBEBirr(cfg.Payments.CBEBirr, log)
	registry := payment.NewRegistry(chapa, telebirr, cbe)

	paymentStore := paymentdb.NewStore(bunDB)
	paymentService := payment.NewService(registry, paymentStore, orderDB, locks, cfg.PublicURL, log)

	var paidPublisher payment.PaidPublisher
	if kafkaProducer != nil {
		paidPublisher = kafkaProducer
	}
	reconciler := payment.NewReconciler(paymentStore, orderDB, orderService, paidPublisher, notifier, emitter, log)

	var redeemedPublisher redemption.RedeemedPublisher
	if kafkaProducer != nil {
		redeemedPublisher = kafkaProducer
	}
	redemptionService := redemption.New(bunDB, orderDB, locks, redeemedPublisher, cfg.Commerce, log)

	orderHandler := order_api.NewHandler(orderService, promoService, log)
	sseHandler := order_api.NewSSEHandler(log, emitter, orderService)
	paymentHandler := payment_api.NewHandler(paymentService, reconciler, log)
	redemptionHandler := redemption_api.NewHandler(redemptionService, bunDB, log)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go orderService.RunReaper(reaperCtx)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Provider callbacks authenticate themselves; they sit outside the
	// user auth middleware.
	r.Route("/api/v1/payments/callback", func(r chi.Router) {
		r.Post("/chapa", paymentHandler.Callback(chapa))
		r.Post("/telebirr", paymentHandler.Callback(telebirr))
		r.Post("/cbe", paymentHandler.Callback(cbe))
	})
	log.Info("ROUTER", "Payment callback routes registered under /api/v1/payments/callback")

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(os.Getenv("OIDC_ISSUER")))

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/orders", func(r chi.Router) {
				r.Post("/tickets", orderHandler.PurchaseTickets)
				r.Post("/shop", orderHandler.CreateShopOrder)
				r.Get("/", orderHandler.GetMyOrders)
				r.Get("/{orderId}", orderHandler.GetOrder)
				r.Get("/{orderId}/events", sseHandler.HandleOrderEvents)
				r.Post("/{orderId}/ready", orderHandler.MarkReadyForPickup)
			})
			r.Post("/promo/validate", orderHandler.ValidatePromo)
			r.Route("/payments", func(r chi.Router) {
				r.Post("/initiate", paymentHandler.Initiate)
				r.Get("/{orderId}/status", paymentHandler.Status)
			})
			r.Post("/redeem", redemptionHandler.Redeem)
			r.Get("/tickets/{ticketId}/qr", redemptionHandler.TicketQR)
		})
	})
	log.Info("ROUTER", "Commerce routes registered under /api/v1")

	// No WriteTimeout: the SSE endpoint holds its response open.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Commerce Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopReaper()
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Commerce Service shutdown complete")
	}
}
