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

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/inventory"
	inventorydb "ms-booking/internal/inventory/db"
	inventoryredis "ms-booking/internal/inventory/redis"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/notify"
	"ms-booking/internal/payments"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

// runMigrations uses its own connection because closing the migrator closes
// the database handle it was given.
func runMigrations(dsn string, log *logger.Logger) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to open migration connection: %v", err))
	}

	runner := migrations.NewRunner(sqldb, log)
	defer runner.Close()

	if err := runner.MigrateUp(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

// buildController picks the capacity ledger. The Redis client is returned so
// main can close it; it is nil for the postgres backend.
func buildController(ctx context.Context, cfg *config.Config, events *inventorydb.DB, log *logger.Logger) (inventory.Controller, *redis.Client) {
	switch cfg.Booking.LedgerBackend {
	case config.LedgerPostgres:
		log.Info("CAPACITY", "Using conditional-update ledger on PostgreSQL")
		return inventory.NewAtomicController(events, log), nil

	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
		}
		log.Info("CAPACITY", fmt.Sprintf("Using versioned ledger on Redis %s (max attempts %d)", cfg.Redis.Addr, cfg.Booking.ReserveMaxAttempts))
		controller := inventory.NewOptimisticController(inventoryredis.NewLedger(client), log,
			inventory.WithMaxAttempts(cfg.Booking.ReserveMaxAttempts),
			inventory.WithBackoff(cfg.Booking.ReserveBackoff),
		)
		return controller, client

	default:
		log.Fatal("CONFIG", fmt.Sprintf("Unknown LEDGER_BACKEND %q (want %q or %q)",
			cfg.Booking.LedgerBackend, config.LedgerPostgres, config.LedgerRedis))
		return nil, nil
	}
}

func buildAuthenticator(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.Authenticator {
	if cfg.OIDCIssuer != "" {
		authn, err := auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against OIDC issuer %s", cfg.OIDCIssuer))
		return authn
	}
	if cfg.JWTSecret == "" {
		log.Fatal("CONFIG", "Neither OIDC_ISSUER nor JWT_SECRET is set")
	}
	log.Info("AUTH", "Verifying HMAC-signed tokens with JWT_SECRET")
	return auth.NewHMACAuthenticator(cfg.JWTSecret)
}

// requestLogger logs one API line per request with its final status.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(logger.Options{
		Service: "booking-service",
		Dir:     cfg.Log.Dir,
		Level:   logger.ParseLevel(cfg.Log.Level),
		Color:   cfg.Log.Color,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting Booking Service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runMigrations(cfg.Database.DSN, log)
	}

	eventDB := &inventorydb.DB{Bun: bunDB}
	bookingDB := &bookingdb.DB{Bun: bunDB}

	controller, redisClient := buildController(ctx, cfg, eventDB, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	registrar := &inventory.Registrar{Events: eventDB, Controller: controller, Held: bookingDB, Logger: log}
	if cfg.Booking.LedgerBackend == config.LedgerRedis {
		if err := registrar.Warm(ctx); err != nil {
			log.Fatal("CAPACITY", fmt.Sprintf("Failed to warm Redis ledger: %v", err))
		}
	}

	var notifier booking.Notifier = notify.LogDispatcher{Logger: log}
	var consumers []*kafka.Consumer

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		notifier = notify.NewKafkaDispatcher(producer, cfg.Kafka.Topics, log)
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled: notifications are only logged and no feeds are consumed")
	}

	bookingService := booking.NewService(bookingDB, eventDB, controller, notifier, log, booking.Paging{
		DefaultLimit: cfg.Booking.DefaultPageLimit,
		MaxLimit:     cfg.Booking.MaxPageLimit,
	})

	if cfg.Kafka.Enabled {
		paymentConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentStatus, cfg.Kafka.GroupID, log)
		paymentHandler := &payments.Handler{Bookings: bookingService, Logger: log}
		go paymentConsumer.Start(ctx, paymentHandler.HandleMessage)

		capacityConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.EventCapacity, cfg.Kafka.GroupID, log)
		go capacityConsumer.Start(ctx, registrar.HandleMessage)

		consumers = append(consumers, paymentConsumer, capacityConsumer)
	}

	handler := &booking_api.Handler{
		BookingService: bookingService,
		Inventory:      controller,
		Logger:         log,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", handler.Health)
	handler.RegisterRoutes(r, auth.Middleware(buildAuthenticator(ctx, cfg.Auth, log), log))
	log.Info("ROUTER", "Booking routes registered under /api/bookings")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close consumer: %v", err))
		}
	}
	log.Info("HTTP", "✅ Booking Service shutdown complete")
}
