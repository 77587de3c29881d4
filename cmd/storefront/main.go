package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/example/storefront/internal/api"
	"github.com/example/storefront/internal/auth"
	"github.com/example/storefront/internal/backend"
	"github.com/example/storefront/internal/cart/cache"
	"github.com/example/storefront/internal/journal"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/payment"
	"github.com/example/storefront/internal/payment/stripe"
	"github.com/example/storefront/internal/payment/wallet"
	"github.com/example/storefront/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[Storefront] No .env file found, using environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration from environment variables
	addr := getEnv("LISTEN_ADDR", ":8080")
	backendURL := getEnv("BACKEND_URL", "http://localhost:4000")
	stripeTokenURL := getEnv("STRIPE_TOKEN_URL", "https://api.stripe.com/v1/tokens")
	stripePublicKey := getEnv("STRIPE_PUBLIC_KEY", "")
	currency := getEnv("CURRENCY", "USD")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("[Storefront] JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("[Storefront] JWT_SECRET must be at least 32 characters long")
	}

	log.Println("[Storefront] ========================================")
	log.Println("[Storefront] Marketplace Storefront")
	log.Println("[Storefront] ========================================")
	log.Printf("[Storefront] Purchase backend: %s", backendURL)

	// Redis backs session snapshots and cart persistence. Without it the
	// storefront still runs, sessions just don't survive a restart.
	var snapshots cache.SnapshotStore
	var snapshotSessions session.Store
	if redisAddr := getEnv("REDIS_ADDR", ""); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: getEnv("REDIS_PASSWORD", ""),
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("[Storefront] Failed to connect to Redis: %v", err)
		}
		snapshots = cache.NewRedisStore(redisClient)
		snapshotSessions = session.NewRedisStore(redisClient)
		log.Printf("[Storefront] Redis: %s", redisAddr)
	} else {
		log.Println("[Storefront] Redis not configured, sessions and carts are in-memory only")
	}

	sessions := session.NewManager(session.NewMemoryStore(), snapshotSessions)
	sessions.StartRoleRefresh(ctx, time.Minute)

	// Attempt journal: PostgreSQL when configured, in-memory otherwise.
	var jnl journal.Journal = journal.NewMemoryJournal()
	if connStr := getEnv("DATABASE_URL", ""); connStr != "" {
		db, err := journal.ConnectPostgres(connStr)
		if err != nil {
			log.Fatalf("[Storefront] Failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()
		jnl = journal.NewPostgresJournal(db)
		log.Println("[Storefront] Journal: PostgreSQL (payment_attempts table)")
	} else {
		log.Println("[Storefront] Journal: in-memory")
	}

	// Notifications always land in the shopper's feed; Kafka mirrors them to
	// downstream consumers when a broker is configured.
	feed := notify.NewFeed()
	notifier := notify.Multi{feed}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		sink := notify.NewKafkaSink(strings.Split(brokers, ","), getEnv("KAFKA_TOPIC", "checkout-events"))
		defer sink.Close()
		notifier = append(notifier, sink)
		log.Printf("[Storefront] Kafka: %s", brokers)
	}

	var email *notify.EmailService
	if smtpHost := getEnv("SMTP_HOST", ""); smtpHost != "" {
		email = notify.NewEmailService(smtpHost, getEnv("SMTP_PORT", "587"), getEnv("SMTP_FROM", "orders@example.com"))
		log.Printf("[Storefront] SMTP: %s", smtpHost)
	}

	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	walletRoutes := strings.Split(getEnv("WALLET_ROUTES",
		backendURL+"/api/paypal/create-payment,"+backendURL+"/api/payments/paypal"), ",")

	orchestrator := payment.NewOrchestrator(payment.Config{
		Backend:    backend.NewClient(backendURL, "", nil),
		Tokenizer:  stripe.NewHTTPTokenizer(stripeTokenURL, stripePublicKey, nil),
		Redirector: wallet.NewRedirector(walletRoutes, nil),
		Notifier:   notifier,
		Journal:    jnl,
		Metrics:    checkoutMetrics,
		Snapshots:  snapshots,
		Email:      email,
		Currency:   currency,
	})

	tokens := auth.NewTokenService(jwtSecret, 15*time.Minute)

	var operatorKeyHash string
	if key := getEnv("OPERATOR_KEY", ""); key != "" {
		hash, err := auth.HashKey(key)
		if err != nil {
			log.Fatalf("[Storefront] Failed to hash operator key: %v", err)
		}
		operatorKeyHash = hash
	} else {
		log.Println("[Storefront] OPERATOR_KEY not set, back-office routes disabled")
	}

	handlers := api.NewHandlers(sessions, tokens, orchestrator, feed, jnl, snapshots)
	router := api.NewRouter(api.RouterConfig{
		Handlers:        handlers,
		Sessions:        sessions,
		OperatorKeyHash: operatorKeyHash,
	})

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("[Storefront] Server started on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[Storefront] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Storefront] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
