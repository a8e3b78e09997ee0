package main

import (
	"log"
	"net/http"
	"time"

	"github.com/avelar/go-storefront/internal/auth"
	"github.com/avelar/go-storefront/internal/cache"
	"github.com/avelar/go-storefront/internal/config"
	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/metrics"
	"github.com/avelar/go-storefront/internal/notify"
	"github.com/avelar/go-storefront/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	catalogCache := cache.New(cfg.Redis.Addr, cfg.Redis.CacheTTL)
	defer catalogCache.Close()
	if catalogCache == nil {
		log.Printf("No Redis configured, category cache disabled")
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.AMQP.URL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatalf("Connect to AMQP broker: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	app := &application{
		db:       db,
		cache:    catalogCache,
		notifier: notifier,
		shipping: cfg.Checkout.ShippingAmount,
		bridge:   &payment.Bridge{DB: db},
	}
	if cfg.Payment.GatewayURL != "" {
		app.checkout = &payment.Checkout{
			DB:          db,
			Gateway:     payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.AccessToken, cfg.Payment.Timeout),
			Shipping:    cfg.Checkout.ShippingAmount,
			FrontendURL: cfg.Payment.FrontendURL,
			BackendURL:  cfg.Payment.BackendURL,
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public catalog reads and user registration.
	r.Get("/products", app.handleListProducts)
	r.Get("/products/{id}", app.handleGetProduct)
	r.Get("/categories", app.handleListCategories)
	r.Post("/users", app.handleCreateUser)
	r.Get("/users/{id}", app.handleGetUser)

	// The gateway calls back anonymously.
	r.Post("/api/payment/webhook", app.handlePaymentWebhook)

	// Everything below acts on behalf of an authenticated user.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.JWTSecret))

		r.Get("/api/cart", app.handleGetCart)
		r.Post("/api/cart/sync", app.handleSyncCart)

		r.Post("/api/orders", app.handleCreateOrder)
		r.Get("/api/orders", app.handleListMyOrders)
		r.Get("/api/orders/{id}", app.handleGetMyOrder)

		r.Post("/api/payment/create-preference", app.handleCreatePreference)
		r.Get("/api/payment/payment-status/{id}", app.handlePaymentStatus)

		// Catalog management.
		r.Post("/api/products", app.handleCreateProduct)
		r.Put("/api/products/{id}", app.handleUpdateProduct)
		r.Put("/api/products/{id}/stock", app.handleCorrectStock)
		r.Post("/api/categories", app.handleCreateCategory)
		r.Put("/api/categories/{id}", app.handleUpdateCategory)
		r.Delete("/api/categories/{id}", app.handleDeleteCategory)

		// Administration.
		r.Get("/api/admin/users", app.handleListUsers)
		r.Get("/api/admin/orders", app.handleAdminListOrders)
		r.Put("/api/admin/orders/{id}/mark-as-paid", app.handleMarkOrderPaid)
		r.Put("/api/admin/orders/{id}/status", app.handleUpdateOrderStatus)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
