package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"marketplace-service/cache"
	"marketplace-service/config"
	"marketplace-service/consumers"
	"marketplace-service/controllers"
	"marketplace-service/database"
	"marketplace-service/gateway"
	"marketplace-service/middlewares"
	"marketplace-service/rabbitmq"
	"marketplace-service/repository"
	"marketplace-service/services"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog (MySQL)
	sqlDB, err := database.InitDB(cfg.MySQLDSN())
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer database.CloseDB(sqlDB)
	if err := database.RunMigrations(sqlDB, cfg.MigrationsDir); err != nil {
		log.Fatalf("Catalog migrations failed: %v", err)
	}

	// Carts, orders and payments (MongoDB)
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	mongoDB, err := database.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	cancel()
	if err != nil {
		log.Fatalf("MongoDB initialization failed: %v", err)
	}
	defer database.DisconnectMongo(mongoDB)

	cartRepo := repository.NewCartRepository(mongoDB)
	orderRepo := repository.NewOrderRepository(mongoDB)
	paymentRepo := repository.NewPaymentRepository(mongoDB)
	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	for _, idx := range []interface{ CreateIndexes(context.Context) error }{cartRepo, orderRepo, paymentRepo} {
		if err := idx.CreateIndexes(indexCtx); err != nil {
			log.Fatalf("Failed to create indexes: %v", err)
		}
	}
	cancel()
	catalogRepo := repository.NewCatalogRepository(sqlDB)

	cartCache := newCartCache(ctx, cfg)

	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("RabbitMQ initialization failed: %v", err)
	}
	defer rmq.Close()
	if err := rmq.SetupQueues(); err != nil {
		log.Fatalf("Failed to setup RabbitMQ queues: %v", err)
	}

	var paymentGateway gateway.Client
	if cfg.GatewayKeyID != "" {
		paymentGateway = gateway.NewRazorpayClient(gateway.RazorpayConfig{
			BaseURL:   cfg.GatewayBaseURL,
			KeyID:     cfg.GatewayKeyID,
			KeySecret: cfg.GatewayKeySecret,
			Timeout:   cfg.GatewayTimeout,
		})
	} else {
		log.Printf("Warning: RAZORPAY_KEY_ID not set, using the mock payment gateway")
		paymentGateway = gateway.NewMockGateway()
	}

	cartService := services.NewCartService(cartRepo, catalogRepo, cartCache)
	orderService := services.NewOrderService(orderRepo, rmq, services.OrderConfig{
		StrictTransitions: cfg.StrictOrderTransitions,
	})
	checkoutService := services.NewCheckoutService(cartService, orderRepo, paymentRepo, catalogRepo, paymentGateway, rmq,
		services.CheckoutConfig{
			Currency:        cfg.Currency,
			GatewaySecret:   cfg.GatewayKeySecret,
			PendingOrderTTL: cfg.PendingOrderTTL,
		})

	if err := consumers.NewOrderConsumer(orderService).Start(ctx, rmq.Channel(), cfg); err != nil {
		log.Fatalf("Failed to start order consumer: %v", err)
	}

	r := newRouter(cfg,
		controllers.NewCartController(cartService),
		controllers.NewPaymentController(checkoutService, cfg.SuccessRedirectURL, cfg.FailureRedirectURL),
		controllers.NewOrderController(orderService),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, "marketplace-service"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Marketplace service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func newRouter(cfg *config.Config, carts *controllers.CartController, payments *controllers.PaymentController, orders *controllers.OrderController) *gin.Engine {
	r := gin.Default()
	r.Use(middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middlewares.AuthMiddleware(cfg.JWTSecret, cfg.CookieName)
	api := r.Group("/api/v1")

	cart := api.Group("/cart", auth)
	{
		cart.GET("", carts.GetCart)
		cart.POST("/add", carts.AddItem)
		cart.PUT("/increment/:productId", carts.Increment)
		cart.PUT("/decrement/:productId", carts.Decrement)
		cart.DELETE("/remove/:productId", carts.RemoveItem)
		cart.DELETE("/clear", carts.Clear)
	}

	payment := api.Group("/payment")
	{
		payment.POST("/create-order", auth, payments.CreateOrder)
		// the gateway posts here from the browser, the session may be missing
		payment.POST("/verify", middlewares.OptionalAuth(cfg.JWTSecret, cfg.CookieName), payments.VerifyPayment)
	}

	order := api.Group("/order", auth)
	{
		order.POST("", payments.PlaceOrder)
		order.GET("/my-orders", orders.GetUserOrders)
		order.GET("/:orderId", orders.GetOrderDetails)
		order.PUT("/:orderId/status", middlewares.RequireRole(services.RoleAdmin), orders.UpdateOrderStatus)
	}

	return r
}

func newCartCache(ctx context.Context, cfg *config.Config) cache.CartCache {
	if cfg.RedisAddr == "" {
		return cache.NopCache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis unavailable, cart cache disabled: %v", err)
		_ = client.Close()
		return cache.NopCache{}
	}
	return cache.NewRedisCache(client, cfg.CartCacheTTL)
}
