package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"busticket/internal/cache"
	"busticket/internal/config"
	"busticket/internal/database"
	"busticket/internal/gateway"
	"busticket/internal/handlers"
	"busticket/internal/messaging"
	"busticket/internal/middleware"
	"busticket/internal/repository"
	"busticket/internal/sealer"
	"busticket/internal/search"
	"busticket/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	emails   *messaging.EmailQueue
	redis    *redis.Client
	services *service.Services
}

// NewServer подключает хранилища и брокеры и собирает сервисы
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := prometheus.Register(collectors.NewDBStatsCollector(db.DB, cfg.Database.DBName)); err != nil {
		slog.Warn("Failed to register database pool metrics", "error", err)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	emails, err := messaging.NewEmailQueue(cfg.RabbitMQ)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	var secrets *sealer.Sealer
	if cfg.GatewayDataSecret != "" {
		if secrets, err = sealer.New(cfg.GatewayDataSecret); err != nil {
			return nil, fmt.Errorf("failed to create sealer: %w", err)
		}
	} else {
		slog.Warn("GATEWAY_DATA_SECRET is not set, gateway responses are stored unencrypted")
	}

	gateways, err := gateway.NewRegistry(
		gateway.NewVNPay(cfg.Gateway, cfg.Service.ReservationTTL),
		gateway.NewMoMo(cfg.Gateway),
	)
	if err != nil {
		return nil, err
	}

	store := repository.NewStore(db)
	deps := service.Deps{
		Store:    service.NewPostgresStore(store),
		Gateways: gateways,
		Events:   natsClient,
		Emails:   emails,
		Config:   cfg.Service,
	}
	if secrets != nil {
		deps.Sealer = secrets
	}

	// Кеш и аудит не обязательны: без них API продолжает работать
	rdb, err := cache.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("Redis unavailable, payment methods are read from the database", "error", err)
	} else {
		var cacheSealer cache.Sealer
		if secrets != nil {
			cacheSealer = secrets
		}
		deps.Methods = cache.NewPaymentMethodCache(rdb, store, cacheSealer, cfg.Redis.TTL)
	}

	if cfg.Elasticsearch.Enabled {
		audit, err := search.NewAuditIndex(cfg.Elasticsearch)
		if err != nil {
			slog.Warn("Elasticsearch unavailable, callback audit disabled", "error", err)
		} else {
			deps.Audit = audit
		}
	}

	server := &Server{
		router:   gin.New(),
		config:   cfg,
		db:       db,
		nats:     natsClient,
		emails:   emails,
		redis:    rdb,
		services: service.NewServices(deps),
	}
	server.setupRoutes()

	return server, nil
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.db)

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Metrics())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())

	api := s.router.Group("/api")
	{
		// Заказы: Bearer JWT необязателен, без него заказ гостевой
		orders := api.Group("/orders", middleware.Identity(s.config.JWTSecret, repository.NewUserRepository(s.db)))
		{
			orders.POST("", h.CreateOrder)
			orders.GET("/:id", h.GetOrder)
			orders.POST("/:id/cancel", h.CancelTickets)
		}

		callbacks := api.Group("/payments/callback")
		if s.config.RateLimit.Enabled {
			callbacks.Use(middleware.RateLimit(s.config.RateLimit.RPS, s.config.RateLimit.Burst))
		}
		{
			callbacks.GET("/:provider", h.PaymentCallback)
			callbacks.POST("/:provider", h.PaymentCallback)
		}
	}

	s.router.GET("/health", h.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler возвращает роутер с таймаутом запроса
func (s *Server) Handler() http.Handler {
	if s.config.RequestTimeout <= 0 {
		return s.router
	}
	return http.TimeoutHandler(s.router, s.config.RequestTimeout, `{"error":"request timed out","code":"TIMEOUT"}`)
}

// Cleanup дожидается фоновых отправок и закрывает соединения
func (s *Server) Cleanup(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.services.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Pending email jobs were not flushed before shutdown")
	}

	if s.emails != nil {
		if err := s.emails.Close(); err != nil {
			slog.Error("Error closing RabbitMQ connection", "error", err)
		}
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Error("Error closing Redis connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
