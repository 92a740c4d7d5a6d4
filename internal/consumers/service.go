package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"busticket/internal/config"
	"busticket/internal/database"
	"busticket/internal/gateway"
	"busticket/internal/messaging"
	"busticket/internal/models"
	"busticket/internal/repository"
	"busticket/internal/sealer"
	"busticket/internal/search"
	"busticket/internal/service"
)

const queueGroup = "consumers"

type ConsumerService struct {
	db       *database.DB
	nats     *messaging.NATSClient
	emails   *messaging.EmailQueue
	audit    *search.AuditIndex
	services *service.Services
	handlers *Handlers

	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		return nil, err
	}

	emails, err := messaging.NewEmailQueue(cfg.RabbitMQ)
	if err != nil {
		return nil, err
	}

	var audit *search.AuditIndex
	if cfg.Elasticsearch.Enabled {
		audit, err = search.NewAuditIndex(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
	}

	// Джобам нужны те же сервисы, что и API: истечение брони и сверка возвратов
	gateways, err := gateway.NewRegistry(
		gateway.NewVNPay(cfg.Gateway, cfg.Service.ReservationTTL),
		gateway.NewMoMo(cfg.Gateway),
	)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Store:    service.NewPostgresStore(repository.NewStore(db)),
		Gateways: gateways,
		Events:   natsClient,
		Emails:   emails,
		Config:   cfg.Service,
	}
	if audit != nil {
		deps.Audit = audit
	}
	if cfg.GatewayDataSecret != "" {
		s, err := sealer.New(cfg.GatewayDataSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create sealer: %w", err)
		}
		deps.Sealer = s
	}

	h := NewHandlers(nil)
	if audit != nil {
		h = NewHandlers(audit)
	}

	return &ConsumerService{
		db:       db,
		nats:     natsClient,
		emails:   emails,
		audit:    audit,
		services: service.NewServices(deps),
		handlers: h,
		done:     make(chan struct{}),
	}, nil
}

// Services exposes the domain services the periodic jobs run against.
func (cs *ConsumerService) Services() *service.Services {
	return cs.services
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	for _, subject := range models.AllEventSubjects {
		if _, err := cs.nats.SubscribeQueue(subject, queueGroup, cs.handlers.HandleEvent); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	go func() {
		defer close(cs.done)
		if err := cs.emails.ConsumeEmails(ctx, cs.handlers.HandleEmailJob); err != nil {
			slog.Error("Email consumer exited", "error", err)
		}
	}()

	slog.Info("All consumers started successfully", "subjects", len(models.AllEventSubjects))
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	if cs.cancel != nil {
		cs.cancel()
		select {
		case <-cs.done:
		case <-ctx.Done():
			slog.Warn("Email consumer did not stop in time")
		}
	}
	cs.services.Wait()

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}
	if cs.emails != nil {
		if err := cs.emails.Close(); err != nil {
			slog.Error("Error closing RabbitMQ connection", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
