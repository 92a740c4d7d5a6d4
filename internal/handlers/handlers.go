package handlers

import (
	"context"
	"net/http"

	"busticket/internal/database"
	apperrors "busticket/internal/errors"
	"busticket/internal/logger"
	"busticket/internal/models"
	"busticket/internal/service"

	"github.com/gin-gonic/gin"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error)
	GetOrder(ctx context.Context, id int64, userID *int64, guestEmail string) (*models.Order, error)
}

type SettlementService interface {
	HandleCallback(ctx context.Context, provider models.Provider, payload map[string]string) (*service.SettlementResult, error)
}

type RefundService interface {
	CancelTickets(ctx context.Context, in service.CancelTicketsInput) (*models.Order, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) database.HealthCheck
}

type Handlers struct {
	orders     OrderService
	settlement SettlementService
	refunds    RefundService
	health     HealthChecker
}

func NewHandlers(services *service.Services, health HealthChecker) *Handlers {
	return &Handlers{
		orders:     services.Orders,
		settlement: services.Settlement,
		refunds:    services.Refunds,
		health:     health,
	}
}

// respondError отдает {"error", "code"} со статусом доменной ошибки
func respondError(c *gin.Context, err error, msg string) {
	status := apperrors.HTTPStatus(err)
	log := logger.WithContext(c.Request.Context())

	if de, ok := apperrors.AsDomain(err); ok {
		if status >= http.StatusInternalServerError {
			log.Error(msg, "error", err, "code", de.Code)
		} else {
			log.Info(msg, "error", err, "code", de.Code)
		}
		c.JSON(status, models.ErrorResponse{Error: err.Error(), Code: de.Code})
		return
	}

	_ = c.Error(err)
	log.Error(msg, "error", err)
	c.JSON(status, models.ErrorResponse{Error: "Internal server error", Code: "INTERNAL"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error: err.Error(),
		Code:  apperrors.ErrInvalidRequest.Code,
	})
}

// Health - GET /health
func (h *Handlers) Health(c *gin.Context) {
	check := h.health.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if check.Status == database.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   check.Status,
		"service":  "busticket-api",
		"database": check,
	})
}
