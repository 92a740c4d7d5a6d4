package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"busticket/internal/middleware"
	"busticket/internal/models"
	"busticket/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOrder - POST /api/orders
// Создать заказ и получить ссылку на оплату
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payer := models.Payer{UserID: middleware.UserID(c)}
	if payer.UserID == nil {
		payer.Guest = req.GuestInfo
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		SeatIDs:           req.SeatIDs,
		Payer:             payer,
		PaymentMethodCode: req.PaymentMethodCode,
		CouponCode:        req.CouponCode,
		AdditionalData:    req.AdditionalData,
		ClientIP:          c.ClientIP(),
	})
	if err != nil {
		respondError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, models.CreateOrderResponse{
		Order:      result.Order,
		PaymentURL: result.PaymentURL,
	})
}

// GetOrder - GET /api/orders/:id
// Гостевой заказ открывается по ?guest_email=
func (h *Handlers) GetOrder(c *gin.Context) {
	id, err := orderID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id, middleware.UserID(c), c.Query("guest_email"))
	if err != nil {
		respondError(c, err, "Failed to get order")
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelTickets - POST /api/orders/:id/cancel
// Отменить билеты заказа: возврат денег если оплачен, иначе аннулирование
func (h *Handlers) CancelTickets(c *gin.Context) {
	id, err := orderID(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var req models.CancelTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.refunds.CancelTickets(c.Request.Context(), service.CancelTicketsInput{
		OrderID:    id,
		TicketIDs:  req.TicketIDs,
		Reason:     req.RefundReason,
		UserID:     middleware.UserID(c),
		GuestEmail: req.GuestEmail,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		respondError(c, err, "Failed to cancel tickets")
		return
	}
	c.JSON(http.StatusOK, order)
}

func orderID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", c.Param("id"))
	}
	return id, nil
}
