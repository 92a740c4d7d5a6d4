package models

// CreateOrderRequest - модель для создания заказа
type CreateOrderRequest struct {
	SeatIDs           []string          `json:"seat_ids" binding:"required,min=1,dive,required"`
	GuestInfo         *GuestInfo        `json:"guest_info,omitempty"`
	PaymentMethodCode string            `json:"payment_method_code" binding:"required"`
	CouponCode        string            `json:"coupon_code,omitempty"`
	AdditionalData    map[string]string `json:"additional_data,omitempty"`
}

// CreateOrderResponse - модель ответа при создании заказа
type CreateOrderResponse struct {
	Order      *Order `json:"order"`
	PaymentURL string `json:"payment_url"`
}

// CancelTicketsRequest - модель для отмены или возврата билетов
type CancelTicketsRequest struct {
	TicketIDs    []int64 `json:"ticket_ids" binding:"required,min=1"`
	RefundReason string  `json:"refund_reason,omitempty"`
	GuestEmail   string  `json:"guest_email,omitempty"`
}

// CallbackResponse - ответ платежному шлюзу
type CallbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse - модель ответа с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
