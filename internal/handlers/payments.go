package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"busticket/internal/models"

	"github.com/gin-gonic/gin"
)

// PaymentCallback - GET|POST /api/payments/callback/:provider
// Принимать уведомления от платежного шлюза (query string, form или JSON)
func (h *Handlers) PaymentCallback(c *gin.Context) {
	provider := models.Provider(strings.ToUpper(c.Param("provider")))

	payload, err := callbackPayload(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.settlement.HandleCallback(c.Request.Context(), provider, payload)
	if err != nil {
		respondError(c, err, "Failed to handle payment callback")
		return
	}

	switch {
	case !result.Verified:
		c.JSON(http.StatusBadRequest, models.CallbackResponse{Status: models.CallbackInvalidSignature})
	case !result.Found:
		c.JSON(http.StatusNotFound, models.CallbackResponse{Status: models.CallbackUnknownPayment})
	case result.AmountMismatch:
		c.JSON(http.StatusBadRequest, models.CallbackResponse{Status: models.CallbackAmountMismatch})
	case result.Applied:
		c.JSON(http.StatusOK, models.CallbackResponse{Status: "ok"})
	default:
		c.JSON(http.StatusOK, models.CallbackResponse{
			Status:  "ignored",
			Message: fmt.Sprintf("payment is already %s", result.Payment.Status),
		})
	}
}

// callbackPayload flattens the callback into string fields. JSON numbers
// keep their literal text so signatures verify over what the provider sent.
func callbackPayload(c *gin.Context) (map[string]string, error) {
	payload := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	if c.Request.Method != http.MethodPost {
		return payload, nil
	}

	switch c.ContentType() {
	case "application/json":
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		var body map[string]interface{}
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid callback body: %w", err)
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				payload[k] = val
			case json.Number:
				payload[k] = val.String()
			case bool:
				payload[k] = fmt.Sprint(val)
			case nil:
				payload[k] = ""
			default:
				raw, err := json.Marshal(val)
				if err != nil {
					return nil, fmt.Errorf("invalid callback field %s: %w", k, err)
				}
				payload[k] = string(raw)
			}
		}
	case "application/x-www-form-urlencoded":
		if err := c.Request.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid callback form: %w", err)
		}
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				payload[k] = v[0]
			}
		}
	}
	return payload, nil
}
