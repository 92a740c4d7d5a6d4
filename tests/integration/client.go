package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"busticket/internal/models"
)

// TestClient provides methods for testing the API
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// makeRequest makes an HTTP request and returns the response
func (c *TestClient) makeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

func decode(t *testing.T, resp *http.Response, expected int, out interface{}) {
	t.Helper()
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expected {
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("Failed to decode response: %v. Body: %s", err, string(body))
	}
}

// CreateGuestOrder - POST /api/orders without a token
func (c *TestClient) CreateGuestOrder(t *testing.T, seatIDs []string, guest models.GuestInfo, method string) *models.CreateOrderResponse {
	req := models.CreateOrderRequest{
		SeatIDs:           seatIDs,
		GuestInfo:         &guest,
		PaymentMethodCode: method,
	}

	var order models.CreateOrderResponse
	decode(t, c.makeRequest(t, http.MethodPost, "/api/orders", req), http.StatusCreated, &order)
	return &order
}

// CreateOrderExpectError creates an order and returns the error response
func (c *TestClient) CreateOrderExpectError(t *testing.T, req models.CreateOrderRequest, expected int) models.ErrorResponse {
	var errResp models.ErrorResponse
	decode(t, c.makeRequest(t, http.MethodPost, "/api/orders", req), expected, &errResp)
	return errResp
}

// GetGuestOrder - GET /api/orders/:id?guest_email=
func (c *TestClient) GetGuestOrder(t *testing.T, orderID int64, email string) *models.Order {
	path := fmt.Sprintf("/api/orders/%d?guest_email=%s", orderID, url.QueryEscape(email))

	var order models.Order
	decode(t, c.makeRequest(t, http.MethodGet, path, nil), http.StatusOK, &order)
	return &order
}

// SendCallback delivers a provider notification as a query string
func (c *TestClient) SendCallback(t *testing.T, provider string, params map[string]string, expected int) models.CallbackResponse {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	path := "/api/payments/callback/" + provider + "?" + values.Encode()

	var resp models.CallbackResponse
	decode(t, c.makeRequest(t, http.MethodGet, path, nil), expected, &resp)
	return resp
}

// Health - GET /health
func (c *TestClient) Health(t *testing.T) {
	decode(t, c.makeRequest(t, http.MethodGet, "/health", nil), http.StatusOK, nil)
}
