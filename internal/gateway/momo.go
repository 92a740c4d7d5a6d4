package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"busticket/internal/models"

	"github.com/shopspring/decimal"
)

// momoCallbackFields are the IPN fields covered by the signature.
var momoCallbackFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

// MoMo config keys: partner_code, access_key, secret_key, endpoint,
// redirect_url, ipn_url. request_type and lang are optional.
type MoMo struct {
	http   *httpClient
	signer Signer
}

func NewMoMo(cfg Config) *MoMo {
	return &MoMo{
		http:   newHTTPClient(models.ProviderMoMo, cfg),
		signer: NewSHA256Signer(),
	}
}

func (m *MoMo) Provider() models.Provider { return models.ProviderMoMo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

func (m *MoMo) CreatePaymentURL(ctx context.Context, payment *models.Payment, tickets []models.Ticket, cfg models.ProviderConfig, extra map[string]string) (string, error) {
	if err := requireKeys(models.ProviderMoMo, cfg, "partner_code", "access_key", "secret_key", "endpoint", "redirect_url", "ipn_url"); err != nil {
		return "", err
	}
	amount, err := toMinorUnits(payment.TotalAmount, 1)
	if err != nil {
		return "", err
	}

	req := momoCreateRequest{
		PartnerCode: cfg["partner_code"],
		RequestID:   payment.MerchantOrderRef,
		Amount:      amount,
		OrderID:     payment.MerchantOrderRef,
		OrderInfo:   orderInfo(payment, tickets, extra),
		RedirectURL: cfg["redirect_url"],
		IpnURL:      cfg["ipn_url"],
		RequestType: firstNonEmpty(cfg["request_type"], "captureWallet"),
		ExtraData:   extra["extra_data"],
		Lang:        firstNonEmpty(extra["lang"], cfg["lang"], "vi"),
	}
	req.Signature = m.signer.Sign(map[string]string{
		"accessKey":   cfg["access_key"],
		"amount":      strconv.FormatInt(req.Amount, 10),
		"extraData":   req.ExtraData,
		"ipnUrl":      req.IpnURL,
		"orderId":     req.OrderID,
		"orderInfo":   req.OrderInfo,
		"partnerCode": req.PartnerCode,
		"redirectUrl": req.RedirectURL,
		"requestId":   req.RequestID,
		"requestType": req.RequestType,
	}, cfg["secret_key"])

	raw, err := m.http.postJSON(ctx, "create", endpoint(cfg, "/v2/gateway/api/create"), req)
	if err != nil {
		return "", err
	}
	var resp momoCreateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode momo create response: %w", err)
	}
	if resp.ResultCode != 0 || resp.PayURL == "" {
		return "", fmt.Errorf("momo create failed: resultCode %d: %s", resp.ResultCode, resp.Message)
	}
	return resp.PayURL, nil
}

func (m *MoMo) CallbackRef(payload map[string]string) string { return payload["orderId"] }

func (m *MoMo) VerifyCallback(payload map[string]string, cfg models.ProviderConfig) (*CallbackResult, error) {
	if err := requireKeys(models.ProviderMoMo, cfg, "partner_code", "access_key", "secret_key"); err != nil {
		return nil, err
	}

	signed := map[string]string{"accessKey": cfg["access_key"]}
	for _, k := range momoCallbackFields {
		signed[k] = payload[k]
	}

	result := &CallbackResult{
		IsValid:              payload["partnerCode"] == cfg["partner_code"] && m.signer.Verify(signed, cfg["secret_key"], payload["signature"]),
		Status:               momoStatus(payload["resultCode"]),
		GatewayTransactionNo: payload["transId"],
		MerchantOrderRef:     payload["orderId"],
		RawResponse:          copyMap(payload),
	}
	if amount, err := decimal.NewFromString(payload["amount"]); err == nil {
		result.Amount = decimal.NewNullDecimal(amount)
	}
	return result, nil
}

func momoStatus(resultCode string) models.PaymentStatus {
	switch resultCode {
	case "0", "9000":
		return models.PaymentCompleted
	case "1006":
		return models.PaymentCancelled
	case "1005":
		return models.PaymentExpired
	default:
		return models.PaymentFailed
	}
}

type momoRefundRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	Lang        string `json:"lang"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
}

type momoRefundResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime"`
}

func (m *MoMo) RefundPayment(ctx context.Context, payment *models.Payment, cfg models.ProviderConfig, req RefundRequest) (*RefundResult, error) {
	if err := requireKeys(models.ProviderMoMo, cfg, "partner_code", "access_key", "secret_key", "endpoint"); err != nil {
		return nil, err
	}
	if payment.GatewayTransactionNo == nil {
		return nil, fmt.Errorf("momo refund: payment %d has no gateway transaction", payment.ID)
	}
	transID, err := strconv.ParseInt(*payment.GatewayTransactionNo, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("momo refund: invalid transId %q: %w", *payment.GatewayTransactionNo, err)
	}
	amount, err := toMinorUnits(req.Amount, 1)
	if err != nil {
		return nil, err
	}

	body := momoRefundRequest{
		PartnerCode: cfg["partner_code"],
		OrderID:     req.RequestRef,
		RequestID:   req.RequestRef,
		Amount:      amount,
		TransID:     transID,
		Lang:        firstNonEmpty(cfg["lang"], "vi"),
		Description: req.Reason,
	}
	body.Signature = m.signer.Sign(map[string]string{
		"accessKey":   cfg["access_key"],
		"amount":      strconv.FormatInt(body.Amount, 10),
		"description": body.Description,
		"orderId":     body.OrderID,
		"partnerCode": body.PartnerCode,
		"requestId":   body.RequestID,
		"transId":     strconv.FormatInt(body.TransID, 10),
	}, cfg["secret_key"])

	raw, err := m.http.postJSON(ctx, "refund", endpoint(cfg, "/v2/gateway/api/refund"), body)
	if err != nil {
		return nil, err
	}
	var resp momoRefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode momo refund response: %w", err)
	}

	result := &RefundResult{IsSuccess: resp.ResultCode == 0, RawResponse: raw}
	if resp.TransID != 0 {
		result.TransactionID = strconv.FormatInt(resp.TransID, 10)
	}
	return result, nil
}

func endpoint(cfg models.ProviderConfig, path string) string {
	return strings.TrimRight(cfg["endpoint"], "/") + path
}
