package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"busticket/internal/models"

	"github.com/shopspring/decimal"
)

const (
	vnpVersion    = "2.1.0"
	vnpDateLayout = "20060102150405"
)

// VNPay timestamps are always expressed in GMT+7.
var vnpZone = time.FixedZone("GMT+7", 7*60*60)

// VNPay config keys: tmn_code, hash_secret, pay_url, return_url, and
// api_url for refunds. locale and order_type are optional.
type VNPay struct {
	http   *httpClient
	signer Signer
	now    func() time.Time
	ttl    time.Duration
}

func NewVNPay(cfg Config, paymentTTL time.Duration) *VNPay {
	if paymentTTL == 0 {
		paymentTTL = 15 * time.Minute
	}
	return &VNPay{
		http:   newHTTPClient(models.ProviderVNPay, cfg),
		signer: NewSHA512Signer(url.QueryEscape),
		now:    time.Now,
		ttl:    paymentTTL,
	}
}

func (v *VNPay) Provider() models.Provider { return models.ProviderVNPay }

func (v *VNPay) CreatePaymentURL(ctx context.Context, payment *models.Payment, tickets []models.Ticket, cfg models.ProviderConfig, extra map[string]string) (string, error) {
	if err := requireKeys(models.ProviderVNPay, cfg, "tmn_code", "hash_secret", "pay_url", "return_url"); err != nil {
		return "", err
	}
	amount, err := toMinorUnits(payment.TotalAmount, 100)
	if err != nil {
		return "", err
	}

	now := v.now().In(vnpZone)
	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    cfg["tmn_code"],
		"vnp_Amount":     strconv.FormatInt(amount, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     payment.MerchantOrderRef,
		"vnp_OrderInfo":  orderInfo(payment, tickets, extra),
		"vnp_OrderType":  firstNonEmpty(cfg["order_type"], "other"),
		"vnp_Locale":     firstNonEmpty(extra["locale"], cfg["locale"], "vn"),
		"vnp_ReturnUrl":  cfg["return_url"],
		"vnp_IpAddr":     firstNonEmpty(extra["ip_addr"], "127.0.0.1"),
		"vnp_CreateDate": now.Format(vnpDateLayout),
		"vnp_ExpireDate": now.Add(v.ttl).Format(vnpDateLayout),
		"vnp_BankCode":   extra["bank_code"],
	}

	query := v.signer.Canonical(params)
	hash := v.signer.SignString(query, cfg["hash_secret"])
	return cfg["pay_url"] + "?" + query + "&vnp_SecureHash=" + hash, nil
}

func (v *VNPay) CallbackRef(payload map[string]string) string { return payload["vnp_TxnRef"] }

func (v *VNPay) VerifyCallback(payload map[string]string, cfg models.ProviderConfig) (*CallbackResult, error) {
	if err := requireKeys(models.ProviderVNPay, cfg, "hash_secret"); err != nil {
		return nil, err
	}

	signed := make(map[string]string, len(payload))
	for k, val := range payload {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		signed[k] = val
	}

	result := &CallbackResult{
		IsValid:              v.signer.Verify(signed, cfg["hash_secret"], payload["vnp_SecureHash"]),
		Status:               vnpayStatus(payload["vnp_ResponseCode"], payload["vnp_TransactionStatus"]),
		GatewayTransactionNo: payload["vnp_TransactionNo"],
		MerchantOrderRef:     payload["vnp_TxnRef"],
		RawResponse:          copyMap(payload),
	}
	if raw, err := strconv.ParseInt(payload["vnp_Amount"], 10, 64); err == nil {
		result.Amount = decimal.NewNullDecimal(decimal.New(raw, -2))
	}
	return result, nil
}

func vnpayStatus(responseCode, transactionStatus string) models.PaymentStatus {
	switch {
	case responseCode == "00" && (transactionStatus == "" || transactionStatus == "00"):
		return models.PaymentCompleted
	case responseCode == "24" || transactionStatus == "24":
		return models.PaymentCancelled
	case responseCode == "11" || transactionStatus == "11":
		return models.PaymentExpired
	default:
		return models.PaymentFailed
	}
}

type vnpayRefundRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TransactionType string `json:"vnp_TransactionType"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          int64  `json:"vnp_Amount"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionNo   string `json:"vnp_TransactionNo,omitempty"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateBy        string `json:"vnp_CreateBy"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type vnpayRefundResponse struct {
	ResponseID        string `json:"vnp_ResponseId"`
	Command           string `json:"vnp_Command"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TmnCode           string `json:"vnp_TmnCode"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	OrderInfo         string `json:"vnp_OrderInfo"`
	SecureHash        string `json:"vnp_SecureHash"`
}

func (v *VNPay) RefundPayment(ctx context.Context, payment *models.Payment, cfg models.ProviderConfig, req RefundRequest) (*RefundResult, error) {
	if err := requireKeys(models.ProviderVNPay, cfg, "tmn_code", "hash_secret", "api_url"); err != nil {
		return nil, err
	}
	amount, err := toMinorUnits(req.Amount, 100)
	if err != nil {
		return nil, err
	}

	txnType := "03"
	if req.Full {
		txnType = "02"
	}
	body := vnpayRefundRequest{
		RequestID:       req.RequestRef,
		Version:         vnpVersion,
		Command:         "refund",
		TmnCode:         cfg["tmn_code"],
		TransactionType: txnType,
		TxnRef:          payment.MerchantOrderRef,
		Amount:          amount,
		OrderInfo:       firstNonEmpty(req.Reason, "Hoan tien "+payment.MerchantOrderRef),
		TransactionDate: payment.CreatedAt.In(vnpZone).Format(vnpDateLayout),
		CreateBy:        firstNonEmpty(req.PerformedBy, "system"),
		CreateDate:      v.now().In(vnpZone).Format(vnpDateLayout),
		IPAddr:          firstNonEmpty(req.ClientIP, "127.0.0.1"),
	}
	if payment.GatewayTransactionNo != nil {
		body.TransactionNo = *payment.GatewayTransactionNo
	}
	body.SecureHash = v.signer.SignString(strings.Join([]string{
		body.RequestID, body.Version, body.Command, body.TmnCode, body.TransactionType,
		body.TxnRef, strconv.FormatInt(body.Amount, 10), body.TransactionNo,
		body.TransactionDate, body.CreateBy, body.CreateDate, body.IPAddr, body.OrderInfo,
	}, "|"), cfg["hash_secret"])

	raw, err := v.http.postJSON(ctx, "refund", cfg["api_url"], body)
	if err != nil {
		return nil, err
	}

	var resp vnpayRefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode vnpay refund response: %w", err)
	}
	if resp.SecureHash != "" {
		expected := v.signer.SignString(strings.Join([]string{
			resp.ResponseID, resp.Command, resp.ResponseCode, resp.TmnCode, resp.TxnRef,
			resp.Amount, resp.BankCode, resp.PayDate, resp.TransactionNo,
			resp.TransactionType, resp.TransactionStatus, resp.OrderInfo,
		}, "|"), cfg["hash_secret"])
		if !strings.EqualFold(expected, resp.SecureHash) {
			return nil, fmt.Errorf("vnpay refund response signature mismatch")
		}
	}

	return &RefundResult{
		IsSuccess:     resp.ResponseCode == "00",
		TransactionID: resp.TransactionNo,
		RawResponse:   raw,
	}, nil
}

func orderInfo(payment *models.Payment, tickets []models.Ticket, extra map[string]string) string {
	if info := extra["order_info"]; info != "" {
		return info
	}
	return fmt.Sprintf("Thanh toan %d ve xe, don %s", len(tickets), payment.MerchantOrderRef)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
