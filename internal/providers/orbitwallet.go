package providers

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

// Orbitwallet is a regional mobile wallet with a hosted redirect flow.
// Webhooks arrive form-encoded and are signed by the provider with
// RSA-SHA256; we verify against the provider's published public key.
// Outbound requests are authenticated with an HMAC of the sorted parameters.
type OrbitwalletConfig struct {
	BaseURL        string
	AppID          string
	AppSecret      string
	PublicKeyPEM   string // provider's RSA public key for webhook verification
	RequestTimeout time.Duration
}

type Orbitwallet struct {
	cfg       OrbitwalletConfig
	publicKey *rsa.PublicKey
	client    httpDoer
}

func NewOrbitwallet(cfg OrbitwalletConfig) (*Orbitwallet, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("%w: orbitwallet requires app_id and app_secret", domainErrors.ErrProviderConfig)
	}
	if cfg.PublicKeyPEM == "" {
		return nil, fmt.Errorf("%w: orbitwallet requires the provider public key", domainErrors.ErrProviderConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://gateway.orbitwallet.example.com"
	}

	key, err := parseRSAPublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", domainErrors.ErrProviderConfig, err)
	}

	return &Orbitwallet{cfg: cfg, publicKey: key, client: newHTTPClient(cfg.RequestTimeout)}, nil
}

func (o *Orbitwallet) Name() string { return "orbitwallet" }

func (o *Orbitwallet) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	params := url.Values{}
	params.Set("app_id", o.cfg.AppID)
	params.Set("out_trade_no", req.TransactionID)
	params.Set("total_amount", strconv.FormatInt(req.Amount, 10))
	params.Set("currency", strings.ToUpper(req.Currency))
	params.Set("subject", req.Description)
	params.Set("return_url", req.ReturnURL)
	params.Set("notify_url", req.NotifyURL)
	params.Set("auth", o.hmacParams(params))

	body, err := doRequest(ctx, o.client, http.MethodPost, o.cfg.BaseURL+"/gateway/pay", []byte(params.Encode()), formHeaders)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TradeNo  string `json:"trade_no"`
		PayURL   string `json:"pay_url"`
		ExpireAt int64  `json:"expire_at"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode pay response: %v", domainErrors.ErrProviderUnavailable, err)
	}

	result := &CreateResult{
		ProviderTransactionID: resp.TradeNo,
		PaymentURL:            resp.PayURL,
		PaymentData:           map[string]any{"trade_no": resp.TradeNo},
	}
	if resp.ExpireAt > 0 {
		t := time.Unix(resp.ExpireAt, 0)
		result.ExpiresAt = &t
	}
	return result, nil
}

func (o *Orbitwallet) VerifyPayment(ctx context.Context, providerTxID string) (Status, error) {
	params := url.Values{}
	params.Set("app_id", o.cfg.AppID)
	params.Set("trade_no", providerTxID)
	params.Set("auth", o.hmacParams(params))

	body, err := doRequest(ctx, o.client, http.MethodPost, o.cfg.BaseURL+"/gateway/query", []byte(params.Encode()), formHeaders)
	if err != nil {
		return "", err
	}

	var resp struct {
		TradeStatus string `json:"trade_status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode query response: %v", domainErrors.ErrProviderUnavailable, err)
	}

	switch resp.TradeStatus {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return StatusCompleted, nil
	case "TRADE_CLOSED":
		return StatusCancelled, nil
	default: // WAIT_BUYER_PAY
		return StatusPending, nil
	}
}

func (o *Orbitwallet) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := url.Values{}
	params.Set("app_id", o.cfg.AppID)
	params.Set("trade_no", req.ProviderTransactionID)
	params.Set("out_refund_no", req.RefundID)
	params.Set("refund_amount", strconv.FormatInt(req.Amount, 10))
	params.Set("refund_reason", req.Reason)
	params.Set("auth", o.hmacParams(params))

	body, err := doRequest(ctx, o.client, http.MethodPost, o.cfg.BaseURL+"/gateway/refund", []byte(params.Encode()), formHeaders)
	if err != nil {
		return nil, err
	}

	var resp struct {
		RefundNo string `json:"refund_no"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode refund response: %v", domainErrors.ErrProviderUnavailable, err)
	}

	return &RefundResult{
		ProviderRefundID: resp.RefundNo,
		Completed:        resp.Status == "REFUND_SUCCESS",
	}, nil
}

func (o *Orbitwallet) VerifyRefund(ctx context.Context, providerRefundID string) (Status, error) {
	params := url.Values{}
	params.Set("app_id", o.cfg.AppID)
	params.Set("refund_no", providerRefundID)
	params.Set("auth", o.hmacParams(params))

	body, err := doRequest(ctx, o.client, http.MethodPost, o.cfg.BaseURL+"/gateway/refund/query", []byte(params.Encode()), formHeaders)
	if err != nil {
		return "", err
	}

	var resp struct {
		RefundStatus string `json:"refund_status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode refund query response: %v", domainErrors.ErrProviderUnavailable, err)
	}

	switch resp.RefundStatus {
	case "REFUND_SUCCESS":
		return StatusCompleted, nil
	case "REFUND_CLOSED":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

func (o *Orbitwallet) ParseWebhook(body []byte, _ http.Header) (*Event, error) {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}
	if params.Get("trade_no") == "" && params.Get("refund_no") == "" {
		return nil, fmt.Errorf("%w: missing trade_no", domainErrors.ErrMalformedPayload)
	}

	event := &Event{
		TransactionID:         params.Get("out_trade_no"),
		ProviderTransactionID: params.Get("trade_no"),
		ProviderEventID:       params.Get("notify_id"),
		Currency:              strings.ToUpper(params.Get("currency")),
	}
	if v := params.Get("total_amount"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.Amount = n
		}
	}

	if refundNo := params.Get("out_refund_no"); refundNo != "" {
		event.RefundID = refundNo
		event.ProviderRefundID = params.Get("refund_no")
		if v := params.Get("refund_amount"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				event.Amount = n
			}
		}
		if params.Get("refund_status") == "REFUND_SUCCESS" {
			event.Kind = EventRefundCompleted
		} else {
			event.Kind = EventRefundFailed
		}
		return event, nil
	}

	switch params.Get("trade_status") {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		event.Kind = EventPaymentCompleted
	case "TRADE_CLOSED":
		event.Kind = EventPaymentCancelled
	default:
		event.Kind = EventPaymentFailed
	}
	return event, nil
}

// Verify checks the provider's RSA-SHA256 signature over the sorted
// form parameters, excluding sign and sign_type.
func (o *Orbitwallet) Verify(body []byte, _ http.Header) error {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}

	sig := params.Get("sign")
	if sig == "" {
		return fmt.Errorf("%w: missing sign parameter", domainErrors.ErrSignatureInvalid)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: sign is not base64", domainErrors.ErrSignatureInvalid)
	}

	digest := sha256.Sum256([]byte(signingString(params)))
	if err := rsa.VerifyPKCS1v15(o.publicKey, crypto.SHA256, digest[:], sigBytes); err != nil {
		return domainErrors.ErrSignatureInvalid
	}
	return nil
}

func (o *Orbitwallet) WebhookAck(EventKind) Ack {
	return Ack{ContentType: "text/plain", Body: []byte("success")}
}

// signingString joins sorted non-empty parameters as k1=v1&k2=v2, excluding
// the signature fields themselves.
func signingString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "sign_type" || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params.Get(k))
	}
	return strings.Join(pairs, "&")
}

func (o *Orbitwallet) hmacParams(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(o.cfg.AppSecret))
	mac.Write([]byte(signingString(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}

func formHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
}
