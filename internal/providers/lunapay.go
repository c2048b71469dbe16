package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

// Lunapay is a regional mobile wallet with a QR-code flow. The wire protocol
// is XML; every message carries an HMAC-SHA256 signature computed over the
// sorted payload fields, embedded in the payload itself rather than a header.
type LunapayConfig struct {
	BaseURL        string
	MerchantID     string
	APIKey         string // shared secret used for signing
	RequestTimeout time.Duration
}

type Lunapay struct {
	cfg    LunapayConfig
	client httpDoer
}

func NewLunapay(cfg LunapayConfig) (*Lunapay, error) {
	if cfg.MerchantID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: lunapay requires merchant_id and api_key", domainErrors.ErrProviderConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openapi.lunapay.example.com"
	}
	return &Lunapay{cfg: cfg, client: newHTTPClient(cfg.RequestTimeout)}, nil
}

func (l *Lunapay) Name() string { return "lunapay" }

func (l *Lunapay) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	fields := map[string]string{
		"mch_id":       l.cfg.MerchantID,
		"out_trade_no": req.TransactionID,
		"total_fee":    strconv.FormatInt(req.Amount, 10),
		"fee_type":     strings.ToUpper(req.Currency),
		"body":         req.Description,
		"notify_url":   req.NotifyURL,
		"trade_type":   "NATIVE",
	}
	fields["sign"] = l.sign(fields)

	body, err := doRequest(ctx, l.client, http.MethodPost, l.cfg.BaseURL+"/pay/unifiedorder", encodeXMLMap(fields), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/xml")
	})
	if err != nil {
		return nil, err
	}

	resp, err := parseXMLMap(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode unifiedorder response: %v", domainErrors.ErrProviderUnavailable, err)
	}
	if resp["return_code"] != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrProviderUnavailable, resp["return_msg"])
	}
	if resp["result_code"] != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrProviderRejected, resp["err_code_des"])
	}

	result := &CreateResult{
		QRCodeURL: resp["code_url"],
		PaymentData: map[string]any{
			"prepay_id": resp["prepay_id"],
		},
	}
	// QR codes are time-boxed; default to the provider's two-hour window
	// when the response does not carry one.
	expireSecs := int64(7200)
	if v, ok := resp["expire_seconds"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			expireSecs = n
		}
	}
	expires := time.Now().Add(time.Duration(expireSecs) * time.Second)
	result.ExpiresAt = &expires

	return result, nil
}

func (l *Lunapay) VerifyPayment(ctx context.Context, providerTxID string) (Status, error) {
	fields := map[string]string{
		"mch_id":         l.cfg.MerchantID,
		"transaction_id": providerTxID,
	}
	fields["sign"] = l.sign(fields)

	body, err := doRequest(ctx, l.client, http.MethodPost, l.cfg.BaseURL+"/pay/orderquery", encodeXMLMap(fields), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/xml")
	})
	if err != nil {
		return "", err
	}

	resp, err := parseXMLMap(body)
	if err != nil {
		return "", fmt.Errorf("%w: decode orderquery response: %v", domainErrors.ErrProviderUnavailable, err)
	}
	if resp["return_code"] != "SUCCESS" {
		return "", fmt.Errorf("%w: %s", domainErrors.ErrProviderUnavailable, resp["return_msg"])
	}

	switch resp["trade_state"] {
	case "SUCCESS":
		return StatusCompleted, nil
	case "CLOSED", "REVOKED":
		return StatusCancelled, nil
	case "PAYERROR":
		return StatusFailed, nil
	default: // NOTPAY, USERPAYING
		return StatusPending, nil
	}
}

func (l *Lunapay) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	fields := map[string]string{
		"mch_id":         l.cfg.MerchantID,
		"transaction_id": req.ProviderTransactionID,
		"out_refund_no":  req.RefundID,
		"refund_fee":     strconv.FormatInt(req.Amount, 10),
		"refund_desc":    req.Reason,
	}
	fields["sign"] = l.sign(fields)

	body, err := doRequest(ctx, l.client, http.MethodPost, l.cfg.BaseURL+"/secapi/pay/refund", encodeXMLMap(fields), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/xml")
	})
	if err != nil {
		return nil, err
	}

	resp, err := parseXMLMap(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode refund response: %v", domainErrors.ErrProviderUnavailable, err)
	}
	if resp["return_code"] != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrProviderUnavailable, resp["return_msg"])
	}
	if resp["result_code"] != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrProviderRejected, resp["err_code_des"])
	}

	// Wallet refunds are accepted here and settled asynchronously; the
	// refund webhook confirms completion.
	return &RefundResult{ProviderRefundID: resp["refund_id"], Completed: false}, nil
}

func (l *Lunapay) VerifyRefund(ctx context.Context, providerRefundID string) (Status, error) {
	fields := map[string]string{
		"mch_id":    l.cfg.MerchantID,
		"refund_id": providerRefundID,
	}
	fields["sign"] = l.sign(fields)

	body, err := doRequest(ctx, l.client, http.MethodPost, l.cfg.BaseURL+"/pay/refundquery", encodeXMLMap(fields), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/xml")
	})
	if err != nil {
		return "", err
	}

	resp, err := parseXMLMap(body)
	if err != nil {
		return "", fmt.Errorf("%w: decode refundquery response: %v", domainErrors.ErrProviderUnavailable, err)
	}
	if resp["return_code"] != "SUCCESS" {
		return "", fmt.Errorf("%w: %s", domainErrors.ErrProviderUnavailable, resp["return_msg"])
	}

	switch resp["refund_status"] {
	case "SUCCESS":
		return StatusCompleted, nil
	case "REFUNDCLOSE", "CHANGE":
		return StatusFailed, nil
	default: // PROCESSING
		return StatusPending, nil
	}
}

func (l *Lunapay) ParseWebhook(body []byte, _ http.Header) (*Event, error) {
	fields, err := parseXMLMap(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}
	if fields["return_code"] == "" {
		return nil, fmt.Errorf("%w: missing return_code", domainErrors.ErrMalformedPayload)
	}

	event := &Event{
		TransactionID:         fields["out_trade_no"],
		ProviderTransactionID: fields["transaction_id"],
		ProviderEventID:       fields["notify_id"],
		Currency:              strings.ToUpper(fields["fee_type"]),
	}
	if v := fields["total_fee"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.Amount = n
		}
	}

	// Refund notifications carry out_refund_no; payment notifications do not.
	if refundNo := fields["out_refund_no"]; refundNo != "" {
		event.RefundID = refundNo
		event.ProviderRefundID = fields["refund_id"]
		if v := fields["refund_fee"]; v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				event.Amount = n
			}
		}
		switch fields["refund_status"] {
		case "SUCCESS":
			event.Kind = EventRefundCompleted
		default:
			event.Kind = EventRefundFailed
		}
		return event, nil
	}

	switch {
	case fields["return_code"] == "SUCCESS" && fields["result_code"] == "SUCCESS":
		event.Kind = EventPaymentCompleted
	case fields["result_code"] == "CLOSED":
		event.Kind = EventPaymentCancelled
	default:
		event.Kind = EventPaymentFailed
	}
	return event, nil
}

// Verify recomputes the embedded HMAC signature over the sorted payload
// fields. The sign field itself is excluded from the digest.
func (l *Lunapay) Verify(body []byte, _ http.Header) error {
	fields, err := parseXMLMap(body)
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}
	sig := fields["sign"]
	if sig == "" {
		return fmt.Errorf("%w: missing sign field", domainErrors.ErrSignatureInvalid)
	}
	delete(fields, "sign")

	expected := l.sign(fields)
	if !hmac.Equal([]byte(expected), []byte(strings.ToUpper(sig))) {
		return domainErrors.ErrSignatureInvalid
	}
	return nil
}

func (l *Lunapay) WebhookAck(EventKind) Ack {
	return Ack{
		ContentType: "text/xml",
		Body:        []byte(`<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>`),
	}
}

// sign computes the uppercase hex HMAC-SHA256 over "k1=v1&k2=v2&...&key=SECRET"
// with keys sorted lexicographically and empty values skipped.
func (l *Lunapay) sign(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
		b.WriteByte('&')
	}
	b.WriteString("key=")
	b.WriteString(l.cfg.APIKey)

	mac := hmac.New(sha256.New, []byte(l.cfg.APIKey))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// --- flat XML codec ---

// parseXMLMap decodes a single-level <xml>...</xml> envelope into a map.
func parseXMLMap(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	var current string
	depth := 0
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = t.Name.Local
			}
		case xml.EndElement:
			depth--
			current = ""
		case xml.CharData:
			if depth == 2 && current != "" {
				fields[current] += string(t)
			}
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty xml envelope")
	}
	return fields, nil
}

// encodeXMLMap renders a flat field map as an <xml> envelope with CDATA values.
func encodeXMLMap(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<xml>")
	for _, k := range keys {
		b.WriteString("<")
		b.WriteString(k)
		b.WriteString("><![CDATA[")
		b.WriteString(fields[k])
		b.WriteString("]]></")
		b.WriteString(k)
		b.WriteString(">")
	}
	b.WriteString("</xml>")
	return []byte(b.String())
}
