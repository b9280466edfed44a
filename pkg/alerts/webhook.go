package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
)

// WebhookEvent is the event name carried by every webhook payload.
const WebhookEvent = "usage_alert"

// Webhook request headers.
const (
	HeaderEvent     = "X-Guardian-Event"
	HeaderDelivery  = "X-Guardian-Delivery"
	HeaderTimestamp = "X-Guardian-Timestamp"
	HeaderSignature = "X-Signature-256"
)

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a generic webhook notifier. If secret is
// non-empty, requests carry an HMAC-SHA256 signature over the timestamp
// header and the body (see Sign).
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: newHTTPClient(),
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert model.Alert) error {
	sentAt := w.now().UTC()
	payload := WebhookPayload{
		Event:     WebhookEvent,
		Timestamp: sentAt.Format(time.RFC3339),
		TenantID:  alert.TenantID,
		Alert:     alert,
	}

	err := postJSON(ctx, w.client, w.url, payload, func(req *http.Request, body []byte) {
		ts := strconv.FormatInt(sentAt.Unix(), 10)
		req.Header.Set(HeaderEvent, WebhookEvent)
		req.Header.Set(HeaderDelivery, alert.ID)
		req.Header.Set(HeaderTimestamp, ts)
		if w.secret != "" {
			req.Header.Set(HeaderSignature, "sha256="+Sign(ts, body, []byte(w.secret)))
		}
	})
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	return nil
}

// WebhookPayload is the JSON body posted to webhook receivers.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	TenantID  string      `json:"tenant_id"`
	Alert     model.Alert `json:"alert"`
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(timestamp string, body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value produced for timestamp and body.
func Verify(timestamp string, body []byte, signature string, key []byte) bool {
	got, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(got), []byte(Sign(timestamp, body, key)))
}
