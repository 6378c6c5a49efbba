package mercadopago

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Notification is what we extract from an inbound push delivery. Mercado
// Pago sends several shapes (GET with query params, POST with a typed body,
// POST with a bare resource URL), so extraction tries all of them.
type Notification struct {
	Topic     string
	PaymentID string
}

// IsPayment reports whether this delivery is about a payment at all.
// Everything else (merchant_order, test pings) is acknowledged and ignored.
func (n Notification) IsPayment() bool {
	return n.Topic == "payment" && n.PaymentID != ""
}

type notificationBody struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	ID       any    `json:"id"`
	Data     struct {
		ID any `json:"id"`
	} `json:"data"`
}

// ParseNotification reads a webhook request body (if any) and merges it with
// the query parameters. It never fails: an unrecognizable delivery comes
// back as a non-payment notification.
func ParseNotification(r *http.Request) Notification {
	var n Notification

	n.Topic = r.URL.Query().Get("topic")
	if n.Topic == "" {
		n.Topic = r.URL.Query().Get("type")
	}
	n.PaymentID = r.URL.Query().Get("id")
	if n.PaymentID == "" {
		n.PaymentID = r.URL.Query().Get("data.id")
	}

	if r.Body != nil {
		if b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)); err == nil && len(b) > 0 {
			var body notificationBody
			if json.Unmarshal(b, &body) == nil {
				if n.Topic == "" {
					n.Topic = firstNonEmpty(body.Type, body.Topic)
				}
				if n.Topic == "" && strings.Contains(body.Resource, "payment") {
					n.Topic = "payment"
				}
				if n.PaymentID == "" {
					n.PaymentID = firstNonEmpty(anyToString(body.Data.ID), anyToString(body.ID))
				}
			}
		}
	}

	if strings.HasPrefix(n.Topic, "payment") {
		n.Topic = "payment"
	}
	return n
}

// NormalizeStatus folds a raw provider status into the internal vocabulary:
// lowercase, trimmed. Unknown values pass through so the state machine can
// treat them as still-pending while keeping the verbatim string for audit.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
