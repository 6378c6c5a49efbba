package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// Client is a thin typed client over the three Mercado Pago endpoints this
// service needs. Configured once at startup and read-only afterwards.
type Client struct {
	HTTP        *http.Client
	BaseURL     string
	AccessToken string
}

func NewClient(accessToken, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		BaseURL:     baseURL,
		AccessToken: accessToken,
	}
}

type PreferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type PreferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type BackURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

type PaymentMethods struct {
	DefaultPaymentMethodID string              `json:"default_payment_method_id,omitempty"`
	ExcludedPaymentTypes   []map[string]string `json:"excluded_payment_types,omitempty"`
	ExcludedPaymentMethods []map[string]string `json:"excluded_payment_methods,omitempty"`
}

type Preference struct {
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	BackURLs          *BackURLs        `json:"back_urls,omitempty"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	Items             []PreferenceItem `json:"items"`
	Payer             *PreferencePayer `json:"payer,omitempty"`
	PaymentMethods    *PaymentMethods  `json:"payment_methods,omitempty"`
}

type CreatedPreference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
	Raw       []byte `json:"-"`
}

// Payment is one payment attempt as the provider reports it. Raw keeps the
// full provider object for the order's forensics column.
type Payment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
	DateCreated       string      `json:"date_created"`
	Raw               []byte      `json:"-"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("mercadopago %s %s: status %d: %s", method, path, resp.StatusCode, truncate(b, 256))
	}
	return b, nil
}

// CreatePreference creates a hosted checkout and returns its id and the
// buyer-facing init_point URL.
func (c *Client) CreatePreference(ctx context.Context, pref Preference) (CreatedPreference, error) {
	b, err := c.do(ctx, http.MethodPost, "/checkout/preferences", nil, pref)
	if err != nil {
		return CreatedPreference{}, err
	}
	var out CreatedPreference
	if err := json.Unmarshal(b, &out); err != nil {
		return CreatedPreference{}, fmt.Errorf("decode preference: %w", err)
	}
	if out.ID == "" || out.InitPoint == "" {
		return CreatedPreference{}, fmt.Errorf("mercadopago preference response missing id or init_point")
	}
	out.Raw = b
	return out, nil
}

// SearchPayments looks up payment attempts by external_reference (our order
// id), newest first.
func (c *Client) SearchPayments(ctx context.Context, externalRef string) ([]Payment, error) {
	q := url.Values{}
	q.Set("external_reference", externalRef)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", "10")

	b, err := c.do(ctx, http.MethodGet, "/v1/payments/search", q, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(b, &page); err != nil {
		return nil, fmt.Errorf("decode payment search: %w", err)
	}
	out := make([]Payment, 0, len(page.Results))
	for _, raw := range page.Results {
		var p Payment
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		p.Raw = raw
		out = append(out, p)
	}
	return out, nil
}

// GetPayment fetches one payment by provider id.
func (c *Client) GetPayment(ctx context.Context, id string) (Payment, error) {
	b, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Payment{}, err
	}
	var p Payment
	if err := json.Unmarshal(b, &p); err != nil {
		return Payment{}, fmt.Errorf("decode payment: %w", err)
	}
	p.Raw = b
	return p, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
