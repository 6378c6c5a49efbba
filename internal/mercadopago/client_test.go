package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPayments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/search", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "order-1", q.Get("external_reference"))
		assert.Equal(t, "date_created", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("criteria"))

		_, _ = w.Write([]byte(`{"results":[
			{"id":222,"status":"approved","external_reference":"order-1","date_created":"2024-05-02T10:00:00Z"},
			{"id":111,"status":"rejected","external_reference":"order-1","date_created":"2024-05-01T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("test-token", srv.URL)
	payments, err := c.SearchPayments(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)

	// provider ordering is preserved: newest attempt first
	assert.Equal(t, json.Number("222"), payments[0].ID)
	assert.Equal(t, "approved", payments[0].Status)
	assert.Equal(t, "order-1", payments[0].ExternalReference)
	assert.JSONEq(t,
		`{"id":222,"status":"approved","external_reference":"order-1","date_created":"2024-05-02T10:00:00Z"}`,
		string(payments[0].Raw))
}

func TestSearchPaymentsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	payments, err := NewClient("t", srv.URL).SearchPayments(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSearchPaymentsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}))
	defer srv.Close()

	_, err := NewClient("t", srv.URL).SearchPayments(context.Background(), "order-1")
	assert.Error(t, err)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/333", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":333,"status":"pending","external_reference":"order-2"}`))
	}))
	defer srv.Close()

	p, err := NewClient("t", srv.URL).GetPayment(context.Background(), "333")
	require.NoError(t, err)
	assert.Equal(t, "333", p.ID.String())
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "order-2", p.ExternalReference)
	assert.NotEmpty(t, p.Raw)
}

func TestCreatePreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)

		var pref Preference
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pref))
		assert.Equal(t, "order-3", pref.ExternalReference)
		require.Len(t, pref.Items, 1)
		assert.Equal(t, 129.0, pref.Items[0].UnitPrice)

		_, _ = w.Write([]byte(`{"id":"pref-9","init_point":"https://mp.example/init/pref-9"}`))
	}))
	defer srv.Close()

	out, err := NewClient("t", srv.URL).CreatePreference(context.Background(), Preference{
		ExternalReference: "order-3",
		Items:             []PreferenceItem{{ID: "ebook", Title: "Ebook", Quantity: 1, UnitPrice: 129, CurrencyID: "BRL"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-9", out.ID)
	assert.Equal(t, "https://mp.example/init/pref-9", out.InitPoint)
}

func TestCreatePreferenceRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pref-9"}`))
	}))
	defer srv.Close()

	_, err := NewClient("t", srv.URL).CreatePreference(context.Background(), Preference{ExternalReference: "o"})
	assert.Error(t, err)
}
