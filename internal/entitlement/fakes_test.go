package entitlement

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/octoaxis/ebook-orders/internal/assets"
	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/orders"
)

// memStore mirrors the pgx repo's behavior, including the one-pending-per-
// buyer guarantee and the monotone signal update.
type memStore struct {
	mu   sync.Mutex
	seq  int
	all  map[string]orders.Order
	fail error // when set, every call fails with it
}

func newMemStore() *memStore { return &memStore{all: map[string]orders.Order{}} }

func (m *memStore) put(o orders.Order) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Unix(int64(m.seq), 0)
	}
	m.all[o.ID] = o
	return o
}

func (m *memStore) byBuyer(email string, keep func(orders.Order) bool) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	var out []orders.Order
	for _, o := range m.all {
		if o.BuyerEmail == email && keep(o) {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return orders.Order{}, orders.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out[0], nil
}

func (m *memStore) Create(ctx context.Context, name, email string) (orders.Order, bool, error) {
	if m.fail != nil {
		return orders.Order{}, false, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	// the partial unique index equivalent
	for _, o := range m.all {
		if o.BuyerEmail == email && o.Status == orders.LifecyclePending {
			return o, true, nil
		}
	}
	m.seq++
	o := orders.Order{
		ID:             uuid.NewString(),
		BuyerName:      name,
		BuyerEmail:     email,
		Status:         orders.LifecyclePending,
		ProviderStatus: orders.ProviderInit,
		CreatedAt:      time.Unix(int64(m.seq), 0),
	}
	m.all[o.ID] = o
	return o, false, nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (orders.Order, error) {
	if m.fail != nil {
		return orders.Order{}, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.all[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (m *memStore) FindForBuyer(ctx context.Context, id, email string) (orders.Order, error) {
	o, err := m.FindByID(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if o.BuyerEmail != strings.ToLower(strings.TrimSpace(email)) {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (m *memStore) LatestEntitled(ctx context.Context, email string) (orders.Order, error) {
	if m.fail != nil {
		return orders.Order{}, m.fail
	}
	return m.byBuyer(email, func(o orders.Order) bool { return o.EntitlementGranted })
}

func (m *memStore) LatestPending(ctx context.Context, email string) (orders.Order, error) {
	if m.fail != nil {
		return orders.Order{}, m.fail
	}
	return m.byBuyer(email, func(o orders.Order) bool { return o.Status == orders.LifecyclePending })
}

func (m *memStore) LatestForBuyer(ctx context.Context, email, orderID string) (orders.Order, error) {
	if m.fail != nil {
		return orders.Order{}, m.fail
	}
	if orderID != "" {
		return m.FindForBuyer(ctx, orderID, email)
	}
	return m.byBuyer(email, func(orders.Order) bool { return true })
}

func (m *memStore) ApplySignal(ctx context.Context, id string, sig orders.Signal) (orders.Order, bool, error) {
	if m.fail != nil {
		return orders.Order{}, false, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.all[id]
	if !ok {
		return orders.Order{}, false, orders.ErrNotFound
	}
	updated, moved := orders.Apply(o, sig)
	m.all[id] = updated
	return updated, moved, nil
}

func (m *memStore) SetCheckout(ctx context.Context, id, preferenceID, checkoutURL string, raw []byte) error {
	if m.fail != nil {
		return m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.all[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.PreferenceID = preferenceID
	o.CheckoutURL = checkoutURL
	o.ProviderRaw = raw
	m.all[id] = o
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.all)
}

type fakeProvider struct {
	mu          sync.Mutex
	payments    []mercadopago.Payment
	searchErr   error
	prefErr     error
	prefsMade   int
	getResult   mercadopago.Payment
	getErr      error
	searchCalls int
}

func (f *fakeProvider) CreatePreference(ctx context.Context, pref mercadopago.Preference) (mercadopago.CreatedPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefErr != nil {
		return mercadopago.CreatedPreference{}, f.prefErr
	}
	f.prefsMade++
	return mercadopago.CreatedPreference{
		ID:        "pref-1",
		InitPoint: "https://checkout.example/init/" + pref.ExternalReference,
		Raw:       []byte(`{"id":"pref-1"}`),
	}, nil
}

func (f *fakeProvider) SearchPayments(ctx context.Context, externalRef string) ([]mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.payments, nil
}

func (f *fakeProvider) GetPayment(ctx context.Context, id string) (mercadopago.Payment, error) {
	if f.getErr != nil {
		return mercadopago.Payment{}, f.getErr
	}
	return f.getResult, nil
}

type fakeAssets struct {
	err error
}

func (f *fakeAssets) CreateGrant(ctx context.Context) (assets.Grant, error) {
	if f.err != nil {
		return assets.Grant{}, f.err
	}
	return assets.Grant{
		URL:       "https://assets.example/signed/ebook.pdf",
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}, nil
}

var errBoom = errors.New("boom")

func newTestService(store *memStore, provider *fakeProvider, store2 *fakeAssets) *Service {
	return &Service{
		Store:    store,
		Provider: provider,
		Assets:   store2,
		Checkout: CheckoutConfig{
			NotificationURL: "https://shop.example/api/webhooks/mercadopago",
			DownloadPageURL: "https://shop.example/download.html",
			ItemID:          "ebook-1",
			ItemTitle:       "Ebook",
			UnitPrice:       129,
			Currency:        "BRL",
		},
		ServiceName: "ebook-api-test",
	}
}
