package entitlement

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/orders"
)

func seedPending(store *memStore) orders.Order {
	return store.put(orders.Order{
		BuyerName:      "Ana",
		BuyerEmail:     "a@x.com",
		Status:         orders.LifecyclePending,
		ProviderStatus: orders.ProviderInit,
	})
}

func seedEntitled(store *memStore) orders.Order {
	return store.put(orders.Order{
		BuyerName:          "Ana",
		BuyerEmail:         "a@x.com",
		Status:             orders.LifecycleApproved,
		ProviderStatus:     orders.ProviderApproved,
		EntitlementGranted: true,
		ProviderPaymentID:  "42",
	})
}

func approvedPayment(id string) mercadopago.Payment {
	return mercadopago.Payment{
		ID:     json.Number(id),
		Status: "approved",
		Raw:    []byte(`{"id":` + id + `,"status":"approved"}`),
	}
}

func TestDownloadValidation(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeProvider{}, &fakeAssets{})

	_, err := svc.Download(context.Background(), "", "o1", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Download(context.Background(), "a@x.com", "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDownloadIdentityMustMatchOrder(t *testing.T) {
	store := newMemStore()
	o := seedEntitled(store)
	svc := newTestService(store, &fakeProvider{}, &fakeAssets{})

	// someone else probing a known order id
	_, err := svc.Download(context.Background(), "mallory@y.com", o.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// unknown order id
	_, err = svc.Download(context.Background(), "a@x.com", "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadGrantsWhenEntitled(t *testing.T) {
	store := newMemStore()
	o := seedEntitled(store)
	provider := &fakeProvider{}
	svc := newTestService(store, provider, &fakeAssets{})

	// email match is case-insensitive
	res, err := svc.Download(context.Background(), "A@X.COM", o.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.False(t, res.Pending)
	assert.NotEmpty(t, res.Grant.URL)
	assert.False(t, res.Grant.ExpiresAt.IsZero())
	assert.Equal(t, 0, provider.searchCalls, "entitled orders skip reconciliation")
}

func TestDownloadPendingWithNoProviderRecord(t *testing.T) {
	store := newMemStore()
	o := seedPending(store)
	svc := newTestService(store, &fakeProvider{}, &fakeAssets{})

	res, err := svc.Download(context.Background(), "a@x.com", o.ID, "")
	require.NoError(t, err, "pending settlement is a result, not an error")
	assert.True(t, res.Pending)
	assert.False(t, res.Allowed)
	assert.Equal(t, orders.LifecyclePending, res.Order.Status)

	stored, _ := store.FindByID(context.Background(), o.ID)
	assert.Equal(t, orders.LifecyclePending, stored.Status, "empty search leaves the order untouched")
}

func TestDownloadReconcilesThenGrants(t *testing.T) {
	store := newMemStore()
	o := seedPending(store)
	provider := &fakeProvider{payments: []mercadopago.Payment{approvedPayment("42")}}
	svc := newTestService(store, provider, &fakeAssets{})

	res, err := svc.Download(context.Background(), "a@x.com", o.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, "42", res.Order.ProviderPaymentID)

	stored, _ := store.FindByID(context.Background(), o.ID)
	assert.True(t, stored.EntitlementGranted)
}

func TestDownloadProviderDownStaysPending(t *testing.T) {
	store := newMemStore()
	o := seedPending(store)
	svc := newTestService(store, &fakeProvider{searchErr: errBoom}, &fakeAssets{})

	res, err := svc.Download(context.Background(), "a@x.com", o.ID, "")
	require.NoError(t, err, "provider downtime must not become a hard error for the buyer")
	assert.True(t, res.Pending)

	stored, _ := store.FindByID(context.Background(), o.ID)
	assert.Equal(t, orders.LifecyclePending, stored.Status, "lookup failure is never a rejection")
	assert.False(t, stored.EntitlementGranted)
}

func TestDownloadGrantFailureIsDistinct(t *testing.T) {
	store := newMemStore()
	o := seedEntitled(store)
	svc := newTestService(store, &fakeProvider{}, &fakeAssets{err: errBoom})

	_, err := svc.Download(context.Background(), "a@x.com", o.ID, "")
	assert.ErrorIs(t, err, ErrGrantUnavailable)
	assert.NotErrorIs(t, err, ErrUpstream)
}

func TestReconcileSafety(t *testing.T) {
	store := newMemStore()
	o := seedPending(store)
	provider := &fakeProvider{}
	svc := newTestService(store, provider, &fakeAssets{})
	ctx := context.Background()

	// no payments on file yet
	got, outcome, err := svc.Reconcile(ctx, o, "")
	require.NoError(t, err)
	assert.Equal(t, ReconcileNoPayments, outcome)
	assert.Equal(t, o.Status, got.Status)

	// provider failure: untouched, reported upstream-unavailable
	provider.searchErr = errBoom
	_, outcome, err = svc.Reconcile(ctx, o, "")
	assert.Equal(t, ReconcileUnavailable, outcome)
	assert.ErrorIs(t, err, ErrUpstream)
	stored, _ := store.FindByID(ctx, o.ID)
	assert.Equal(t, orders.LifecyclePending, stored.Status)

	// provider recovers with an approved attempt
	provider.searchErr = nil
	provider.payments = []mercadopago.Payment{approvedPayment("42")}
	got, outcome, err = svc.Reconcile(ctx, o, "")
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, outcome)
	assert.True(t, got.EntitlementGranted)

	// running it again converges to the same state
	got2, outcome, err := svc.Reconcile(ctx, got, "")
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, outcome)
	assert.Equal(t, got.Status, got2.Status)
	assert.True(t, got2.EntitlementGranted)
}

func TestStatusRead(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeProvider{}, &fakeAssets{})
	ctx := context.Background()

	_, err := svc.Status(ctx, "", "")
	assert.ErrorIs(t, err, ErrValidation)

	res, err := svc.Status(ctx, "a@x.com", "")
	require.NoError(t, err)
	assert.False(t, res.Found)

	o := seedEntitled(store)
	res, err = svc.Status(ctx, "A@x.COM", "")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, o.ID, res.Order.ID)
	assert.True(t, res.Order.EntitlementGranted)
}
