package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var ErrNotFound = errors.New("order not found")

const orderColumns = `id, buyer_name, buyer_email, status, provider_status,
	entitlement_granted, COALESCE(provider_payment_id,''), COALESCE(provider_preference_id,''),
	COALESCE(checkout_url,''), COALESCE(provider_raw,'{}'), created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.BuyerName, &o.BuyerEmail, &o.Status, &o.ProviderStatus,
		&o.EntitlementGranted, &o.ProviderPaymentID, &o.PreferenceID,
		&o.CheckoutURL, &o.ProviderRaw, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// Create inserts a new pending order for the buyer. The partial unique index
// on (buyer_email) WHERE status='pending' is the store-side guarantee that
// two concurrent checkouts cannot both create a pending order: the loser of
// the race gets the winner's order back with existed=true.
func (r *Repo) Create(ctx context.Context, name, email string) (Order, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	id := uuid.NewString()

	row := r.DB.QueryRow(ctx, `
		INSERT INTO ebook_orders (id, buyer_name, buyer_email, status, provider_status, entitlement_granted)
		VALUES ($1, $2, $3, 'pending', 'init', FALSE)
		RETURNING `+orderColumns,
		id, name, email)
	o, err := scanOrder(row)
	if err == nil {
		return o, false, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, lerr := r.LatestPending(ctx, email)
		if lerr != nil {
			return Order{}, false, lerr
		}
		return existing, true, nil
	}
	return Order{}, false, err
}

func (r *Repo) FindByID(ctx context.Context, id string) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM ebook_orders WHERE id=$1`, id)
	return scanOrder(row)
}

// FindForBuyer matches id AND buyer email together, so a valid order id
// alone is never enough to reach someone else's order.
func (r *Repo) FindForBuyer(ctx context.Context, id, email string) (Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM ebook_orders
		WHERE id=$1 AND buyer_email = LOWER($2)`, id, strings.TrimSpace(email))
	return scanOrder(row)
}

func (r *Repo) LatestEntitled(ctx context.Context, email string) (Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM ebook_orders
		WHERE buyer_email = LOWER($1) AND entitlement_granted
		ORDER BY created_at DESC, id DESC LIMIT 1`, strings.TrimSpace(email))
	return scanOrder(row)
}

func (r *Repo) LatestPending(ctx context.Context, email string) (Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM ebook_orders
		WHERE buyer_email = LOWER($1) AND status = 'pending'
		ORDER BY created_at DESC, id DESC LIMIT 1`, strings.TrimSpace(email))
	return scanOrder(row)
}

// LatestForBuyer powers the shallow status read: newest order for the buyer,
// optionally narrowed to a specific order id.
func (r *Repo) LatestForBuyer(ctx context.Context, email, orderID string) (Order, error) {
	if orderID != "" {
		return r.FindForBuyer(ctx, orderID, email)
	}
	row := r.DB.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM ebook_orders
		WHERE buyer_email = LOWER($1)
		ORDER BY created_at DESC, id DESC LIMIT 1`, strings.TrimSpace(email))
	return scanOrder(row)
}

// ApplySignal persists one payment-status signal with the same rules as
// orders.Apply, expressed as a single conditional UPDATE so that concurrent
// writers (webhook vs. pull reconcile) converge without locking:
//   - audit fields always take the fresh values;
//   - lifecycle is frozen once entitlement_granted is set;
//   - entitlement_granted only ever flips false -> true.
//
// The self-join reads the pre-update row, so the returned bool reports
// whether this signal actually moved the lifecycle.
func (r *Repo) ApplySignal(ctx context.Context, id string, sig Signal) (Order, bool, error) {
	next, granted := LifecycleFor(sig.ProviderStatus)
	raw := sig.Raw
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	row := r.DB.QueryRow(ctx, `
		UPDATE ebook_orders AS o SET
			provider_status     = $2,
			provider_payment_id = COALESCE(NULLIF($3,''), o.provider_payment_id),
			provider_raw        = $4,
			status              = CASE WHEN o.entitlement_granted THEN o.status ELSE $5 END,
			entitlement_granted = o.entitlement_granted OR $6,
			updated_at          = now()
		FROM ebook_orders AS prev
		WHERE o.id=$1 AND prev.id = o.id
		RETURNING o.id, o.buyer_name, o.buyer_email, o.status, o.provider_status,
			o.entitlement_granted, COALESCE(o.provider_payment_id,''), COALESCE(o.provider_preference_id,''),
			COALESCE(o.checkout_url,''), COALESCE(o.provider_raw,'{}'), o.created_at, o.updated_at,
			prev.status, prev.entitlement_granted`,
		id, sig.ProviderStatus, sig.PaymentID, raw, string(next), granted)

	var o Order
	var prevStatus Lifecycle
	var prevGranted bool
	err := row.Scan(&o.ID, &o.BuyerName, &o.BuyerEmail, &o.Status, &o.ProviderStatus,
		&o.EntitlementGranted, &o.ProviderPaymentID, &o.PreferenceID,
		&o.CheckoutURL, &o.ProviderRaw, &o.CreatedAt, &o.UpdatedAt,
		&prevStatus, &prevGranted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, ErrNotFound
	}
	if err != nil {
		return Order{}, false, err
	}
	moved := o.Status != prevStatus || o.EntitlementGranted != prevGranted
	return o, moved, nil
}

// SetCheckout records the provider preference created for this order.
func (r *Repo) SetCheckout(ctx context.Context, id, preferenceID, checkoutURL string, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE ebook_orders SET
			provider_preference_id = $2,
			checkout_url           = $3,
			provider_raw           = $4,
			updated_at             = now()
		WHERE id=$1`, id, preferenceID, checkoutURL, raw)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}
