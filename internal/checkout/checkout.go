// Package checkout reconciles payment sessions with cart completion.
// Carts are completed by an upstream commerce backend that may also be
// completing the same cart concurrently (a storefront tab, a webhook
// retry), so completion here is written as an explicit recovery
// sequence rather than a single call.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/demostore/storegate/internal/payment"
	"github.com/demostore/storegate/pkg/models"
	"github.com/google/uuid"
	"github.com/zerodha/logf"
)

// CartClient is the slice of the commerce backend the reconciler
// needs: fetch a cart, complete it, list recent orders and look up a
// region.
type CartClient interface {
	// Cart fetches a cart by id.
	Cart(ctx context.Context, id string) (models.Cart, error)

	// Complete turns a cart into an order. The idempotency key lets
	// the backend deduplicate retries of the same completion.
	Complete(ctx context.Context, id, idempotencyKey string) (models.Order, error)

	// RecentOrders lists orders created at or after the given time.
	RecentOrders(ctx context.Context, since time.Time) ([]models.Order, error)

	// Region fetches a region by id.
	Region(ctx context.Context, id string) (models.Region, error)
}

// Result is the outcome of a reconciled completion.
type Result struct {
	// Order is the order the cart resolved to. Zero when Unlinked.
	Order models.Order

	// CountryCode is the order's delivery country, lowercased.
	CountryCode string

	// Unlinked marks a completion that succeeded but could not be
	// tied to a concrete order, eg: a guest checkout completed by a
	// concurrent process. The caller treats it as success.
	Unlinked bool
}

// Config holds reconciliation parameters.
type Config struct {
	// ConflictBackoff is the single wait before requerying after a
	// concurrent completion conflict.
	ConflictBackoff time.Duration `json:"conflict_backoff"`

	// OrderLookback bounds how far back the recent order search goes.
	OrderLookback time.Duration `json:"order_lookback"`

	// FallbackCountry is used when neither the order addresses nor
	// the region yield a country.
	FallbackCountry string `json:"fallback_country"`
}

// Reconciler drives cart completion to a terminal outcome.
type Reconciler struct {
	cc  CartClient
	lo  logf.Logger
	cfg Config

	// Injected for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Reconciler.
func New(cc CartClient, cfg Config, lo logf.Logger) *Reconciler {
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = 2 * time.Second
	}
	if cfg.OrderLookback <= 0 {
		cfg.OrderLookback = 5 * time.Minute
	}
	if cfg.FallbackCountry == "" {
		cfg.FallbackCountry = "bd"
	}
	return &Reconciler{
		cc:    cc,
		cfg:   cfg,
		lo:    lo,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// CompleteCart resolves a cart to an order, tolerating concurrent
// completion. The sequence is bounded: at most one completion attempt,
// one backoff and one requery.
//
// An already completed cart is resolved by searching the caller's
// recent orders for the cart's e-mail; only authenticated callers have
// an order list to search, so guest checkouts settle as an unlinked
// success. A completion conflict waits once, requeries once, and
// settles unlinked if the order still can't be found. Anything else is
// a hard failure.
func (r *Reconciler) CompleteCart(ctx context.Context, cartID string, authenticated bool) (Result, error) {
	cart, err := r.cc.Cart(ctx, cartID)
	if err != nil {
		// The cart may still be completable even when it can't be
		// fetched. Proceed and let completion decide.
		r.lo.Warn("error fetching cart, attempting completion anyway", "error", err, "cart_id", cartID)
		cart = models.Cart{ID: cartID}
	}

	// Completed by someone else already. Don't attempt a second
	// completion, find the order it produced.
	if cart.CompletedAt != nil {
		r.lo.Info("cart already completed, resolving order", "cart_id", cartID)
		return r.resolveCompleted(ctx, cart, authenticated)
	}

	order, err := r.cc.Complete(ctx, cartID, idempotencyKey(cartID, r.now()))
	if err == nil {
		return r.result(ctx, cart, order)
	}

	if !payment.IsConflict(err) {
		return Result{}, fmt.Errorf("error completing cart: %w", err)
	}

	// A concurrent process got there first. Give it a moment to
	// finish, then look for its order.
	r.lo.Warn("completion conflict, backing off and requerying",
		"cart_id", cartID, "backoff", r.cfg.ConflictBackoff)
	r.sleep(r.cfg.ConflictBackoff)

	return r.resolveCompleted(ctx, cart, authenticated)
}

// resolveCompleted locates the order a concurrent completion produced.
// Checkouts with no resolvable order settle as an unlinked success.
func (r *Reconciler) resolveCompleted(ctx context.Context, cart models.Cart, authenticated bool) (Result, error) {
	order, found, err := r.findRecentOrder(ctx, cart, authenticated)
	if err != nil {
		return Result{}, err
	}
	if found {
		return r.result(ctx, cart, order)
	}

	r.lo.Info("no order linked to completed cart, settling unlinked", "cart_id", cart.ID)
	country, err := r.resolveCountry(ctx, cart, models.Order{})
	if err != nil {
		return Result{}, err
	}
	return Result{Unlinked: true, CountryCode: country}, nil
}

// findRecentOrder searches the caller's recent orders for the newest
// one matching the cart's e-mail. Guests have no order list and carts
// without an e-mail can't be matched.
func (r *Reconciler) findRecentOrder(ctx context.Context, cart models.Cart, authenticated bool) (models.Order, bool, error) {
	if !authenticated || cart.Email == "" {
		return models.Order{}, false, nil
	}

	since := r.now().Add(-r.cfg.OrderLookback)
	orders, err := r.cc.RecentOrders(ctx, since)
	if err != nil {
		return models.Order{}, false, fmt.Errorf("error listing recent orders: %w", err)
	}

	var (
		best  models.Order
		found bool
	)
	for _, o := range orders {
		if !strings.EqualFold(o.Email, cart.Email) || o.CreatedAt.Before(since) {
			continue
		}
		if !found || o.CreatedAt.After(best.CreatedAt) {
			best, found = o, true
		}
	}
	return best, found, nil
}

// result assembles a linked outcome with the delivery country resolved.
func (r *Reconciler) result(ctx context.Context, cart models.Cart, order models.Order) (Result, error) {
	country, err := r.resolveCountry(ctx, cart, order)
	if err != nil {
		return Result{}, err
	}
	return Result{Order: order, CountryCode: country}, nil
}

// resolveCountry picks the delivery country: shipping address, then
// billing address, then the cart region's first country, then the
// configured fallback.
func (r *Reconciler) resolveCountry(ctx context.Context, cart models.Cart, order models.Order) (string, error) {
	if a := order.ShippingAddress; a != nil && a.CountryCode != "" {
		return strings.ToLower(a.CountryCode), nil
	}
	if a := order.BillingAddress; a != nil && a.CountryCode != "" {
		return strings.ToLower(a.CountryCode), nil
	}

	if cart.RegionID != "" {
		reg, err := r.cc.Region(ctx, cart.RegionID)
		if err != nil {
			r.lo.Error("error fetching region", "error", err, "region_id", cart.RegionID)
		} else if len(reg.Countries) > 0 {
			return strings.ToLower(reg.Countries[0]), nil
		}
	}
	return r.cfg.FallbackCountry, nil
}

// idempotencyKey derives a per-attempt completion key. The timestamp
// and random suffix keep retries distinguishable in backend logs while
// the cart id lets the backend group them.
func idempotencyKey(cartID string, now time.Time) string {
	return fmt.Sprintf("complete_%s_%d_%s", cartID, now.UnixMilli(), uuid.NewString()[:8])
}
