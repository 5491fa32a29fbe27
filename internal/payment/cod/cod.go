// Package cod implements a cash-on-delivery payment gateway. There is
// no external processor: sessions are authorized the moment they are
// queried, and refunds are settled offline by the store.
package cod

import (
	"context"
	"time"

	"github.com/demostore/storegate/internal/notify"
	"github.com/demostore/storegate/internal/payment"
	"github.com/google/uuid"
	"github.com/zerodha/logf"
)

const providerID = "cod"

// Config holds cash-on-delivery options.
type Config struct {
	// NotifyEnabled turns on the order confirmation SMS pushed when a
	// session is opened.
	NotifyEnabled bool   `json:"notify_enabled"`
	BrandName     string `json:"brand_name"`
}

// COD implements payment.Gateway for cash-on-delivery orders.
type COD struct {
	cfg      Config
	sms      notify.Provider
	renderer *notify.Renderer
	lo       logf.Logger
}

// New returns a COD gateway. sms and renderer may be nil when
// notifications are disabled.
func New(cfg Config, sms notify.Provider, r *notify.Renderer, lo logf.Logger) *COD {
	return &COD{
		cfg:      cfg,
		sms:      sms,
		renderer: r,
		lo:       lo,
	}
}

// ID returns the gateway's identifier.
func (c *COD) ID() string {
	return providerID
}

// Initiate opens a cash-on-delivery session. There is no hosted page,
// so GatewayURL stays empty and the checkout proceeds immediately. A
// confirmation SMS is pushed when enabled; delivery failures are
// logged and never fail the session.
func (c *COD) Initiate(ctx context.Context, req payment.InitiateRequest) (payment.Session, error) {
	sess := payment.Session{
		Kind:      providerID,
		ID:        "cod_" + uuid.NewString(),
		CartID:    req.CartID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    payment.StatusPending,
		CreatedAt: time.Now(),
	}

	if c.cfg.NotifyEnabled && c.sms != nil && req.Phone != "" {
		if err := c.notifyOrderPlaced(ctx, req); err != nil {
			c.lo.Error("error sending order confirmation", "error", err, "cart_id", req.CartID)
		}
	}
	return sess, nil
}

// Query reports the session's status. Cash on delivery has nothing to
// authorize upfront, so every session is authorized.
func (c *COD) Query(ctx context.Context, sessionID string) (payment.Status, error) {
	return payment.StatusAuthorized, nil
}

// Refund is a no-op. Cash refunds are handled outside the system.
func (c *COD) Refund(ctx context.Context, sessionID string, amount float64) error {
	return nil
}

func (c *COD) notifyOrderPlaced(ctx context.Context, req payment.InitiateRequest) error {
	if err := c.sms.ValidateAddress(req.Phone); err != nil {
		return err
	}
	body, err := c.renderer.Render("sms_order_placed", notify.TplData{
		Brand:   c.cfg.BrandName,
		OrderID: req.CartID,
		Amount:  req.Amount,
	})
	if err != nil {
		return err
	}
	return c.sms.Push(ctx, req.Phone, "", body)
}
