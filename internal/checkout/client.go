package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/demostore/storegate/internal/payment"
	"github.com/demostore/storegate/pkg/models"
)

// ClientConf holds the commerce API connection options.
type ClientConf struct {
	// BaseURL of the commerce (storefront) API.
	BaseURL string `json:"base_url"`

	// PublishableKey is sent on every request.
	PublishableKey string `json:"publishable_key"`

	Timeout  time.Duration `json:"timeout"`
	MaxConns int           `json:"max_conns"`
}

// Client is the HTTP CartClient talking to the commerce API.
type Client struct {
	cfg ClientConf
	h   *http.Client
}

// NewClient returns a commerce API client.
func NewClient(cfg ClientConf) *Client {
	if cfg.Timeout.Seconds() < 1 {
		cfg.Timeout = time.Second * 5
	}
	return &Client{
		cfg: cfg,
		h: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   cfg.MaxConns,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}
}

// Cart fetches a cart by id.
func (c *Client) Cart(ctx context.Context, id string) (models.Cart, error) {
	var out struct {
		Cart models.Cart `json:"cart"`
	}
	if err := c.do(ctx, http.MethodGet, "/store/carts/"+url.PathEscape(id), nil, "", &out); err != nil {
		return models.Cart{}, err
	}
	return out.Cart, nil
}

// Complete turns a cart into an order. A 409 from the backend is
// surfaced as payment.ErrConflict so the reconciler can recover.
func (c *Client) Complete(ctx context.Context, id, idempotencyKey string) (models.Order, error) {
	var out struct {
		Type  string       `json:"type"`
		Order models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/store/carts/"+url.PathEscape(id)+"/complete", nil, idempotencyKey, &out)
	if err != nil {
		return models.Order{}, err
	}
	if out.Type != "" && out.Type != "order" {
		return models.Order{}, fmt.Errorf("completion did not produce an order (type=%s)", out.Type)
	}
	return out.Order, nil
}

// RecentOrders lists the caller's orders created at or after the given
// time, newest first.
func (c *Client) RecentOrders(ctx context.Context, since time.Time) ([]models.Order, error) {
	q := url.Values{}
	q.Set("created_at[gte]", since.UTC().Format(time.RFC3339))
	q.Set("order", "-created_at")

	var out struct {
		Orders []models.Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/store/orders?"+q.Encode(), nil, "", &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Region fetches a region by id.
func (c *Client) Region(ctx context.Context, id string) (models.Region, error) {
	var out struct {
		Region models.Region `json:"region"`
	}
	if err := c.do(ctx, http.MethodGet, "/store/regions/"+url.PathEscape(id), nil, "", &out); err != nil {
		return models.Region{}, err
	}
	return out.Region, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, idempotencyKey string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method,
		strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.PublishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.cfg.PublishableKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return payment.ErrConflict
	case resp.StatusCode >= 400:
		return fmt.Errorf("commerce API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("malformed response from commerce API: %w", err)
		}
	}
	return nil
}
