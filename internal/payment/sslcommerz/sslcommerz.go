package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/demostore/storegate/internal/payment"
	"github.com/google/uuid"
)

const providerID = "sslcommerz"

// Gateway statuses that map to an authorized session.
var successStatuses = map[string]bool{
	"VALID":      true,
	"VALIDATED":  true,
	"AUTHORIZED": true,
	"COMPLETED":  true,
	"PAID":       true,
}

// Gateway statuses that map to a canceled session.
var failureStatuses = map[string]bool{
	"FAILED":    true,
	"CANCELLED": true,
	"CANCELED":  true,
	"INVALID":   true,
}

// Config contains SSLCommerz merchant credentials and callback URLs.
type Config struct {
	StoreID     string        `json:"store_id"`
	StorePass   string        `json:"store_pass"`
	BaseURL     string        `json:"base_url"`
	SuccessURL  string        `json:"success_url"`
	FailURL     string        `json:"fail_url"`
	CancelURL   string        `json:"cancel_url"`
	IPNURL      string        `json:"ipn_url"`
	Currency    string        `json:"currency"`
	Timeout     time.Duration `json:"timeout"`
	MaxConns    int           `json:"max_conns"`
}

// SSLCommerz implements payment.Gateway against the SSLCommerz HTTP API.
type SSLCommerz struct {
	cfg Config
	h   *http.Client

	// bankTranIDs remembers the bank transaction id observed on the
	// last query per session, needed for refunds. Guarded by mu:
	// success redirects and IPNs query the same instance concurrently.
	mu          sync.Mutex
	bankTranIDs map[string]string
}

// initResp is the response of the session initiation call.
type initResp struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// queryResp is the response of the transaction query call.
type queryResp struct {
	Status  string `json:"status"`
	Element []struct {
		Status     string `json:"status"`
		BankTranID string `json:"bank_tran_id"`
	} `json:"element"`
}

// New returns an SSLCommerz gateway.
func New(cfg Config) (*SSLCommerz, error) {
	if cfg.StoreID == "" || cfg.StorePass == "" {
		return nil, errors.New("invalid store_id or store_pass")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.sslcommerz.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	if cfg.Timeout.Seconds() < 1 {
		cfg.Timeout = time.Second * 5
	}

	return &SSLCommerz{
		cfg: cfg,
		h: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   cfg.MaxConns,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		bankTranIDs: make(map[string]string),
	}, nil
}

// ID returns the gateway's identifier.
func (s *SSLCommerz) ID() string {
	return providerID
}

// Initiate opens a payment session. The returned session carries the
// hosted gateway page URL the customer is redirected to.
func (s *SSLCommerz) Initiate(ctx context.Context, req payment.InitiateRequest) (payment.Session, error) {
	sessionID := "ssl_" + uuid.NewString()

	p := url.Values{}
	p.Set("store_id", s.cfg.StoreID)
	p.Set("store_passwd", s.cfg.StorePass)
	p.Set("tran_id", sessionID)
	p.Set("total_amount", fmt.Sprintf("%.2f", req.Amount))
	p.Set("currency", strings.ToUpper(req.Currency))
	p.Set("success_url", callbackURL(s.cfg.SuccessURL, sessionID, req.CartID))
	p.Set("fail_url", callbackURL(s.cfg.FailURL, sessionID, req.CartID))
	p.Set("cancel_url", callbackURL(s.cfg.CancelURL, sessionID, req.CartID))
	p.Set("ipn_url", callbackURL(s.cfg.IPNURL, sessionID, req.CartID))
	p.Set("cus_email", req.Email)
	p.Set("cus_phone", req.Phone)
	p.Set("cus_country", strings.ToUpper(req.CountryCode))
	p.Set("shipping_method", "NO")
	p.Set("product_name", "Order")
	p.Set("product_category", "General")
	p.Set("product_profile", "general")

	var out initResp
	if err := s.call(ctx, "/gwprocess/v4/api.php", p, &out); err != nil {
		return payment.Session{}, err
	}

	if out.GatewayPageURL == "" {
		reason := out.FailedReason
		if reason == "" {
			reason = "missing GatewayPageURL"
		}
		return payment.Session{}, fmt.Errorf("sslcommerz init failed: %s", reason)
	}

	return payment.Session{
		Kind:       providerID,
		ID:         sessionID,
		CartID:     req.CartID,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(req.Currency),
		GatewayURL: out.GatewayPageURL,
		Status:     payment.StatusPending,
		CreatedAt:  time.Now(),
	}, nil
}

// Query asks the gateway for the transaction's current status by
// session (transaction) id.
func (s *SSLCommerz) Query(ctx context.Context, sessionID string) (payment.Status, error) {
	p := url.Values{}
	p.Set("store_id", s.cfg.StoreID)
	p.Set("store_passwd", s.cfg.StorePass)
	p.Set("tran_id", sessionID)

	var out queryResp
	if err := s.call(ctx, "/validator/api/merchantTransIDvalidationAPI.php", p, &out); err != nil {
		return payment.StatusPending, err
	}

	status := out.Status
	if len(out.Element) > 0 {
		status = out.Element[0].Status
		if out.Element[0].BankTranID != "" {
			s.mu.Lock()
			s.bankTranIDs[sessionID] = out.Element[0].BankTranID
			s.mu.Unlock()
		}
	}
	return mapStatus(status), nil
}

// Refund reverses a captured payment by its bank transaction id. A
// session that was never successfully queried can't be refunded.
func (s *SSLCommerz) Refund(ctx context.Context, sessionID string, amount float64) error {
	s.mu.Lock()
	bankTranID, ok := s.bankTranIDs[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no bank transaction id known for session %q", sessionID)
	}

	p := url.Values{}
	p.Set("store_id", s.cfg.StoreID)
	p.Set("store_passwd", s.cfg.StorePass)
	p.Set("bank_tran_id", bankTranID)
	p.Set("refund_amount", fmt.Sprintf("%.2f", amount))
	p.Set("refund_remarks", "storegate refund")
	p.Set("format", "json")

	var out struct {
		Status string `json:"status"`
	}
	if err := s.call(ctx, "/validator/api/merchantTransIDvalidationAPI.php", p, &out); err != nil {
		return err
	}
	if !strings.EqualFold(out.Status, "success") {
		return fmt.Errorf("refund rejected with status %q", out.Status)
	}
	return nil
}

// call POSTs a form to the gateway and decodes the JSON response.
func (s *SSLCommerz) call(ctx context.Context, path string, p url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+path, strings.NewReader(p.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("malformed response from gateway: %w", err)
	}
	return nil
}

// mapStatus folds the gateway's transaction statuses into the session
// status set. Unknown statuses stay pending.
func mapStatus(status string) payment.Status {
	n := strings.ToUpper(strings.TrimSpace(status))
	if successStatuses[n] {
		return payment.StatusAuthorized
	}
	if failureStatuses[n] {
		return payment.StatusCanceled
	}
	return payment.StatusPending
}

// callbackURL appends the session and cart ids to a configured
// callback so the handler can resolve them from the redirect alone.
func callbackURL(raw, sessionID, cartID string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	if cartID != "" {
		q.Set("cart_id", cartID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
