package sslcommerz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/demostore/storegate/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVendor runs a stub of the SSLCommerz API. queryStatus scripts the
// transaction status the validator reports.
func newVendor(t *testing.T, queryStatus string) (*httptest.Server, *url.Values) {
	lastInit := &url.Values{}

	mux := http.NewServeMux()
	mux.HandleFunc("/gwprocess/v4/api.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		*lastInit = r.PostForm

		if r.PostForm.Get("store_id") == "" {
			fmt.Fprint(w, `{"status":"FAILED","failedreason":"store credential missing"}`)
			return
		}
		fmt.Fprint(w, `{"status":"SUCCESS","GatewayPageURL":"https://pay.example/session"}`)
	})
	mux.HandleFunc("/validator/api/merchantTransIDvalidationAPI.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("bank_tran_id") != "" {
			fmt.Fprint(w, `{"status":"success"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"VALID","element":[{"status":%q,"bank_tran_id":"BANK123"}]}`, queryStatus)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, lastInit
}

func newGateway(t *testing.T, baseURL string) *SSLCommerz {
	g, err := New(Config{
		StoreID:    "teststore",
		StorePass:  "testpass",
		BaseURL:    baseURL,
		SuccessURL: "http://localhost:9000/payments/sslcommerz/success",
		FailURL:    "http://localhost:9000/payments/sslcommerz/fail",
	})
	require.NoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "missing credentials should be rejected")
}

func TestInitiate(t *testing.T) {
	srv, lastInit := newVendor(t, "VALID")
	g := newGateway(t, srv.URL)

	sess, err := g.Initiate(context.Background(), payment.InitiateRequest{
		CartID:      "cart_01",
		Amount:      1500.5,
		Currency:    "bdt",
		Email:       "customer@example.com",
		Phone:       "01700000001",
		CountryCode: "bd",
	})
	require.NoError(t, err, "Error initiating session")

	assert.True(t, strings.HasPrefix(sess.ID, "ssl_"), "unexpected session id %q", sess.ID)
	assert.Equal(t, "https://pay.example/session", sess.GatewayURL)
	assert.Equal(t, payment.StatusPending, sess.Status)
	assert.Equal(t, "cart_01", sess.CartID)
	assert.Equal(t, 1500.5, sess.Amount)

	assert.Equal(t, sess.ID, lastInit.Get("tran_id"), "tran_id doesn't match the session id")
	assert.Equal(t, "1500.50", lastInit.Get("total_amount"))
	assert.Equal(t, "BDT", lastInit.Get("currency"))

	// The callbacks must carry the session and cart ids.
	u, err := url.Parse(lastInit.Get("success_url"))
	require.NoError(t, err)
	assert.Equal(t, sess.ID, u.Query().Get("session_id"))
	assert.Equal(t, "cart_01", u.Query().Get("cart_id"))
}

func TestInitiateRejected(t *testing.T) {
	srv, _ := newVendor(t, "VALID")

	g, err := New(Config{StoreID: "x", StorePass: "y", BaseURL: srv.URL})
	require.NoError(t, err)
	// Blank out the credentials the stub checks for.
	g.cfg.StoreID = ""

	_, err = g.Initiate(context.Background(), payment.InitiateRequest{CartID: "cart_01", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store credential missing")
}

func TestQueryStatuses(t *testing.T) {
	cases := []struct {
		vendor string
		want   payment.Status
	}{
		{"VALID", payment.StatusAuthorized},
		{"VALIDATED", payment.StatusAuthorized},
		{"AUTHORIZED", payment.StatusAuthorized},
		{"FAILED", payment.StatusCanceled},
		{"CANCELLED", payment.StatusCanceled},
		{"INVALID", payment.StatusCanceled},
		{"PROCESSING", payment.StatusPending},
	}

	for _, c := range cases {
		srv, _ := newVendor(t, c.vendor)
		g := newGateway(t, srv.URL)

		status, err := g.Query(context.Background(), "ssl_test")
		require.NoError(t, err, "Error querying status %s", c.vendor)
		assert.Equal(t, c.want, status, "wrong mapping for %s", c.vendor)
	}
}

// A refund needs the bank transaction id learned from a prior query.
func TestRefund(t *testing.T) {
	srv, _ := newVendor(t, "VALID")
	g := newGateway(t, srv.URL)
	ctx := context.Background()

	err := g.Refund(ctx, "ssl_unknown", 100)
	assert.Error(t, err, "refund without a prior query should fail")

	_, err = g.Query(ctx, "ssl_test")
	require.NoError(t, err)

	err = g.Refund(ctx, "ssl_test", 100)
	assert.NoError(t, err, "Error refunding after query")
}

// The success redirect and the IPN can query the same gateway
// instance at the same time; the bank transaction id cache has to
// hold up under that.
func TestQueryConcurrent(t *testing.T) {
	srv, _ := newVendor(t, "VALID")
	g := newGateway(t, srv.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := g.Query(ctx, "ssl_test")
			assert.NoError(t, err, "Error querying status")
			assert.Equal(t, payment.StatusAuthorized, status)
		}()
	}
	wg.Wait()

	err := g.Refund(ctx, "ssl_test", 100)
	assert.NoError(t, err, "Error refunding after concurrent queries")
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, payment.StatusAuthorized, mapStatus(" valid "))
	assert.Equal(t, payment.StatusCanceled, mapStatus("canceled"))
	assert.Equal(t, payment.StatusPending, mapStatus(""))
}
