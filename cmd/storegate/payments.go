package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/demostore/storegate/internal/payment"
)

type initiateReq struct {
	CartID      string  `json:"cart_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	CustomerID  string  `json:"customer_id"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	CountryCode string  `json:"country_code"`
}

// handlePaymentInitiate opens a payment session with the named gateway
// and persists the session so later callbacks can recover the cart.
func handlePaymentInitiate(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		req initiateReq
	)
	g, ok := gatewayFromRequest(app, w, r)
	if !ok {
		return
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CartID == "" || req.Amount <= 0 {
		sendErrorResponse(w, "Both `cart_id` and a positive `amount` are required.", http.StatusBadRequest)
		return
	}

	sess, err := g.Initiate(r.Context(), payment.InitiateRequest{
		CartID:      req.CartID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CustomerID:  req.CustomerID,
		Email:       req.Email,
		Phone:       req.Phone,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		app.lo.Error("error initiating payment session", "error", err, "gateway", g.ID(), "cart_id", req.CartID)
		sendErrorResponse(w, "Failed to initiate payment.", http.StatusInternalServerError)
		return
	}

	if err := payment.SaveSession(r.Context(), app.store, sess); err != nil {
		app.lo.Error("error persisting payment session", "error", err, "session_id", sess.ID)
		sendErrorResponse(w, "Failed to initiate payment.", http.StatusInternalServerError)
		return
	}

	sendResponse(w, httpResp{
		Success:    true,
		SessionID:  sess.ID,
		CartID:     sess.CartID,
		GatewayURL: sess.GatewayURL,
		Status:     string(sess.Status),
	})
}

// handlePaymentSuccess is the gateway's success callback. It confirms
// the payment with the gateway, reconciles the cart into an order and
// redirects the customer to the storefront confirmation page.
func handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("app").(*App)

	g, ok := gatewayFromRequest(app, w, r)
	if !ok {
		return
	}

	sessionID := callbackParam(r, "session_id", "tran_id")
	if sessionID == "" {
		sendErrorResponse(w, "Missing `session_id`.", http.StatusBadRequest)
		return
	}

	sess, err := payment.SessionFor(r.Context(), app.store, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotExist) {
			sendErrorResponse(w, "Unknown payment session.", http.StatusNotFound)
			return
		}
		app.lo.Error("error resolving payment session", "error", err, "session_id", sessionID)
		sendErrorResponse(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
		return
	}

	// Never trust the redirect alone. Confirm with the gateway.
	status, err := g.Query(r.Context(), sessionID)
	if err != nil {
		app.lo.Error("error querying gateway", "error", err, "session_id", sessionID)
		redirectFailed(w, r, app, sessionID)
		return
	}
	if status != payment.StatusAuthorized {
		app.lo.Warn("success callback for unauthorized session", "session_id", sessionID, "status", status)
		redirectFailed(w, r, app, sessionID)
		return
	}

	authenticated := r.Header.Get("Authorization") != ""
	res, err := app.rec.CompleteCart(r.Context(), sess.CartID, authenticated)
	if err != nil {
		app.lo.Error("error reconciling cart after payment", "error", err, "cart_id", sess.CartID)

		// The payment is captured but the order can't be placed.
		// Fire a refund attempt and move on; it is not retried.
		go func(sess payment.Session) {
			if err := g.Refund(context.Background(), sess.ID, sess.Amount); err != nil {
				app.lo.Error("error refunding failed completion", "error", err, "session_id", sess.ID)
			}
		}(sess)

		redirectFailed(w, r, app, sessionID)
		return
	}

	if res.Unlinked {
		http.Redirect(w, r,
			fmt.Sprintf("%s/?order=completed&country=%s", app.constants.StorefrontURL, url.QueryEscape(res.CountryCode)),
			http.StatusFound)
		return
	}
	http.Redirect(w, r,
		fmt.Sprintf("%s/order/%s/confirmed?country=%s",
			app.constants.StorefrontURL, url.PathEscape(res.Order.ID), url.QueryEscape(res.CountryCode)),
		http.StatusFound)
}

// handlePaymentFail is the gateway's failure/cancellation callback.
func handlePaymentFail(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("app").(*App)

	sessionID := callbackParam(r, "session_id", "tran_id")
	app.lo.Info("payment failed or cancelled", "session_id", sessionID)
	redirectFailed(w, r, app, sessionID)
}

// handlePaymentIPN is the gateway's server-to-server notification. It
// confirms the status with the gateway and acknowledges; order
// placement happens on the success redirect.
func handlePaymentIPN(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("app").(*App)

	g, ok := gatewayFromRequest(app, w, r)
	if !ok {
		return
	}

	sessionID := callbackParam(r, "session_id", "tran_id")
	if sessionID == "" {
		sendErrorResponse(w, "Missing `session_id`.", http.StatusBadRequest)
		return
	}

	status, err := g.Query(r.Context(), sessionID)
	if err != nil {
		app.lo.Error("error querying gateway on IPN", "error", err, "session_id", sessionID)
		sendErrorResponse(w, "Failed to verify session.", http.StatusBadGateway)
		return
	}
	app.lo.Info("ipn received", "session_id", sessionID, "status", status)

	sendResponse(w, httpResp{Success: true, Status: "ipn_received", SessionID: sessionID})
}

// handleSessionCart resolves a payment session to the cart it was
// opened for.
func handleSessionCart(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("app").(*App)

	sess, err := payment.SessionFor(r.Context(), app.store, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotExist) {
			sendErrorResponse(w, "Unknown payment session.", http.StatusNotFound)
			return
		}
		app.lo.Error("error resolving payment session", "error", err)
		sendErrorResponse(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
		return
	}

	sendResponse(w, httpResp{Success: true, CartID: sess.CartID})
}

// gatewayFromRequest picks the gateway named in the URL, answering a
// 404 for unknown ones.
func gatewayFromRequest(app *App, w http.ResponseWriter, r *http.Request) (payment.Gateway, bool) {
	g, ok := app.gateways[chi.URLParam(r, "gateway")]
	if !ok {
		sendErrorResponse(w, "Unknown payment gateway.", http.StatusNotFound)
		return nil, false
	}
	return g, true
}

// callbackParam reads a value from the query string or the posted
// form, trying each name in order. Gateways differ on what they call
// the transaction id.
func callbackParam(r *http.Request, names ...string) string {
	r.ParseForm()
	for _, n := range names {
		if v := r.Form.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func redirectFailed(w http.ResponseWriter, r *http.Request, app *App, sessionID string) {
	http.Redirect(w, r,
		fmt.Sprintf("%s/?status=failed&session_id=%s", app.constants.StorefrontURL, url.QueryEscape(sessionID)),
		http.StatusFound)
}
