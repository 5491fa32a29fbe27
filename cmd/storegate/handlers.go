package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/demostore/storegate/internal/reset"
)

// httpResp is the JSON envelope all handlers answer with.
type httpResp struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ResetToken string `json:"resetToken,omitempty"`
	CartID     string `json:"cart_id,omitempty"`
	Status     string `json:"status,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	GatewayURL string `json:"gateway_url,omitempty"`
}

type resetReq struct {
	Identifier string `json:"identifier"`
}

type verifyReq struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type passwordReq struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

// handleRequestReset resolves an identifier, issues an OTP and
// dispatches it over SMS.
func handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		req resetReq
	)
	if !decodeJSON(w, r, &req) {
		return
	}

	masked, err := app.flow.RequestReset(r.Context(), req.Identifier)
	if err != nil {
		var rl reset.RateLimitedError
		switch {
		case errors.Is(err, reset.ErrNotFound):
			sendErrorResponse(w, "No account found with this identifier.", http.StatusNotFound)
		case errors.Is(err, reset.ErrUnsupported):
			sendErrorResponse(w, "This account does not support password reset.", http.StatusBadRequest)
		case errors.As(err, &rl):
			sendErrorResponse(w,
				fmt.Sprintf("Too many OTP requests. Please try again in %d minutes.", rl.RemainingMinutes),
				http.StatusTooManyRequests)
		case errors.Is(err, reset.ErrDeliveryFailed):
			sendErrorResponse(w, "Failed to send OTP. Please try again.", http.StatusInternalServerError)
		default:
			app.lo.Error("error requesting password reset", "error", err)
			sendErrorResponse(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
		}
		return
	}

	sendResponse(w, httpResp{Success: true, Phone: masked})
}

// handleVerifyOTP checks the submitted code and answers with a
// single-use reset token.
func handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		req verifyReq
	)
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" || req.OTP == "" {
		sendErrorResponse(w, "Both `phone` and `otp` are required.", http.StatusBadRequest)
		return
	}

	token, err := app.flow.Verify(r.Context(), req.Phone, req.OTP)
	if err != nil {
		if errors.Is(err, reset.ErrInvalidOTP) {
			sendErrorResponse(w, "Invalid or expired OTP code.", http.StatusBadRequest)
			return
		}
		app.lo.Error("error verifying OTP", "error", err)
		sendErrorResponse(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
		return
	}

	sendResponse(w, httpResp{Success: true, ResetToken: token})
}

// handleResetPassword spends the reset token and rewrites the
// password credential.
func handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		req passwordReq
	)
	if !decodeJSON(w, r, &req) {
		return
	}

	err := app.flow.ResetPassword(r.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, reset.ErrWeakPassword):
			sendErrorResponse(w, "Password must be at least 8 characters long.", http.StatusBadRequest)
		case errors.Is(err, reset.ErrInvalidToken):
			sendErrorResponse(w, "Invalid or expired reset token.", http.StatusBadRequest)
		case errors.Is(err, reset.ErrNotFound):
			sendErrorResponse(w, "No account found for this reset token.", http.StatusNotFound)
		default:
			app.lo.Error("error resetting password", "error", err)
			sendErrorResponse(w, "Failed to update password. Please try again.", http.StatusInternalServerError)
		}
		return
	}

	sendResponse(w, httpResp{Success: true, Message: "Password updated."})
}

// handleHealthCheck pings the store and the identity backend.
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("app").(*App)

	if err := app.store.Ping(r.Context()); err != nil {
		sendErrorResponse(w, "Unable to reach store.", http.StatusServiceUnavailable)
		return
	}
	if err := app.idn.Ping(r.Context()); err != nil {
		sendErrorResponse(w, "Unable to reach identity backend.", http.StatusServiceUnavailable)
		return
	}

	sendResponse(w, httpResp{Success: true, Message: "OK"})
}

// wrap injects the app context into the request.
func wrap(app *App, next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "app", app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decodeJSON reads a JSON body into out, answering a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		sendErrorResponse(w, "Invalid JSON body.", http.StatusBadRequest)
		return false
	}
	return true
}

// sendResponse sends a JSON envelope to the HTTP response.
func sendResponse(w http.ResponseWriter, resp httpResp) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	out, err := json.Marshal(resp)
	if err != nil {
		sendErrorResponse(w, "Internal Server Error.", http.StatusInternalServerError)
		return
	}

	w.Write(out)
}

// sendErrorResponse sends a JSON error envelope to the HTTP response.
func sendErrorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	out, _ := json.Marshal(httpResp{Success: false, Message: message})
	w.Write(out)
}
