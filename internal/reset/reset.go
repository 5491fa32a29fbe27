package reset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/demostore/storegate/internal/identity"
	"github.com/demostore/storegate/internal/notify"
	"github.com/demostore/storegate/internal/otp"
	"github.com/demostore/storegate/internal/store"
	"github.com/demostore/storegate/pkg/models"
	"github.com/zerodha/logf"
)

var (
	// ErrNotFound is returned when no account matches the identifier.
	ErrNotFound = errors.New("no account found with this identifier")

	// ErrUnsupported is returned when the account has no
	// password-based login or no registered phone number.
	ErrUnsupported = errors.New("this account does not support password reset")

	// ErrDeliveryFailed is returned when the notification gateway
	// could not dispatch the OTP.
	ErrDeliveryFailed = errors.New("failed to send OTP")

	// ErrInvalidOTP is returned on a failed OTP verification. Expired,
	// absent and wrong codes are deliberately indistinguishable.
	ErrInvalidOTP = errors.New("invalid or expired OTP code")

	// ErrInvalidToken is returned when a reset token is absent,
	// expired or already spent.
	ErrInvalidToken = errors.New("invalid or expired reset token")

	// ErrWeakPassword is returned when the new password violates the
	// length policy.
	ErrWeakPassword = errors.New("password must be at least 8 characters long")
)

// RateLimitedError is returned when the phone has exhausted its OTP
// request quota for the current window.
type RateLimitedError struct {
	RemainingMinutes int
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("too many OTP requests, retry in %d minutes", e.RemainingMinutes)
}

// Config holds reset flow parameters.
type Config struct {
	BrandName      string `json:"brand_name"`
	MinPasswordLen int    `json:"min_password_len"`
}

// Flow orchestrates the three-step phone OTP password reset:
// request -> verify -> rewrite.
type Flow struct {
	mgr      *otp.Manager
	idn      identity.Provider
	sms      notify.Provider
	mail     notify.Provider
	renderer *notify.Renderer
	lo       logf.Logger
	cfg      Config
}

// New returns a reset Flow. mail may be nil when no e-mail channel is
// configured; phones without an SMS route are then unsupported.
func New(mgr *otp.Manager, idn identity.Provider, sms, mail notify.Provider, r *notify.Renderer, cfg Config, lo logf.Logger) *Flow {
	if cfg.MinPasswordLen <= 0 {
		cfg.MinPasswordLen = 8
	}
	return &Flow{
		mgr:      mgr,
		idn:      idn,
		sms:      sms,
		mail:     mail,
		renderer: r,
		lo:       lo,
		cfg:      cfg,
	}
}

// RequestReset resolves an identifier (e-mail or phone) to a customer,
// checks the rate limit, issues an OTP and dispatches it. The rate
// counter is bumped only for requests that were actually dispatched, so
// a gateway outage doesn't eat into the caller's quota. Returns a
// masked phone hint for UI confirmation.
func (f *Flow) RequestReset(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrNotFound
	}

	cust, err := f.resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, identity.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("error resolving identifier: %w", err)
	}

	if !cust.HasAccount || cust.Phone == "" {
		return "", ErrUnsupported
	}

	phone := NormalizePhone(cust.Phone)

	allowed, remaining, err := f.mgr.CanRequest(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("error checking rate limit: %w", err)
	}
	if !allowed {
		return "", RateLimitedError{RemainingMinutes: remaining}
	}

	code, err := f.mgr.Create(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("error creating OTP: %w", err)
	}

	if err := f.dispatch(ctx, cust, phone, code); err != nil {
		f.lo.Error("error sending OTP", "error", err, "phone", MaskPhone(phone))
		return "", ErrDeliveryFailed
	}

	// The OTP is already with the customer at this point; a counter
	// write failure must not turn a delivered code into an error.
	if err := f.mgr.RecordRequest(ctx, phone); err != nil {
		f.lo.Error("error recording OTP request", "error", err, "phone", MaskPhone(phone))
	}

	return MaskPhone(phone), nil
}

// Verify checks the submitted code and exchanges it for a single-use
// reset token.
func (f *Flow) Verify(ctx context.Context, phone, code string) (string, error) {
	phone = NormalizePhone(phone)
	code = strings.TrimSpace(code)

	ok, err := f.mgr.Verify(ctx, phone, code)
	if err != nil {
		return "", fmt.Errorf("error verifying OTP: %w", err)
	}
	if !ok {
		return "", ErrInvalidOTP
	}

	token, err := f.mgr.CreateResetToken(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("error creating reset token: %w", err)
	}
	return token, nil
}

// ResetPassword spends the reset token and rewrites the customer's
// password credential. The token is consumed on validation whether or
// not the subsequent write succeeds.
func (f *Flow) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < f.cfg.MinPasswordLen {
		return ErrWeakPassword
	}

	phone, err := f.mgr.ValidateResetToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return ErrInvalidToken
		}
		return fmt.Errorf("error validating reset token: %w", err)
	}

	cust, err := f.idn.ByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, identity.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("error looking up customer: %w", err)
	}
	if cust.Email == "" {
		return ErrNotFound
	}

	if err := f.idn.SetPassword(ctx, cust.Email, newPassword); err != nil {
		f.lo.Error("error rewriting password credential", "error", err, "customer_id", cust.ID)
		return fmt.Errorf("error updating password: %w", err)
	}
	return nil
}

// resolve maps an identifier to a customer. Identifiers containing '@'
// are treated as e-mail addresses, everything else as phone numbers.
func (f *Flow) resolve(ctx context.Context, identifier string) (models.Customer, error) {
	if strings.Contains(identifier, "@") {
		return f.idn.ByEmail(ctx, identifier)
	}
	return f.idn.ByPhone(ctx, NormalizePhone(identifier))
}

// dispatch renders and pushes the OTP over SMS, falling back to e-mail
// when the customer has no SMS route but a known address.
func (f *Flow) dispatch(ctx context.Context, cust models.Customer, phone, code string) error {
	data := notify.TplData{
		Brand:         f.cfg.BrandName,
		OTP:           code,
		ExpiryMinutes: int(f.mgr.Expiry().Minutes()),
	}

	if f.sms != nil && f.sms.ValidateAddress(phone) == nil {
		body, err := f.renderer.Render("sms_otp", data)
		if err != nil {
			return err
		}
		return f.sms.Push(ctx, phone, "", body)
	}

	if f.mail != nil && cust.Email != "" {
		body, err := f.renderer.Render("email_otp", data)
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("%s password reset code", f.cfg.BrandName)
		return f.mail.Push(ctx, cust.Email, subject, body)
	}

	return errors.New("no delivery channel available")
}

// NormalizePhone strips spaces and dashes from a phone number.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

// MaskPhone obscures all but the last 4 digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
