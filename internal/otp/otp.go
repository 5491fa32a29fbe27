package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/demostore/storegate/internal/store"
	"github.com/demostore/storegate/pkg/models"
	"github.com/google/uuid"
)

// Config holds OTP issuance and rate limit parameters.
type Config struct {
	Expiry          time.Duration `json:"expiry"`
	MaxAttempts     int           `json:"max_attempts"`
	RateWindow      time.Duration `json:"rate_window"`
	RateMaxRequests int           `json:"rate_max_requests"`
	TokenTTL        time.Duration `json:"token_ttl"`
}

// Manager issues, verifies and rate limits one-time codes, and issues
// short-lived reset tokens after verification. Concurrency correctness
// relies entirely on the store's atomic per-key operations; two
// concurrent verifications of the same phone cannot both consume the
// same code because the first compare-and-delete wins.
type Manager struct {
	store store.Store
	cfg   Config

	// now is time.Now except in tests.
	now func() time.Time
}

// New returns an OTP Manager on the given store.
func New(st store.Store, cfg Config) *Manager {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}
	if cfg.RateMaxRequests <= 0 {
		cfg.RateMaxRequests = 3
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}

	return &Manager{
		store: st,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Expiry returns the configured OTP lifetime.
func (m *Manager) Expiry() time.Duration {
	return m.cfg.Expiry
}

// Create generates a random 6 digit code and stores a fresh OTP record
// against the phone, overwriting any live one. The code is returned for
// the caller to transmit.
func (m *Manager) Create(ctx context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("error generating OTP: %w", err)
	}

	rec := models.OTP{
		Phone:     phone,
		Code:      code,
		Attempts:  0,
		CreatedAt: m.now(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	if err := m.store.Set(ctx, otpKey(phone), b, m.cfg.Expiry); err != nil {
		return "", fmt.Errorf("error storing OTP: %w", err)
	}
	return code, nil
}

// Verify checks a submitted code against the live OTP record for the
// phone. An absent record (expired or never issued) and a wrong code
// are indistinguishable to the caller. The record is deleted on a match
// (single use) and after the attempt cap is exceeded (lockout). Lockout
// doesn't block a fresh Create; only the rate limiter gates issuance.
func (m *Manager) Verify(ctx context.Context, phone, submitted string) (bool, error) {
	b, err := m.store.Get(ctx, otpKey(phone))
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	var rec models.OTP
	if err := json.Unmarshal(b, &rec); err != nil {
		return false, err
	}

	rec.Attempts++
	if rec.Attempts > m.cfg.MaxAttempts {
		if err := m.store.Delete(ctx, otpKey(phone)); err != nil {
			return false, err
		}
		return false, nil
	}

	// Persist the incremented attempt count with the remaining TTL.
	ttl, err := m.store.TTL(ctx, otpKey(phone))
	if err == nil && ttl > 0 {
		if nb, err := json.Marshal(rec); err == nil {
			if err := m.store.Set(ctx, otpKey(phone), nb, ttl); err != nil {
				return false, err
			}
		}
	}

	if rec.Code == submitted {
		if err := m.store.Delete(ctx, otpKey(phone)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// CanRequest reports whether the phone may request another OTP. When
// denied, remaining is the wait in minutes. The window is decided on
// the stored LastRequest timestamp; the counter's store TTL is only an
// eviction convenience.
func (m *Manager) CanRequest(ctx context.Context, phone string) (allowed bool, remaining int, err error) {
	b, err := m.store.Get(ctx, requestsKey(phone))
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return true, 0, nil
		}
		return false, 0, err
	}

	var rc models.RateCounter
	if err := json.Unmarshal(b, &rc); err != nil {
		return false, 0, err
	}

	elapsed := m.now().Sub(rc.LastRequest)
	if elapsed > m.cfg.RateWindow {
		if err := m.store.Delete(ctx, requestsKey(phone)); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}

	if rc.Count >= m.cfg.RateMaxRequests {
		mins := int(math.Ceil((m.cfg.RateWindow - elapsed).Minutes()))
		return false, mins, nil
	}
	return true, 0, nil
}

// RecordRequest counts an OTP request against the phone. The stored TTL
// is refreshed to the full window on every call, so the window slides
// from the last request while inside it.
func (m *Manager) RecordRequest(ctx context.Context, phone string) error {
	rc := models.RateCounter{Count: 1, LastRequest: m.now()}

	b, err := m.store.Get(ctx, requestsKey(phone))
	if err == nil {
		var prev models.RateCounter
		if err := json.Unmarshal(b, &prev); err == nil {
			rc.Count = prev.Count + 1
		}
	} else if !errors.Is(err, store.ErrNotExist) {
		return err
	}

	nb, err := json.Marshal(rc)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, requestsKey(phone), nb, m.cfg.RateWindow)
}

// CreateResetToken issues an opaque single-use token mapped to the
// phone, valid for the configured token TTL.
func (m *Manager) CreateResetToken(ctx context.Context, phone string) (string, error) {
	token := fmt.Sprintf("reset_%d_%s", m.now().UnixMilli(), uuid.NewString())
	if err := m.store.Set(ctx, tokenKey(token), []byte(phone), m.cfg.TokenTTL); err != nil {
		return "", fmt.Errorf("error storing reset token: %w", err)
	}
	return token, nil
}

// ValidateResetToken resolves a token to its phone and deletes the
// mapping unconditionally. The token is spent on read, whether or not
// the caller's subsequent credential write succeeds.
func (m *Manager) ValidateResetToken(ctx context.Context, token string) (string, error) {
	b, err := m.store.Get(ctx, tokenKey(token))
	if err != nil {
		return "", err
	}

	if err := m.store.Delete(ctx, tokenKey(token)); err != nil {
		return "", err
	}
	return string(b), nil
}

// Clear removes the OTP record and rate counter for a phone.
func (m *Manager) Clear(ctx context.Context, phone string) error {
	if err := m.store.Delete(ctx, otpKey(phone)); err != nil {
		return err
	}
	return m.store.Delete(ctx, requestsKey(phone))
}

// generateCode returns a uniformly random code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}

func otpKey(phone string) string {
	return "otp:" + phone
}

func requestsKey(phone string) string {
	return "otp:requests:" + phone
}

func tokenKey(token string) string {
	return "reset:token:" + token
}
