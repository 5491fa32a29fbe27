package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/demostore/storegate/internal/store"
)

// Status of a payment session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCanceled   Status = "canceled"
)

// ErrConflict signals that a concurrent process is already completing
// the same cart. Recoverable: the caller should look up what happened
// instead of retrying completion.
var ErrConflict = errors.New("cart is already being completed")

// Session is a payment session issued by a gateway, tagged by Kind
// ("sslcommerz", "cod").
type Session struct {
	Kind       string    `json:"kind"`
	ID         string    `json:"id"`
	CartID     string    `json:"cart_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	GatewayURL string    `json:"gateway_url,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// InitiateRequest carries everything a gateway needs to open a session.
type InitiateRequest struct {
	CartID      string
	Amount      float64
	Currency    string
	CustomerID  string
	Email       string
	Phone       string
	CountryCode string
}

// Gateway is a payment backend exposing the opaque init/query/refund
// capability this service relies on. The gateway-specific
// request/response shapes stay behind it.
type Gateway interface {
	// ID returns the gateway's identifier.
	ID() string

	// Initiate opens a payment session for a cart.
	Initiate(ctx context.Context, req InitiateRequest) (Session, error)

	// Query returns the gateway's current view of a session.
	Query(ctx context.Context, sessionID string) (Status, error)

	// Refund reverses a captured payment. Best effort; callers log
	// failures and do not retry.
	Refund(ctx context.Context, sessionID string, amount float64) error
}

// IsConflict reports whether an error represents a concurrent
// completion conflict, either as ErrConflict or as a transported
// gateway message.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "409") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "already being completed")
}

// sessionLinkTTL is how long a session to cart link stays resolvable.
const sessionLinkTTL = 24 * time.Hour

// ErrSessionNotExist is returned when a session id resolves to
// nothing, either unknown or expired.
var ErrSessionNotExist = errors.New("payment session does not exist")

// SaveSession persists the session so callbacks carrying only a
// session id can recover the cart and the paid amount.
func SaveSession(ctx context.Context, st store.Store, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return st.Set(ctx, sessionKey(sess.ID), b, sessionLinkTTL)
}

// SessionFor resolves a session id to its stored session.
func SessionFor(ctx context.Context, st store.Store, sessionID string) (Session, error) {
	b, err := st.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return Session{}, ErrSessionNotExist
		}
		return Session{}, err
	}

	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, fmt.Errorf("error unmarshalling payment session: %w", err)
	}
	return sess, nil
}

func sessionKey(id string) string {
	return "payment:session:" + id
}
