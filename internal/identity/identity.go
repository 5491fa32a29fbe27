package identity

import (
	"context"
	"errors"

	"github.com/demostore/storegate/pkg/models"
)

// ErrNotExist is returned when no customer matches the given
// identifier.
var ErrNotExist = errors.New("the customer does not exist")

// Provider looks up customers and rewrites their password credential.
// It fronts the commerce platform's customer and auth records.
type Provider interface {
	// ByPhone returns the customer registered with a phone number.
	ByPhone(ctx context.Context, phone string) (models.Customer, error)

	// ByEmail returns the customer registered with an e-mail address.
	ByEmail(ctx context.Context, email string) (models.Customer, error)

	// SetPassword rewrites the stored password credential for the
	// customer identified by e-mail. The rewrite is atomic: either the
	// new credential takes effect or the old one remains.
	SetPassword(ctx context.Context, email, password string) error

	// Ping checks if the identity backend is reachable.
	Ping(ctx context.Context) error
}
