package session

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const DefaultTTL = 30 * time.Minute

var ErrEmptySessionID = errors.New("session id is empty")

// Store keeps one cart per session. A session without a cart reads as an empty cart.
type Store interface {
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)
	Set(ctx context.Context, sessionID string, cart *domain.Cart) error
	Clear(ctx context.Context, sessionID string) error
}
