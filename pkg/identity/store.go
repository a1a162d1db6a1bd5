// Package identity maps on-chain accounts to the chat destinations that
// should receive their donation notifications.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Lookup when no mapping exists for an account.
var ErrNotFound = errors.New("identity mapping not found")

// Store holds the single active channel ref per account. A channel ref is an
// opaque string owned by the writer; the relay uses "<channel>:<chat id>".
// Implementations must be safe for concurrent use.
type Store interface {
	// Lookup returns the channel ref for the account, or ErrNotFound.
	Lookup(ctx context.Context, accountID string) (string, error)
	// Upsert overwrites any prior mapping for the account.
	Upsert(ctx context.Context, accountID, channelRef string) error
	// Delete removes the mapping for the account, if any.
	Delete(ctx context.Context, accountID string) error
}

// Canonical folds an account id to the canonical lowercase form used as the
// store key. Readers and writers must both canonicalize or lookups miss.
func Canonical(accountID string) string {
	return strings.ToLower(accountID)
}
