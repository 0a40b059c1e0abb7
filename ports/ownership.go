package ports

import "context"

// OwnershipOracle answers whether a wallet controls a social-graph profile.
// An unknown profile yields false with a nil error.
type OwnershipOracle interface {
	Owns(ctx context.Context, address, profileID string) (bool, error)
}

// UserIDResolver maps a verified profile to the key its provider tokens live under
type UserIDResolver interface {
	ResolveUserID(ctx context.Context, profileID string) (string, error)
}
