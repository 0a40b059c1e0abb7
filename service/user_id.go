package service

import (
	"context"
	"strings"
)

// ProfileUserIDResolver stores provider tokens under the lowercased profile id
type ProfileUserIDResolver struct{}

// ResolveUserID implements ports.UserIDResolver
func (ProfileUserIDResolver) ResolveUserID(_ context.Context, profileID string) (string, error) {
	return strings.ToLower(profileID), nil
}
