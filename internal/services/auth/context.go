package auth

import "context"

type identityContextKey string

const identityKey identityContextKey = "auth_identity"

type Identity struct {
	Subject string
	Role    string
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// CanActFor reports whether identity may submit content on behalf of userID.
// Students act for themselves; trusted roles act for anyone.
func CanActFor(identity Identity, userID string, trustedRoles []string) bool {
	if identity.Subject != "" && identity.Subject == userID {
		return true
	}
	for _, role := range trustedRoles {
		if role != "" && role == identity.Role {
			return true
		}
	}
	return false
}
