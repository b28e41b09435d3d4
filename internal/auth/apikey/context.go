package apikey

import "context"

// Context key type for the resolved key identity.
type keyInfoContextKey struct{}

// ContextWithKeyInfo adds a resolved key identity to the context.
func ContextWithKeyInfo(ctx context.Context, info *KeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoContextKey{}, info)
}

// KeyInfoFromContext extracts the resolved key identity from the context.
func KeyInfoFromContext(ctx context.Context) (*KeyInfo, bool) {
	info, ok := ctx.Value(keyInfoContextKey{}).(*KeyInfo)
	if !ok || info == nil {
		return nil, false
	}
	return info, true
}
