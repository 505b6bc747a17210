package jwtx

import "context"

type principalKey struct{}

// CallerPrincipal is the request-scoped identity stored after authentication.
type CallerPrincipal struct {
	Principal Principal
	DevBypass bool
}

// BindPrincipal stores the caller principal inside the context for downstream consumers.
func BindPrincipal(ctx context.Context, caller CallerPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, caller)
}

// PrincipalFromContext retrieves a principal previously stored in the context.
func PrincipalFromContext(ctx context.Context) (CallerPrincipal, bool) {
	if ctx == nil {
		return CallerPrincipal{}, false
	}
	caller, ok := ctx.Value(principalKey{}).(CallerPrincipal)
	return caller, ok
}
