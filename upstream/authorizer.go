package upstream

import (
	"context"
	"net/http"
)

// TokenProvider mints identity tokens for an audience. *jwtx.Provider satisfies it.
type TokenProvider interface {
	Token(ctx context.Context, audience string) (string, error)
}

// IdentityTokenAuthorizer attaches a Google identity token for deployments where the
// upstream sits behind an identity-aware gateway.
type IdentityTokenAuthorizer struct {
	Provider TokenProvider
	Audience string
}

// Authorize implements Authorizer.
func (a IdentityTokenAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	token, err := a.Provider.Token(ctx, a.Audience)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
