package jwtx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/impersonate"
)

// TokenFactory allows callers to override how identity tokens are minted.
type TokenFactory func(ctx context.Context, audience, serviceAccount string) (oauth2.TokenSource, error)

// ProviderConfig defines how the proxy obtains its own identity tokens when an upstream
// gateway requires service-to-service authentication.
type ProviderConfig struct {
	// ServiceAccount is impersonated when set; otherwise ambient credentials are used.
	ServiceAccount string
	TokenFactory   TokenFactory
}

// Provider issues Google identity tokens and caches one token source per audience.
type Provider struct {
	mu             sync.RWMutex
	factory        TokenFactory
	serviceAccount string
	sources        map[string]oauth2.TokenSource
}

// NewProvider constructs a Provider using the supplied defaults.
func NewProvider(cfg ProviderConfig) *Provider {
	factory := cfg.TokenFactory
	if factory == nil {
		factory = defaultFactory
	}
	return &Provider{
		factory:        factory,
		serviceAccount: cfg.ServiceAccount,
		sources:        make(map[string]oauth2.TokenSource),
	}
}

// Token returns an identity token for the given audience.
func (p *Provider) Token(ctx context.Context, audience string) (string, error) {
	if strings.TrimSpace(audience) == "" {
		return "", errors.New("audience is required")
	}
	source, err := p.sourceFor(ctx, audience)
	if err != nil {
		return "", err
	}
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty identity token returned")
	}
	return tok.AccessToken, nil
}

func (p *Provider) sourceFor(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	p.mu.RLock()
	source, ok := p.sources[audience]
	p.mu.RUnlock()
	if ok {
		return source, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if source, ok = p.sources[audience]; ok {
		return source, nil
	}
	// The cached source outlives the request that created it.
	ts, err := p.factory(context.WithoutCancel(ctx), audience, p.serviceAccount)
	if err != nil {
		return nil, err
	}
	source = oauth2.ReuseTokenSource(nil, ts)
	p.sources[audience] = source
	return source, nil
}

func defaultFactory(ctx context.Context, audience, serviceAccount string) (oauth2.TokenSource, error) {
	if serviceAccount != "" {
		return impersonate.IDTokenSource(ctx, impersonate.IDTokenConfig{
			Audience:        audience,
			TargetPrincipal: serviceAccount,
			IncludeEmail:    true,
		})
	}
	return idtoken.NewTokenSource(ctx, audience)
}
