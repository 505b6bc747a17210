package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const maxKeysResponseBytes = 1 << 20

// KeySource returns the signing key set used to verify token signatures.
type KeySource interface {
	Keys(ctx context.Context) (jwk.Set, error)
}

// KeySourceFunc adapts a plain function to KeySource.
type KeySourceFunc func(ctx context.Context) (jwk.Set, error)

// Keys implements KeySource.
func (f KeySourceFunc) Keys(ctx context.Context) (jwk.Set, error) {
	return f(ctx)
}

// HTTPKeySource downloads the key set from a well-known endpoint on every call.
type HTTPKeySource struct {
	url    string
	format KeyFormat
	client *http.Client
}

// NewHTTPKeySource builds a key source for the given endpoint. A nil client gets a
// default client bounded by defaultHTTPTimeout.
func NewHTTPKeySource(url string, format KeyFormat, client *http.Client) *HTTPKeySource {
	if client == nil {
		client = &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	if format == "" {
		format = KeyFormatX509
	}
	return &HTTPKeySource{url: url, format: format, client: client}
}

// Keys implements KeySource.
func (s *HTTPKeySource) Keys(ctx context.Context) (jwk.Set, error) {
	set, _, err := s.fetch(ctx)
	return set, err
}

// fetch returns the parsed key set along with the max-age advertised by the endpoint.
func (s *HTTPKeySource) fetch(ctx context.Context) (jwk.Set, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("keys endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeysResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read keys: %w", err)
	}

	var set jwk.Set
	switch s.format {
	case KeyFormatJWKS:
		set, err = jwk.Parse(body)
	default:
		set, err = parseCertificateMap(body)
	}
	if err != nil {
		return nil, 0, err
	}
	return set, maxAge(resp.Header.Get("Cache-Control")), nil
}

// parseCertificateMap converts a {"kid": "-----BEGIN CERTIFICATE-----..."} document into a key set.
func parseCertificateMap(body []byte) (jwk.Set, error) {
	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return nil, fmt.Errorf("decode certificate map: %w", err)
	}
	if len(certs) == 0 {
		return nil, errors.New("certificate map is empty")
	}
	set := jwk.NewSet()
	for kid, cert := range certs {
		key, err := jwk.ParseKey([]byte(cert), jwk.WithPEM(true))
		if err != nil {
			return nil, fmt.Errorf("parse certificate %q: %w", kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("add key %q: %w", kid, err)
		}
	}
	return set, nil
}

func maxAge(header string) time.Duration {
	if header == "" {
		return 0
	}
	directives, err := httpcc.ParseResponse(header)
	if err != nil {
		return 0
	}
	secs, ok := directives.MaxAge()
	if !ok {
		return 0
	}
	return time.Duration(secs) * time.Second
}
