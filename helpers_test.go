package jwtx

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

const testProjectID = "taste-signature-test"

// keyServer serves a Firebase-style kid -> certificate map and counts fetches.
type keyServer struct {
	t      *testing.T
	URL    string
	format KeyFormat

	mu           sync.Mutex
	keys         map[string]*rsa.PrivateKey
	certs        map[string]string
	cacheControl string
	status       int
	fetches      atomic.Int32
}

func newKeyServer(t *testing.T, format KeyFormat) *keyServer {
	t.Helper()
	ks := &keyServer{t: t, format: format, keys: map[string]*rsa.PrivateKey{}, certs: map[string]string{}, status: http.StatusOK}
	ks.addKey("key-1")
	server := httptest.NewServer(http.HandlerFunc(ks.serve))
	t.Cleanup(server.Close)
	ks.URL = server.URL
	return ks
}

func (ks *keyServer) addKey(kid string) *rsa.PrivateKey {
	ks.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		ks.t.Fatalf("generate key: %v", err)
	}
	cert := certificatePEM(ks.t, key)
	ks.mu.Lock()
	ks.keys[kid] = key
	ks.certs[kid] = cert
	ks.mu.Unlock()
	return key
}

func (ks *keyServer) key(kid string) *rsa.PrivateKey {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.keys[kid]
}

func (ks *keyServer) setStatus(status int) {
	ks.mu.Lock()
	ks.status = status
	ks.mu.Unlock()
}

func (ks *keyServer) setCacheControl(v string) {
	ks.mu.Lock()
	ks.cacheControl = v
	ks.mu.Unlock()
}

func (ks *keyServer) serve(w http.ResponseWriter, _ *http.Request) {
	ks.fetches.Add(1)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.cacheControl != "" {
		w.Header().Set("Cache-Control", ks.cacheControl)
	}
	if ks.status != http.StatusOK {
		w.WriteHeader(ks.status)
		return
	}

	var payload []byte
	var err error
	if ks.format == KeyFormatJWKS {
		set := jwk.NewSet()
		for kid, key := range ks.keys {
			pub, perr := jwk.PublicKeyOf(key)
			if perr != nil {
				ks.t.Errorf("public key: %v", perr)
				return
			}
			_ = pub.Set(jwk.KeyIDKey, kid)
			_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
			_ = set.AddKey(pub)
		}
		payload, err = json.Marshal(set)
	} else {
		payload, err = json.Marshal(ks.certs)
	}
	if err != nil {
		ks.t.Errorf("marshal keys: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func certificatePEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func validPayload(now time.Time) map[string]any {
	return map[string]any{
		"iss":            "https://securetoken.google.com/" + testProjectID,
		"aud":            testProjectID,
		"sub":            "user-123",
		"user_id":        "user-123",
		"iat":            now.Add(-time.Minute).Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"auth_time":      now.Add(-10 * time.Minute).Unix(),
		"email":          "cook@example.com",
		"email_verified": true,
		"firebase": map[string]any{
			"sign_in_provider": "password",
		},
	}
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

func signPayload(t tb, payload map[string]any, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	signed, err := jws.Sign(body, jws.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func newTestVerifier(t *testing.T, cfg VerifierConfig, opts ...VerifierOption) *Verifier {
	t.Helper()
	if cfg.ProjectID == "" {
		cfg.ProjectID = testProjectID
	}
	v, err := NewVerifier(cfg, opts...)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}
