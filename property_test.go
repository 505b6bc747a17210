package jwtx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"pgregory.net/rapid"
)

func countingKeySource(calls *atomic.Int32, set jwk.Set) KeySource {
	return KeySourceFunc(func(context.Context) (jwk.Set, error) {
		calls.Add(1)
		return set, nil
	})
}

func TestProperty_WrongSegmentCountNeverFetchesKeys(t *testing.T) {
	var calls atomic.Int32
	verifier := newTestVerifier(t, VerifierConfig{}, WithKeySource(countingKeySource(&calls, jwk.NewSet())))

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Filter(func(n int) bool { return n != 3 }).Draw(t, "segments")
		parts := make([]string, n)
		for i := range parts {
			parts[i] = rapid.StringMatching(`[A-Za-z0-9_-]{0,24}`).Draw(t, "segment")
		}
		token := strings.Join(parts, ".")
		if n == 0 {
			token = rapid.StringMatching(`[A-Za-z0-9_-]{0,24}`).Draw(t, "undotted")
		}

		_, err := verifier.Verify(context.Background(), token)
		if code := CodeOf(err); code != ErrCodeInvalidToken {
			t.Fatalf("token %q: expected %s, got %s", token, ErrCodeInvalidToken, code)
		}
	})

	if got := calls.Load(); got != 0 {
		t.Fatalf("key source invoked %d times", got)
	}
}

func TestProperty_ExpiredTokensAlwaysFail(t *testing.T) {
	key := testKey(t)
	now := time.Unix(1_760_000_000, 0)
	var calls atomic.Int32
	verifier := newTestVerifier(t, VerifierConfig{},
		WithKeySource(countingKeySource(&calls, jwk.NewSet())),
		WithClock(func() time.Time { return now }),
	)

	rapid.Check(t, func(t *rapid.T) {
		age := rapid.Int64Range(1, 90*24*3600).Draw(t, "secondsPastExpiry")
		payload := validPayload(now)
		payload["exp"] = now.Unix() - age

		token := signPayload(t, payload, key, "key-1")
		if rapid.Bool().Draw(t, "corruptSignature") {
			token = token[:strings.LastIndex(token, ".")+1] + "AAAA"
		}

		_, err := verifier.Verify(context.Background(), token)
		if code := CodeOf(err); code != ErrCodeExpired {
			t.Fatalf("expected %s, got %s", ErrCodeExpired, code)
		}
	})

	if got := calls.Load(); got != 0 {
		t.Fatalf("key source invoked %d times", got)
	}
}

func TestProperty_ForeignIssuerAlwaysFails(t *testing.T) {
	key := testKey(t)
	expected := "https://securetoken.google.com/" + testProjectID
	verifier := newTestVerifier(t, VerifierConfig{}, WithKeySource(countingKeySource(new(atomic.Int32), jwk.NewSet())))

	rapid.Check(t, func(t *rapid.T) {
		issuer := rapid.OneOf(
			rapid.String(),
			rapid.StringMatching(`https://securetoken\.google\.com/[a-z0-9-]{0,30}`),
			rapid.Just(strings.ToUpper(expected)),
			rapid.Just(expected+" "),
		).Filter(func(s string) bool { return s != expected }).Draw(t, "issuer")

		payload := validPayload(time.Now())
		payload["iss"] = issuer

		_, err := verifier.Verify(context.Background(), signPayload(t, payload, key, "key-1"))
		if code := CodeOf(err); code != ErrCodeInvalidIssuer {
			t.Fatalf("issuer %q: expected %s, got %s", issuer, ErrCodeInvalidIssuer, code)
		}
	})
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}
