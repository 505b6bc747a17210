package jwtx

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestFirebaseKeysIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	for _, format := range []KeyFormat{KeyFormatX509, KeyFormatJWKS} {
		url := DefaultKeysURL
		if format == KeyFormatJWKS {
			url = DefaultJWKSURL
		}
		src := NewHTTPKeySource(url, format, &http.Client{Timeout: 10 * time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		set, err := src.Keys(ctx)
		cancel()
		if err != nil {
			t.Fatalf("fetch %s keys: %v", format, err)
		}
		if set.Len() == 0 {
			t.Fatalf("%s endpoint returned no keys", format)
		}
	}

	projectID := strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	token := strings.TrimSpace(os.Getenv("FIREBASE_TEST_TOKEN"))
	if projectID == "" || token == "" {
		return
	}

	verifier, err := NewVerifier(VerifierConfig{ProjectID: projectID})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject == "" {
		t.Fatal("claims.Subject empty")
	}
}
