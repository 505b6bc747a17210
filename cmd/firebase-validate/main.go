// Command firebase-validate checks a Firebase identity token with the same verifier the
// chat proxy uses, and can mint Google identity tokens for the upstream gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bionicotaku/tastesig-proxy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envPath string
	root := &cobra.Command{
		Use:          "firebase-validate",
		Short:        "Inspect identity tokens accepted by the chat proxy",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if envPath == "" {
				return nil
			}
			if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envPath, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to .env file; missing files are ignored")
	root.AddCommand(newVerifyCmd(), newMintCmd())
	return root
}

func newVerifyCmd() *cobra.Command {
	var (
		projectID string
		token     string
		keysURL   string
		keyFormat string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a Firebase ID token (flag --token or env FIREBASE_ID_TOKEN)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectID == "" {
				projectID = os.Getenv("FIREBASE_PROJECT_ID")
			}
			if token == "" {
				token = os.Getenv("FIREBASE_ID_TOKEN")
			}
			if projectID == "" || token == "" {
				return errors.New("project id and token are required (flags, .env, or environment variables)")
			}

			verifier, err := jwtx.NewVerifier(jwtx.VerifierConfig{
				ProjectID:   projectID,
				KeysURL:     keysURL,
				KeyFormat:   jwtx.KeyFormat(keyFormat),
				HTTPTimeout: timeout,
			})
			if err != nil {
				return fmt.Errorf("create verifier: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			claims, err := verifier.Verify(ctx, token)
			if err != nil {
				return fmt.Errorf("verification failed [%s]: %w", jwtx.CodeOf(err), err)
			}
			printClaims(cmd.OutOrStdout(), claims)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Firebase project id (env FIREBASE_PROJECT_ID)")
	cmd.Flags().StringVar(&token, "token", "", "Firebase ID token (env FIREBASE_ID_TOKEN)")
	cmd.Flags().StringVar(&keysURL, "keys-url", "", "Signing key endpoint; defaults to the Google securetoken endpoint for the format")
	cmd.Flags().StringVar(&keyFormat, "key-format", string(jwtx.KeyFormatX509), "Key endpoint format: x509 or jwks")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for fetching signing keys")
	return cmd
}

func newMintCmd() *cobra.Command {
	var (
		audience       string
		serviceAccount string
		timeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a Google identity token for the upstream gateway audience",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if audience == "" {
				audience = os.Getenv("UPSTREAM_IDENTITY_AUDIENCE")
			}
			if serviceAccount == "" {
				serviceAccount = os.Getenv("UPSTREAM_SERVICE_ACCOUNT")
			}
			if audience == "" {
				return errors.New("audience is required (via flag, .env, or environment variables)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			provider := jwtx.NewProvider(jwtx.ProviderConfig{ServiceAccount: serviceAccount})
			tok, err := provider.Token(ctx, audience)
			if err != nil {
				return fmt.Errorf("obtain identity token: %w (check ADC and roles/iam.serviceAccountTokenCreator)", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&audience, "audience", "", "Token audience (env UPSTREAM_IDENTITY_AUDIENCE)")
	cmd.Flags().StringVar(&serviceAccount, "service-account", "", "Service account to impersonate (env UPSTREAM_SERVICE_ACCOUNT)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for token minting")
	return cmd
}

func printClaims(w io.Writer, claims *jwtx.Claims) {
	fmt.Fprintln(w, "== Firebase ID Token Verified ==")
	fmt.Fprintf(w, "subject        : %s\n", claims.Subject)
	fmt.Fprintf(w, "email          : %s\n", claims.Email)
	fmt.Fprintf(w, "email_verified : %t\n", claims.EmailVerified)
	fmt.Fprintf(w, "provider       : %s\n", claims.SignInProvider)
	fmt.Fprintf(w, "issuer         : %s\n", claims.Issuer)
	fmt.Fprintf(w, "audience       : %s\n", claims.Audience)
	fmt.Fprintf(w, "key_id         : %s\n", claims.KeyID)
	fmt.Fprintf(w, "issued_at      : %s\n", claims.IssuedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "auth_time      : %s\n", claims.AuthTime.Format(time.RFC3339))
	fmt.Fprintf(w, "expires_at     : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	if len(claims.CustomClaims) > 0 {
		keys := make([]string, 0, len(claims.CustomClaims))
		for k := range claims.CustomClaims {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "custom_claims:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, claims.CustomClaims[k])
		}
	}
}
