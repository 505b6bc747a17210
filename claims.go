package jwtx

import (
	"math"
	"time"
)

// Claims represents the verified claims of a Firebase identity token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	AuthTime  time.Time
	KeyID     string

	Email          string
	EmailVerified  bool
	SignInProvider string
	CustomClaims   map[string]any
}

// Principal is the caller identity that survives verification.
// It lives for a single request and is never cached.
type Principal struct {
	Subject string
	Email   string
}

// Principal returns the subject and optional email of the verified caller.
func (c *Claims) Principal() Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{Subject: c.Subject, Email: c.Email}
}

var registeredClaims = map[string]struct{}{
	"iss": {}, "aud": {}, "sub": {}, "exp": {}, "iat": {}, "auth_time": {},
	"user_id": {}, "email": {}, "email_verified": {}, "firebase": {},
}

func claimsFromPayload(payload map[string]any, kid string) *Claims {
	claims := &Claims{
		Subject:   stringClaim(payload, "sub"),
		Issuer:    stringClaim(payload, "iss"),
		Audience:  stringClaim(payload, "aud"),
		ExpiresAt: timeClaim(payload, "exp"),
		IssuedAt:  timeClaim(payload, "iat"),
		AuthTime:  timeClaim(payload, "auth_time"),
		KeyID:     kid,
		Email:     stringClaim(payload, "email"),
	}
	if v, ok := payload["email_verified"].(bool); ok {
		claims.EmailVerified = v
	}
	if fb, ok := payload["firebase"].(map[string]any); ok {
		claims.SignInProvider = stringClaim(fb, "sign_in_provider")
	}
	for k, v := range payload {
		if _, ok := registeredClaims[k]; ok {
			continue
		}
		if claims.CustomClaims == nil {
			claims.CustomClaims = make(map[string]any)
		}
		claims.CustomClaims[k] = v
	}
	return claims
}

// maxNumericDate is 2^63, the first float64 that does not fit in an int64.
const maxNumericDate = float64(math.MaxInt64)

func stringClaim(payload map[string]any, name string) string {
	s, _ := payload[name].(string)
	return s
}

// numericClaim reports a NumericDate claim in seconds since the epoch. Values that are
// negative, non-finite or beyond int64 are treated as absent.
func numericClaim(payload map[string]any, name string) (int64, bool) {
	switch v := payload[name].(type) {
	case float64:
		if math.IsNaN(v) || v < 0 || v >= maxNumericDate {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, v >= 0
	default:
		return 0, false
	}
}

func timeClaim(payload map[string]any, name string) time.Time {
	secs, ok := numericClaim(payload, name)
	if !ok {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
