package jwtx

// DevBypassClaims holds the synthetic identity used when token verification is bypassed
// for local development.
type DevBypassClaims struct {
	Subject string
	Email   string
}

// ToCallerPrincipal converts the dev bypass configuration into a caller principal.
func (d DevBypassClaims) ToCallerPrincipal() CallerPrincipal {
	return CallerPrincipal{
		Principal: Principal{Subject: d.Subject, Email: d.Email},
		DevBypass: true,
	}
}

// DefaultDevBypassClaims returns a baseline identity suitable for local development.
func DefaultDevBypassClaims(subject string) DevBypassClaims {
	if subject == "" {
		subject = "dev-bypass"
	}
	return DevBypassClaims{Subject: subject}
}
