// Package auth validates the RS256 bearer tokens that gate the admin API.
// Every token carries a tenant_id claim; the middleware makes it available on
// the request context so handlers can scope queries to the caller's tenant.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

// unauthenticatedPaths are reachable without a token: probes and the
// connectivity check.
var unauthenticatedPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
	"/v1/ping": true,
}

type JWTValidator struct {
	parser    *jwt.Parser
	publicKey *rsa.PublicKey
}

// NewJWTValidator builds a validator from a PEM-encoded RSA public key.
// Accepts PKIX ("PUBLIC KEY") and PKCS1 ("RSA PUBLIC KEY") encodings.
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	key, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
	)
	return &JWTValidator{parser: parser, publicKey: key}, nil
}

func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM encoded")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// ValidateToken checks signature, expiry, issuer and audience, and returns
// the tenant id the token is scoped to.
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	tenantID, ok := claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return "", fmt.Errorf("missing or invalid tenant_id claim")
	}
	return tenantID, nil
}

// Middleware enforces a valid bearer token on every route except the
// unauthenticated set, and stores the tenant id on the request context.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}

		tenantID, err := v.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// GetTenantIDFromContext returns the tenant id the middleware stored, if any.
func GetTenantIDFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok
}
