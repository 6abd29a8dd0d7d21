// Package auth verifies and issues bearer tokens and hashes user passwords.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tourplan/internal/config"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates bearer tokens and extracts tenant/role claims.
// Supports modes: dev (tenant:role[:courier], no signature), hmac (HS256),
// jwks (RS256 keys fetched from a JWKS URL).
type Verifier struct {
	Mode         string
	HMACSecret   []byte
	JWKSURL      string
	Issuer       string
	Audience     string
	TenantClaim  string
	RoleClaim    string
	CourierClaim string
	http         *http.Client
	mu           sync.RWMutex
	keys         map[string]*rsa.PublicKey
	lastFetch    time.Time
	cacheTTL     time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

type Principal struct {
	Tenant    string
	Role      string
	CourierID string
	Subject   string
}

func NewVerifier(cfg config.Auth) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:         mode,
		HMACSecret:   []byte(cfg.HMACSecret),
		JWKSURL:      cfg.JWKSURL,
		Issuer:       cfg.Issuer,
		Audience:     cfg.Audience,
		TenantClaim:  "tenant",
		RoleClaim:    "role",
		CourierClaim: "courier",
		http:         &http.Client{Timeout: 5 * time.Second},
		cacheTTL:     10 * time.Minute,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		parts := strings.Split(token, ":")
		if len(parts) < 2 || parts[0] == "" {
			return Principal{}, fmt.Errorf("%w: dev token must be tenant:role[:courier]", ErrInvalidToken)
		}
		p := Principal{Tenant: parts[0], Role: strings.ToLower(parts[1])}
		if len(parts) > 2 {
			p.CourierID = parts[2]
		}
		return p, nil
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	var keyFunc jwt.Keyfunc
	switch v.Mode {
	case "hmac":
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		keyFunc = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case "jwks":
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.rsaKey(kid)
		}
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	courier, _ := claims[v.CourierClaim].(string)
	sub, _ := claims.GetSubject()
	if tenant == "" {
		return Principal{}, fmt.Errorf("%w: missing tenant claim", ErrInvalidToken)
	}
	if role == "" {
		role = "courier"
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role), CourierID: courier, Subject: sub}, nil
}

// rsaKey returns the key for kid from the JWKS cache, refetching when the
// cache is stale or does not know kid.
func (v *Verifier) rsaKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("jwks url not set")
	}
	resp, err := v.http.Get(v.JWKSURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			return fmt.Errorf("jwk %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
