// Package auth verifies Shopify App Bridge session tokens.
package auth

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fedutinova/shopgen/internal/common"
)

var shopHost = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

// Claims of a session token. Shopify signs them with the app's API secret;
// aud is the API key and dest the shop the admin user is working in.
type Claims struct {
	Dest string `json:"dest"`
	Sid  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Shop is the myshopify domain from dest.
func (c *Claims) Shop() string {
	u, err := url.Parse(c.Dest)
	if err != nil {
		return ""
	}
	return u.Host
}

// NewToken signs a session token the way Shopify does. Used by tests and
// local tooling; production tokens come from App Bridge.
func NewToken(secret, apiKey, shop, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	cl := Claims{
		Dest: "https://" + shop,
		Sid:  uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + shop + "/admin",
			Subject:   subject,
			Audience:  []string{apiKey},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies signature, audience and lifetime, then checks that
// iss and dest name the same myshopify shop.
func ParseToken(tokenStr, secret, apiKey string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(apiKey),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	cl := &Claims{}
	if _, err := parser.ParseWithClaims(tokenStr, cl, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	shop := cl.Shop()
	if !shopHost.MatchString(shop) {
		return nil, fmt.Errorf("%w: dest %q is not a shop", common.ErrInvalidToken, cl.Dest)
	}
	if !strings.HasPrefix(cl.Issuer, "https://"+shop+"/") && cl.Issuer != "https://"+shop {
		return nil, fmt.Errorf("%w: issuer does not match dest", common.ErrInvalidToken)
	}
	return cl, nil
}
