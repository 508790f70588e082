package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fedutinova/shopgen/internal/common"
)

const (
	testSecret = "shpss_test"
	testAPIKey = "api-key-123"
	testShop   = "demo-store.myshopify.com"
)

func TestNewToken_RoundTrip(t *testing.T) {
	tokenStr, err := NewToken(testSecret, testAPIKey, testShop, "42", time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	cl, err := ParseToken(tokenStr, testSecret, testAPIKey)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if cl.Shop() != testShop {
		t.Fatalf("expected shop %q, got %q", testShop, cl.Shop())
	}
	if cl.Subject != "42" {
		t.Fatalf("expected sub 42, got %q", cl.Subject)
	}
	if cl.Sid == "" || cl.ID == "" {
		t.Fatalf("expected sid and jti to be set")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, _ := NewToken(testSecret, testAPIKey, testShop, "1", time.Minute)
	expired, _ := NewToken(testSecret, testAPIKey, testShop, "1", -time.Minute)
	otherAud, _ := NewToken(testSecret, "other-app", testShop, "1", time.Minute)
	notShop, _ := NewToken(testSecret, testAPIKey, "evil.example.com", "1", time.Minute)

	mismatched := Claims{
		Dest: "https://" + testShop,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://another.myshopify.com/admin",
			Audience:  []string{testAPIKey},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	mismatchedStr, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, mismatched).SignedString([]byte(testSecret))

	tests := []struct {
		name, token, secret string
	}{
		{"wrong secret", valid, "other-secret"},
		{"expired", expired, testSecret},
		{"wrong audience", otherAud, testSecret},
		{"dest not a shop", notShop, testSecret},
		{"issuer mismatch", mismatchedStr, testSecret},
		{"garbage", "not.a.jwt", testSecret},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.token, tc.secret, testAPIKey)
			if !errors.Is(err, common.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if !common.IsUnauthorized(err) {
				t.Fatalf("invalid token must classify as unauthorized, got %v", err)
			}
		})
	}
}

func TestSessionMiddleware(t *testing.T) {
	var gotShop string
	h := SessionMiddleware(testSecret, testAPIKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShop = ShopFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tokenStr, _ := NewToken(testSecret, testAPIKey, testShop, "1", time.Minute)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + tokenStr, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotShop = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/generations/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusNoContent && gotShop != testShop {
				t.Fatalf("expected shop %q in context, got %q", testShop, gotShop)
			}
		})
	}
}

func TestShopFromContext_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if shop := ShopFromContext(req.Context()); shop != "" {
		t.Fatalf("expected empty shop, got %q", shop)
	}
}
