package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/model"
)

const testKid = "test-key-1"

// jwksFixture serves a JWKS document for one RSA key and counts fetches.
type jwksFixture struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int64
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		doc := map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": testKid,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testIdentityConfig(jwksURL string) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://idp.example.com",
		Audience:   "approval-bff",
		JWKSURL:    jwksURL,
		Algorithms: []string{"RS256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       "https://idp.example.com",
		"aud":       "approval-bff",
		"sub":       "user-1",
		"tenant_id": "tenant-a",
		"roles":     []string{"hr-approver"},
		"exp":       time.Now().Add(time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}
}

func TestJWKSClient_getKey(t *testing.T) {
	f := newJWKSFixture(t)
	client := NewJWKSClient(f.server.URL, time.Hour, nil)

	key, err := client.GetKey(testKid)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if pub.N.Cmp(f.key.N) != 0 {
		t.Error("modulus does not match served key")
	}
}

func TestJWKSClient_cachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	client := NewJWKSClient(f.server.URL, time.Hour, nil)

	for i := 0; i < 3; i++ {
		if _, err := client.GetKey(testKid); err != nil {
			t.Fatalf("GetKey #%d: %v", i, err)
		}
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("jwks fetched %d times, want 1", n)
	}
}

func TestJWKSClient_unknownKid(t *testing.T) {
	f := newJWKSFixture(t)
	client := NewJWKSClient(f.server.URL, time.Hour, nil)

	if _, err := client.GetKey("no-such-kid"); err == nil {
		t.Error("GetKey(no-such-kid) = nil, want error")
	}
}

func TestJWKSClient_degradedModeUsesCache(t *testing.T) {
	f := newJWKSFixture(t)
	client := NewJWKSClient(f.server.URL, time.Nanosecond, nil)
	client.minRefresh = 0

	if _, err := client.GetKey(testKid); err != nil {
		t.Fatalf("initial GetKey: %v", err)
	}

	// Endpoint goes away; the expired cache entry still serves.
	f.server.Close()
	if _, err := client.GetKey(testKid); err != nil {
		t.Errorf("GetKey after endpoint down: %v, want cached key", err)
	}
}

func TestJWTAuthenticator(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, time.Hour, nil)
	cfg := testIdentityConfig(f.server.URL)

	var gotClaims map[string]any
	var gotToken string
	handler := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFrom(r.Context())
		gotToken = TokenFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		signed := f.sign(t, validClaims())
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if gotClaims["sub"] != "user-1" {
			t.Errorf("sub = %v", gotClaims["sub"])
		}
		if gotToken != signed {
			t.Error("raw token not stored in context")
		}
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if ee := decodeErrorBody(t, rec); ee.Code != model.ErrUnauthorized {
			t.Errorf("code = %q", ee.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-2 * time.Hour).Unix()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+f.sign(t, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if ee := decodeErrorBody(t, rec); ee.Message != "Token expired" {
			t.Errorf("message = %q, want Token expired", ee.Message)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := validClaims()
		claims["iss"] = "https://other-idp.example.com"
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+f.sign(t, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if ee := decodeErrorBody(t, rec); ee.Message != "Invalid token issuer" {
			t.Errorf("message = %q", ee.Message)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := validClaims()
		claims["aud"] = "some-other-service"
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+f.sign(t, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("disallowed algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
		token.Header["kid"] = testKid
		signed, err := token.SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		claims := validClaims()
		delete(claims, "exp")
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+f.sign(t, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestClassifyJWTError(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"token is expired", "Token expired"},
		{"token has invalid issuer", "Invalid token issuer"},
		{"token has invalid audience", "Invalid token audience"},
		{"signing method HS256 is invalid", "Disallowed signing algorithm"},
		{"missing kid in token header", "Unknown signing key"},
		{"token signature is invalid", "Invalid token signature"},
		{"something else entirely", "Invalid token"},
	}
	for _, tt := range tests {
		if got := classifyJWTError(errString(tt.in)); got != tt.want {
			t.Errorf("classifyJWTError(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
