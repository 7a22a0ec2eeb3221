package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	return key, string(pubPEM)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "quillpost",
		"aud": "quillpost-admin",
		"sub": "admin-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestValidateToken(t *testing.T) {
	key, pubPEM := generateKeyPair(t)
	v, err := NewJWTValidator(pubPEM, "quillpost", "quillpost-admin")
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	t.Run("valid token returns actor", func(t *testing.T) {
		actor, err := v.ValidateToken(signToken(t, key, validClaims()))
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if actor != "admin-1" {
			t.Errorf("actor = %q, want admin-1", actor)
		}
	})

	t.Run("wrong issuer rejected", func(t *testing.T) {
		claims := validClaims()
		claims["iss"] = "someone-else"
		if _, err := v.ValidateToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for wrong issuer")
		}
	})

	t.Run("wrong audience rejected", func(t *testing.T) {
		claims := validClaims()
		claims["aud"] = "other-service"
		if _, err := v.ValidateToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for wrong audience")
		}
	})

	t.Run("missing sub rejected", func(t *testing.T) {
		claims := validClaims()
		delete(claims, "sub")
		if _, err := v.ValidateToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for missing sub")
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		if _, err := v.ValidateToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("token signed with other key rejected", func(t *testing.T) {
		otherKey, _ := generateKeyPair(t)
		if _, err := v.ValidateToken(signToken(t, otherKey, validClaims())); err == nil {
			t.Error("expected error for wrong signing key")
		}
	})
}

func TestMiddleware(t *testing.T) {
	key, pubPEM := generateKeyPair(t)
	v, err := NewJWTValidator(pubPEM, "quillpost", "quillpost-admin")
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	var gotActor string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no header gets 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token passes actor through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims()))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if gotActor != "admin-1" {
			t.Errorf("actor from context = %q, want admin-1", gotActor)
		}
	})
}
