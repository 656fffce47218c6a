package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prank-platform/internal/config"

	"github.com/gin-gonic/gin"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, "user-1", "owner-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.OwnerID != "owner-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, "u", "o", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other, _ := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud"})
	if _, err := other.Verify(tok, now); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	m := newManager(t)
	if _, err := m.Issue(time.Now(), "u", "", "owner"); err == nil {
		t.Fatalf("expected error for missing owner")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	tok, err := m.Issue(time.Now(), "user-1", "owner-1", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		owner, err := OwnerID(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, owner)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "owner-1" {
		t.Fatalf("expected 200 owner-1, got %d %q", w.Code, w.Body.String())
	}
}
