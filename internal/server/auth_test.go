package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/hostpulse/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

func TestKeyCheckerPlain(t *testing.T) {
	k := NewKeyChecker("s3cret", "")
	if !k.Enabled() {
		t.Fatal("expected enabled")
	}
	if !k.Verify("s3cret") {
		t.Error("correct key rejected")
	}
	for _, bad := range []string{"", "s3cre", "s3cret ", "S3CRET"} {
		if k.Verify(bad) {
			t.Errorf("accepted %q", bad)
		}
	}
}

func TestKeyCheckerHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	k := NewKeyChecker("plain-key", string(hash))
	if !k.Verify("hashed-key") {
		t.Error("hashed key rejected")
	}
	if k.Verify("plain-key") {
		t.Error("plaintext key must be ignored when a hash is configured")
	}
}

func TestKeyCheckerDisabledRejectsAll(t *testing.T) {
	k := NewKeyChecker("", "")
	if k.Enabled() {
		t.Fatal("expected disabled")
	}
	if k.Verify("") || k.Verify("anything") {
		t.Fatal("disabled checker must reject every key")
	}
}

func TestAPIKeyMiddlewareRejectsWithUnauthorizedKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/guarded", APIKeyMiddleware(NewKeyChecker("s3cret", "")), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := apperr.ErrUnauthorized.Error() + ": invalid or missing API key"
	if body.Error != want {
		t.Fatalf("error = %q, want %q", body.Error, want)
	}

	req = httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set(APIKeyHeader, "s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid key: status %d", rec.Code)
	}
}
