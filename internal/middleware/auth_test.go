package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func authTestRouter(verifier Verifier) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seenParty string
	router.Use(AuthMiddleware(verifier))
	router.GET("/protected", func(c *gin.Context) {
		seenParty = c.GetString("partyID")
		c.Status(http.StatusOK)
	})
	return router, &seenParty
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := authTestRouter(NewStaticVerifier("tok-1:rider-1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	router, _ := authTestRouter(NewStaticVerifier("tok-1:rider-1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer forged")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown token, got %d", w.Code)
	}
}

func TestAuthMiddleware_ValidTokenSetsParty(t *testing.T) {
	router, seenParty := authTestRouter(NewStaticVerifier("tok-1:rider-1,tok-2:d-9"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer tok-2")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid token, got %d", w.Code)
	}
	if *seenParty != "d-9" {
		t.Fatalf("expected party d-9 in context, got %q", *seenParty)
	}
}

func TestAuthMiddleware_NilVerifierDisablesCheck(t *testing.T) {
	router, seenParty := authTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", w.Code)
	}
	if *seenParty != "" {
		t.Fatalf("no party should be set with auth disabled, got %q", *seenParty)
	}
}

func TestStaticVerifier_ParsesPairsAndSkipsMalformed(t *testing.T) {
	v := NewStaticVerifier(" tok-1:rider-1 ,broken,:orphan,tok-2:d-9,")

	if party, err := v.Verify("tok-1"); err != nil || party != "rider-1" {
		t.Fatalf("expected rider-1, got %q (%v)", party, err)
	}
	if party, err := v.Verify("tok-2"); err != nil || party != "d-9" {
		t.Fatalf("expected d-9, got %q (%v)", party, err)
	}
	if _, err := v.Verify("broken"); err != ErrUnknownToken {
		t.Fatalf("malformed pair must not mint a token, got %v", err)
	}
}
