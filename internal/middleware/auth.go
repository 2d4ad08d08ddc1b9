package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Verifier checks a bearer token and returns the authenticated party ID.
// Token issuance lives in a separate identity service; this process only
// consumes verification.
type Verifier interface {
	Verify(token string) (partyID string, err error)
}

// ErrUnknownToken is returned by verifiers for tokens they cannot map to
// a party.
var ErrUnknownToken = errors.New("unknown token")

// StaticVerifier resolves tokens from a fixed table. It backs deployments
// that provision API tokens through configuration rather than an identity
// service.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier parses a comma-separated list of token:party pairs.
// Malformed or empty pairs are skipped.
func NewStaticVerifier(spec string) *StaticVerifier {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		token, party, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || party == "" {
			continue
		}
		tokens[token] = party
	}
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(token string) (string, error) {
	partyID, ok := v.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return partyID, nil
}

// AuthMiddleware rejects requests without a verifiable bearer token. A nil
// verifier disables the check, for local development.
func AuthMiddleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		partyID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("partyID", partyID)
		c.Next()
	}
}
