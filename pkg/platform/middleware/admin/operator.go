package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	request "auditchain/pkg/platform/middleware/request"
	"auditchain/pkg/requestcontext"
)

// OperatorAudience is the aud claim every operator token must carry.
const OperatorAudience = "auditchain-admin"

// DefaultOperatorTokenTTL is how long a token minted by IssueOperatorToken lives.
const DefaultOperatorTokenTTL = 5 * time.Minute

var (
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrMissingCredential  = errors.New("operator credential required")
	errEmptyOperatorInput = errors.New("operator and key are required")
)

// OperatorKeys maps each operator to the HMAC key only that operator holds.
// A token is accepted only when it is signed with the key of the operator it
// names, so one credential can never speak for two operators.
type OperatorKeys map[string][]byte

// NewOperatorKeys converts configured name to secret pairs.
func NewOperatorKeys(secrets map[string]string) OperatorKeys {
	keys := make(OperatorKeys, len(secrets))
	for name, secret := range secrets {
		name = strings.TrimSpace(name)
		if name == "" || secret == "" {
			continue
		}
		keys[name] = []byte(secret)
	}
	return keys
}

// IssueOperatorToken signs a short-lived HS256 token naming operator.
func IssueOperatorToken(operator string, key []byte, now time.Time, ttl time.Duration) (string, error) {
	if operator == "" || len(key) == 0 {
		return "", errEmptyOperatorInput
	}
	if ttl <= 0 {
		ttl = DefaultOperatorTokenTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   operator,
		Audience:  jwt.ClaimStrings{OperatorAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	})
	return token.SignedString(key)
}

// Verify returns the operator named by token once its signature checks out
// against that operator's own key.
func (k OperatorKeys) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		subject, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		key, ok := k[subject]
		if !ok {
			return nil, ErrUnknownOperator
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(OperatorAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

// RequireOperator authenticates the operator behind an admin call from an
// Authorization bearer token and stores the verified name in the context.
func RequireOperator(keys OperatorKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			operator, err := operatorFromRequest(r, keys)
			if err != nil {
				logger.WarnContext(ctx, "operator authentication failed",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"operator credential required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithOperator(ctx, operator)))
		})
	}
}

func operatorFromRequest(r *http.Request, keys OperatorKeys) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingCredential
	}
	return keys.Verify(strings.TrimSpace(token))
}
