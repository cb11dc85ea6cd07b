package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// HeaderUserID carries the tenant directly when AllowHeaderTenant is set.
const HeaderUserID = "X-User-ID"

type AuthConfig struct {
	Secret            []byte
	AllowHeaderTenant bool
	// Public paths skip authentication.
	Public []string
}

// Auth resolves the caller's tenant from an HS256 bearer token (the "sub"
// claim, or "user_id" for older tokens) and stores it in the context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			owner, err := resolveTenant(r, cfg)
			if err != nil {
				WriteErr(w, r, err, "Unauthorized")
				return
			}

			ctx := WithTenant(r.Context(), owner)
			ctx = logger.WithTenant(ctx, owner.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveTenant(r *http.Request, cfg AuthConfig) (tenant.ID, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", finerr.New(finerr.CodeServerAuthUnauthorized, "invalid authorization format")
		}
		return ParseToken(parts[1], cfg.Secret)
	}

	if cfg.AllowHeaderTenant {
		if raw := r.Header.Get(HeaderUserID); raw != "" {
			return tenant.Parse(raw)
		}
	}
	return "", finerr.New(finerr.CodeServerAuthUnauthorized, "authorization header required")
}

// ParseToken verifies an HS256 token and returns its tenant.
func ParseToken(tokenString string, secret []byte) (tenant.ID, error) {
	if len(secret) == 0 {
		return "", finerr.New(finerr.CodeServerAuthUnauthorized, "token authentication is not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodeServerAuthUnauthorized, "invalid or expired token")
	}
	if !token.Valid {
		return "", finerr.New(finerr.CodeServerAuthUnauthorized, "invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", finerr.New(finerr.CodeServerAuthUnauthorized, "invalid token claims")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		sub, _ = claims["user_id"].(string)
	}
	return tenant.Parse(sub)
}

// IssueToken signs an HS256 token for owner. A zero ttl never expires.
func IssueToken(owner tenant.ID, secret []byte, ttl time.Duration) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"sub": owner.String(),
		"iat": time.Now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// WithTenant stores the authenticated tenant in ctx.
func WithTenant(ctx context.Context, owner tenant.ID) context.Context {
	return context.WithValue(ctx, tenantKey, owner)
}

// TenantFrom returns the tenant stored by Auth.
func TenantFrom(ctx context.Context) (tenant.ID, bool) {
	owner, ok := ctx.Value(tenantKey).(tenant.ID)
	return owner, ok && owner != ""
}
