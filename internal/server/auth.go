package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/repo"
	"memtech/internal/session"
)

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Revoker   session.Revoker
	Logger    *log.Logger
}

type Principal struct {
	UserID    string
	Role      domain.Role
	Source    string
	TokenID   string
	ExpiresAt time.Time
}

func (p Principal) Actor() auth.Actor {
	return auth.Actor{UserID: p.UserID, Role: p.Role}
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c AuthConfig) ttl() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return 12 * time.Hour
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func actorFromContext(ctx context.Context) (auth.Actor, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return auth.Actor{}, err
	}
	return p.Actor(), nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	// Scope restricts a token to one resource, e.g. "file:<document_id>".
	Scope string `json:"scope,omitempty"`
}

func issueToken(cfg AuthConfig, u domain.User, scope string, ttl time.Duration, now time.Time) (string, jwtClaims, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return "", jwtClaims{}, errors.New("jwt secret not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:  string(u.Role),
		Scope: scope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	return token, claims, err
}

func fileScope(documentID string) string {
	return "file:" + documentID
}

func parseToken(token string, secret string) (jwtClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return jwtClaims{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return jwtClaims{}, err
	}
	if !parsed.Valid {
		return jwtClaims{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return jwtClaims{}, errors.New("subject claim required")
	}
	if !domain.Role(claims.Role).Valid() {
		return jwtClaims{}, errors.New("role claim invalid")
	}
	return *claims, nil
}

// authenticateJWT validates the token and reloads its subject, so deactivation and role
// changes apply to tokens already issued.
func authenticateJWT(ctx context.Context, cfg AuthConfig, r repo.Repo, token string) (Principal, jwtClaims, error) {
	claims, err := parseToken(token, cfg.JWTSecret)
	if err != nil {
		return Principal{}, jwtClaims{}, err
	}
	if cfg.Revoker != nil && claims.ID != "" {
		revoked, err := cfg.Revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Principal{}, jwtClaims{}, err
		}
		if revoked {
			return Principal{}, jwtClaims{}, errors.New("token revoked")
		}
	}
	u, err := r.GetUser(ctx, nil, claims.Subject)
	if err != nil {
		return Principal{}, jwtClaims{}, err
	}
	if !u.IsActive {
		return Principal{}, jwtClaims{}, errors.New("user inactive")
	}
	p := Principal{
		UserID:  u.ID,
		Role:    u.Role,
		Source:  "jwt",
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, claims, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	u, err := r.GetUser(ctx, nil, apiKey.UserID)
	if err != nil {
		return Principal{}, err
	}
	if !u.IsActive {
		return Principal{}, errors.New("user inactive")
	}
	return Principal{
		UserID: u.ID,
		Role:   u.Role,
		Source: "api_key",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// scopedFileRequest reports whether req fetches the file that a scoped token grants.
func scopedFileRequest(basePath string, req *http.Request, scope string) bool {
	id, ok := strings.CutPrefix(scope, "file:")
	if !ok || id == "" || req.Method != http.MethodGet {
		return false
	}
	return req.URL.Path == path.Join(basePath, "documents", id, "file")
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):                 true,
		path.Join(basePath, "auth", "login"):          true,
		path.Join(basePath, "onlyoffice", "callback"): true,
		path.Join(basePath, "openapi.json"):           true,
	}
	unauthorized := func(w http.ResponseWriter) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			accessToken := strings.TrimSpace(req.URL.Query().Get("access_token"))

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					unauthorized(w)
					return
				}
				principal, claims, err := authenticateJWT(req.Context(), cfg, r, token)
				if err != nil || claims.Scope != "" {
					unauthorized(w)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			case apiKeyHeader != "":
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					unauthorized(w)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			case accessToken != "":
				principal, claims, err := authenticateJWT(req.Context(), cfg, r, accessToken)
				if err != nil || !scopedFileRequest(basePath, req, claims.Scope) {
					unauthorized(w)
					return
				}
				principal.Source = "file_token"
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			}
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
