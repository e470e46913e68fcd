package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Scopes carried in the token's scope claim.
const (
	ScopeAccount  = "account"
	ScopeKeeper   = "keeper"
	ScopeOperator = "operator"
)

// DevAccountHeader names the caller when authentication is disabled.
const DevAccountHeader = "X-USV-Account"

type AuthConfig struct {
	Secret    string
	Issuer    string
	ClockSkew time.Duration
}

type contextKey string

const contextKeyPrincipal contextKey = "usvd.principal"

// Principal is the authenticated caller. Account comes from the sub claim.
type Principal struct {
	Account common.Address
	Scopes  []string
}

func (p Principal) has(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}

// Authenticator validates HS256 bearer tokens. With an empty secret every
// request is trusted and the account is read from DevAccountHeader.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.Secret)), logger: logger}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware rejects callers lacking any of the required scopes.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.authenticate(r)
			if err != nil {
				a.logger.Debug("token rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			for _, scope := range required {
				if !principal.has(scope) {
					writeError(w, http.StatusForbidden, "insufficient scope")
					return
				}
			}
			ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (Principal, error) {
	if !a.Enabled() {
		raw := strings.TrimSpace(r.Header.Get(DevAccountHeader))
		if raw != "" && !common.IsHexAddress(raw) {
			return Principal{}, errors.New("malformed account header")
		}
		return Principal{
			Account: common.HexToAddress(raw),
			Scopes:  []string{ScopeAccount, ScopeKeeper, ScopeOperator},
		}, nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return Principal{}, errors.New("missing bearer token")
	}
	opts := []jwt.ParserOption{jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, errors.New("token invalid")
	}
	sub, err := claims.GetSubject()
	if err != nil || !common.IsHexAddress(sub) {
		return Principal{}, errors.New("subject must be an account address")
	}
	return Principal{Account: common.HexToAddress(sub), Scopes: extractScopes(claims)}, nil
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SignToken issues an HS256 token for account with the given scopes.
func SignToken(secret, issuer string, account common.Address, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	claims := jwt.MapClaims{
		"sub":   account.Hex(),
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
