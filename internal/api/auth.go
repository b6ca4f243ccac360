package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/sweeper/internal/accounts"
	"github.com/p-blackswan/sweeper/internal/config"
)

// Role defines the access level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "readonly"
)

var roleLevel = map[Role]int{
	RoleReadOnly: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // config.AuthModeAPIKey, AuthModeJWT or AuthModeNone
	APIKey    string
	JWTSecret []byte
}

// Claims are the JWT claims accepted in jwt mode. The subject becomes the
// audit actor; a missing role means readonly.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errBadRole = errors.New("unknown role claim")

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the Authorization
// header and records the caller's role and actor name.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *fiber.Ctx) error {
		if cfg.Mode == config.AuthModeNone {
			return authorize(c, RoleAdmin, "anonymous")
		}

		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case config.AuthModeJWT:
			claims := &Claims{}
			_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return cfg.JWTSecret, nil
			})
			if err == nil {
				err = normalizeRole(claims)
			}
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			actor := claims.Subject
			if actor == "" {
				actor = "jwt"
			}
			return authorize(c, claims.Role, actor)

		default:
			if cfg.APIKey != "" && token == cfg.APIKey {
				return authorize(c, RoleAdmin, "api-key")
			}
			logger.Warn().Str("path", path).Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
	}
}

func normalizeRole(claims *Claims) error {
	if claims.Role == "" {
		claims.Role = RoleReadOnly
	}
	if _, ok := roleLevel[claims.Role]; !ok {
		return errBadRole
	}
	return nil
}

func authorize(c *fiber.Ctx, role Role, actor string) error {
	c.Locals("role", role)
	c.Locals("actor", actor)
	c.SetUserContext(accounts.WithActor(c.UserContext(), actor))
	return c.Next()
}

// requireRole returns a middleware that enforces a minimum role level.
func requireRole(minRole Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(Role)
		if roleLevel[role] < roleLevel[minRole] {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}
