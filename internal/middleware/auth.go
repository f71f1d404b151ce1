package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ServiceTokenHeader = "X-Service-Token"
	serviceTokenType   = "service"

	userLocal    = "user"
	serviceLocal = "service"
)

// UserClaims is the end-user token issued by the user service.
type UserClaims struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// ServiceClaims identifies a calling service inside the mesh.
type ServiceClaims struct {
	Type    string `json:"type"`
	Service string `json:"service,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	jwtSecret     []byte
	serviceSecret []byte
	logger        *zap.Logger
}

func NewAuth(jwtSecret, serviceSecret string, logger *zap.Logger) *Auth {
	return &Auth{
		jwtSecret:     []byte(jwtSecret),
		serviceSecret: []byte(serviceSecret),
		logger:        logger.Named("auth"),
	}
}

// ServiceToken rejects any request without a valid service token.
func (a *Auth) ServiceToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(ServiceTokenHeader)
		if raw == "" {
			a.logger.Warn("No service token provided", zap.String("path", c.Path()))
			return unauthorized(c)
		}

		claims := &ServiceClaims{}
		if err := parse(raw, claims, a.serviceSecret); err != nil {
			a.logger.Warn("Service token validation error", zap.String("path", c.Path()), zap.Error(err))
			return unauthorized(c)
		}
		if claims.Type != serviceTokenType {
			a.logger.Warn("Service token has wrong type", zap.String("type", claims.Type))
			return unauthorized(c)
		}

		c.Locals(serviceLocal, claims)
		return c.Next()
	}
}

// ExtractUser attaches the bearer user when one is present and valid.
// Requests without a usable token continue anonymously.
func (a *Auth) ExtractUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Next()
		}

		claims := &UserClaims{}
		if err := parse(strings.TrimPrefix(header, "Bearer "), claims, a.jwtSecret); err != nil {
			a.logger.Debug("Ignoring invalid user token", zap.Error(err))
			return c.Next()
		}

		c.Locals(userLocal, claims)
		return c.Next()
	}
}

func (a *Auth) AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := UserFrom(c)
		if user == nil || !user.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Not authorized as admin",
			})
		}
		return c.Next()
	}
}

func UserFrom(c *fiber.Ctx) *UserClaims {
	user, _ := c.Locals(userLocal).(*UserClaims)
	return user
}

func ServiceFrom(c *fiber.Ctx) *ServiceClaims {
	service, _ := c.Locals(serviceLocal).(*ServiceClaims)
	return service
}

// SignServiceToken mints a service token for outbound calls.
func SignServiceToken(secret, service string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Type:    serviceTokenType,
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return signed, errors.Wrap(err, "sign service token")
}

func parse(raw string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token is not valid")
	}
	return nil
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"message": "Invalid service token",
	})
}
