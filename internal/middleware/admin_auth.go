package middleware

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// AdminUser is the user name expected in admin basic auth
const AdminUser = "admin"

// AdminAuth handles admin authentication
type AdminAuth struct {
	passwordHash []byte
}

// NewAdminAuth creates a new admin auth middleware. Only a bcrypt hash of
// the password is kept in memory.
func NewAdminAuth(adminPassword string) (*AdminAuth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &AdminAuth{passwordHash: hash}, nil
}

// Check reports whether user and password are the admin credentials
func (a *AdminAuth) Check(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(AdminUser)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

// AuthMiddleware returns the admin authentication middleware
func (a *AdminAuth) AuthMiddleware() fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "Admin",
		Authorizer: func(user, password string) bool {
			ok := a.Check(user, password)
			if !ok {
				slog.Warn("Admin authentication failed", "user", user)
			}
			return ok
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Admin authentication required",
			})
		},
	})
}
