package middleware

import (
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/service"
	"github.com/nileshdv/postmux/pkg/utils"
)

type AuthMiddleware struct {
	s   service.ApiKeyService
	u   service.UserService
	cfg config.Config
}

func NewAuthMiddleware(cfg config.Config, service service.ApiKeyService, userService service.UserService) *AuthMiddleware {
	return &AuthMiddleware{s: service, u: userService, cfg: cfg}
}

func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.cfg.CookieName)
		apiKey := c.Query("api_key")

		if tokenString == "" && apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Keys or cookies",
			})
		}

		if apiKey != "" {
			userID, err := m.s.GetUserID(c.Context(), apiKey)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			c.Locals("user_id", fmt.Sprintf("%d", userID))
		} else if tokenString != "" {

			claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
			if err != nil {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1, // Delete cookie
				})

				log.Printf("Token validation failed: %v", err)
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid or expired token",
				})
			}

			c.Locals("user_id", claims.UserID)
		}
		return c.Next()
	}
}

// RequireAdmin guards operator endpoints. It runs after AuthMiddleware.
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := strconv.ParseInt(c.Locals("user_id").(string), 10, 64)

		user, err := m.u.GetUserInfo(c.Context(), userID)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unable to validate user",
			})
		}

		if !user.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		return c.Next()
	}
}
