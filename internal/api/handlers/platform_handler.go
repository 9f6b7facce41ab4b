package handlers

import (
	"fmt"
	"log"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/service"
	"github.com/nileshdv/postmux/internal/transfer"
	"github.com/nileshdv/postmux/pkg/utils"
)

type PlatformHandler struct {
	ps  service.PlatformService
	cfg config.Config
}

func NewPlatformHandler(ps service.PlatformService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		ps:  ps,
		cfg: cfg,
	}
}

func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	authURL := h.ps.GetAuthURL(c.Context(), c.Params("platform"), c.Query("state"))
	if authURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown platform",
		})
	}
	return c.Redirect(authURL)
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platform := c.Params("platform")

	claims, err := utils.ValidateToken(h.cfg.SecretKey, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	err = h.ps.ConnectCallback(c.Context(), userID, platform, code)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.cfg.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

// ConnectBluesky takes a handle and app password in the request body.
// There is no OAuth redirect for this platform.
func (h *PlatformHandler) ConnectBluesky(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body transfer.BlueskyConnect
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	err := h.ps.ConnectBluesky(c.Context(), userID, body.Identifier, body.AppPassword)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.ps.List(c.Context(), userID)
	if err != nil {
		log.Println(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch social accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountId := c.QueryInt("id", 0)

	err := h.ps.Delete(c.Context(), userID, int64(accountId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to delete social account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
