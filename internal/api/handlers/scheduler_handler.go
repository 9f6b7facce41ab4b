package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nileshdv/postmux/internal/scheduler"
)

type SchedulerHandler struct {
	d *scheduler.Daemon
}

func NewSchedulerHandler(daemon *scheduler.Daemon) *SchedulerHandler {
	return &SchedulerHandler{d: daemon}
}

func (h *SchedulerHandler) Status(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.d.Status())
}

func (h *SchedulerHandler) Start(c *fiber.Ctx) error {
	h.d.Start()
	return c.SendStatus(fiber.StatusOK)
}

func (h *SchedulerHandler) Stop(c *fiber.Ctx) error {
	h.d.Stop()
	return c.SendStatus(fiber.StatusOK)
}

func (h *SchedulerHandler) TriggerBatch(c *fiber.Ctx) error {
	count, err := h.d.TriggerBatch(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to run batch",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed": count,
	})
}

func (h *SchedulerHandler) ResetStats(c *fiber.Ctx) error {
	h.d.ResetStats()
	return c.SendStatus(fiber.StatusOK)
}
