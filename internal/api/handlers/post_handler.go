package handlers

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/nileshdv/postmux/internal/queue"
	"github.com/nileshdv/postmux/internal/service"
	"github.com/nileshdv/postmux/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	AsynqClient *asynq.Client
}

func NewPostHandler(service service.PostService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: service, AsynqClient: asynqClient}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	pc := transfer.PostCreation{
		Content:        c.FormValue("content"),
		Platforms:      splitList(c.FormValue("platforms")),
		Hashtags:       splitList(c.FormValue("hashtags")),
		ContentWarning: c.FormValue("content_warning"),
		PublishNow:     c.FormValue("publish_now") == "true",
		AltTexts:       form.Value["alt_texts"],
	}

	if v := c.FormValue("scheduled_time"); v != "" {
		scheduledTime, err := time.Parse("2006-01-02T15:04", v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid scheduled time format",
			})
		}
		pc.ScheduledTime = scheduledTime
	}

	files := form.File["files"]

	postID, err := h.s.CreatePost(c.Context(), userID, &pc, files)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Immediate publishes go over the task queue; scheduled ones are
	// picked up by the daemon sweep when due.
	if pc.PublishNow {
		err = queue.EnqueuePost(h.AsynqClient, queue.PublishPostPayload{PostID: postID}, 0)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Error queueing post",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
		"post_id": postID,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if postId != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postId), userId)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to get post info",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) PostingHistory(c *fiber.Ctx) error {
	userID := GetUserID(c)

	history, err := h.s.History(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to get posting history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(history)
}

func (h *PostHandler) ReschedulePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	var body transfer.PostReschedule
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	err := h.s.Reschedule(c.Context(), userID, int64(postId), &body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userID, int64(postId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
