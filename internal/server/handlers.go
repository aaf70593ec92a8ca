package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/loader"
	"github.com/any-hub/imghub/internal/logging"
)

const (
	headerKey      = "X-Imghub-Key"
	headerCacheHit = "X-Imghub-Cache-Hit"
	headerTarget   = "X-Imghub-Target"
)

type handlers struct {
	images      ImageService
	slots       *SlotRegistry
	logger      *logrus.Logger
	loadTimeout time.Duration
}

// getImage 同步加载 url 并编码输出。
func (h *handlers) getImage(c fiber.Ctx) error {
	uri := strings.TrimSpace(c.Query("url"))
	if uri == "" {
		return renderError(c, fiber.StatusBadRequest, "url_required", nil)
	}
	format, ok := parseFormat(c.Query("format"))
	if !ok {
		return renderError(c, fiber.StatusBadRequest, "unsupported_format", nil)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if h.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.loadTimeout)
		defer cancel()
	}

	result, err := h.images.Load(ctx, uri)
	if err != nil {
		fields := logging.RequestFields("http_load", uri, result.Key, "")
		fields["request_id"] = RequestID(c)
		h.logger.WithFields(fields).WithError(err).Warn("image load failed")
		return renderError(c, loadErrorStatus(err), "load_failed", err)
	}

	hit := "miss"
	if result.MemoryHit {
		hit = loader.TierMemory
	}
	c.Set(headerKey, result.Key)
	c.Set(headerCacheHit, hit)
	return sendImage(c, result.Image, format)
}

// bindSlot 把 slot 绑定到 url 并提交，异步结果与失败由 sink 写回 slot。
func (h *handlers) bindSlot(c fiber.Ctx) error {
	name := c.Params("name")
	uri := strings.TrimSpace(c.Query("url"))
	if uri == "" {
		return renderError(c, fiber.StatusBadRequest, "url_required", nil)
	}

	slot, err := h.slots.Ensure(name)
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_slot", err)
	}
	slotName := slot.Name()

	req, err := loader.NewRequest(uri, loader.WithBinding(slot))
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_request", err)
	}

	// 内存命中不经过 sink，由这里直接写入 slot。
	img := h.images.Submit(req)
	if img != nil {
		slot.Apply(img)
	}
	fields := logging.RequestFields("slot_bind", req.URI(), req.Key(), "")
	fields["slot"] = slotName
	fields["memory_hit"] = img != nil
	fields["request_id"] = RequestID(c)
	h.logger.WithFields(fields).Debug("slot bound")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"slot":       slotName,
		"target":     req.URI(),
		"key":        req.Key(),
		"memory_hit": img != nil,
	})
}

// getSlot 返回 slot 已送达的图片；尚未送达时 204，加载失败时 502。
func (h *handlers) getSlot(c fiber.Ctx) error {
	name := c.Params("name")
	slot, ok := h.slots.Lookup(name)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "slot_not_found", nil)
	}
	format, ok := parseFormat(c.Query("format"))
	if !ok {
		return renderError(c, fiber.StatusBadRequest, "unsupported_format", nil)
	}

	state := slot.Snapshot()
	c.Set(headerTarget, state.Target)
	if state.Image == nil {
		if state.Err != nil {
			return renderError(c, fiber.StatusBadGateway, "load_failed", state.Err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
	return sendImage(c, state.Image, format)
}

func (h *handlers) clearMemory(c fiber.Ctx) error {
	return h.clear(c, "memory", h.images.ClearMemoryCache)
}

func (h *handlers) clearPersistent(c fiber.Ctx) error {
	return h.clear(c, "persistent", h.images.ClearPersistentCache)
}

func (h *handlers) clear(c fiber.Ctx, tier string, fn func(context.Context) error) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	fields := logrus.Fields{
		"action":     "cache_clear",
		"tier":       tier,
		"request_id": RequestID(c),
	}
	if err := fn(ctx); err != nil {
		h.logger.WithFields(fields).WithError(err).Error("cache clear failed")
		return renderError(c, fiber.StatusInternalServerError, "clear_failed", err)
	}
	h.logger.WithFields(fields).Info("cache cleared")
	return c.SendStatus(fiber.StatusNoContent)
}

func sendImage(c fiber.Ctx, img image.Image, format string) error {
	var buf bytes.Buffer
	contentType, err := imaging.Encode(&buf, img, format)
	if err != nil {
		return renderError(c, fiber.StatusInternalServerError, "encode_failed", err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(buf.Bytes())
}

func parseFormat(raw string) (string, bool) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case "", "png":
		return "png", true
	case "jpeg", "jpg":
		return "jpeg", true
	default:
		return "", false
	}
}

func loadErrorStatus(err error) int {
	switch {
	case errors.Is(err, loader.ErrEmptyURI):
		return fiber.StatusBadRequest
	case errors.Is(err, loader.ErrBacklogFull), errors.Is(err, loader.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}
