package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/loader"
)

// ImageService 是路由层依赖的加载器能力，测试中可替换为假实现。
type ImageService interface {
	Load(ctx context.Context, uri string) (loader.Result, error)
	Submit(req loader.Request) image.Image
	ClearMemoryCache(ctx context.Context) error
	ClearPersistentCache(ctx context.Context) error
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Images     ImageService
	Slots      *SlotRegistry
	ListenPort int
	// LoadTimeout 限制 /image 同步等待的时长，0 表示只受客户端断开约束。
	LoadTimeout time.Duration
}

const contextKeyRequestID = "_imghub_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery, the image endpoint and slot/admin routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image service is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Slots == nil {
		opts.Slots = NewSlotRegistry()
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{
		images:      opts.Images,
		slots:       opts.Slots,
		logger:      opts.Logger,
		loadTimeout: opts.LoadTimeout,
	}
	app.Get("/image", h.getImage)
	app.Put("/-/slots/:name", h.bindSlot)
	app.Get("/-/slots/:name", h.getSlot)
	app.Delete("/-/cache/memory", h.clearMemory)
	app.Delete("/-/cache/persistent", h.clearPersistent)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID；诊断路径之外的请求记录一条 debug 日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		path := string(c.Request().URI().Path())
		if !isDiagnosticsPath(path) {
			logger.WithFields(logrus.Fields{
				"action":     "request",
				"method":     c.Method(),
				"path":       path,
				"request_id": reqID,
			}).Debug("incoming request")
		}
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

func renderError(c fiber.Ctx, status int, code string, err error) error {
	payload := fiber.Map{"error": code}
	if err != nil {
		payload["detail"] = err.Error()
	}
	return c.Status(status).JSON(payload)
}
