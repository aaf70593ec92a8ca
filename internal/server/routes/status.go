package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/loader"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/version"
)

// StatsProvider 提供加载器运行时快照。
type StatsProvider interface {
	Stats() loader.Stats
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/filters 诊断接口。
func RegisterStatusRoutes(app *fiber.App, stats StatsProvider, slots *server.SlotRegistry, activeFilter string) {
	if app == nil || stats == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version: version.Full(),
			Loader:  stats.Stats(),
			Filters: encodeFilters(imaging.FilterNames(), activeFilter),
			Slots:   slots.List(),
		}
		return c.JSON(payload)
	})

	app.Get("/-/filters/:name", func(c fiber.Ctx) error {
		name := strings.ToLower(strings.TrimSpace(c.Params("name")))
		status := imaging.FilterStatus(name)
		if status == "missing" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "filter_not_found"})
		}
		return c.JSON(filterPayload{Name: name, Status: status, Active: name == activeFilter})
	})
}

type statusPayload struct {
	Version string              `json:"version"`
	Loader  loader.Stats        `json:"loader"`
	Filters []filterPayload     `json:"filters"`
	Slots   []server.SlotStatus `json:"slots"`
}

type filterPayload struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Active bool   `json:"active"`
}

func encodeFilters(names []string, active string) []filterPayload {
	if len(names) == 0 {
		return nil
	}
	result := make([]filterPayload, 0, len(names))
	for _, name := range names {
		result = append(result, filterPayload{
			Name:   name,
			Status: imaging.FilterStatus(name),
			Active: name == active,
		})
	}
	return result
}
