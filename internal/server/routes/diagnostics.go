package routes

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/metrics"
	"github.com/mediavault/mediavault/internal/server"
	"github.com/mediavault/mediavault/internal/version"
)

// RegisterDiagnosticRoutes 暴露 /-/backends、/-/healthz 与 /-/metrics 诊断接口。
func RegisterDiagnosticRoutes(app *fiber.App, backends *server.BackendSet, m *metrics.Metrics) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Full()})
	})

	if backends != nil {
		app.Get("/-/backends", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"types":    encodeTypes(backend.List()),
				"backends": encodeBackends(backends.List()),
				"chains": fiber.Map{
					string(media.KindAudio): backends.Router().Chain(media.KindAudio),
					string(media.KindVideo): backends.Router().Chain(media.KindVideo),
				},
			})
		})
	}

	if m != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}

type typePayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Kinds       []string `json:"kinds"`
	CatchAll    bool     `json:"catch_all"`
}

type backendPayload struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Kinds          []string `json:"kinds"`
	TTLSeconds     int64    `json:"ttl_seconds"`
	TimeoutSeconds int64    `json:"timeout_seconds"`
}

func encodeTypes(types []backend.Metadata) []typePayload {
	if len(types) == 0 {
		return nil
	}
	sort.Slice(types, func(i, j int) bool {
		return types[i].Key < types[j].Key
	})
	result := make([]typePayload, 0, len(types))
	for _, meta := range types {
		result = append(result, typePayload{
			Key:         meta.Key,
			Description: meta.Description,
			Kinds:       kindStrings(meta.Kinds),
			CatchAll:    meta.CatchAll,
		})
	}
	return result
}

// encodeBackends 保持配置顺序，顺序即获取优先级。
func encodeBackends(routes []server.BackendRoute) []backendPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]backendPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, backendPayload{
			Name:           route.Config.Name,
			Type:           route.Meta.Key,
			Kinds:          kindStrings(route.Kinds),
			TTLSeconds:     int64(route.TTL / time.Second),
			TimeoutSeconds: int64(route.Config.Timeout.DurationValue() / time.Second),
		})
	}
	return result
}

func kindStrings(kinds []media.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
