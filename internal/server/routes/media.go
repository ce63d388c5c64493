package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/acquire"
	"github.com/mediavault/mediavault/internal/delivery"
	"github.com/mediavault/mediavault/internal/library"
	"github.com/mediavault/mediavault/internal/resolver"
	"github.com/mediavault/mediavault/internal/server"
)

// MediaPrefixes 是媒体接口的挂载点，两个前缀行为完全一致。
var MediaPrefixes = []string{"/api/v1/media", "/media"}

// MediaDeps 汇总媒体接口依赖的组件。
type MediaDeps struct {
	Library  *library.Library
	Resolver *resolver.Resolver
	Pipeline *acquire.Pipeline
	Delivery *delivery.Handler
	Logger   *logrus.Logger
}

// RegisterMediaRoutes 在每个前缀下挂载 download/file/resolve-info/library 接口。
func RegisterMediaRoutes(app *fiber.App, deps MediaDeps) {
	if app == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	h := &mediaHandlers{deps: deps}

	for _, prefix := range MediaPrefixes {
		group := app.Group(prefix)
		group.Post("/download", h.download)
		group.Add([]string{fiber.MethodGet, fiber.MethodHead}, "/file/:mediaId/:kind/:format", deps.Delivery.Serve)
		group.Get("/resolve-info", h.resolveInfo)
		group.Get("/library", h.library)
		group.Get("/library/artists", h.libraryByArtist)
		group.Get("/library/grouped", h.libraryGrouped)
	}
}

type mediaHandlers struct {
	deps MediaDeps
}

type downloadRequest struct {
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

type downloadResponse struct {
	MediaID string          `json:"mediaId"`
	Variant downloadVariant `json:"variant"`
}

type downloadVariant struct {
	Kind   string `json:"kind"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

func (h *mediaHandlers) download(c fiber.Ctx) error {
	var body downloadRequest
	if raw := c.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return badRequest(c, "request body must be a JSON object")
		}
	}

	if _, err := acquire.ValidateRendition(body.URL, body.Kind, body.Format, body.Quality); err != nil {
		return badRequest(c, err.Error())
	}

	identity, err := h.deps.Resolver.Resolve(c.Context(), body.URL)
	if err != nil {
		if errors.Is(err, resolver.ErrInvalidURL) {
			return badRequest(c, "Invalid URL")
		}
		h.logFailure(c, "download_resolve", err)
		return internalError(c, "Failed to resolve media")
	}

	result, err := h.deps.Pipeline.Acquire(c.Context(), acquire.Request{
		MediaID: identity.ID,
		URL:     body.URL,
		Kind:    body.Kind,
		Format:  body.Format,
		Quality: body.Quality,
	})
	if err != nil {
		var verr *acquire.ValidationError
		switch {
		case errors.As(err, &verr):
			return badRequest(c, verr.Message)
		case errors.Is(err, acquire.ErrIdentityNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Media not found"})
		}
		h.logFailure(c, "download_acquire", err)
		return internalError(c, shortReason(err))
	}

	return c.Status(fiber.StatusCreated).JSON(downloadResponse{
		MediaID: identity.ID,
		Variant: downloadVariant{
			Kind:   string(result.Kind),
			Format: string(result.Format),
			Path:   result.Path,
		},
	})
}

func (h *mediaHandlers) resolveInfo(c fiber.Ctx) error {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return badRequest(c, "url is required")
	}
	identity, err := h.deps.Resolver.Resolve(c.Context(), rawURL)
	if err != nil {
		if errors.Is(err, resolver.ErrInvalidURL) {
			return badRequest(c, "Invalid URL")
		}
		h.logFailure(c, "resolve_info", err)
		return internalError(c, "Failed to resolve info")
	}
	return c.JSON(identity)
}

func (h *mediaHandlers) library(c fiber.Ctx) error {
	return c.JSON(h.deps.Library.Query(library.Query{
		Source: c.Query("source"),
		Q:      c.Query("q"),
		Order:  c.Query("order"),
	}))
}

func (h *mediaHandlers) libraryByArtist(c fiber.Ctx) error {
	artist := c.Query("artist")
	if strings.TrimSpace(artist) == "" {
		return badRequest(c, `Query param "artist" is required`)
	}
	return c.JSON(h.deps.Library.ByArtist(artist))
}

func (h *mediaHandlers) libraryGrouped(c fiber.Ctx) error {
	return c.JSON(h.deps.Library.GroupByArtist())
}

func (h *mediaHandlers) logFailure(c fiber.Ctx, action string, err error) {
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Error("媒体请求失败")
}

// shortReason 只返回哨兵错误的文本，不把后端 stderr 等细节透出给调用方。
func shortReason(err error) string {
	switch {
	case errors.Is(err, acquire.ErrStorageWriteFailed):
		return acquire.ErrStorageWriteFailed.Error()
	case errors.Is(err, acquire.ErrAcquisitionFailed):
		return acquire.ErrAcquisitionFailed.Error()
	default:
		return "Failed to download media"
	}
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func internalError(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": message})
}
