// Package delivery 通过 HTTP 交付已落盘的变体，支持 HEAD 与单段 Range 请求，
// 并在成功交付后挂载过期定时器。
package delivery

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/cache"
	"github.com/mediavault/mediavault/internal/expiry"
	"github.com/mediavault/mediavault/internal/logging"
	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/metrics"
)

// Library 是交付层读取变体记录的能力。
type Library interface {
	Variant(id string, kind media.Kind, format media.Format) (media.Variant, bool)
}

// Scheduler 是交付层用到的过期调度能力。
type Scheduler interface {
	Expired(v media.Variant) bool
	Evict(key expiry.Key, path string, reason expiry.Reason) error
	Arm(key expiry.Key, path string, expiresAt *time.Time) bool
}

// Files 是交付层读取变体文件的能力，通常由 cache.Store 提供。
type Files interface {
	Open(ctx context.Context, locator cache.Locator) (*cache.ReadResult, error)
	Path(locator cache.Locator) (string, error)
}

// Handler 负责 GET/HEAD /file/:mediaId/:kind/:format。
type Handler struct {
	lib       Library
	files     Files
	scheduler Scheduler
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

// NewHandler 构建交付处理器；files 与 metrics 可以为 nil，files 为 nil 时直接按记录路径读盘。
func NewHandler(lib Library, files Files, scheduler Scheduler, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{lib: lib, files: files, scheduler: scheduler, logger: logger, metrics: m}
}

// Serve 按 lookup → 惰性过期 → 磁盘校验 → HEAD/全量/Range 的顺序处理请求。
func (h *Handler) Serve(c fiber.Ctx) error {
	mediaID := c.Params("mediaId")
	kind := media.Kind(strings.ToLower(c.Params("kind")))
	format := media.Format(strings.ToLower(c.Params("format")))
	fields := logging.VariantFields(mediaID, string(kind), string(format))
	fields["action"] = "deliver"

	variant, ok := h.lib.Variant(mediaID, kind, format)
	if !ok {
		return h.notFound(c, "Variant not found")
	}
	key := expiry.KeyOf(mediaID, variant)

	if h.scheduler.Expired(variant) {
		if err := h.scheduler.Evict(key, variant.Path, expiry.ReasonLazy); err != nil {
			h.logger.WithFields(fields).WithError(err).Warn("惰性淘汰失败")
		}
		return h.notFound(c, "File expired")
	}

	file, size, err := h.openVariant(c.Context(), mediaID, variant)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			h.metrics.ObserveDelivery(fiber.StatusInternalServerError)
			return fiber.NewError(fiber.StatusInternalServerError, "open variant failed")
		}
		if err := h.scheduler.Evict(key, "", expiry.ReasonMissing); err != nil {
			h.logger.WithFields(fields).WithError(err).Warn("移除失效记录失败")
		}
		return h.notFound(c, "File not found on disk")
	}

	c.Set(fiber.HeaderContentType, media.ContentType(variant.Kind, variant.Format))
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	if c.Method() == http.MethodHead {
		file.Close()
		c.Response().Header.SetContentLength(int(size))
		c.Status(fiber.StatusOK)
		h.metrics.ObserveDelivery(fiber.StatusOK)
		return nil
	}

	rangeHeader := c.Get(fiber.HeaderRange)
	span := Span{Start: 0, End: size - 1}
	status := fiber.StatusOK
	if rangeHeader != "" {
		span, err = ParseRange(rangeHeader, size)
		if err != nil {
			if errors.Is(err, ErrRangeNotSatisfiable) {
				c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
			}
			file.Close()
			c.Status(fiber.StatusRequestedRangeNotSatisfiable)
			h.metrics.ObserveDelivery(fiber.StatusRequestedRangeNotSatisfiable)
			h.logger.WithFields(fields).WithField("range", rangeHeader).Debug("拒绝无法满足的 Range")
			return nil
		}
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, span.ContentRange(size))
	}

	if span.Start > 0 {
		if _, err := file.Seek(span.Start, io.SeekStart); err != nil {
			file.Close()
			h.metrics.ObserveDelivery(fiber.StatusInternalServerError)
			return fiber.NewError(fiber.StatusInternalServerError, "seek variant failed")
		}
	}

	length := span.Length()
	if length < 0 {
		length = 0
	}
	c.Status(status)
	body := &spanReader{Reader: io.LimitReader(file, length), Closer: file}
	if err := c.SendStream(body, int(length)); err != nil {
		file.Close()
		return err
	}

	h.scheduler.Arm(key, variant.Path, variant.ExpiresAt)
	h.metrics.ObserveDelivery(status)
	fields["status"] = status
	fields["bytes"] = length
	h.logger.WithFields(fields).Debug("变体交付")
	return nil
}

func (h *Handler) notFound(c fiber.Ctx, message string) error {
	h.metrics.ObserveDelivery(fiber.StatusNotFound)
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": message})
}

// openVariant 在记录路径与仓库布局一致时经由 Files 打开文件，否则按记录路径读盘。
// 文件不存在或是目录时返回 cache.ErrNotFound。
func (h *Handler) openVariant(ctx context.Context, mediaID string, v media.Variant) (io.ReadSeekCloser, int64, error) {
	if h.files != nil {
		locator := cache.Locator{MediaID: mediaID, Kind: v.Kind, Format: v.Format}
		if p, err := h.files.Path(locator); err == nil && p == v.Path {
			res, err := h.files.Open(ctx, locator)
			if err != nil {
				return nil, 0, err
			}
			return res.Reader, res.Entry.SizeBytes, nil
		}
	}

	info, err := os.Stat(v.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, cache.ErrNotFound
		}
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, cache.ErrNotFound
	}
	f, err := os.Open(v.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, cache.ErrNotFound
		}
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// spanReader 让 HTTP 层在发送完毕或连接中断后关闭文件。
type spanReader struct {
	io.Reader
	io.Closer
}
