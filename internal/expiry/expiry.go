// Package expiry 负责变体的 TTL 到期清理：交付后挂载单次定时器，读取时惰性判定，
// 启动时做一次全量巡检。所有删除都经过同一个 Evict 例程，可重复执行。
package expiry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/logging"
	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/metrics"
)

// Reason 记录淘汰来源，写入日志与指标。
type Reason string

const (
	ReasonTimer   Reason = "timer"
	ReasonLazy    Reason = "lazy"
	ReasonMissing Reason = "missing"
	ReasonSweep   Reason = "sweep"
	ReasonStale   Reason = "stale"
)

// Key 唯一标识一个变体。
type Key struct {
	MediaID string
	Kind    media.Kind
	Format  media.Format
}

// KeyOf 从 Identity id 与变体构造 Key。
func KeyOf(mediaID string, v media.Variant) Key {
	return Key{MediaID: mediaID, Kind: v.Kind, Format: v.Format}
}

// Library 是调度器需要的记录存储能力。
type Library interface {
	All() []media.Identity
	RemoveVariant(id string, kind media.Kind, format media.Format) error
}

// Scheduler 管理每个变体至多一个待触发的定时器。
type Scheduler struct {
	lib     Library
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	timers  map[Key]*time.Timer
	stopped bool
}

// New 创建调度器；metrics 可以为 nil。
func New(lib Library, logger *logrus.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		lib:     lib,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		timers:  make(map[Key]*time.Timer),
	}
}

// Arm 在 expiresAt 时刻淘汰变体。expiresAt 为空或同一 Key 已有定时器时不做任何事。
// 返回值表示是否新建了定时器。
func (s *Scheduler) Arm(key Key, path string, expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.timers[key]; exists {
		return false
	}

	delay := expiresAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		if ok && current == timer {
			delete(s.timers, key)
		}
		pending := len(s.timers)
		s.mu.Unlock()
		s.metrics.SetScheduledTimers(pending)

		if !ok || current != timer {
			return
		}
		if err := s.evict(key, path, ReasonTimer); err != nil {
			s.logger.WithFields(logging.VariantFields(key.MediaID, string(key.Kind), string(key.Format))).
				WithError(err).Warn("定时淘汰失败")
		}
	})
	s.timers[key] = timer
	s.metrics.SetScheduledTimers(len(s.timers))
	return true
}

// Expired 判断变体是否已过期：expiresAt 非空且当前时间不早于它。
func (s *Scheduler) Expired(v media.Variant) bool {
	return v.ExpiresAt != nil && !s.now().Before(*v.ExpiresAt)
}

// Pending 返回 Key 是否有待触发的定时器。
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Evict 删除文件（忽略不存在）并移除记录，同时丢弃该 Key 上遗留的定时器。
func (s *Scheduler) Evict(key Key, path string, reason Reason) error {
	s.mu.Lock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
	pending := len(s.timers)
	s.mu.Unlock()
	s.metrics.SetScheduledTimers(pending)

	return s.evict(key, path, reason)
}

func (s *Scheduler) evict(key Key, path string, reason Reason) error {
	fields := logging.VariantFields(key.MediaID, string(key.Kind), string(key.Format))
	fields["action"] = "variant_evict"
	fields["reason"] = string(reason)
	fields["path"] = path

	var fileErr error
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fileErr = err
			s.logger.WithFields(fields).WithError(err).Warn("删除变体文件失败")
		}
	}

	if err := s.lib.RemoveVariant(key.MediaID, key.Kind, key.Format); err != nil {
		return err
	}

	s.metrics.ObserveEviction(string(reason))
	s.logger.WithFields(fields).Info("变体已淘汰")
	return fileErr
}

// Stop 停止所有定时器，之后 Arm 不再生效。仅在进程退出时调用。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.metrics.SetScheduledTimers(0)
}

// SweepReport 汇总一次巡检的结果。
type SweepReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Missing int `json:"missing"`
}

// Sweep 淘汰已过期的变体，并移除文件已经不存在的记录。
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	for _, identity := range s.lib.All() {
		for _, v := range identity.Variants {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			key := KeyOf(identity.ID, v)

			switch {
			case s.Expired(v):
				report.Expired++
				if err := s.Evict(key, v.Path, ReasonSweep); err != nil {
					return report, err
				}
			case !fileExists(v.Path):
				report.Missing++
				if err := s.Evict(key, "", ReasonMissing); err != nil {
					return report, err
				}
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"action":  "variant_sweep",
		"scanned": report.Scanned,
		"expired": report.Expired,
		"missing": report.Missing,
	}).Info("巡检完成")
	return report, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
