package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange 表示 Range 头无法解析或 start > end，响应 416 且不带 Content-Range。
	ErrInvalidRange = errors.New("invalid range")
	// ErrRangeNotSatisfiable 表示 start 超出文件大小，响应 416 并带 Content-Range: bytes */size。
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// Span 是闭区间 [Start, End]。
type Span struct {
	Start int64
	End   int64
}

// Length 返回区间字节数。
func (s Span) Length() int64 {
	return s.End - s.Start + 1
}

// ContentRange 返回 206 响应的 Content-Range 值。
func (s Span) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, size)
}

// ParseRange 解析 "bytes=start-end"（end 可省略）。多段请求只取第一段；
// end 超出文件时截断到 size-1。不支持 "bytes=-N" 后缀形式。
func ParseRange(header string, size int64) (Span, error) {
	value := strings.TrimSpace(header)
	unit, ranges, ok := strings.Cut(value, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return Span{}, ErrInvalidRange
	}
	first, _, _ := strings.Cut(ranges, ",")
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(first), "-")
	if !ok {
		return Span{}, ErrInvalidRange
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startRaw), 10, 64)
	if err != nil || start < 0 {
		return Span{}, ErrInvalidRange
	}

	end := size - 1
	if endRaw = strings.TrimSpace(endRaw); endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil || end < 0 {
			return Span{}, ErrInvalidRange
		}
		if start > end {
			return Span{}, ErrInvalidRange
		}
	}

	if start >= size {
		return Span{}, ErrRangeNotSatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return Span{Start: start, End: end}, nil
}
