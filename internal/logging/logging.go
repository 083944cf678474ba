// Package logging slog 初始化以及日志中常用的脱敏、截断工具
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// DefaultShowChars Sanitize 默认保留的尾部字符数
const DefaultShowChars = 7

// New 按级别与格式（text/json）创建 logger 并设为默认
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

// Sanitize 只显示末尾 showMax 个字符，其余用最多三个 * 代替
func Sanitize(s string, showMax int) (string, error) {
	if showMax < 0 {
		return "", errors.New("show max chars must be non-negative")
	}
	r := []rune(s)
	if len(r) <= showMax {
		return s, nil
	}
	hidden := len(r) - showMax
	return strings.Repeat("*", min(hidden, 3)) + string(r[hidden:]), nil
}

// Secret 日志里使用的脱敏值，出错时整段隐藏
func Secret(s string) string {
	out, err := Sanitize(s, DefaultShowChars)
	if err != nil {
		return "***"
	}
	return out
}

// Abbrev 截取开头 maxLen 个字符，超出部分用 ... 表示
// replaceLineBreaks 为 true 时把换行替换为 " <br> "，便于单行查看
func Abbrev(s string, maxLen int, replaceLineBreaks bool) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	out := s
	if len(r) > maxLen {
		out = string(r[:maxLen]) + "..."
	}
	if replaceLineBreaks {
		out = strings.ReplaceAll(out, "\n", " <br> ")
	}
	return out
}
