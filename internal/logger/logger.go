package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var level slog.LevelVar

// sink 持有当前输出目标与格式，任一变化都会重建底层 handler。
type sink struct {
	mu     sync.RWMutex
	out    io.Writer
	asJSON bool
	log    *slog.Logger
}

var std = newSink(os.Stdout)

func newSink(w io.Writer) *sink {
	s := &sink{out: w}
	s.rebuild()
	return s
}

// rebuild 需持写锁调用（构造时除外）。
func (s *sink) rebuild() {
	if s.out == nil {
		s.out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &level}
	if s.asJSON {
		s.log = slog.New(slog.NewJSONHandler(s.out, opts))
		return
	}
	s.log = slog.New(slog.NewTextHandler(s.out, opts))
}

func (s *sink) current() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// SetOutput 切换日志输出目标（例如 stdout + 文件）。
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.rebuild()
	std.mu.Unlock()
}

// SetFormat 支持 "text"（默认）与 "json"。
func SetFormat(format string) {
	std.mu.Lock()
	std.asJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	std.rebuild()
	std.mu.Unlock()
}

// SetLevel 接受 debug/info/warn(ing)/error，无法识别时回落到 info。
func SetLevel(name string) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(name)); err != nil {
		lv = slog.LevelInfo
	}
	level.Set(lv)
}

// With 返回携带固定字段的 slog.Logger，用于按仓位/组件打标签。
func With(args ...any) *slog.Logger {
	return std.current().With(args...)
}

func Debugf(format string, v ...any) {
	std.current().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	std.current().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	std.current().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	std.current().Error(fmt.Sprintf(format, v...))
}
