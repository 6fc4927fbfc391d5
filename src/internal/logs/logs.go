package logs

import (
	"encoding/json"
	"strings"

	"github.com/astaxie/beego/logs"
)

var logger = newLogger()

func newLogger() *logs.BeeLogger {
	l := logs.NewLogger(1024)
	_ = l.SetLogger(logs.AdapterConsole)
	l.EnableFuncCallDepth(true)
	// Debug/Info/... add one frame on top of the BeeLogger methods
	l.SetLogFuncCallDepth(3)
	l.SetLevel(logs.LevelDebug)
	return l
}

// Init switches output to a daily rotated file when path is not empty,
// keeping at most days files, and sets the level.
func Init(path, level string, days int64) {
	lvl := parseLevel(level)
	logger.SetLevel(lvl)
	if path == "" {
		return
	}

	cfg, _ := json.Marshal(map[string]interface{}{
		"filename": path,
		"daily":    true,
		"maxdays":  days,
		"level":    lvl,
	})
	if err := logger.SetLogger(logs.AdapterFile, string(cfg)); err != nil {
		logger.Error("init file log %s fail: %v", path, err)
		return
	}
	_ = logger.DelLogger(logs.AdapterConsole)
}

func parseLevel(level string) int {
	switch strings.ToLower(level) {
	case "error":
		return logs.LevelError
	case "warn", "warning":
		return logs.LevelWarn
	case "info":
		return logs.LevelInfo
	default:
		return logs.LevelDebug
	}
}

func Debug(format string, v ...interface{}) {
	logger.Debug(format, v...)
}

func Info(format string, v ...interface{}) {
	logger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	logger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	logger.Error(format, v...)
}

// Flush drains buffered messages, call it before exit.
func Flush() {
	logger.Flush()
}
