package main

import (
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultLogTag = "DexKit"

// android_LogPriority
const (
	logcatVerbose = 2
	logcatDebug   = 3
	logcatInfo    = 4
	logcatWarn    = 5
	logcatError   = 6
	logcatFatal   = 7
)

// logcatHook 把 logrus 条目转发到 logcat；应用进程的 stderr 会被丢弃
type logcatHook struct {
	write     func(prio int, tag, msg string)
	formatter logrus.Formatter
}

func newLogcatHook(write func(prio int, tag, msg string)) *logcatHook {
	return &logcatHook{
		write: write,
		formatter: &logrus.TextFormatter{
			DisableTimestamp: true, // logcat 自带时间戳
			DisableColors:    true,
		},
	}
}

func (h *logcatHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *logcatHook) Fire(entry *logrus.Entry) error {
	tag := defaultLogTag
	if v, ok := entry.Data["tag"].(string); ok && v != "" {
		tag = v
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.write(logcatPriority(entry.Level), tag, strings.TrimRight(string(line), "\n"))
	return nil
}

func logcatPriority(level logrus.Level) int {
	switch level {
	case logrus.TraceLevel:
		return logcatVerbose
	case logrus.DebugLevel:
		return logcatDebug
	case logrus.InfoLevel:
		return logcatInfo
	case logrus.WarnLevel:
		return logcatWarn
	case logrus.ErrorLevel:
		return logcatError
	default:
		return logcatFatal
	}
}
