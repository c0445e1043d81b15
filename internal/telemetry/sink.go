package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Sink 接收发后即忘的埋点事件。实现必须快速返回，绝不能阻塞或让抓取失败。
type Sink interface {
	// Event 上报一次计数型事件，detail 为自由文本（通常是目录或 key）。
	Event(name, detail string)
	// Timing 上报一次耗时测量。
	Timing(name string, elapsed time.Duration)
}

// NewLogSink 返回把事件写入结构化日志的 Sink。
func NewLogSink(logger *logrus.Logger) Sink {
	return &logSink{logger: logger}
}

type logSink struct {
	logger *logrus.Logger
}

func (s *logSink) Event(name, detail string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"action": "telemetry_event",
		"event":  name,
		"detail": detail,
	}).Debug("event")
}

func (s *logSink) Timing(name string, elapsed time.Duration) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"action":     "telemetry_timing",
		"event":      name,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Debug("timing")
}

// Nop 是什么都不做的 Sink，测试与关闭埋点时使用。
var Nop Sink = nopSink{}

type nopSink struct{}

func (nopSink) Event(string, string) {}

func (nopSink) Timing(string, time.Duration) {}
