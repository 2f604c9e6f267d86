// Package audit - Append-only intrusion audit trail.
//
// The log is plain text, one timestamped line per entry, written through a
// zap console encoder to a rotated file. It implements pipeline.Sink.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nvr-ai/virtual-fence/fence"
	"github.com/nvr-ai/virtual-fence/pipeline"
)

// TimeLayout is the timestamp format of every line.
const TimeLayout = "2006-01-02 15:04:05.000"

const rule = "============================================================"

// Config configures the audit file.
type Config struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Log writes audit entries.
type Log struct {
	logger *zap.Logger
	closer func() error
}

// Open creates the directory of cfg.File and opens the rotated log.
//
// Arguments:
//   - cfg: The file settings.
//
// Returns:
//   - *Log: The audit log.
//   - error: An error if the directory cannot be created.
func Open(cfg Config) (*Log, error) {
	if cfg.File == "" {
		return nil, errors.New("audit: no file configured")
	}
	if dir := filepath.Dir(cfg.File); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "audit: creating %s", dir)
		}
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}
	l := NewWithWriter(zapcore.AddSync(w))
	l.closer = w.Close
	return l, nil
}

// NewWithWriter writes audit entries to w.
func NewWithWriter(w zapcore.WriteSyncer) *Log {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("[" + TimeLayout + "]"),
		ConsoleSeparator: " ",
	})
	core := zapcore.NewCore(enc, w, zapcore.InfoLevel)
	return &Log{logger: zap.New(core), closer: func() error { return nil }}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *Log) write(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Event writes a free-form event line, e.g. a threshold change.
func (l *Log) Event(kind, message string) {
	l.write("%s - %s", strings.ToUpper(kind), message)
}

// Begin writes the session start block.
func (l *Log) Begin(info pipeline.Info) error {
	l.write(rule)
	l.write("SESSION STARTED")
	l.write("Session: %s", info.SessionID)
	if info.Source != "" {
		l.write("Source: %s", info.Source)
	}
	l.write("Frame size: %dx%d", info.FrameSize.X, info.FrameSize.Y)
	if info.Zone != nil {
		l.write("Zone: %d points %v", info.Zone.Len(), info.Zone.Points())
	} else {
		l.write("Zone: none")
	}
	l.write("Motion threshold: %.0f, confidence: %.2f", info.Threshold, info.Confidence)
	l.write(rule)
	return nil
}

// Frame writes one INTRUSION line per intrusion frame, followed by a detail
// line per intruding person.
func (l *Log) Frame(res pipeline.FrameResult) error {
	d := res.Decision
	switch d.Transition {
	case fence.Entered:
		l.Event("ENTERED", fmt.Sprintf("Frame %d: zone occupied", res.Frame.Index))
	case fence.Exited:
		l.Event("EXITED", fmt.Sprintf("Frame %d: zone clear, longest stay %s", res.Frame.Index, d.State.Max))
	}
	if !d.Intrusion {
		return nil
	}

	intruders := d.Intruders()
	l.write("INTRUSION - Frame %d: %d person(s) in zone, current %s, max %s, total %s",
		res.Frame.Index, len(intruders), d.State.Current, d.State.Max, d.State.Cumulative)
	for _, v := range intruders {
		l.write("  -> Person at foot-point (%.0f, %.0f), confidence: %.2f",
			v.FootPoint.X, v.FootPoint.Y, v.Box.Confidence)
	}
	if res.Screenshot != "" {
		l.write("  -> Screenshot: %s", res.Screenshot)
	}
	return nil
}

// End writes the session summary block.
func (l *Log) End(sum pipeline.Summary) error {
	s := sum.Stats
	l.write(rule)
	l.write("SESSION ENDED (%s)", sum.Reason)
	if sum.Err != nil {
		l.write("Error: %v", sum.Err)
	}
	l.write("Total frames processed: %d", s.FramesProcessed)
	l.write("Total motion triggers: %d (%.1f%%)", s.GateTriggers, s.GateRate()*100)
	l.write("Total detector invocations: %d (failures: %d)", s.DetectorInvocations, s.DetectorFailures)
	l.write("Total detections: %d", s.Detections)
	l.write("Total intrusion frames: %d (entries: %d)", s.IntrusionFrames, s.IntrusionEntries)
	l.write("Longest intrusion: %s, time in zone: %s", sum.State.Max, sum.State.Cumulative)
	l.write("Screenshots: %d, alerts: %d", s.Screenshots, s.Alerts)
	l.write(rule)
	return l.logger.Sync()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	_ = l.logger.Sync()
	return l.closer()
}
