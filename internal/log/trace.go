package log

import (
	"io"

	"github.com/sirupsen/logrus"

	"firestige.xyz/l2vpn/internal/config"
)

// Logger is the leveled printf-style logger used for the client frame trace.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	WithField(field string, value interface{}) Logger
	IsDebugEnabled() bool
}

type logrusAdapter struct {
	entry *logrus.Entry
}

// NewTrace builds a console logger that renders cfg.Pattern. A disabled trace discards
// everything and reports every level as disabled.
func NewTrace(cfg config.TraceConfig, out io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(out)

	pattern, layout := cfg.Pattern, cfg.Time
	if pattern == "" {
		pattern = defaultPattern
	}
	if layout == "" {
		layout = defaultTime
	}
	l.SetFormatter(&formatter{
		pattern: pattern,
		time:    layout,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if !cfg.Enabled {
		level = logrus.PanicLevel
		l.SetOutput(io.Discard)
	}
	l.SetLevel(level)

	return &logrusAdapter{
		entry: logrus.NewEntry(l),
	}
}

func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}

func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
