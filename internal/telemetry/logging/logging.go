// Package logging wraps logrus with the structured-field conventions used
// across Motor and Cortex: every log line carries a service identity and,
// where available, a trace/correlation id.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hoptrade/motorcortex/infrastructure/security"
)

// Logger wraps a logrus.Logger scoped to one service identity.
type Logger struct {
	*logrus.Logger
	service string
}

// Config controls level/format; mirrors the teacher's LoggingConfig.
type Config struct {
	Level   string
	Format  string
	Service string
}

// New builds a Logger writing JSON or text to stdout per cfg.Format.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	l.SetOutput(os.Stdout)
	l.AddHook(redactionHook{})

	return &Logger{Logger: l, service: cfg.Service}
}

// redactionHook scrubs HMAC secrets, vault passphrases, and bearer-signed
// envelope bytes out of every field and message before a line is written.
// Intents and operator commands carry signatures and nonces that must never
// reach a log sink verbatim (spec's ambient handling of credential material).
type redactionHook struct{}

func (redactionHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = security.SanitizeString(entry.Message)
	if len(entry.Data) == 0 {
		return nil
	}
	sanitized := security.SanitizeMap(entry.Data)
	for k := range entry.Data {
		delete(entry.Data, k)
	}
	for k, v := range sanitized {
		entry.Data[k] = v
	}
	return nil
}

// WithTrace returns an entry tagged with the given correlation id (intent_id,
// fill_id, command_id, ...) in addition to the service identity.
func (l *Logger) WithTrace(key, value string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		key:       value,
	})
}

// Base returns an entry tagged only with the service identity.
func (l *Logger) Base() *logrus.Entry {
	return l.Logger.WithField("service", l.service)
}

// Fatal logs a structured fatal-class message and exits the process with
// status 3, the runtime-failure exit code. It is the only sanctioned way to
// abort the process on an invariant violation; raw panic() is not used for
// this class of error.
func (l *Logger) Fatal(msg string, fields logrus.Fields) {
	entry := l.Logger.WithFields(fields).WithField("service", l.service)
	entry.Error(msg)
	os.Exit(3)
}
