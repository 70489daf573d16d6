package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow logging into slog.
type slogLogger struct {
	log *slog.Logger
}

func newLogger(log *slog.Logger, module string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return slogLogger{log: log.With("module", module)}
}

func (l slogLogger) Debugf(msg string, args ...any) { l.log.Debug(fmt.Sprintf(msg, args...)) }
func (l slogLogger) Infof(msg string, args ...any) { l.log.Info(fmt.Sprintf(msg, args...)) }
func (l slogLogger) Warnf(msg string, args ...any) { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l slogLogger) Errorf(msg string, args ...any) { l.log.Error(fmt.Sprintf(msg, args...)) }

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{log: l.log.With("sub", module)}
}
