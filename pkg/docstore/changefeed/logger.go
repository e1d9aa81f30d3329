package changefeed

import (
	"reflection-chat-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
)

// WatermillLogger routes watermill logs into the service logger.
type WatermillLogger struct {
	log    logger.ILogger
	fields watermill.LogFields
}

func NewWatermillLogger(log logger.ILogger) *WatermillLogger {
	return &WatermillLogger{log: log, fields: watermill.LogFields{}}
}

func (l *WatermillLogger) details(fields watermill.LogFields) map[string]interface{} {
	out := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	d := l.details(fields)
	d["error"] = err
	l.log.Error("ChangeFeed", msg, d)
}

func (l *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info("ChangeFeed", msg, l.details(fields))
}

func (l *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug("ChangeFeed", msg, l.details(fields))
}

func (l *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Debug("ChangeFeed", msg, l.details(fields))
}

func (l *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{log: l.log, fields: l.fields.Add(fields)}
}
