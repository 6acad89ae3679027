package notify

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// SlogAdapter routes watermill logs into slog.
type SlogAdapter struct {
	log *slog.Logger
}

func NewSlogAdapter(log *slog.Logger) watermill.LoggerAdapter {
	return &SlogAdapter{log: log}
}

func (a *SlogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (a *SlogAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, attrs(fields)...)
}

func (a *SlogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, attrs(fields)...)
}

func (a *SlogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, attrs(fields)...)
}

func (a *SlogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &SlogAdapter{log: a.log.With(attrs(fields)...)}
}

func attrs(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields))
	for k, v := range fields {
		out = append(out, slog.Any(k, v))
	}
	return out
}
