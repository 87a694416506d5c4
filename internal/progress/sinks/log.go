package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/progress"
)

// LogSink prints progress as structured log lines; the crawl command uses it
// as its console printer.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Failed windows log at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.EntityID != "" {
			fields = append(fields, zap.String("league", evt.EntityID), zap.String("label", evt.EntityLabel))
		}
		if evt.WindowKey != "" {
			fields = append(fields, zap.String("window", evt.WindowKey))
		}
		switch evt.Stage {
		case progress.StageWindowDone, progress.StageEntityDone, progress.StageSessionDone:
			fields = append(fields,
				zap.Int("records", evt.Records),
				zap.Int("completed", evt.Completed),
				zap.Int("scheduled", evt.Scheduled),
				zap.Int("failed", evt.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageSessionError || (evt.Stage == progress.StageWindowDone && !evt.Success) {
			s.logger.Warn("crawl progress", append(fields, zap.String("kind", string(evt.Kind)))...)
			continue
		}
		s.logger.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
