package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

// LogSink writes each event as a structured log line. ERROR events are logged
// at warn level; RECORD_FOUND is chatty and logged at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Title != "" {
			fields = append(fields, zap.String("title", evt.Title))
		}
		switch evt.Stage {
		case progress.StagePageDone, progress.StageSourceDone:
			fields = append(fields, zap.Int("records", evt.Records), zap.Int("new_records", evt.NewRecords))
		case progress.StageRecordEnriched:
			fields = append(fields, zap.Int("attachments", evt.Attachments))
		case progress.StageRunDone:
			fields = append(fields,
				zap.Int("records", evt.Records),
				zap.Int("completed", evt.Completed),
				zap.Int("failed", evt.Failed),
			)
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageError:
		return zapcore.WarnLevel
	case progress.StageRecordFound:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
