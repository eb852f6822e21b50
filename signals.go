package veil

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals for engine events.
var (
	SignalWalkStart        = capitan.NewSignal("veil.walk.start", "Walk beginning")
	SignalWalkComplete     = capitan.NewSignal("veil.walk.complete", "Walk finished")
	SignalFieldSkipped     = capitan.NewSignal("veil.field.skipped", "Field left untransformed after a failure")
	SignalKeyUnresolved    = capitan.NewSignal("veil.key.unresolved", "No usable key for a key scope")
	SignalCycleDetected    = capitan.NewSignal("veil.cycle.detected", "Walk re-entered a node on its own path")
	SignalProcessorCreated = capitan.NewSignal("veil.processor.created", "Processor instantiated")
)

// Keys for typed event data.
var (
	KeyTransform        = capitan.NewStringKey("transform")
	KeyTypeName         = capitan.NewStringKey("type_name")
	KeyField            = capitan.NewStringKey("field")
	KeyContentType      = capitan.NewStringKey("content_type")
	KeyDuration         = capitan.NewDurationKey("duration")
	KeyError            = capitan.NewErrorKey("error")
	KeyTransformedCount = capitan.NewIntKey("transformed_count")
	KeySkippedCount     = capitan.NewIntKey("skipped_count")
	KeyFailedCount      = capitan.NewIntKey("failed_count")
)

func emitWalkStart(ctx context.Context, transform, typeName string) {
	capitan.Emit(ctx, SignalWalkStart,
		KeyTransform.Field(transform),
		KeyTypeName.Field(typeName),
	)
}

func emitWalkComplete(ctx context.Context, transform, typeName string, duration time.Duration, stats Stats, err error) {
	fields := []capitan.Field{
		KeyTransform.Field(transform),
		KeyTypeName.Field(typeName),
		KeyDuration.Field(duration),
		KeyTransformedCount.Field(stats.Transformed),
		KeySkippedCount.Field(stats.Skipped),
		KeyFailedCount.Field(stats.Failed),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalWalkComplete, fields...)
		return
	}
	capitan.Emit(ctx, SignalWalkComplete, fields...)
}

func emitFieldSkipped(ctx context.Context, transform, field string, err error) {
	capitan.Emit(ctx, SignalFieldSkipped,
		KeyTransform.Field(transform),
		KeyField.Field(field),
		KeyError.Field(err),
	)
}

func emitKeyUnresolved(ctx context.Context, typeName string, err error) {
	capitan.Emit(ctx, SignalKeyUnresolved,
		KeyTypeName.Field(typeName),
		KeyError.Field(err),
	)
}

func emitCycleDetected(ctx context.Context, transform string, err *CycleError) {
	capitan.Error(ctx, SignalCycleDetected,
		KeyTransform.Field(transform),
		KeyTypeName.Field(err.Type.String()),
		KeyField.Field(err.Path),
	)
}

func emitProcessorCreated(ctx context.Context, contentType, typeName string) {
	capitan.Emit(ctx, SignalProcessorCreated,
		KeyContentType.Field(contentType),
		KeyTypeName.Field(typeName),
	)
}
