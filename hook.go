package veil

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zoobzio/veil"

// ApplyFunc is a root-level transform such as (*Masking).Mask or
// (*Confidentiality).Encrypt.
type ApplyFunc func(ctx context.Context, root any) (any, error)

// OptOut is implemented by call arguments that can switch the transform off
// for a single call.
type OptOut interface {
	DisableTransform() bool
}

// OptOutParams is a ready-made OptOut for request parameter structs.
type OptOutParams struct {
	DisableMasking bool `json:"disableMasking" form:"disableMasking" yaml:"disableMasking"`
}

func (p OptOutParams) DisableTransform() bool { return p.DisableMasking }

type optOutKey struct{}

// WithoutTransform marks ctx so that Around leaves results untouched.
func WithoutTransform(ctx context.Context) context.Context {
	return context.WithValue(ctx, optOutKey{}, true)
}

// TransformDisabled reports whether ctx was marked by WithoutTransform.
func TransformDisabled(ctx context.Context) bool {
	off, _ := ctx.Value(optOutKey{}).(bool)
	return off
}

// OptedOut reports whether ctx or any argument opts the call out.
func OptedOut(ctx context.Context, args ...any) bool {
	if TransformDisabled(ctx) {
		return true
	}
	for _, a := range args {
		if o, ok := a.(OptOut); ok && o.DisableTransform() {
			return true
		}
	}
	return false
}

// Around runs call and passes its result through apply, unless the call
// failed or ctx or one of args opts out. args are the guarded call's inputs.
func Around[T any](ctx context.Context, apply ApplyFunc, call func(context.Context) (T, error), args ...any) (T, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "veil.Around", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	out, err := call(ctx)
	if err != nil {
		return out, err
	}

	if OptedOut(ctx, args...) {
		span.SetAttributes(attribute.Bool("veil.opt_out", true))
		return out, nil
	}

	res, err := apply(ctx, out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return out, err
	}

	if res == nil {
		var zero T
		return zero, nil
	}
	typed, ok := res.(T)
	if !ok {
		err := fmt.Errorf("%w: transform returned %T, want %T", ErrIntrospection, res, out)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return typed, nil
}
