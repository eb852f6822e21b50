package veil

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Sentinel errors for programmatic error handling.
// Use errors.Is() to check for these error types.
var (
	// ErrIntrospection indicates a field could not be read or written.
	ErrIntrospection = errors.New("field not introspectable")

	// ErrKeyResolution indicates no usable key could be obtained for a scope.
	ErrKeyResolution = errors.New("key resolution failed")

	// ErrCipher indicates the cipher capability failed.
	ErrCipher = errors.New("cipher failed")

	// ErrMarkerMisuse indicates a marker or key field is declared on an incompatible field.
	ErrMarkerMisuse = errors.New("marker misuse")

	// ErrUnsupportedMode indicates a crypto mode outside encrypt/decrypt reached dispatch.
	ErrUnsupportedMode = errors.New("unsupported crypto mode")

	// ErrInvalidTag indicates a struct tag has an invalid value.
	ErrInvalidTag = errors.New("invalid tag")

	// ErrCycle indicates the walker re-entered a node on its own path.
	ErrCycle = errors.New("cycle detected")

	// ErrDepthExceeded indicates the walker went deeper than its configured bound.
	ErrDepthExceeded = errors.New("max depth exceeded")

	// ErrInvalidKey indicates key material could not be parsed.
	ErrInvalidKey = errors.New("invalid key")

	// ErrMissingMasker indicates no masker is registered for a mask kind.
	ErrMissingMasker = errors.New("missing masker")

	// ErrMissingHasher indicates no hasher is registered for an algorithm.
	ErrMissingHasher = errors.New("missing hasher")

	// ErrUnmarshal indicates the codec failed to unmarshal input data.
	ErrUnmarshal = errors.New("unmarshal failed")

	// ErrMarshal indicates the codec failed to marshal output data.
	ErrMarshal = errors.New("marshal failed")
)

// ConfigError describes a type declaration problem found while indexing.
type ConfigError struct {
	Err   error  // ErrMarkerMisuse or ErrInvalidTag
	Type  string // owning type
	Field string // offending field
	Tag   string // tag value, if any
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Tag != "" {
		fmt.Fprintf(&b, " %q", e.Tag)
	}
	if e.Type != "" || e.Field != "" {
		fmt.Fprintf(&b, " (%s.%s)", e.Type, e.Field)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TransformError represents a failure while transforming a single field.
type TransformError struct {
	Err       error  // ErrCipher, ErrKeyResolution, ErrIntrospection, ...
	Field     string // field path
	Operation string // encrypt, decrypt, mask, hash
	Cause     error  // original error
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s field %s: %v", e.Operation, e.Field, e.Cause)
	}
	return fmt.Sprintf("%s field %s: %v", e.Operation, e.Field, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// CycleError reports the type at which the walker found a back-reference.
type CycleError struct {
	Type reflect.Type
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s re-entered at %s", ErrCycle, e.Type, e.Path)
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// CodecError represents a marshal/unmarshal error.
type CodecError struct {
	Err   error // ErrMarshal, ErrUnmarshal
	Cause error
}

func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Err.Error(), e.Cause)
	}
	return e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func newConfigError(sentinel error, t reflect.Type, field, tag string) error {
	return &ConfigError{
		Err:   sentinel,
		Type:  t.String(),
		Field: field,
		Tag:   tag,
	}
}

func newTransformError(sentinel error, operation, field string, cause error) error {
	return &TransformError{
		Err:       sentinel,
		Field:     field,
		Operation: operation,
		Cause:     cause,
	}
}

func newCodecError(sentinel error, cause error) error {
	return &CodecError{
		Err:   sentinel,
		Cause: cause,
	}
}

// isFatal reports whether err must abort a walk regardless of strictness.
func isFatal(err error) bool {
	return errors.Is(err, ErrMarkerMisuse) ||
		errors.Is(err, ErrUnsupportedMode) ||
		errors.Is(err, ErrInvalidTag) ||
		errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrDepthExceeded)
}
