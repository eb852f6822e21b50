package veil

import (
	"reflect"
	"sync"
)

type registryKey struct {
	typ         reflect.Type
	contentType string
}

var (
	processors   = make(map[registryKey]any)
	processorsMu sync.RWMutex
)

// Use returns the cached processor for T and the codec's content type,
// building it with opts on first use. Options of later calls are ignored.
func Use[T Cloner[T]](codec Codec, opts ...ProcessorOption) (*Processor[T], error) {
	key := registryKey{typ: reflect.TypeFor[T](), contentType: codec.ContentType()}

	processorsMu.RLock()
	cached, ok := processors[key]
	processorsMu.RUnlock()
	if ok {
		return cached.(*Processor[T]), nil
	}

	processorsMu.Lock()
	defer processorsMu.Unlock()
	if cached, ok := processors[key]; ok {
		return cached.(*Processor[T]), nil
	}

	p, err := NewProcessor[T](codec, opts...)
	if err != nil {
		return nil, err
	}
	processors[key] = p
	return p, nil
}

// Reset drops cached processors and clears the default index.
// This is primarily useful for test isolation.
func Reset() {
	processorsMu.Lock()
	processors = make(map[registryKey]any)
	processorsMu.Unlock()
	defaultIndex.Reset()
}
