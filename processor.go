package veil

import (
	"context"
	"fmt"
	"reflect"
)

// Processor moves values of T across a codec boundary, applying the engine's
// transforms on the way.
//
//   - Receive: unmarshal, then hash fields tagged hash:"..."
//   - Load:    unmarshal, then decrypt fields tagged crypto:"decrypt|all"
//   - Store:   clone, encrypt fields tagged crypto:"encrypt|all", marshal
//   - Send:    clone, mask fields tagged mask:"...", marshal
//
// Store and Send never modify the value passed in. Processors are safe for
// concurrent use.
type Processor[T Cloner[T]] struct {
	codec    Codec
	conf     *Confidentiality
	masking  *Masking
	digest   *Digest
	typeName string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorConfig)

type processorConfig struct {
	cipher   Cipher
	provider KeyProvider
	walker   []Option
}

// WithCipher replaces the default RSA cipher.
func WithCipher(c Cipher) ProcessorOption {
	return func(cfg *processorConfig) { cfg.cipher = c }
}

// WithKeyProvider sets the provider consulted by Load for missing private keys.
func WithKeyProvider(p KeyProvider) ProcessorOption {
	return func(cfg *processorConfig) { cfg.provider = p }
}

// WithWalker passes walker options (index, logger, strictness, ...) to every
// transform of the processor.
func WithWalker(opts ...Option) ProcessorOption {
	return func(cfg *processorConfig) { cfg.walker = append(cfg.walker, opts...) }
}

// NewProcessor creates a Processor for T. Declaration errors in T's tags are
// reported here rather than on first use.
func NewProcessor[T Cloner[T]](codec Codec, opts ...ProcessorOption) (*Processor[T], error) {
	var cfg processorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Processor[T]{
		codec:    codec,
		conf:     NewConfidentiality(cfg.cipher, cfg.provider, cfg.walker...),
		masking:  NewMasking(cfg.walker...),
		digest:   NewDigest(cfg.walker...),
		typeName: typeName(reflect.TypeFor[T]()),
	}
	if err := registerIn[T](p.masking.walker.Index()); err != nil {
		return nil, err
	}

	emitProcessorCreated(context.Background(), codec.ContentType(), p.typeName)
	return p, nil
}

// SetMasker installs a masker on the processor's masking transform.
// Returns the processor for chaining.
func (p *Processor[T]) SetMasker(kind MaskKind, m Masker) *Processor[T] {
	p.masking.SetMasker(kind, m)
	return p
}

// SetHasher installs a hasher on the processor's digest transform.
// Returns the processor for chaining.
func (p *Processor[T]) SetHasher(algo HashAlgo, h Hasher) *Processor[T] {
	p.digest.SetHasher(algo, h)
	return p
}

// Receive decodes inbound data and hashes its hash-tagged fields.
func (p *Processor[T]) Receive(ctx context.Context, data []byte) (*T, error) {
	obj, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	if _, err := p.digest.Hash(ctx, obj); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	return obj, nil
}

// Load decodes stored data and decrypts its crypto-tagged fields.
func (p *Processor[T]) Load(ctx context.Context, data []byte) (*T, error) {
	obj, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	if _, err := p.conf.Decrypt(ctx, obj); err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return obj, nil
}

// Store encrypts a clone of obj and encodes it for storage.
func (p *Processor[T]) Store(ctx context.Context, obj *T) ([]byte, error) {
	return p.egress(ctx, obj, "encrypt", p.conf.Encrypt)
}

// Send masks a clone of obj and encodes it for display.
func (p *Processor[T]) Send(ctx context.Context, obj *T) ([]byte, error) {
	return p.egress(ctx, obj, "mask", p.masking.Mask)
}

func (p *Processor[T]) egress(ctx context.Context, obj *T, op string, apply ApplyFunc) ([]byte, error) {
	if obj == nil {
		return p.encode(nil)
	}
	clone := (*obj).Clone()
	if _, err := apply(ctx, &clone); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p.encode(&clone)
}

func (p *Processor[T]) decode(data []byte) (*T, error) {
	var obj T
	if err := p.codec.Unmarshal(data, &obj); err != nil {
		return nil, newCodecError(ErrUnmarshal, err)
	}
	return &obj, nil
}

func (p *Processor[T]) encode(v any) ([]byte, error) {
	data, err := p.codec.Marshal(v)
	if err != nil {
		return nil, newCodecError(ErrMarshal, err)
	}
	return data, nil
}
