// Package msgpack provides the MessagePack codec.
package msgpack

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zoobzio/veil"
)

// ContentType is the MIME type reported by the codec.
const ContentType = "application/msgpack"

// Option configures the codec.
type Option func(*codec)

// WithStructTag reads field names from tag instead of "msgpack", e.g. "json"
// to share names with the JSON codec.
func WithStructTag(tag string) Option {
	return func(c *codec) { c.tag = tag }
}

// WithCompactInts encodes integers in the smallest type that holds them.
func WithCompactInts() Option {
	return func(c *codec) { c.compact = true }
}

type codec struct {
	tag     string
	compact bool
}

// New returns a MessagePack codec.
func New(opts ...Option) veil.Codec {
	c := &codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContentType returns the MIME type for MessagePack.
func (c *codec) ContentType() string { return ContentType }

// Marshal encodes v as MessagePack.
func (c *codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if c.tag != "" {
		enc.SetCustomStructTag(c.tag)
	}
	enc.UseCompactInts(c.compact)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack data into v.
func (c *codec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if c.tag != "" {
		dec.SetCustomStructTag(c.tag)
	}
	return dec.Decode(v)
}
