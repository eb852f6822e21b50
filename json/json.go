// Package json provides the JSON codec.
package json

import (
	"bytes"
	"encoding/json"

	"github.com/zoobzio/veil"
)

// ContentType is the MIME type reported by the codec.
const ContentType = "application/json"

// Option configures the codec.
type Option func(*codec)

// WithIndent pretty-prints output.
func WithIndent(prefix, indent string) Option {
	return func(c *codec) {
		c.prefix, c.indent = prefix, indent
	}
}

// WithStrict rejects input carrying fields the target does not declare.
func WithStrict() Option {
	return func(c *codec) { c.strict = true }
}

type codec struct {
	prefix, indent string
	strict         bool
}

// New returns a JSON codec.
func New(opts ...Option) veil.Codec {
	c := &codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContentType returns the MIME type for JSON.
func (c *codec) ContentType() string { return ContentType }

// Marshal encodes v as JSON.
func (c *codec) Marshal(v any) ([]byte, error) {
	if c.prefix == "" && c.indent == "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, c.prefix, c.indent)
}

// Unmarshal decodes JSON data into v.
func (c *codec) Unmarshal(data []byte, v any) error {
	if !c.strict {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
