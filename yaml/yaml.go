// Package yaml provides the YAML codec.
package yaml

import (
	"bytes"
	"errors"
	"io"

	"github.com/zoobzio/veil"
	"gopkg.in/yaml.v3"
)

// ContentType is the MIME type reported by the codec.
const ContentType = "application/yaml"

// Option configures the codec.
type Option func(*codec)

// WithIndent sets the number of spaces per nesting level. The default is 4.
func WithIndent(spaces int) Option {
	return func(c *codec) { c.indent = spaces }
}

// WithKnownFields rejects mappings with keys the target does not declare.
func WithKnownFields() Option {
	return func(c *codec) { c.known = true }
}

type codec struct {
	indent int
	known  bool
}

// New returns a YAML codec.
func New(opts ...Option) veil.Codec {
	c := &codec{indent: 4}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContentType returns the MIME type for YAML.
func (c *codec) ContentType() string { return ContentType }

// Marshal encodes v as YAML.
func (c *codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(c.indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes YAML data into v.
func (c *codec) Unmarshal(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(c.known)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
