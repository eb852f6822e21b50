// Package xml provides the XML codec.
package xml

import (
	"encoding/xml"

	"github.com/zoobzio/veil"
)

// ContentType is the MIME type reported by the codec.
const ContentType = "application/xml"

// Option configures the codec.
type Option func(*codec)

// WithHeader prefixes output with the standard XML declaration.
func WithHeader() Option {
	return func(c *codec) { c.header = true }
}

// WithIndent pretty-prints output.
func WithIndent(prefix, indent string) Option {
	return func(c *codec) {
		c.prefix, c.indent = prefix, indent
	}
}

type codec struct {
	header         bool
	prefix, indent string
}

// New returns an XML codec.
func New(opts ...Option) veil.Codec {
	c := &codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContentType returns the MIME type for XML.
func (c *codec) ContentType() string { return ContentType }

// Marshal encodes v as XML.
func (c *codec) Marshal(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.prefix == "" && c.indent == "" {
		data, err = xml.Marshal(v)
	} else {
		data, err = xml.MarshalIndent(v, c.prefix, c.indent)
	}
	if err != nil || !c.header {
		return data, err
	}
	return append([]byte(xml.Header), data...), nil
}

// Unmarshal decodes XML data into v.
func (c *codec) Unmarshal(data []byte, v any) error {
	return xml.Unmarshal(data, v)
}
