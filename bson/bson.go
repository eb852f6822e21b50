// Package bson provides the BSON codec. Only documents (structs and maps)
// encode at the top level.
package bson

import (
	"github.com/zoobzio/veil"
	"go.mongodb.org/mongo-driver/bson"
)

// ContentType is the MIME type reported by the codec.
const ContentType = "application/bson"

type codec struct{}

// New returns a BSON codec.
func New() veil.Codec { return codec{} }

// ContentType returns the MIME type for BSON.
func (codec) ContentType() string { return ContentType }

// Marshal encodes v as a BSON document.
func (codec) Marshal(v any) ([]byte, error) { return bson.Marshal(v) }

// Unmarshal decodes a BSON document into v.
func (codec) Unmarshal(data []byte, v any) error { return bson.Unmarshal(data, v) }
