package veil

// Codec provides content-type aware marshaling for Processor.
type Codec interface {
	// ContentType returns the MIME type, e.g. "application/json".
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Cloner provides the deep copy Processor encrypts or masks in place of the
// caller's value. Modifying the clone must not affect the original, so
// pointers, slices and maps need copying:
//
//	func (o Order) Clone() Order {
//	    items := make([]Item, len(o.Items))
//	    copy(items, o.Items)
//	    return Order{ID: o.ID, Items: items}
//	}
//
// Types without reference fields can return the receiver.
type Cloner[T any] interface {
	Clone() T
}
