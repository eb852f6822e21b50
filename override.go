package veil

import (
	"context"
	"reflect"
)

// SelfTransformer lets a struct apply a transform to its own marked string
// fields instead of having the walker reach them by reflection. Code
// generators implement it from the struct's tags.
//
// TransformSelf receives the marker kind of the running transform and must
// call apply once per field of that kind, storing the returned value:
//
//	func (c *Customer) TransformSelf(ctx context.Context, kind veil.MarkerKind, apply veil.LeafFunc) error {
//	    if kind != veil.MarkerMask {
//	        return nil
//	    }
//	    var err error
//	    if c.Email, err = apply("Email", c.Email); err != nil {
//	        return err
//	    }
//	    return nil
//	}
//
// The walker still descends into the struct's unmarked fields. Marked fields
// the method does not pass to apply are left untouched.
type SelfTransformer interface {
	TransformSelf(ctx context.Context, kind MarkerKind, apply LeafFunc) error
}

// LeafFunc transforms the value of the named field. It returns the value to
// store, which is the input when the field is not marked for the running
// transform or the transform failed without aborting the walk.
type LeafFunc func(field, value string) (string, error)

var selfTransformerType = reflect.TypeFor[SelfTransformer]()

func selfTransformerOf(v reflect.Value) (SelfTransformer, bool) {
	if !v.CanAddr() || !reflect.PointerTo(v.Type()).Implements(selfTransformerType) {
		return nil, false
	}
	p := v.Addr()
	if !p.CanInterface() {
		return nil, false
	}
	return p.Interface().(SelfTransformer), true
}

func (s *walk) applyNamed(owner reflect.Value, name, value string) (string, error) {
	f, ok := s.w.opts.index.Field(owner.Type(), name)
	if !ok || f.Marker == nil || f.Marker.Kind != s.kind {
		return value, nil
	}
	s.push(name)
	site := Site{
		Field:     f,
		Owner:     owner,
		Ancestors: s.ancestors,
		Path:      s.pathString(),
	}
	s.pop()
	return s.leaf(site, value)
}
