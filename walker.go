package veil

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LeafTransform rewrites the string value of one marked field. The walker
// calls ApplyLeaf only for fields whose marker kind equals Marker().
type LeafTransform interface {
	Marker() MarkerKind
	// Name labels logs, events and metrics.
	Name() string
	ApplyLeaf(ctx context.Context, site Site, value string) (string, error)
}

// SkipField is returned by ApplyLeaf to leave a value untouched without
// counting it as a failure.
var SkipField = errors.New("skip this field")

// Site locates the value handed to ApplyLeaf.
type Site struct {
	Field Field
	// Owner is the addressable struct value declaring Field.
	Owner reflect.Value
	// Ancestors holds the struct values on the path from the root to Owner,
	// Owner last. It is only valid for the duration of ApplyLeaf.
	Ancestors []reflect.Value
	// Path is the dotted location of the value, e.g. Order.Items[2].Email.
	Path string
}

// Stats counts the outcome of one walk.
type Stats struct {
	Transformed int
	Skipped     int
	Failed      int
}

type options struct {
	index    *Index
	logger   *zap.Logger
	metrics  *Metrics
	strict   bool
	maxDepth int
}

// Option configures walkers and the transforms built on them.
type Option func(*options)

// WithIndex replaces the default type index.
func WithIndex(x *Index) Option {
	return func(o *options) { o.index = x }
}

// WithLogger sets the logger used for skipped and failed fields.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records walk outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStrict makes the first field failure abort the walk. By default a field
// that fails to transform keeps its prior value and the walk continues.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithMaxDepth bounds the nesting depth a walk may reach. Zero means unbounded.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// Walker traverses object graphs and applies a LeafTransform to marked fields.
// A Walker is stateless between calls and safe for concurrent use.
type Walker struct {
	opts options
}

// NewWalker returns a walker using the default index and a no-op logger.
func NewWalker(opts ...Option) *Walker {
	o := options{
		index:  defaultIndex,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Walker{opts: o}
}

// Index returns the type index used by the walker.
func (w *Walker) Index() *Index {
	return w.opts.index
}

// Walk applies t to every field of root marked for it and returns the
// transformed root. Pointer roots are modified in place; other roots are
// copied first, so the returned value must be used.
func (w *Walker) Walk(ctx context.Context, root any, t LeafTransform) (any, error) {
	out, _, err := w.WalkStats(ctx, root, t)
	return out, err
}

// WalkStats is Walk, also reporting per-field outcomes. On error the original
// root is returned; a pointer root may already be partially transformed.
func (w *Walker) WalkStats(ctx context.Context, root any, t LeafTransform) (any, Stats, error) {
	if root == nil {
		return nil, Stats{}, nil
	}

	rootType := typeName(reflect.TypeOf(root))
	st := &walk{
		ctx:    ctx,
		w:      w,
		t:      t,
		kind:   t.Marker(),
		onPath: make(map[visitKey]bool),
		done:   make(map[visitKey]bool),
		path:   []string{rootType},
	}

	start := time.Now()
	emitWalkStart(ctx, t.Name(), rootType)

	out, err := st.walkAny(root, 0)

	elapsed := time.Since(start)
	w.opts.metrics.observeWalk(t.Name(), elapsed)
	emitWalkComplete(ctx, t.Name(), rootType, elapsed, st.stats, err)
	if err != nil {
		w.opts.logger.Error("walk aborted",
			zap.String("transform", t.Name()),
			zap.String("root", rootType),
			zap.Error(err),
		)
		return root, st.stats, err
	}
	return out, st.stats, nil
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walk struct {
	ctx       context.Context
	w         *Walker
	t         LeafTransform
	kind      MarkerKind
	onPath    map[visitKey]bool
	done      map[visitKey]bool
	ancestors []reflect.Value
	path      []string
	stats     Stats
}

var envelopeType = reflect.TypeFor[Envelope]()

// walkAny walks a value that arrived as an interface: pointers, slices and
// maps are walked in place, anything else through an addressable copy.
func (s *walk) walkAny(v any, depth int) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		if err := s.visit(rv, depth); err != nil {
			return v, err
		}
		return v, nil
	default:
		cp := reflect.New(rv.Type()).Elem()
		cp.Set(rv)
		if err := s.visit(cp, depth); err != nil {
			return v, err
		}
		return cp.Interface(), nil
	}
}

func (s *walk) visit(v reflect.Value, depth int) error {
	if limit := s.w.opts.maxDepth; limit > 0 && depth > limit {
		return fmt.Errorf("%w: %d at %s", ErrDepthExceeded, limit, s.pathString())
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || s.category(v.Type()) == CategoryLeaf {
			return nil
		}
		return s.enter(v, visitKey{ptr: v.Pointer(), typ: v.Type()}, func() error {
			return s.visit(v.Elem(), depth+1)
		})

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		elem := v.Elem()
		if s.category(elem.Type()) == CategoryLeaf {
			return nil
		}
		switch elem.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			return s.visit(elem, depth)
		}
		if !v.CanSet() {
			return nil
		}
		cp := reflect.New(elem.Type()).Elem()
		cp.Set(elem)
		if err := s.visit(cp, depth); err != nil {
			return err
		}
		v.Set(cp)
		return nil

	case reflect.Struct:
		if env, ok := envelopeOf(v); ok {
			return s.visitEnvelope(v, env, depth)
		}
		if s.category(v.Type()) == CategoryLeaf {
			return nil
		}
		return s.visitStruct(v, depth)

	case reflect.Slice:
		if v.Len() == 0 || s.category(v.Type()) == CategoryLeaf || s.category(v.Type().Elem()) == CategoryLeaf {
			return nil
		}
		return s.enter(v, visitKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}, func() error {
			return s.visitElems(v, depth)
		})

	case reflect.Array:
		if !v.CanAddr() || v.Len() == 0 || s.category(v.Type()) == CategoryLeaf || s.category(v.Type().Elem()) == CategoryLeaf {
			return nil
		}
		return s.visitElems(v, depth)

	case reflect.Map:
		if v.IsNil() || v.Len() == 0 || s.category(v.Type()) == CategoryLeaf {
			return nil
		}
		return s.enter(v, visitKey{ptr: v.Pointer(), typ: v.Type()}, func() error {
			return s.visitMap(v, depth)
		})
	}
	return nil
}

// enter guards a reference value: re-entering one on the current path is a
// cycle, reaching one again by another path is a no-op.
func (s *walk) enter(v reflect.Value, key visitKey, fn func() error) error {
	if s.onPath[key] {
		err := &CycleError{Type: v.Type(), Path: s.pathString()}
		emitCycleDetected(s.ctx, s.t.Name(), err)
		return err
	}
	if s.done[key] {
		return nil
	}
	s.onPath[key] = true
	err := fn()
	delete(s.onPath, key)
	s.done[key] = true
	return err
}

func (s *walk) visitElems(v reflect.Value, depth int) error {
	for i := 0; i < v.Len(); i++ {
		s.push("[" + strconv.Itoa(i) + "]")
		err := s.visit(v.Index(i), depth+1)
		s.pop()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *walk) visitMap(v reflect.Value, depth int) error {
	mt := v.Type()
	walkKeys := s.category(mt.Key()) != CategoryLeaf
	walkVals := s.category(mt.Elem()) != CategoryLeaf
	if !walkKeys && !walkVals {
		return nil
	}

	for _, k := range v.MapKeys() {
		val := v.MapIndex(k)
		s.push("[" + fmt.Sprint(k) + "]")

		key := k
		if walkKeys {
			kc := reflect.New(mt.Key()).Elem()
			kc.Set(k)
			if err := s.visit(kc, depth+1); err != nil {
				s.pop()
				return err
			}
			key = kc
		}

		if walkVals {
			vc := reflect.New(mt.Elem()).Elem()
			vc.Set(val)
			if err := s.visit(vc, depth+1); err != nil {
				s.pop()
				return err
			}
			val = vc
		}
		s.pop()

		if !key.Equal(k) {
			v.SetMapIndex(k, reflect.Value{})
		}
		v.SetMapIndex(key, val)
	}
	return nil
}

func (s *walk) visitEnvelope(v reflect.Value, env Envelope, depth int) error {
	payload := env.EnvelopePayload()
	if payload == nil {
		return nil
	}

	s.push(typeName(v.Type()))
	out, err := s.walkAny(payload, depth+1)
	s.pop()
	if err != nil {
		return err
	}

	wrapped, err := env.Rewrap(out)
	if err != nil {
		return s.fail(Site{Path: s.pathString()}, newTransformError(ErrIntrospection, s.t.Name(), s.pathString(), err))
	}

	nv := reflect.ValueOf(wrapped)
	switch {
	case !v.CanSet():
		return nil
	case nv.IsValid() && nv.Type().AssignableTo(v.Type()):
		v.Set(nv)
	case nv.IsValid() && nv.Kind() == reflect.Pointer && !nv.IsNil() && nv.Elem().Type() == v.Type():
		v.Set(nv.Elem())
	default:
		return s.fail(Site{Path: s.pathString()}, newTransformError(ErrIntrospection, s.t.Name(), s.pathString(),
			fmt.Errorf("rewrap returned %T, want %s", wrapped, v.Type())))
	}
	return nil
}

func (s *walk) visitStruct(v reflect.Value, depth int) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	fields, err := s.w.opts.index.Fields(v.Type())
	if err != nil {
		return err
	}

	s.ancestors = append(s.ancestors, v)
	defer func() { s.ancestors = s.ancestors[:len(s.ancestors)-1] }()

	self, isSelf := selfTransformerOf(v)
	if isSelf {
		if err := self.TransformSelf(s.ctx, s.kind, func(name, value string) (string, error) {
			return s.applyNamed(v, name, value)
		}); err != nil {
			return err
		}
	}

	for _, f := range fields {
		fv, err := v.FieldByIndexErr(f.Index)
		if err != nil {
			// nil embedded pointer
			continue
		}

		s.push(f.Name)
		switch {
		case f.Marker != nil && f.Marker.Kind == s.kind && !s.descends(f):
			if !isSelf {
				err = s.applyField(v, f, fv)
			}
		case f.Settable && s.category(f.Type) != CategoryLeaf:
			err = s.visit(fv, depth+1)
		}
		s.pop()
		if err != nil {
			return err
		}
	}
	return nil
}

// holdsText reports whether t is a string or a pointer, slice, array or map
// of strings.
func holdsText(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return t.Elem().Kind() == reflect.String
	}
	return false
}

// descends reports whether a marked field is walked into rather than
// transformed: it holds no text of its own but may reach marked fields below.
func (s *walk) descends(f Field) bool {
	if !f.Settable || holdsText(f.Type) {
		return false
	}
	t := f.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return s.category(t) != CategoryLeaf && s.category(t.Elem()) != CategoryLeaf
	}
	return s.category(t) != CategoryLeaf
}

func (s *walk) applyField(owner reflect.Value, f Field, fv reflect.Value) error {
	site := Site{
		Field:     f,
		Owner:     owner,
		Ancestors: s.ancestors,
		Path:      s.pathString(),
	}
	if !f.Settable {
		return s.fail(site, newTransformError(ErrIntrospection, s.t.Name(), site.Path, errors.New("field is unexported")))
	}

	switch {
	case fv.Kind() == reflect.String:
		return s.applyString(site, fv)

	case fv.Kind() == reflect.Pointer && fv.Type().Elem().Kind() == reflect.String:
		if fv.IsNil() {
			return nil
		}
		return s.applyString(site, fv.Elem())

	case (fv.Kind() == reflect.Slice || fv.Kind() == reflect.Array) && fv.Type().Elem().Kind() == reflect.String:
		for i := 0; i < fv.Len(); i++ {
			if err := s.applyString(site, fv.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case fv.Kind() == reflect.Map && fv.Type().Elem().Kind() == reflect.String:
		for _, k := range fv.MapKeys() {
			sv := reflect.New(fv.Type().Elem()).Elem()
			sv.Set(fv.MapIndex(k))
			if err := s.applyString(site, sv); err != nil {
				return err
			}
			fv.SetMapIndex(k, sv)
		}
		return nil
	}

	return s.fail(site, newTransformError(ErrIntrospection, s.t.Name(), site.Path,
		fmt.Errorf("%s marker on %s is not applied", f.Marker.Kind, f.Type)))
}

func (s *walk) applyString(site Site, sv reflect.Value) error {
	out, err := s.leaf(site, sv.String())
	if err != nil {
		return err
	}
	sv.SetString(out)
	return nil
}

// leaf runs the transform on one value and returns the value to store.
func (s *walk) leaf(site Site, in string) (string, error) {
	if in == "" {
		return in, nil
	}

	out, err := s.t.ApplyLeaf(s.ctx, site, in)
	switch {
	case errors.Is(err, SkipField):
		s.stats.Skipped++
		s.w.opts.metrics.countField(s.t.Name(), outcomeSkipped)
		return in, nil
	case err != nil:
		return in, s.fail(site, err)
	}

	s.stats.Transformed++
	s.w.opts.metrics.countField(s.t.Name(), outcomeTransformed)
	return out, nil
}

// fail applies the failure policy to a field error. Fatal errors and any
// error under strict mode abort the walk; others leave the field as it was.
func (s *walk) fail(site Site, err error) error {
	if isFatal(err) || s.w.opts.strict {
		return err
	}
	s.stats.Failed++
	s.w.opts.metrics.countField(s.t.Name(), outcomeFailed)
	s.w.opts.logger.Warn("field left untransformed",
		zap.String("transform", s.t.Name()),
		zap.String("field", site.Path),
		zap.Error(err),
	)
	emitFieldSkipped(s.ctx, s.t.Name(), site.Path, err)
	return nil
}

func (s *walk) category(t reflect.Type) Category {
	return s.w.opts.index.Classify(t)
}

func (s *walk) push(seg string) { s.path = append(s.path, seg) }
func (s *walk) pop()            { s.path = s.path[:len(s.path)-1] }

func (s *walk) pathString() string {
	var b strings.Builder
	for i, seg := range s.path {
		if i > 0 && !strings.HasPrefix(seg, "[") {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func envelopeOf(v reflect.Value) (Envelope, bool) {
	t := v.Type()
	switch {
	case t.Implements(envelopeType) && v.CanInterface():
		return v.Interface().(Envelope), true
	case v.CanAddr() && reflect.PointerTo(t).Implements(envelopeType) && v.Addr().CanInterface():
		return v.Addr().Interface().(Envelope), true
	}
	return nil, false
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
