package veil

import (
	"crypto/rsa"
	"encoding"
	"math/big"
	"net/netip"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/sentinel"
)

func init() {
	sentinel.Tag(TagCrypto)
	sentinel.Tag(TagMask)
	sentinel.Tag(TagHash)
	sentinel.Tag(TagCryptoKey)
}

// Category is the traversal class of a type.
type Category uint8

const (
	// CategoryLeaf values are opaque and never traversed.
	CategoryLeaf Category = iota
	// CategoryContainer values are walked element by element.
	CategoryContainer
	// CategoryComposite values are walked field by field.
	CategoryComposite
)

func (c Category) String() string {
	switch c {
	case CategoryLeaf:
		return "leaf"
	case CategoryContainer:
		return "container"
	default:
		return "composite"
	}
}

// Field describes one introspectable field of a composite type, including
// fields promoted from embedded structs.
type Field struct {
	Owner    reflect.Type
	Name     string
	Index    []int
	Type     reflect.Type
	Settable bool
	Marker   *Marker
}

// Path returns Owner.Name for log and error messages.
func (f Field) Path() string {
	if f.Owner == nil {
		return f.Name
	}
	return f.Owner.Name() + "." + f.Name
}

// KeyFields locates the key holders declared on a type.
type KeyFields struct {
	Public  *Field
	Private *Field
}

// Declared reports whether the type declares any key field.
func (k KeyFields) Declared() bool {
	return k.Public != nil || k.Private != nil
}

// IndexStats reports cache occupancy.
type IndexStats struct {
	Categories int
	Types      int
	Marked     int
}

type typeInfo struct {
	fields []Field
	byName map[string]int
	keys   KeyFields
	err    error
}

type markedKey struct {
	typ  reflect.Type
	kind MarkerKind
}

// Enum is implemented by named types whose values come from a fixed set.
// Enum types are leaves even when their underlying kind is a struct or slice.
type Enum interface {
	EnumValues() []string
}

var (
	privateKeyType    = reflect.TypeFor[*rsa.PrivateKey]()
	enumType          = reflect.TypeFor[Enum]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// builtinLeaves are struct and array types that are values, not graphs.
var builtinLeaves = []reflect.Type{
	reflect.TypeFor[time.Time](),
	reflect.TypeFor[time.Location](),
	reflect.TypeFor[uuid.UUID](),
	reflect.TypeFor[big.Int](),
	reflect.TypeFor[big.Float](),
	reflect.TypeFor[big.Rat](),
	reflect.TypeFor[netip.Addr](),
	reflect.TypeFor[netip.Prefix](),
	reflect.TypeFor[rsa.PrivateKey](),
	reflect.TypeFor[rsa.PublicKey](),
}

// Index classifies types and caches their fields. It is safe for concurrent
// use; entries are computed on first lookup and kept until Reset.
type Index struct {
	mu         sync.RWMutex
	categories map[reflect.Type]Category
	types      map[reflect.Type]*typeInfo
	marked     map[markedKey][]Field
	leaves     map[reflect.Type]bool
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	x := &Index{}
	x.init()
	return x
}

func (x *Index) init() {
	x.categories = make(map[reflect.Type]Category)
	x.types = make(map[reflect.Type]*typeInfo)
	x.marked = make(map[markedKey][]Field)
	if x.leaves == nil {
		x.leaves = make(map[reflect.Type]bool, len(builtinLeaves))
		for _, t := range builtinLeaves {
			x.leaves[t] = true
		}
	}
}

var defaultIndex = NewIndex()

// DefaultIndex returns the process-wide index used when no other is supplied.
func DefaultIndex() *Index {
	return defaultIndex
}

// Reset clears all cached entries. Registered leaf types are kept.
// This is primarily useful for test isolation.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.init()
}

// Stats returns the number of cached entries.
func (x *Index) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return IndexStats{
		Categories: len(x.categories),
		Types:      len(x.types),
		Marked:     len(x.marked),
	}
}

// RegisterLeaf makes t opaque to the walker. Cached categories are dropped.
func (x *Index) RegisterLeaf(t reflect.Type) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.leaves[t] = true
	x.categories = make(map[reflect.Type]Category)
}

// Classify returns the category of t. Pointers classify as their element;
// interface types classify as composite and are resolved by the walker.
func (x *Index) Classify(t reflect.Type) Category {
	x.mu.RLock()
	c, ok := x.categories[t]
	x.mu.RUnlock()
	if ok {
		return c
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if c, ok := x.categories[t]; ok {
		return c
	}
	c = x.classify(t)
	x.categories[t] = c
	return c
}

// classify runs with x.mu held.
func (x *Index) classify(t reflect.Type) Category {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if x.leaves[t] {
		return CategoryLeaf
	}
	if t.Kind() != reflect.Interface && (t.Implements(enumType) || reflect.PointerTo(t).Implements(enumType)) {
		return CategoryLeaf
	}
	if t.Kind() != reflect.Struct && t.Kind() != reflect.Interface && t.Implements(textMarshalerType) {
		return CategoryLeaf
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return CategoryLeaf
		}
		return CategoryContainer
	case reflect.Map:
		return CategoryContainer
	case reflect.Struct, reflect.Interface:
		return CategoryComposite
	default:
		return CategoryLeaf
	}
}

// Fields returns every introspectable field of struct type t.
func (x *Index) Fields(t reflect.Type) ([]Field, error) {
	info := x.info(t)
	return info.fields, info.err
}

// Field returns the field of t with the given name, promoted fields included.
func (x *Index) Field(t reflect.Type, name string) (Field, bool) {
	info := x.info(t)
	i, ok := info.byName[name]
	if !ok {
		return Field{}, false
	}
	return info.fields[i], true
}

// Marked returns the subset of t's fields carrying a marker of the given kind.
func (x *Index) Marked(t reflect.Type, kind MarkerKind) ([]Field, error) {
	key := markedKey{typ: t, kind: kind}

	x.mu.RLock()
	cached, ok := x.marked[key]
	x.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fields, err := x.Fields(t)
	if err != nil {
		return nil, err
	}

	subset := make([]Field, 0)
	for _, f := range fields {
		if f.Marker != nil && f.Marker.Kind == kind {
			subset = append(subset, f)
		}
	}

	x.mu.Lock()
	x.marked[key] = subset
	x.mu.Unlock()
	return subset, nil
}

// Keys returns the key-holder fields declared on t.
func (x *Index) Keys(t reflect.Type) (KeyFields, error) {
	info := x.info(t)
	return info.keys, info.err
}

// Dirty returns the companion flag of the named field, if t declares one as
// bool or *bool.
func (x *Index) Dirty(t reflect.Type, name string) (Field, bool) {
	info := x.info(t)
	i, ok := info.byName[name+DirtySuffix]
	if !ok {
		return Field{}, false
	}
	f := info.fields[i]
	ft := f.Type
	if ft.Kind() == reflect.Pointer {
		ft = ft.Elem()
	}
	if ft.Kind() != reflect.Bool {
		return Field{}, false
	}
	return f, true
}

func (x *Index) info(t reflect.Type) *typeInfo {
	x.mu.RLock()
	info, ok := x.types[t]
	x.mu.RUnlock()
	if ok {
		return info
	}

	// Computed outside the lock; a concurrent caller may compute the same
	// entry, the first store wins.
	info = x.scan(t)

	x.mu.Lock()
	defer x.mu.Unlock()
	if cached, ok := x.types[t]; ok {
		return cached
	}
	x.types[t] = info
	return info
}

// scan builds the field table of t from sentinel metadata when available and
// from reflection otherwise.
func (x *Index) scan(t reflect.Type) *typeInfo {
	info := &typeInfo{byName: make(map[string]int)}
	if t.Kind() != reflect.Struct {
		return info
	}

	if err := x.collect(info, t, t, nil, 0); err != nil {
		info.err = err
		return info
	}
	return info
}

// collect appends the fields of st (reached through prefix) to info.
// Direct fields win over promoted ones with the same name.
func (x *Index) collect(info *typeInfo, owner, st reflect.Type, prefix []int, depth int) error {
	var embedded []reflect.StructField

	for _, sf := range structFields(st) {
		if sf.Anonymous {
			et := sf.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct && x.Classify(et) != CategoryLeaf && depth < maxEmbedDepth {
				embedded = append(embedded, sf)
				continue
			}
		}
		if _, taken := info.byName[sf.Name]; taken {
			continue
		}

		marker, err := parseMarker(owner, sf)
		if err != nil {
			return err
		}
		role, err := parseKeyRole(owner, sf)
		if err != nil {
			return err
		}
		if !sf.IsExported() && marker == nil && role == "" {
			continue
		}
		if marker != nil {
			if err := checkMarkedType(owner, sf, marker); err != nil {
				return err
			}
		}

		f := Field{
			Owner:    owner,
			Name:     sf.Name,
			Index:    append(append([]int{}, prefix...), sf.Index...),
			Type:     sf.Type,
			Settable: sf.IsExported(),
			Marker:   marker,
		}
		info.byName[f.Name] = len(info.fields)
		info.fields = append(info.fields, f)

		if role != "" {
			if err := bindKey(info, owner, role, len(info.fields)-1); err != nil {
				return err
			}
		}
	}

	for _, sf := range embedded {
		et := sf.Type
		if et.Kind() == reflect.Pointer {
			et = et.Elem()
		}
		idx := append(append([]int{}, prefix...), sf.Index...)
		if err := x.collect(info, owner, et, idx, depth+1); err != nil {
			return err
		}
	}
	return nil
}

const maxEmbedDepth = 16

// structFields enumerates the direct fields of st. Sentinel metadata is
// consulted first so types scanned at startup share one definition.
func structFields(st reflect.Type) []reflect.StructField {
	if md, ok := sentinel.Lookup(st.String()); ok && md.PackageName == st.PkgPath() && len(md.Fields) > 0 {
		out := make([]reflect.StructField, 0, len(md.Fields))
		for _, fm := range md.Fields {
			if len(fm.Index) != 1 || fm.Index[0] >= st.NumField() {
				return reflectFields(st)
			}
			out = append(out, st.Field(fm.Index[0]))
		}
		if len(out) == st.NumField() {
			return out
		}
	}
	return reflectFields(st)
}

func reflectFields(st reflect.Type) []reflect.StructField {
	out := make([]reflect.StructField, st.NumField())
	for i := range out {
		out[i] = st.Field(i)
	}
	return out
}

// checkMarkedType rejects markers on scalar fields that cannot hold text.
func checkMarkedType(owner reflect.Type, sf reflect.StructField, m *Marker) error {
	t := sf.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String, reflect.Struct, reflect.Interface:
		return nil
	case reflect.Slice, reflect.Array, reflect.Map:
		return nil
	default:
		return newConfigError(ErrMarkerMisuse, owner, sf.Name, m.Kind.String()+" marker on "+sf.Type.String())
	}
}

func bindKey(info *typeInfo, owner reflect.Type, role KeyRole, i int) error {
	fc := info.fields[i]
	f := &fc
	switch role {
	case KeyPublic:
		if info.keys.Public != nil {
			return newConfigError(ErrMarkerMisuse, owner, f.Name, "second public key field")
		}
		if f.Type.Kind() != reflect.String {
			return newConfigError(ErrMarkerMisuse, owner, f.Name, "public key field must be string, got "+f.Type.String())
		}
		info.keys.Public = f
	case KeyPrivate:
		if info.keys.Private != nil {
			return newConfigError(ErrMarkerMisuse, owner, f.Name, "second private key field")
		}
		if f.Type.Kind() != reflect.String && f.Type != privateKeyType {
			return newConfigError(ErrMarkerMisuse, owner, f.Name, "private key field must be string or *rsa.PrivateKey, got "+f.Type.String())
		}
		info.keys.Private = f
	}
	return nil
}

// Register scans T's metadata with sentinel, indexes it in the default index
// and returns any declaration error. Call it at startup to fail fast.
func Register[T any]() error {
	return registerIn[T](defaultIndex)
}

func registerIn[T any](x *Index) error {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Struct {
		sentinel.Scan[T]()
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	_, err := x.Fields(t)
	return err
}
