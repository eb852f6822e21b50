package veil

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// KeyProvider derives the private key matching a public key. It is consulted
// during decryption when the key scope carries no private key of its own.
type KeyProvider interface {
	FetchPrivateKey(ctx context.Context, publicKey string) (*rsa.PrivateKey, error)
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(ctx context.Context, publicKey string) (*rsa.PrivateKey, error)

// FetchPrivateKey calls f.
func (f KeyProviderFunc) FetchPrivateKey(ctx context.Context, publicKey string) (*rsa.PrivateKey, error) {
	return f(ctx, publicKey)
}

// SealDetector is implemented by ciphers that can recognise their own output.
// Encryption skips values that already look sealed and decryption skips
// values that do not.
type SealDetector interface {
	IsSealed(value string, keySize int) bool
}

// IsSealed reports whether value decodes to one RSA block of keySize bytes.
func (rsaCipher) IsSealed(value string, keySize int) bool {
	return looksSealed(value, keySize)
}

// Confidentiality encrypts and decrypts fields tagged crypto:"encrypt|decrypt|all".
//
// Keys come from the nearest struct on the path to a field that declares
// cryptokey fields. Encryption uses its public key; decryption uses its
// private key, fetching it from the KeyProvider when empty and storing the
// result back on the struct.
//
// Companion flags named <Field>Dirty gate each field: encryption requires the
// flag to be true, decryption requires it to be false or nil. Fields without
// a companion flag are always transformed.
type Confidentiality struct {
	walker   *Walker
	cipher   Cipher
	provider KeyProvider
}

// NewConfidentiality returns a confidentiality transform. A nil cipher selects
// RSA(); a nil provider disables key lookup.
func NewConfidentiality(cipher Cipher, provider KeyProvider, opts ...Option) *Confidentiality {
	if cipher == nil {
		cipher = RSA()
	}
	return &Confidentiality{
		walker:   NewWalker(opts...),
		cipher:   cipher,
		provider: provider,
	}
}

// Encrypt seals every field of root accepting ModeEncrypt.
func (c *Confidentiality) Encrypt(ctx context.Context, root any) (any, error) {
	return c.Apply(ctx, root, ModeEncrypt)
}

// Decrypt opens every field of root accepting ModeDecrypt.
func (c *Confidentiality) Decrypt(ctx context.Context, root any) (any, error) {
	return c.Apply(ctx, root, ModeDecrypt)
}

// Apply runs one session in mode, which must be ModeEncrypt or ModeDecrypt.
func (c *Confidentiality) Apply(ctx context.Context, root any, mode CryptoMode) (any, error) {
	if mode != ModeEncrypt && mode != ModeDecrypt {
		return root, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	s := &session{
		c:      c,
		mode:   mode,
		scopes: make(map[scopeID]*scopeKeys),
	}
	return c.walker.Walk(ctx, root, s)
}

type scopeID struct {
	ptr uintptr
	typ reflect.Type
}

// scopeKeys holds the keys of one scope. A nil pub or priv with a nil err
// means the scope is skipped silently.
type scopeKeys struct {
	// scope pins the struct the keys were read from. The walker hands out
	// short-lived copies for map values and interface contents; holding the
	// value keeps its address from being reused by a later scope.
	scope  reflect.Value
	public string
	pub    *rsa.PublicKey
	priv   *rsa.PrivateKey
	err    error
}

// session is the per-call state of a Confidentiality run.
type session struct {
	c      *Confidentiality
	mode   CryptoMode
	scopes map[scopeID]*scopeKeys
}

func (s *session) Marker() MarkerKind { return MarkerCrypto }
func (s *session) Name() string       { return string(s.mode) }

func (s *session) ApplyLeaf(ctx context.Context, site Site, value string) (string, error) {
	if !site.Field.Marker.Mode.Accepts(s.mode) || !s.shouldApply(site) {
		return value, SkipField
	}

	keys, err := s.resolve(ctx, site)
	if err != nil {
		return value, err
	}

	detector, _ := s.c.cipher.(SealDetector)

	switch s.mode {
	case ModeEncrypt:
		if keys.pub == nil {
			return value, SkipField
		}
		if detector != nil && detector.IsSealed(value, keys.pub.Size()) {
			return value, SkipField
		}
		out, err := s.c.cipher.Encrypt(keys.public, value)
		if err != nil {
			return value, newTransformError(ErrCipher, "encrypt", site.Path, err)
		}
		return out, nil

	case ModeDecrypt:
		if keys.priv == nil {
			return value, SkipField
		}
		if detector != nil && !detector.IsSealed(value, keys.priv.Size()) {
			return value, SkipField
		}
		out, err := s.c.cipher.Decrypt(keys.priv, value)
		if err != nil {
			return value, newTransformError(ErrCipher, "decrypt", site.Path, err)
		}
		return out, nil
	}
	return value, newTransformError(ErrUnsupportedMode, string(s.mode), site.Path, nil)
}

// shouldApply reads the dirty companion of the field, if any.
func (s *session) shouldApply(site Site) bool {
	flag, ok := s.c.walker.Index().Dirty(site.Owner.Type(), site.Field.Name)
	if !ok {
		return true
	}
	fv, err := site.Owner.FieldByIndexErr(flag.Index)
	if err != nil {
		return true
	}

	set, dirty := false, false
	if fv.Kind() == reflect.Pointer {
		if !fv.IsNil() {
			set, dirty = true, fv.Elem().Bool()
		}
	} else {
		set, dirty = true, fv.Bool()
	}

	if s.mode == ModeEncrypt {
		return set && dirty
	}
	return !dirty
}

// resolve returns the keys of the nearest key scope above site. Each
// addressable scope is resolved at most once per session; a failed scope
// reports its error for the first field and is skipped silently afterwards.
func (s *session) resolve(ctx context.Context, site Site) (*scopeKeys, error) {
	scope, fields, ok := s.scopeOf(site)
	if !ok {
		return &scopeKeys{}, nil
	}

	var id scopeID
	cacheable := scope.CanAddr()
	if cacheable {
		id = scopeID{ptr: scope.Addr().Pointer(), typ: scope.Type()}
		if cached, ok := s.scopes[id]; ok {
			if cached.err != nil {
				return nil, SkipField
			}
			return cached, nil
		}
	}

	keys := s.load(ctx, scope, fields)
	if cacheable {
		keys.scope = scope
		s.scopes[id] = keys
	}
	if keys.err != nil {
		emitKeyUnresolved(ctx, typeName(scope.Type()), keys.err)
		return nil, newTransformError(ErrKeyResolution, string(s.mode), site.Path, keys.err)
	}
	return keys, nil
}

func (s *session) scopeOf(site Site) (reflect.Value, KeyFields, bool) {
	index := s.c.walker.Index()
	for i := len(site.Ancestors) - 1; i >= 0; i-- {
		a := site.Ancestors[i]
		keys, err := index.Keys(a.Type())
		if err == nil && keys.Declared() {
			return a, keys, true
		}
	}
	return reflect.Value{}, KeyFields{}, false
}

func (s *session) load(ctx context.Context, scope reflect.Value, fields KeyFields) *scopeKeys {
	log := s.c.walker.opts.logger
	keys := &scopeKeys{public: readKeyString(scope, fields.Public)}

	if s.mode == ModeEncrypt {
		if keys.public == "" {
			log.Debug("no public key, scope left as is", zap.String("type", scope.Type().String()))
			return keys
		}
		pub, err := publicKeyOf(keys.public)
		if err != nil {
			keys.err = err
			return keys
		}
		keys.pub = pub
		return keys
	}

	priv, err := readPrivateKey(scope, fields.Private)
	if err != nil {
		keys.err = err
		return keys
	}
	if priv != nil {
		keys.priv = priv
		return keys
	}

	priv, err = s.fetch(ctx, keys.public)
	if err != nil {
		keys.err = err
		return keys
	}
	keys.priv = priv

	if err := storePrivateKey(scope, fields.Private, priv); err != nil {
		log.Warn("private key not stored on scope",
			zap.String("type", scope.Type().String()),
			zap.Error(err),
		)
	}
	return keys
}

func (s *session) fetch(ctx context.Context, public string) (*rsa.PrivateKey, error) {
	switch {
	case public == "":
		return nil, errors.New("no private key and no public key to derive it from")
	case s.c.provider == nil:
		return nil, errors.New("no private key and no key provider")
	}
	priv, err := s.c.provider.FetchPrivateKey(ctx, public)
	s.c.walker.opts.metrics.RecordKeyFetch(providerName(s.c.provider), err)
	if err != nil {
		return nil, err
	}
	if priv == nil {
		return nil, errors.New("key provider returned no key")
	}
	return priv, nil
}

func readKeyString(scope reflect.Value, f *Field) string {
	if f == nil {
		return ""
	}
	fv, err := scope.FieldByIndexErr(f.Index)
	if err != nil || fv.Kind() != reflect.String {
		return ""
	}
	return fv.String()
}

func readPrivateKey(scope reflect.Value, f *Field) (*rsa.PrivateKey, error) {
	if f == nil {
		return nil, nil
	}
	fv, err := scope.FieldByIndexErr(f.Index)
	if err != nil {
		return nil, nil
	}
	if f.Type == privateKeyType {
		if fv.IsNil() {
			return nil, nil
		}
		return (*rsa.PrivateKey)(fv.UnsafePointer()), nil
	}
	if fv.String() == "" {
		return nil, nil
	}
	return ParsePrivateKey(fv.String())
}

func storePrivateKey(scope reflect.Value, f *Field, priv *rsa.PrivateKey) error {
	if f == nil {
		return nil
	}
	if !f.Settable {
		return fmt.Errorf("%w: %s is unexported", ErrIntrospection, f.Path())
	}
	fv, err := scope.FieldByIndexErr(f.Index)
	if err != nil || !fv.CanSet() {
		return fmt.Errorf("%w: %s is not settable", ErrIntrospection, f.Path())
	}
	if f.Type == privateKeyType {
		fv.Set(reflect.ValueOf(priv))
		return nil
	}
	encoded, err := EncodePrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	fv.SetString(encoded)
	return nil
}

func providerName(p KeyProvider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
