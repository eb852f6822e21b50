package veil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// testCodec is a simple JSON codec for testing.
type testCodec struct{}

func (testCodec) ContentType() string { return "application/json" }

func (testCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (testCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	keyOnce sync.Once
	keyPair [2]*rsa.PrivateKey
	keyErr  error
)

func testKeys(t testing.TB) [2]*rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for i := range keyPair {
			if keyPair[i], keyErr = rsa.GenerateKey(rand.Reader, 2048); keyErr != nil {
				return
			}
		}
	})
	if keyErr != nil {
		t.Fatalf("generate key: %v", keyErr)
	}
	return keyPair
}

func testKey(t testing.TB) *rsa.PrivateKey  { t.Helper(); return testKeys(t)[0] }
func otherKey(t testing.TB) *rsa.PrivateKey { t.Helper(); return testKeys(t)[1] }

func publicPEM(t testing.TB, priv *rsa.PrivateKey) string {
	t.Helper()
	s, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM() error: %v", err)
	}
	return s
}

func privatePEM(t testing.TB, priv *rsa.PrivateKey) string {
	t.Helper()
	s, err := EncodePrivateKeyPEM(priv)
	if err != nil {
		t.Fatalf("EncodePrivateKeyPEM() error: %v", err)
	}
	return s
}

// staticProvider serves one key and counts lookups.
type staticProvider struct {
	key   *rsa.PrivateKey
	err   error
	calls int
}

func (p *staticProvider) FetchPrivateKey(_ context.Context, _ string) (*rsa.PrivateKey, error) {
	p.calls++
	return p.key, p.err
}

func boolPtr(b bool) *bool { return &b }

// upper is a LeafTransform for walker tests.
type upper struct {
	kind MarkerKind
	seen []string
}

func (u *upper) Marker() MarkerKind { return u.kind }
func (u *upper) Name() string       { return "upper" }

func (u *upper) ApplyLeaf(_ context.Context, site Site, value string) (string, error) {
	u.seen = append(u.seen, site.Path)
	return strings.ToUpper(value), nil
}
