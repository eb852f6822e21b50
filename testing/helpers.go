// Package testing provides keys, providers and fixture types for tests of
// veil and its subpackages.
package testing

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"testing"

	"github.com/zoobzio/veil"
)

// KeyBits is the size of generated test keys.
const KeyBits = 2048

var (
	keysOnce sync.Once
	keys     [2]*rsa.PrivateKey
	keysErr  error
)

func generated(tb testing.TB) [2]*rsa.PrivateKey {
	tb.Helper()
	keysOnce.Do(func() {
		for i := range keys {
			keys[i], keysErr = rsa.GenerateKey(rand.Reader, KeyBits)
			if keysErr != nil {
				return
			}
		}
	})
	if keysErr != nil {
		tb.Fatalf("generate test key: %v", keysErr)
	}
	return keys
}

// TestKey returns a process-wide RSA key pair.
func TestKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	return generated(tb)[0]
}

// OtherKey returns a second key pair, distinct from TestKey.
func OtherKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	return generated(tb)[1]
}

// PublicPEM encodes the public half of priv.
func PublicPEM(tb testing.TB, priv *rsa.PrivateKey) string {
	tb.Helper()
	s, err := veil.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		tb.Fatalf("encode public key: %v", err)
	}
	return s
}

// PrivatePEM encodes priv as PKCS#8.
func PrivatePEM(tb testing.TB, priv *rsa.PrivateKey) string {
	tb.Helper()
	s, err := veil.EncodePrivateKeyPEM(priv)
	if err != nil {
		tb.Fatalf("encode private key: %v", err)
	}
	return s
}

// Provider is a KeyProvider over a fixed key set that counts its calls.
type Provider struct {
	mu    sync.Mutex
	keys  map[string]*rsa.PrivateKey
	calls int
}

// NewProvider serves keys by fingerprint.
func NewProvider(tb testing.TB, keys ...*rsa.PrivateKey) *Provider {
	tb.Helper()
	p := &Provider{keys: make(map[string]*rsa.PrivateKey, len(keys))}
	for _, k := range keys {
		fp, err := veil.Fingerprint(PublicPEM(tb, k))
		if err != nil {
			tb.Fatalf("fingerprint: %v", err)
		}
		p.keys[fp] = k
	}
	return p
}

// FetchPrivateKey returns the key registered for publicKey and counts the call.
func (p *Provider) FetchPrivateKey(_ context.Context, publicKey string) (*rsa.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	fp, err := veil.Fingerprint(publicKey)
	if err != nil {
		return nil, err
	}
	k, ok := p.keys[fp]
	if !ok {
		return nil, fmt.Errorf("no key for %s", fp)
	}
	return k, nil
}

// Calls returns the number of lookups served.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) Name() string { return "test" }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// SimpleUser carries no tags.
type SimpleUser struct {
	ID   string `json:"id" yaml:"id" xml:"id" bson:"id" msgpack:"id"`
	Name string `json:"name" yaml:"name" xml:"name" bson:"name" msgpack:"name"`
}

// Clone implements veil.Cloner.
func (u SimpleUser) Clone() SimpleUser { return u }

// Customer exercises every transform. Its private key never leaves the
// process, so Load needs a KeyProvider.
type Customer struct {
	ID         string `json:"id" yaml:"id" xml:"id" bson:"id" msgpack:"id"`
	Name       string `json:"name" yaml:"name" xml:"name" bson:"name" msgpack:"name" mask:"name"`
	Email      string `json:"email" yaml:"email" xml:"email" bson:"email" msgpack:"email" mask:"email"`
	SSN        string `json:"ssn" yaml:"ssn" xml:"ssn" bson:"ssn" msgpack:"ssn" crypto:"all"`
	Password   string `json:"password" yaml:"password" xml:"password" bson:"password" msgpack:"password" hash:"sha256"`
	PublicKey  string `json:"publicKey" yaml:"publicKey" xml:"publicKey" bson:"publicKey" msgpack:"publicKey" cryptokey:"public"`
	PrivateKey string `json:"-" yaml:"-" xml:"-" bson:"-" msgpack:"-" cryptokey:"private"`
}

// Clone implements veil.Cloner.
func (c Customer) Clone() Customer { return c }

// NewCustomer returns a populated Customer keyed to priv.
func NewCustomer(tb testing.TB, priv *rsa.PrivateKey) *Customer {
	tb.Helper()
	return &Customer{
		ID:        "c-1",
		Name:      "Alice Kim",
		Email:     "alice@example.com",
		SSN:       "123-45-6789",
		Password:  "hunter2",
		PublicKey: PublicPEM(tb, priv),
	}
}

// Order nests key-less line items under a keyed owner.
type Order struct {
	ID        string     `json:"id" yaml:"id" xml:"id" bson:"id" msgpack:"id"`
	PublicKey string     `json:"publicKey" yaml:"publicKey" xml:"publicKey" bson:"publicKey" msgpack:"publicKey" cryptokey:"public"`
	Items     []LineItem `json:"items" yaml:"items" xml:"items" bson:"items" msgpack:"items"`
}

// LineItem holds an encrypted note.
type LineItem struct {
	SKU  string `json:"sku" yaml:"sku" xml:"sku" bson:"sku" msgpack:"sku"`
	Note string `json:"note" yaml:"note" xml:"note" bson:"note" msgpack:"note" crypto:"all"`
}

// Clone implements veil.Cloner.
func (o Order) Clone() Order {
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
