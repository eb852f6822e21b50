package veil

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"runtime"
	"testing"
)

type Patient struct {
	Name       string
	SSN        string `crypto:"all"`
	SSNDirty   bool
	Notes      string `crypto:"encrypt"`
	Diagnosis  string `crypto:"decrypt"`
	PublicKey  string `cryptokey:"public"`
	PrivateKey string `cryptokey:"private"`
}

type Locker struct {
	Secret      string `crypto:"all"`
	SecretDirty *bool
	PublicKey   string          `cryptokey:"public"`
	Key         *rsa.PrivateKey `cryptokey:"private"`
}

type Shipment struct {
	ID        string
	PublicKey string `cryptokey:"public"`
	Parcels   []Parcel
}

type Parcel struct {
	Label   string
	Address string `crypto:"all"`
}

func applyStats(t *testing.T, c *Confidentiality, root any, mode CryptoMode) (any, Stats) {
	t.Helper()
	s := &session{c: c, mode: mode, scopes: make(map[scopeID]*scopeKeys)}
	out, stats, err := c.walker.WalkStats(context.Background(), root, s)
	if err != nil {
		t.Fatalf("%s failed: %v", mode, err)
	}
	return out, stats
}

func TestConfidentialityRoundTrip(t *testing.T) {
	priv := testKey(t)
	provider := &staticProvider{key: priv}
	c := NewConfidentiality(RSA(), provider)

	p := &Patient{
		Name:      "alice",
		SSN:       "123-45-6789",
		SSNDirty:  true,
		PublicKey: publicPEM(t, priv),
	}
	if _, err := c.Encrypt(context.Background(), p); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if p.SSN == "123-45-6789" {
		t.Fatal("SSN was not encrypted")
	}
	if !looksSealed(p.SSN, priv.Size()) {
		t.Errorf("SSN %q is not one RSA block", p.SSN)
	}
	if p.Name != "alice" {
		t.Errorf("Name = %q, want unchanged", p.Name)
	}

	p.SSNDirty = false
	if _, err := c.Decrypt(context.Background(), p); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if p.SSN != "123-45-6789" {
		t.Errorf("SSN = %q after decrypt", p.SSN)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
	if p.PrivateKey == "" {
		t.Fatal("fetched key was not stored on the scope")
	}
	stored, err := ParsePrivateKey(p.PrivateKey)
	if err != nil {
		t.Fatalf("stored key does not parse: %v", err)
	}
	if !stored.Equal(priv) {
		t.Error("stored key differs from the fetched key")
	}
}

func TestConfidentialityEncryptDirtyGate(t *testing.T) {
	priv := testKey(t)
	c := NewConfidentiality(RSA(), nil)

	clean := &Patient{SSN: "123-45-6789", Notes: "call back", PublicKey: publicPEM(t, priv)}
	_, stats := applyStats(t, c, clean, ModeEncrypt)
	if clean.SSN != "123-45-6789" {
		t.Error("SSN without dirty flag should not be encrypted")
	}
	if !looksSealed(clean.Notes, priv.Size()) {
		t.Error("Notes has no companion flag and should be encrypted")
	}
	if stats.Transformed != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 1 transformed, 1 skipped", stats)
	}
}

func TestConfidentialityModeFilter(t *testing.T) {
	priv := testKey(t)
	c := NewConfidentiality(RSA(), &staticProvider{key: priv})

	p := &Patient{Diagnosis: "flu", Notes: "call back", PublicKey: publicPEM(t, priv)}
	if _, err := c.Encrypt(context.Background(), p); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if p.Diagnosis != "flu" {
		t.Error("decrypt-only field was encrypted")
	}
	sealedNotes := p.Notes

	if _, err := c.Decrypt(context.Background(), p); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if p.Notes != sealedNotes {
		t.Error("encrypt-only field was decrypted")
	}
	if p.Diagnosis != "flu" {
		t.Errorf("plaintext Diagnosis = %q, want unchanged", p.Diagnosis)
	}
}

func TestConfidentialityDecryptDirtyGate(t *testing.T) {
	priv := testKey(t)
	sealed, err := RSA().Encrypt(publicPEM(t, priv), "123-45-6789")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	c := NewConfidentiality(RSA(), nil)

	dirty := &Locker{Secret: sealed, SecretDirty: boolPtr(true), Key: priv}
	applyStats(t, c, dirty, ModeDecrypt)
	if dirty.Secret != sealed {
		t.Error("dirty value should not be decrypted")
	}

	for name, flag := range map[string]*bool{"nil": nil, "false": boolPtr(false)} {
		t.Run(name, func(t *testing.T) {
			l := &Locker{Secret: sealed, SecretDirty: flag, Key: priv}
			applyStats(t, c, l, ModeDecrypt)
			if l.Secret != "123-45-6789" {
				t.Errorf("Secret = %q, want decrypted", l.Secret)
			}
		})
	}
}

func TestConfidentialityEncryptNilDirtyPointer(t *testing.T) {
	priv := testKey(t)
	c := NewConfidentiality(RSA(), nil)

	l := &Locker{Secret: "open sesame", PublicKey: publicPEM(t, priv)}
	applyStats(t, c, l, ModeEncrypt)
	if l.Secret != "open sesame" {
		t.Error("nil dirty flag should block encryption")
	}

	l.SecretDirty = boolPtr(true)
	applyStats(t, c, l, ModeEncrypt)
	if !looksSealed(l.Secret, priv.Size()) {
		t.Error("dirty value should be encrypted")
	}
}

func TestConfidentialityPrivateKeyPointer(t *testing.T) {
	priv := testKey(t)
	sealed, err := RSA().Encrypt(publicPEM(t, priv), "open sesame")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	provider := &staticProvider{key: priv}
	c := NewConfidentiality(RSA(), provider)

	l := &Locker{Secret: sealed, PublicKey: publicPEM(t, priv)}
	if _, err := c.Decrypt(context.Background(), l); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if l.Secret != "open sesame" {
		t.Errorf("Secret = %q", l.Secret)
	}
	if l.Key != priv {
		t.Error("fetched key was not stored in the *rsa.PrivateKey field")
	}

	// A scope that already holds its key does not consult the provider.
	l.Secret = sealed
	if _, err := c.Decrypt(context.Background(), l); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestConfidentialityNoPublicKey(t *testing.T) {
	c := NewConfidentiality(RSA(), nil)
	p := &Patient{SSN: "123-45-6789", SSNDirty: true}

	_, stats := applyStats(t, c, p, ModeEncrypt)
	if p.SSN != "123-45-6789" {
		t.Error("scope without public key should be left as is")
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
}

func TestConfidentialityKeyFailure(t *testing.T) {
	priv := testKey(t)
	pub := publicPEM(t, priv)
	sealed, err := RSA().Encrypt(pub, "123-45-6789")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	failing := &staticProvider{err: errors.New("vault sealed")}

	c := NewConfidentiality(RSA(), failing)
	p := &Patient{SSN: sealed, Diagnosis: sealed, PublicKey: pub}
	_, stats := applyStats(t, c, p, ModeDecrypt)
	if p.SSN != sealed || p.Diagnosis != sealed {
		t.Error("fields should stay sealed when the key is unavailable")
	}
	if stats.Failed != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want the scope reported once", stats)
	}
	if failing.calls != 1 {
		t.Errorf("provider calls = %d, want 1", failing.calls)
	}

	strict := NewConfidentiality(RSA(), failing, WithStrict(true))
	_, err = strict.Decrypt(context.Background(), &Patient{SSN: sealed, PublicKey: pub})
	if !errors.Is(err, ErrKeyResolution) {
		t.Errorf("strict error = %v, want ErrKeyResolution", err)
	}
}

func TestConfidentialityNoProvider(t *testing.T) {
	priv := testKey(t)
	pub := publicPEM(t, priv)
	sealed, err := RSA().Encrypt(pub, "123-45-6789")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	c := NewConfidentiality(nil, nil, WithStrict(true))
	_, err = c.Decrypt(context.Background(), &Patient{SSN: sealed, PublicKey: pub})
	if !errors.Is(err, ErrKeyResolution) {
		t.Errorf("error = %v, want ErrKeyResolution", err)
	}
}

func TestConfidentialitySealGuard(t *testing.T) {
	priv := testKey(t)
	pub := publicPEM(t, priv)
	sealed, err := RSA().Encrypt(pub, "123-45-6789")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	c := NewConfidentiality(RSA(), nil)

	p := &Patient{SSN: sealed, SSNDirty: true, PublicKey: pub}
	_, stats := applyStats(t, c, p, ModeEncrypt)
	if p.SSN != sealed {
		t.Error("already sealed value was encrypted twice")
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
}

func TestConfidentialityUnsupportedMode(t *testing.T) {
	c := NewConfidentiality(RSA(), nil)
	p := &Patient{SSN: "x"}
	if _, err := c.Apply(context.Background(), p, ModeAll); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("error = %v, want ErrUnsupportedMode", err)
	}
	if _, err := c.Apply(context.Background(), p, "rot13"); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("error = %v, want ErrUnsupportedMode", err)
	}
}

func TestConfidentialityNestedScope(t *testing.T) {
	priv := testKey(t)
	provider := &staticProvider{key: priv}
	c := NewConfidentiality(RSA(), provider)

	s := &Shipment{
		ID:        "S-1",
		PublicKey: publicPEM(t, priv),
		Parcels: []Parcel{
			{Label: "a", Address: "1 Main St"},
			{Label: "b", Address: "2 Side St"},
		},
	}
	if _, err := c.Encrypt(context.Background(), s); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	for i, parcel := range s.Parcels {
		if !looksSealed(parcel.Address, priv.Size()) {
			t.Errorf("Parcels[%d].Address not sealed", i)
		}
	}

	if _, err := c.Decrypt(context.Background(), s); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if s.Parcels[0].Address != "1 Main St" || s.Parcels[1].Address != "2 Side St" {
		t.Errorf("Parcels = %+v", s.Parcels)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want one per scope", provider.calls)
	}
}

func TestConfidentialityValueRoot(t *testing.T) {
	priv := testKey(t)
	c := NewConfidentiality(RSA(), nil)

	in := Patient{SSN: "123-45-6789", SSNDirty: true, PublicKey: publicPEM(t, priv)}
	out, err := c.Encrypt(context.Background(), in)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if in.SSN != "123-45-6789" {
		t.Error("value root was modified")
	}
	if got := out.(Patient); !looksSealed(got.SSN, priv.Size()) {
		t.Error("returned copy was not encrypted")
	}
}

func TestKeyProviderFunc(t *testing.T) {
	priv := testKey(t)
	var got string
	f := KeyProviderFunc(func(_ context.Context, pub string) (*rsa.PrivateKey, error) {
		got = pub
		return priv, nil
	})
	key, err := f.FetchPrivateKey(context.Background(), "pem")
	if err != nil || key != priv || got != "pem" {
		t.Errorf("FetchPrivateKey = %v, %v (saw %q)", key, err, got)
	}
}

func TestConfidentialityEnvelope(t *testing.T) {
	priv := testKey(t)
	pub := publicPEM(t, priv)
	rows := []Patient{
		{SSN: "123-45-6789", SSNDirty: true, PublicKey: pub},
		{SSN: "987-65-4321", SSNDirty: true, PublicKey: pub},
	}
	c := NewConfidentiality(RSA(), &staticProvider{key: priv})

	out, err := c.Encrypt(context.Background(), Paged(rows, 42))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	page := out.(PagedResult[Patient])
	if page.Total != 42 || page.Status != StatusOK {
		t.Errorf("metadata changed: total=%d status=%+v", page.Total, page.Status)
	}
	for i, p := range page.Data {
		if !looksSealed(p.SSN, priv.Size()) {
			t.Errorf("Data[%d].SSN not sealed", i)
		}
		page.Data[i].SSNDirty = false
	}

	out, err = c.Decrypt(context.Background(), page)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	page = out.(PagedResult[Patient])
	if page.Total != 42 || page.Status != StatusOK {
		t.Errorf("metadata changed: total=%d status=%+v", page.Total, page.Status)
	}
	if page.Data[0].SSN != "123-45-6789" || page.Data[1].SSN != "987-65-4321" {
		t.Errorf("Data = %+v", page.Data)
	}
}

type Holding struct {
	Secret    string `crypto:"all"`
	PublicKey string `cryptokey:"public"`
}

type Ledger struct {
	Accounts map[string]Holding
	Extras   []any
}

// keyTagCipher seals a value as "<public key>|<plaintext>" so tests can tell
// which scope's key was used. It collects garbage on every call to surface
// reuse of short-lived scope copies.
type keyTagCipher struct{}

func (keyTagCipher) Encrypt(publicKey, plaintext string) (string, error) {
	runtime.GC()
	return publicKey + "|" + plaintext, nil
}

func (keyTagCipher) Decrypt(_ *rsa.PrivateKey, ciphertext string) (string, error) {
	return ciphertext, nil
}

func TestConfidentialityScopePerCopy(t *testing.T) {
	keys := testKeys(t)
	pubs := []string{publicPEM(t, keys[0]), publicPEM(t, keys[1])}
	c := NewConfidentiality(keyTagCipher{}, nil)

	for round := 0; round < 10; round++ {
		l := &Ledger{Accounts: make(map[string]Holding)}
		for i := 0; i < 16; i++ {
			h := Holding{Secret: fmt.Sprintf("s-%d", i), PublicKey: pubs[i%2]}
			l.Accounts[fmt.Sprintf("a-%d", i)] = h
			l.Extras = append(l.Extras, h)
		}

		if _, err := c.Encrypt(context.Background(), l); err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}

		for i := 0; i < 16; i++ {
			want := pubs[i%2] + "|" + fmt.Sprintf("s-%d", i)
			if got := l.Accounts[fmt.Sprintf("a-%d", i)].Secret; got != want {
				t.Fatalf("round %d: Accounts[a-%d] sealed with the wrong key", round, i)
			}
			if got := l.Extras[i].(Holding).Secret; got != want {
				t.Fatalf("round %d: Extras[%d] sealed with the wrong key", round, i)
			}
		}
	}
}
