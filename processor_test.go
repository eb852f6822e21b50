package veil_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/zoobzio/veil"
	"github.com/zoobzio/veil/json"
	veiltest "github.com/zoobzio/veil/testing"
)

func TestProcessorStoreLoad(t *testing.T) {
	priv := veiltest.TestKey(t)
	provider := veiltest.NewProvider(t, priv)

	proc, err := veil.NewProcessor[veiltest.Customer](json.New(), veil.WithKeyProvider(provider))
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	in := veiltest.NewCustomer(t, priv)
	data, err := proc.Store(context.Background(), in)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if strings.Contains(string(data), "123-45-6789") {
		t.Errorf("stored data carries the plaintext SSN: %s", data)
	}
	if in.SSN != "123-45-6789" {
		t.Errorf("Store modified the original: SSN = %q", in.SSN)
	}

	out, err := proc.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out.SSN != "123-45-6789" {
		t.Errorf("SSN = %q after Load", out.SSN)
	}
	if out.Name != "Alice Kim" || out.Email != "alice@example.com" {
		t.Errorf("unmarked fields changed: %+v", out)
	}
	if out.PrivateKey == "" {
		t.Error("Load should store the fetched key on the value")
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
}

func TestProcessorLoadUnknownKey(t *testing.T) {
	provider := veiltest.NewProvider(t, veiltest.OtherKey(t))
	proc, err := veil.NewProcessor[veiltest.Customer](json.New(),
		veil.WithKeyProvider(provider),
		veil.WithWalker(veil.WithStrict(true)),
	)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	data, err := proc.Store(context.Background(), veiltest.NewCustomer(t, veiltest.TestKey(t)))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := proc.Load(context.Background(), data); !errors.Is(err, veil.ErrKeyResolution) {
		t.Errorf("error = %v, want ErrKeyResolution", err)
	}
}

func TestProcessorSend(t *testing.T) {
	proc, err := veil.NewProcessor[veiltest.Customer](json.New())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	in := veiltest.NewCustomer(t, veiltest.TestKey(t))
	data, err := proc.Send(context.Background(), in)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"email":"ali***@example.com"`) {
		t.Errorf("email not masked: %s", body)
	}
	if !strings.Contains(body, `"name":"A**** K**"`) {
		t.Errorf("name not masked: %s", body)
	}
	if in.Email != "alice@example.com" {
		t.Errorf("Send modified the original: Email = %q", in.Email)
	}
}

func TestProcessorReceive(t *testing.T) {
	proc, err := veil.NewProcessor[veiltest.Customer](json.New())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	out, err := proc.Receive(context.Background(), []byte(`{"id":"c-9","password":"hunter2"}`))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	sum := sha256.Sum256([]byte("hunter2"))
	if out.Password != hex.EncodeToString(sum[:]) {
		t.Errorf("Password = %q", out.Password)
	}
	if out.ID != "c-9" {
		t.Errorf("ID = %q", out.ID)
	}
}

func TestProcessorDecodeError(t *testing.T) {
	proc, err := veil.NewProcessor[veiltest.Customer](json.New())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	if _, err := proc.Load(context.Background(), []byte("{")); !errors.Is(err, veil.ErrUnmarshal) {
		t.Errorf("error = %v, want ErrUnmarshal", err)
	}
	if _, err := proc.Receive(context.Background(), []byte("[1]")); !errors.Is(err, veil.ErrUnmarshal) {
		t.Errorf("error = %v, want ErrUnmarshal", err)
	}
}

func TestProcessorNil(t *testing.T) {
	proc, err := veil.NewProcessor[veiltest.SimpleUser](json.New())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	data, err := proc.Send(context.Background(), nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Send(nil) = %s, want null", data)
	}
}

func TestProcessorNestedScope(t *testing.T) {
	priv := veiltest.TestKey(t)
	provider := veiltest.NewProvider(t, priv)
	proc, err := veil.NewProcessor[veiltest.Order](json.New(), veil.WithKeyProvider(provider))
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	in := &veiltest.Order{
		ID:        "o-1",
		PublicKey: veiltest.PublicPEM(t, priv),
		Items:     []veiltest.LineItem{{SKU: "a", Note: "gift wrap"}, {SKU: "b", Note: "fragile"}},
	}
	data, err := proc.Store(context.Background(), in)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if in.Items[0].Note != "gift wrap" {
		t.Error("Store modified the original items")
	}
	if strings.Contains(string(data), "gift wrap") {
		t.Errorf("stored data carries plaintext notes: %s", data)
	}

	out, err := proc.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out.Items[0].Note != "gift wrap" || out.Items[1].Note != "fragile" {
		t.Errorf("Items = %+v", out.Items)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
}

type badTags struct {
	A string `mask:"email" hash:"sha256"`
}

func (b badTags) Clone() badTags { return b }

func TestProcessorDeclarationError(t *testing.T) {
	_, err := veil.NewProcessor[badTags](json.New())
	if !errors.Is(err, veil.ErrMarkerMisuse) {
		t.Errorf("error = %v, want ErrMarkerMisuse", err)
	}
}

func TestProcessorCustomMasker(t *testing.T) {
	proc, err := veil.NewProcessor[veiltest.Customer](json.New())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	proc.SetMasker(veil.MaskEmail, veil.MaskFunc(func(string) string { return "hidden" }))

	data, err := proc.Send(context.Background(), &veiltest.Customer{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.Contains(string(data), `"email":"hidden"`) {
		t.Errorf("custom masker not used: %s", data)
	}
}

func TestUse(t *testing.T) {
	veil.Reset()
	t.Cleanup(veil.Reset)

	a, err := veil.Use[veiltest.SimpleUser](json.New())
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	b, err := veil.Use[veiltest.SimpleUser](json.New())
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if a != b {
		t.Error("Use should return the cached processor")
	}

	veil.Reset()
	c, err := veil.Use[veiltest.SimpleUser](json.New())
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if c == a {
		t.Error("Reset should drop cached processors")
	}
}
