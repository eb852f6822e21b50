package veil

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMaskRules(t *testing.T) {
	tests := []struct {
		kind MaskKind
		in   string
		want string
	}{
		{MaskName, "alice", "a***e"},
		{MaskName, "홍길동", "홍*동"},
		{MaskName, "Al", "A*"},
		{MaskName, "Alice Kim", "A**** K**"},
		{MaskName, "John Smith", "J*** S****"},

		{MaskEmail, "alice@example.com", "ali***@example.com"},
		{MaskEmail, "a@x.io", "a***@x.io"},
		{MaskEmail, "noatsign", "n*******"},
		{MaskEmailHard, "alice@example.com", "al***@***********"},
		{MaskEmailHard, "ab@x.io", "ab@****"},

		{MaskUserID, "alice", "a****"},
		{MaskUserID, "alice@example.com", "al***@***********"},

		{MaskBirthDate, "19900101", "1***/**/**"},
		{MaskBirthDate, "1990-01-01", "1***/**/**"},
		{MaskBirthDate, "Jan 1", "Jan *"},

		{MaskPhone, "010-1234-5678", "010-****-5678"},
		{MaskPhone, "01012345678", "010-****-5678"},
		{MaskPhone, "12", "**"},
		{MaskWorkPhone, "02-123-4567", "02-***-4567"},

		{MaskRegistID, "900101-1234567", "9*****-1******"},
		{MaskRegistID, "9001011234567", "9*****-1******"},
		{MaskRegistID, "900101-1******", "9*****-1******"},

		{MaskSabun, "12345678", "1234****"},
		{MaskSabun, "12345", "12***"},

		{MaskSSN, "123-45-6789", "***-**-6789"},
		{MaskSSN, "12", "**"},

		{MaskCard, "4111111111111111", "************1111"},
		{MaskCard, "4111 1111 1111 1111", "**** **** **** 1111"},
		{MaskCard, "4111-1111-1111-1111", "****-****-****-1111"},

		{MaskIP, "192.168.1.100", "192.168.xxx.xxx"},
		{MaskIP, "2001:db8::1", "2001:db8:0000:0000:xxxx:xxxx:xxxx:xxxx"},

		{MaskUUID, "550e8400-e29b-41d4-a716-446655440000", "550e8400-****-****-****-************"},
		{MaskIBAN, "GB82WEST12345698765432", "GB82**************5432"},
		{MaskIBAN, "ÅBCD1234ÉFGH", "ÅBCD****ÉFGH"},
		{MaskIBAN, "ÅB12", "****"},
	}

	maskers := builtinMaskers()
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.in, func(t *testing.T) {
			got := maskers[tt.kind].Mask(tt.in)
			if got != tt.want {
				t.Errorf("%s(%q) = %q, want %q", tt.kind, tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskersCoverKinds(t *testing.T) {
	maskers := builtinMaskers()
	for _, kind := range []MaskKind{
		MaskName, MaskBirthDate, MaskUserID, MaskPhone, MaskWorkPhone, MaskRegistID,
		MaskSabun, MaskEmail, MaskEmailHard, MaskSSN, MaskCard, MaskIP, MaskUUID, MaskIBAN,
	} {
		if _, ok := maskers[kind]; !ok {
			t.Errorf("no masker for built-in kind %q", kind)
		}
		if !IsValidMaskKind(kind) {
			t.Errorf("built-in kind %q is not valid", kind)
		}
	}
}

type Member struct {
	Name    string `mask:"name"`
	Email   string `mask:"email"`
	Phone   string `mask:"phone"`
	Company string
}

func TestMaskingStruct(t *testing.T) {
	m := NewMasking()
	in := Member{Name: "alice", Email: "alice@example.com", Phone: "010-1234-5678", Company: "Acme"}

	out, err := m.Mask(context.Background(), in)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	got := out.(Member)
	if got.Name != "a***e" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Email != "ali***@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
	if got.Phone != "010-****-5678" {
		t.Errorf("Phone = %q", got.Phone)
	}
	if got.Company != "Acme" {
		t.Errorf("Company = %q, want unchanged", got.Company)
	}
	if in.Email != "alice@example.com" {
		t.Errorf("value root was modified: %q", in.Email)
	}
}

func TestMaskingNotIdempotent(t *testing.T) {
	m := NewMasking()
	first, err := m.Mask(context.Background(), Member{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	second, err := m.Mask(context.Background(), first)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	once := first.(Member).Email
	twice := second.(Member).Email
	if once == twice {
		t.Errorf("second pass returned %q again", twice)
	}
	if twice != "al***@example.com" {
		t.Errorf("second pass = %q, want %q", twice, "al***@example.com")
	}
}

func TestMaskingEmptyValue(t *testing.T) {
	out, err := NewMasking().Mask(context.Background(), &Member{})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	if got := out.(*Member); got.Name != "" || got.Email != "" {
		t.Errorf("empty values changed: %+v", got)
	}
}

func TestMaskingEnvelope(t *testing.T) {
	rows := []Member{
		{Name: "alice", Email: "alice@example.com"},
		{Name: "Bob Lee", Email: "bob@example.com"},
	}

	out, err := NewMasking().Mask(context.Background(), Paged(rows, 42))
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	page, ok := out.(PagedResult[Member])
	if !ok {
		t.Fatalf("Mask returned %T", out)
	}
	if page.Total != 42 {
		t.Errorf("Total = %d, want 42", page.Total)
	}
	if page.Status != StatusOK {
		t.Errorf("Status = %+v, want %+v", page.Status, StatusOK)
	}
	if len(page.Data) != 2 {
		t.Fatalf("len(Data) = %d", len(page.Data))
	}
	if page.Data[0].Email != "ali***@example.com" {
		t.Errorf("Data[0].Email = %q", page.Data[0].Email)
	}
	if page.Data[1].Name != "B** L**" {
		t.Errorf("Data[1].Name = %q", page.Data[1].Name)
	}
}

type Shouted struct {
	Word string `mask:"shout"`
}

func TestMaskingCustomKind(t *testing.T) {
	RegisterMaskKind("shout")
	if !IsValidMaskKind("shout") {
		t.Fatal("shout not registered")
	}

	m := NewMasking()
	_, stats, err := m.walker.WalkStats(context.Background(), &Shouted{Word: "hello"}, m)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1 for a kind without masker", stats.Failed)
	}

	m.SetMasker("shout", MaskFunc(strings.ToUpper))
	out, err := m.Mask(context.Background(), &Shouted{Word: "hello"})
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	if got := out.(*Shouted).Word; got != "HELLO" {
		t.Errorf("Word = %q, want HELLO", got)
	}
}

func TestMaskingMissingMaskerStrict(t *testing.T) {
	RegisterMaskKind("shout")
	m := NewMasking(WithStrict(true))

	_, err := m.Mask(context.Background(), &Shouted{Word: "hello"})
	if !errors.Is(err, ErrMissingMasker) {
		t.Errorf("error = %v, want ErrMissingMasker", err)
	}
}

func TestIsValidMaskKind(t *testing.T) {
	if !IsValidMaskKind(MaskIBAN) {
		t.Error("iban should be valid")
	}
	if IsValidMaskKind("nope") {
		t.Error("nope should not be valid")
	}
}
