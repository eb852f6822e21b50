package veil

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// MaskKind selects a masking rule. Use these constants in struct tags: `mask:"email"`
type MaskKind string

const (
	MaskName      MaskKind = "name"       // 홍길동 -> 홍*동, John Smith -> J*** S****
	MaskBirthDate MaskKind = "birth_date" // 19900101 -> 1***/**/**
	MaskUserID    MaskKind = "user_id"    // alice -> a****
	MaskPhone     MaskKind = "phone"      // 010-1234-5678 -> 010-****-5678
	MaskWorkPhone MaskKind = "work_phone" // 02-123-4567 -> 02-***-4567
	MaskRegistID  MaskKind = "regist_id"  // 900101-1234567 -> 9*****-1******
	MaskSabun     MaskKind = "sabun"      // 12345678 -> 1234****
	MaskEmail     MaskKind = "email"      // alice@example.com -> ali***@example.com
	MaskEmailHard MaskKind = "email_hard" // alice@example.com -> al***@***********
	MaskSSN       MaskKind = "ssn"        // 123-45-6789 -> ***-**-6789
	MaskCard      MaskKind = "card"       // 4111111111111111 -> ************1111
	MaskIP        MaskKind = "ip"         // 192.168.1.100 -> 192.168.xxx.xxx
	MaskUUID      MaskKind = "uuid"       // 550e8400-e29b-... -> 550e8400-****-****-****-************
	MaskIBAN      MaskKind = "iban"       // GB82WEST12345698765432 -> GB82**************5432
)

var (
	maskKindsMu sync.RWMutex
	maskKinds   = map[MaskKind]bool{
		MaskName: true, MaskBirthDate: true, MaskUserID: true, MaskPhone: true,
		MaskWorkPhone: true, MaskRegistID: true, MaskSabun: true, MaskEmail: true,
		MaskEmailHard: true, MaskSSN: true, MaskCard: true, MaskIP: true,
		MaskUUID: true, MaskIBAN: true,
	}
)

// IsValidMaskKind returns true if kind is built in or was registered.
func IsValidMaskKind(kind MaskKind) bool {
	maskKindsMu.RLock()
	defer maskKindsMu.RUnlock()
	return maskKinds[kind]
}

// RegisterMaskKind makes kind acceptable in mask tags. Register custom kinds
// before the first type using them is indexed.
func RegisterMaskKind(kind MaskKind) {
	maskKindsMu.Lock()
	defer maskKindsMu.Unlock()
	maskKinds[kind] = true
}

// Masker applies content-aware masking.
type Masker interface {
	Mask(value string) string
}

// MaskFunc adapts a function to Masker.
type MaskFunc func(string) string

func (f MaskFunc) Mask(value string) string { return f(value) }

// Masking replaces marked strings with a masked rendering. The result of a
// second pass over the same graph is masked further, so run it once per value.
type Masking struct {
	walker *Walker

	mu      sync.RWMutex
	maskers map[MaskKind]Masker
}

// NewMasking returns a masking transform with the built-in maskers.
func NewMasking(opts ...Option) *Masking {
	return &Masking{
		walker:  NewWalker(opts...),
		maskers: builtinMaskers(),
	}
}

// SetMasker installs mk for kind, registering the kind if needed.
func (m *Masking) SetMasker(kind MaskKind, mk Masker) {
	RegisterMaskKind(kind)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maskers[kind] = mk
}

// Mask walks root and masks every field carrying a mask marker.
func (m *Masking) Mask(ctx context.Context, root any) (any, error) {
	return m.walker.Walk(ctx, root, m)
}

// Marker implements LeafTransform.
func (m *Masking) Marker() MarkerKind { return MarkerMask }

// Name implements LeafTransform.
func (m *Masking) Name() string { return "mask" }

// ApplyLeaf implements LeafTransform.
func (m *Masking) ApplyLeaf(_ context.Context, site Site, value string) (string, error) {
	kind := site.Field.Marker.Mask
	m.mu.RLock()
	mk, ok := m.maskers[kind]
	m.mu.RUnlock()
	if !ok {
		return value, newTransformError(ErrMissingMasker, "mask", site.Path, nil)
	}
	if value == "" {
		return value, nil
	}
	return mk.Mask(value), nil
}

func builtinMaskers() map[MaskKind]Masker {
	return map[MaskKind]Masker{
		MaskName:      MaskFunc(maskName),
		MaskBirthDate: MaskFunc(maskBirthDate),
		MaskUserID:    MaskFunc(maskUserID),
		MaskPhone:     MaskFunc(maskPhone),
		MaskWorkPhone: MaskFunc(maskPhone),
		MaskRegistID:  MaskFunc(maskRegistID),
		MaskSabun:     MaskFunc(maskSabun),
		MaskEmail:     MaskFunc(maskEmail),
		MaskEmailHard: MaskFunc(maskEmailHard),
		MaskSSN:       MaskFunc(maskSSN),
		MaskCard:      MaskFunc(maskCard),
		MaskIP:        MaskFunc(maskIP),
		MaskUUID:      MaskFunc(maskUUID),
		MaskIBAN:      MaskFunc(maskIBAN),
	}
}

func stars(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("*", n)
}

// maskEmail keeps the first half (rounded up) of the visible local part.
// Already-masked input keeps half of what is still visible.
func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 1 {
		r := []rune(value)
		return string(r[0]) + stars(len(r)-1)
	}
	local, domain := []rune(value[:at]), value[at:]
	visible := 0
	for visible < len(local) && local[visible] != '*' {
		visible++
	}
	keep := (visible + 1) / 2
	if keep == 0 {
		keep = min(1, len(local))
	}
	return string(local[:keep]) + "***" + domain
}

// maskEmailHard keeps two runes of the local part and hides the domain.
func maskEmailHard(value string) string {
	at := strings.Index(value, "@")
	if at < 1 {
		return value
	}
	local := []rune(value[:at])
	domain := []rune(value[at+1:])
	if len(local) > 2 {
		return string(local[:2]) + stars(len(local)-2) + "@" + stars(len(domain))
	}
	return string(local) + "@" + stars(len(domain))
}

func maskUserID(value string) string {
	if strings.Contains(value, "@") {
		return maskEmailHard(value)
	}
	r := []rune(value)
	return string(r[0]) + stars(len(r)-1)
}

// maskName keeps the first and last rune of a single-word name and the first
// rune of every word of a multi-word name.
func maskName(value string) string {
	words := strings.Fields(value)
	if len(words) > 1 {
		for i, w := range words {
			r := []rune(w)
			words[i] = string(r[0]) + stars(len(r)-1)
		}
		return strings.Join(words, " ")
	}
	r := []rune(strings.TrimSpace(value))
	switch {
	case len(r) == 0:
		return value
	case len(r) < 3:
		return string(r[:len(r)-1]) + "*"
	default:
		return string(r[0]) + stars(len(r)-2) + string(r[len(r)-1])
	}
}

var birthLayouts = []string{"20060102", "2006-01-02", "2006/01/02", "2006.01.02"}

func maskBirthDate(value string) string {
	formatted := value
	for _, layout := range birthLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			formatted = t.Format("2006/01/02")
			break
		}
	}
	r := []rune(formatted)
	out := make([]rune, len(r))
	out[0] = r[0]
	for i := 1; i < len(r); i++ {
		if unicode.IsDigit(r[i]) {
			out[i] = '*'
		} else {
			out[i] = r[i]
		}
	}
	return string(out)
}

var telPattern = regexp.MustCompile(`(\d{2,3})-?(\d{3,4})-?(\d{4})$`)

// maskPhone hides the middle group of a dashed local number and falls back
// to keeping the last four digits.
func maskPhone(value string) string {
	if m := telPattern.FindStringSubmatch(value); m != nil {
		return m[1] + "-" + stars(len(m[2])) + "-" + m[3]
	}
	digits := extractDigits(value)
	if len(digits) < 4 {
		return stars(len(value))
	}
	last4 := digits[len(digits)-4:]
	switch {
	case strings.HasPrefix(value, "(") && len(digits) >= 10:
		return "(***) ***-" + last4
	case len(digits) >= 10:
		return "***-***-" + last4
	default:
		return "***-" + last4
	}
}

var (
	registFull    = regexp.MustCompile(`^(\d{6})-?(\d{7})$`)
	registPartial = regexp.MustCompile(`^([\d*]{6})-?([\d*]{7})$`)
)

func maskRegistID(value string) string {
	clean := strings.Join(strings.Fields(value), "")
	if clean == "" {
		return value
	}
	if m := registFull.FindStringSubmatch(clean); m != nil {
		return m[1][:1] + stars(5) + "-" + m[2][:1] + stars(6)
	}
	if m := registPartial.FindStringSubmatch(clean); m != nil {
		return keepFirstDigit(m[1]) + "-" + keepFirstDigit(m[2])
	}
	r := []rune(clean)
	return string(r[0]) + stars(len(r)-1)
}

func keepFirstDigit(s string) string {
	var b strings.Builder
	found := false
	for _, c := range s {
		if !found && unicode.IsDigit(c) {
			b.WriteRune(c)
			found = true
			continue
		}
		b.WriteByte('*')
	}
	return b.String()
}

func maskSabun(value string) string {
	r := []rune(value)
	half := len(r) / 2
	return string(r[:half]) + stars(len(r)-half)
}

func maskSSN(value string) string {
	digits := extractDigits(value)
	if len(digits) < 4 {
		return stars(len(value))
	}
	return "***-**-" + digits[len(digits)-4:]
}

func maskCard(value string) string {
	digits := extractDigits(value)
	if len(digits) < 4 {
		return stars(len(value))
	}
	last4 := digits[len(digits)-4:]
	groups := (len(digits) - 4 + 3) / 4
	switch {
	case strings.Contains(value, " "):
		return strings.Repeat("**** ", groups) + last4
	case strings.Contains(value, "-"):
		return strings.Repeat("****-", groups) + last4
	default:
		return stars(len(digits)-4) + last4
	}
}

func extractDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// maskIP keeps the network half: two IPv4 octets or four IPv6 groups.
func maskIP(value string) string {
	if parts := strings.Split(value, "."); len(parts) == 4 {
		return parts[0] + "." + parts[1] + ".xxx.xxx"
	}
	if strings.Contains(value, ":") {
		parts := strings.Split(expandIPv6(value), ":")
		if len(parts) == 8 {
			return strings.Join(parts[:4], ":") + ":xxxx:xxxx:xxxx:xxxx"
		}
	}
	return stars(len(value))
}

func expandIPv6(value string) string {
	halves := strings.Split(value, "::")
	if len(halves) != 2 {
		return value
	}
	var left, right []string
	if halves[0] != "" {
		left = strings.Split(halves[0], ":")
	}
	if halves[1] != "" {
		right = strings.Split(halves[1], ":")
	}
	missing := 8 - len(left) - len(right)
	if missing < 0 {
		return value
	}
	all := append(left, strings.Split(strings.Repeat("0000:", missing), ":")[:missing]...)
	return strings.Join(append(all, right...), ":")
}

func maskUUID(value string) string {
	parts := strings.Split(value, "-")
	if len(parts) != 5 {
		return stars(len(value))
	}
	return parts[0] + "-****-****-****-************"
}

func maskIBAN(value string) string {
	r := []rune(value)
	if len(r) <= 8 {
		return stars(len(r))
	}
	return string(r[:4]) + stars(len(r)-8) + string(r[len(r)-4:])
}
