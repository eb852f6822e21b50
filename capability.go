package veil

import (
	"reflect"
	"strings"
)

// Struct tag keys recognised by the index.
const (
	TagCrypto    = "crypto"    // crypto:"encrypt|decrypt|all"
	TagMask      = "mask"      // mask:"email"
	TagHash      = "hash"      // hash:"sha256"
	TagCryptoKey = "cryptokey" // cryptokey:"public|private"
)

// DirtySuffix names the companion flag of a crypto field: SSN -> SSNDirty.
const DirtySuffix = "Dirty"

// MarkerKind selects which transform a marker belongs to.
type MarkerKind uint8

const (
	MarkerNone MarkerKind = iota
	MarkerCrypto
	MarkerMask
	MarkerHash
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerCrypto:
		return TagCrypto
	case MarkerMask:
		return TagMask
	case MarkerHash:
		return TagHash
	default:
		return "none"
	}
}

// CryptoMode represents the direction a crypto marker or session applies to.
// Use these constants in struct tags: `crypto:"all"`
type CryptoMode string

const (
	ModeEncrypt CryptoMode = "encrypt"
	ModeDecrypt CryptoMode = "decrypt"
	ModeAll     CryptoMode = "all"
)

// Accepts reports whether a field declared with m participates in a session running in mode.
func (m CryptoMode) Accepts(mode CryptoMode) bool {
	return m == ModeAll || m == mode
}

// KeyRole identifies a key-holder field.
type KeyRole string

const (
	KeyPublic  KeyRole = "public"
	KeyPrivate KeyRole = "private"
)

// Marker is the parsed transform metadata of one field.
type Marker struct {
	Kind MarkerKind
	Mode CryptoMode // MarkerCrypto
	Mask MaskKind   // MarkerMask
	Hash HashAlgo   // MarkerHash
}

var validCryptoModes = map[CryptoMode]bool{
	ModeEncrypt: true,
	ModeDecrypt: true,
	ModeAll:     true,
}

var validKeyRoles = map[KeyRole]bool{
	KeyPublic:  true,
	KeyPrivate: true,
}

// IsValidCryptoMode returns true if the mode may appear in a crypto tag.
func IsValidCryptoMode(m CryptoMode) bool {
	return validCryptoModes[m]
}

// parseMarker reads the transform tags of sf. It returns nil when the field
// carries none and an error when it carries more than one or an unknown value.
func parseMarker(owner reflect.Type, sf reflect.StructField) (*Marker, error) {
	var found []*Marker

	if val, ok := sf.Tag.Lookup(TagCrypto); ok {
		mode := CryptoMode(strings.ToLower(strings.TrimSpace(val)))
		if mode == "" {
			mode = ModeAll
		}
		if !IsValidCryptoMode(mode) {
			return nil, newConfigError(ErrInvalidTag, owner, sf.Name, val)
		}
		found = append(found, &Marker{Kind: MarkerCrypto, Mode: mode})
	}

	if val, ok := sf.Tag.Lookup(TagMask); ok {
		kind := MaskKind(strings.TrimSpace(val))
		if !IsValidMaskKind(kind) {
			return nil, newConfigError(ErrInvalidTag, owner, sf.Name, val)
		}
		found = append(found, &Marker{Kind: MarkerMask, Mask: kind})
	}

	if val, ok := sf.Tag.Lookup(TagHash); ok {
		algo := HashAlgo(strings.TrimSpace(val))
		if !IsValidHashAlgo(algo) {
			return nil, newConfigError(ErrInvalidTag, owner, sf.Name, val)
		}
		found = append(found, &Marker{Kind: MarkerHash, Hash: algo})
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, newConfigError(ErrMarkerMisuse, owner, sf.Name, "multiple transform markers")
	}
}

// parseKeyRole reads the cryptokey tag of sf.
func parseKeyRole(owner reflect.Type, sf reflect.StructField) (KeyRole, error) {
	val, ok := sf.Tag.Lookup(TagCryptoKey)
	if !ok {
		return "", nil
	}
	role := KeyRole(strings.ToLower(strings.TrimSpace(val)))
	if !validKeyRoles[role] {
		return "", newConfigError(ErrInvalidTag, owner, sf.Name, val)
	}
	return role, nil
}
