package veil

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashAlgo selects a one-way hash. Use these constants in struct tags: `hash:"argon2"`
type HashAlgo string

const (
	HashArgon2 HashAlgo = "argon2"
	HashBcrypt HashAlgo = "bcrypt"
	HashSHA256 HashAlgo = "sha256"
	HashSHA512 HashAlgo = "sha512"
)

var validHashAlgos = map[HashAlgo]bool{
	HashArgon2: true,
	HashBcrypt: true,
	HashSHA256: true,
	HashSHA512: true,
}

// IsValidHashAlgo returns true if algo may appear in a hash tag.
func IsValidHashAlgo(algo HashAlgo) bool {
	return validHashAlgos[algo]
}

// Hasher performs one-way hashing.
type Hasher interface {
	// Hash returns the digest of plaintext. Password hashers embed their salt
	// and parameters in the result; SHA hashers return lowercase hex.
	Hash(plaintext []byte) (string, error)
}

// Argon2Params configures Argon2id hashing.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params returns the OWASP baseline for Argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

type argon2Hasher struct {
	params Argon2Params
}

// Argon2 returns an Argon2id hasher with default parameters.
func Argon2() Hasher {
	return Argon2WithParams(DefaultArgon2Params())
}

// Argon2WithParams returns an Argon2id hasher with custom parameters.
func Argon2WithParams(params Argon2Params) Hasher {
	return &argon2Hasher{params: params}
}

func (h *argon2Hasher) Hash(plaintext []byte) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey(plaintext, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// PHC string: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// BcryptCost represents the bcrypt cost factor.
type BcryptCost int

const (
	BcryptMinCost     BcryptCost = BcryptCost(bcrypt.MinCost)
	BcryptDefaultCost BcryptCost = BcryptCost(bcrypt.DefaultCost)
	BcryptMaxCost     BcryptCost = BcryptCost(bcrypt.MaxCost)
)

type bcryptHasher struct {
	cost int
}

// Bcrypt returns a bcrypt hasher with the default cost.
func Bcrypt() Hasher {
	return BcryptWithCost(BcryptDefaultCost)
}

// BcryptWithCost returns a bcrypt hasher with a specific cost factor.
func BcryptWithCost(cost BcryptCost) Hasher {
	return &bcryptHasher{cost: int(cost)}
}

func (h *bcryptHasher) Hash(plaintext []byte) (string, error) {
	out, err := bcrypt.GenerateFromPassword(plaintext, h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

type sha256Hasher struct{}

// SHA256Hasher returns a hex SHA-256 hasher. Not for passwords.
func SHA256Hasher() Hasher { return sha256Hasher{} }

func (sha256Hasher) Hash(plaintext []byte) (string, error) {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:]), nil
}

type sha512Hasher struct{}

// SHA512Hasher returns a hex SHA-512 hasher. Not for passwords.
func SHA512Hasher() Hasher { return sha512Hasher{} }

func (sha512Hasher) Hash(plaintext []byte) (string, error) {
	sum := sha512.Sum512(plaintext)
	return hex.EncodeToString(sum[:]), nil
}

// Digest replaces fields tagged with hash:"<algo>" by their one-way digest.
// It is used on inbound values such as sign-up payloads.
type Digest struct {
	walker *Walker

	mu      sync.RWMutex
	hashers map[HashAlgo]Hasher
}

// NewDigest returns a hashing transform with the built-in hashers.
func NewDigest(opts ...Option) *Digest {
	return &Digest{
		walker: NewWalker(opts...),
		hashers: map[HashAlgo]Hasher{
			HashArgon2: Argon2(),
			HashBcrypt: Bcrypt(),
			HashSHA256: SHA256Hasher(),
			HashSHA512: SHA512Hasher(),
		},
	}
}

// SetHasher replaces the hasher for algo.
func (d *Digest) SetHasher(algo HashAlgo, h Hasher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashers[algo] = h
}

// Hash walks root and hashes every field carrying a hash marker.
func (d *Digest) Hash(ctx context.Context, root any) (any, error) {
	return d.walker.Walk(ctx, root, d)
}

// Marker implements LeafTransform.
func (d *Digest) Marker() MarkerKind { return MarkerHash }

// Name implements LeafTransform.
func (d *Digest) Name() string { return "hash" }

// ApplyLeaf implements LeafTransform.
func (d *Digest) ApplyLeaf(_ context.Context, site Site, value string) (string, error) {
	d.mu.RLock()
	h, ok := d.hashers[site.Field.Marker.Hash]
	d.mu.RUnlock()
	if !ok {
		return value, newTransformError(ErrMissingHasher, "hash", site.Path, nil)
	}
	if value == "" {
		return value, nil
	}
	out, err := h.Hash([]byte(value))
	if err != nil {
		return value, newTransformError(ErrCipher, "hash", site.Path, err)
	}
	return out, nil
}
