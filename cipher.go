package veil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
)

// Cipher encrypts with public key material and decrypts with a private key.
// Both directions are string in, string out.
type Cipher interface {
	Encrypt(publicKey, plaintext string) (string, error)
	Decrypt(priv *rsa.PrivateKey, ciphertext string) (string, error)
}

// rsaCipher implements RSA-OAEP with SHA-256. Ciphertext is standard base64.
type rsaCipher struct{}

// RSA returns the default cipher: RSA-OAEP, SHA-256, base64 output.
func RSA() Cipher {
	return rsaCipher{}
}

func (rsaCipher) Encrypt(publicKey, plaintext string) (string, error) {
	pub, err := publicKeyOf(publicKey)
	if err != nil {
		return "", err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCipher, err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (rsaCipher) Decrypt(priv *rsa.PrivateKey, ciphertext string) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: private key required", ErrInvalidKey)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCipher, err)
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, raw, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCipher, err)
	}
	return string(out), nil
}

// publicKeys caches parsed public key material. Services see a handful of
// distinct keys, so entries are never evicted.
var publicKeys sync.Map // string -> *rsa.PublicKey

func publicKeyOf(material string) (*rsa.PublicKey, error) {
	if v, ok := publicKeys.Load(material); ok {
		return v.(*rsa.PublicKey), nil
	}
	pub, err := ParsePublicKey(material)
	if err != nil {
		return nil, err
	}
	publicKeys.Store(material, pub)
	return pub, nil
}

// looksSealed reports whether value is base64 that decodes to exactly one
// RSA block of size bytes, i.e. already ciphertext under a key of that size.
func looksSealed(value string, size int) bool {
	if size <= 0 || base64.StdEncoding.EncodedLen(size) != len(value) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	return err == nil && len(raw) == size
}
