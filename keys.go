package veil

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Key material is accepted as PEM, as a JWK document, or as hex or base64
// DER (PKIX for public keys, PKCS#8 or PKCS#1 for private keys).

// ParsePublicKey decodes RSA public key material.
func ParsePublicKey(material string) (*rsa.PublicKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrInvalidKey)
	}

	switch {
	case strings.HasPrefix(material, "-----BEGIN"):
		block, _ := pem.Decode([]byte(material))
		if block == nil {
			return nil, fmt.Errorf("%w: malformed PEM", ErrInvalidKey)
		}
		switch block.Type {
		case "RSA PUBLIC KEY":
			pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
			}
			return pub, nil
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
			}
			return asRSAPublic(cert.PublicKey)
		default:
			return parsePKIX(block.Bytes)
		}

	case strings.HasPrefix(material, "{"):
		raw, err := rawJWK(material)
		if err != nil {
			return nil, err
		}
		if priv, ok := raw.(*rsa.PrivateKey); ok {
			return &priv.PublicKey, nil
		}
		return asRSAPublic(raw)
	}

	der, err := decodeDER(material)
	if err != nil {
		return nil, err
	}
	return parsePKIX(der)
}

// ParsePrivateKey decodes RSA private key material.
func ParsePrivateKey(material string) (*rsa.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("%w: empty private key", ErrInvalidKey)
	}

	var der []byte
	switch {
	case strings.HasPrefix(material, "-----BEGIN"):
		block, _ := pem.Decode([]byte(material))
		if block == nil {
			return nil, fmt.Errorf("%w: malformed PEM", ErrInvalidKey)
		}
		der = block.Bytes

	case strings.HasPrefix(material, "{"):
		raw, err := rawJWK(material)
		if err != nil {
			return nil, err
		}
		priv, ok := raw.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: JWK is %T, not an RSA private key", ErrInvalidKey, raw)
		}
		return priv, nil

	default:
		var err error
		if der, err = decodeDER(material); err != nil {
			return nil, err
		}
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 key is %T, not RSA", ErrInvalidKey, key)
		}
		return priv, nil
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return priv, nil
}

// EncodePrivateKeyPEM renders priv as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// EncodePublicKeyPEM renders pub as a PKIX PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Fingerprint returns the hex SHA-256 of the PKIX encoding of the public key
// described by material. Equal keys in different encodings share a fingerprint.
func Fingerprint(material string) (string, error) {
	pub, err := ParsePublicKey(material)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

func parsePKIX(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return asRSAPublic(key)
}

func asRSAPublic(key any) (*rsa.PublicKey, error) {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an RSA public key", ErrInvalidKey, key)
	}
	return pub, nil
}

func rawJWK(material string) (any, error) {
	key, err := jwk.ParseKey([]byte(material))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return raw, nil
}

// decodeDER accepts hex first, then standard base64 with or without padding.
func decodeDER(material string) ([]byte, error) {
	if der, err := hex.DecodeString(material); err == nil {
		return der, nil
	}
	if der, err := base64.StdEncoding.DecodeString(material); err == nil {
		return der, nil
	}
	if der, err := base64.RawStdEncoding.DecodeString(material); err == nil {
		return der, nil
	}
	return nil, fmt.Errorf("%w: not PEM, JWK, hex or base64", ErrInvalidKey)
}
