package keyprovider

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"

	"github.com/zoobzio/veil"
)

// Static serves private keys held in memory.
type Static struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PrivateKey
}

// NewStatic returns a provider serving keys.
func NewStatic(keys ...*rsa.PrivateKey) (*Static, error) {
	s := &Static{keys: make(map[string]*rsa.PrivateKey, len(keys))}
	for _, k := range keys {
		if err := s.Add(k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadStatic parses the inline keys and key files of cfg.
func LoadStatic(cfg veil.StaticConfig) (*Static, error) {
	s, _ := NewStatic()
	for i, material := range cfg.Keys {
		priv, err := veil.ParsePrivateKey(material)
		if err != nil {
			return nil, fmt.Errorf("static key %d: %w", i, err)
		}
		if err := s.Add(priv); err != nil {
			return nil, err
		}
	}
	for _, path := range cfg.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		priv, err := veil.ParsePrivateKey(string(data))
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", path, err)
		}
		if err := s.Add(priv); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add makes priv available under the fingerprint of its public half.
func (s *Static) Add(priv *rsa.PrivateKey) error {
	if priv == nil {
		return fmt.Errorf("%w: nil private key", veil.ErrInvalidKey)
	}
	fp, err := fingerprintOf(priv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.keys[fp] = priv
	s.mu.Unlock()
	return nil
}

// Len returns the number of keys served.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// FetchPrivateKey returns the configured key matching publicKey.
func (s *Static) FetchPrivateKey(_ context.Context, publicKey string) (*rsa.PrivateKey, error) {
	fp, err := veil.Fingerprint(publicKey)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	priv, ok := s.keys[fp]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, fp)
	}
	return priv, nil
}

// Name identifies the provider in metrics.
func (s *Static) Name() string { return veil.ProviderStatic }
