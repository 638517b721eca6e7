package kv

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
)

// ErrDecrypt is returned when the secure file cannot be opened with the
// configured passphrase.
var ErrDecrypt = errors.New("kv: secure store decryption failed")

// Secure is an encrypted file-backed Store for credentials. The whole map is
// sealed with NaCl secretbox under a key derived from a passphrase by scrypt.
// File layout: salt(16) | nonce(24) | box.
type Secure struct {
	mu    sync.Mutex
	path  string
	salt  [saltSize]byte
	key   [32]byte
	items map[string][]byte
}

// OpenSecure opens or creates the secure store at path.
func OpenSecure(path, passphrase string) (*Secure, error) {
	if passphrase == "" {
		return nil, errors.New("kv: secure store requires a passphrase")
	}
	s := &Secure{path: path, items: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if _, err := io.ReadFull(rand.Reader, s.salt[:]); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := s.deriveKey(passphrase); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read secure store: %w", err)
	}

	if len(data) < saltSize+nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	copy(s.salt[:], data[:saltSize])
	if err := s.deriveKey(passphrase); err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[saltSize:saltSize+nonceSize])
	plain, ok := secretbox.Open(nil, data[saltSize+nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	if err := json.Unmarshal(plain, &s.items); err != nil {
		return nil, fmt.Errorf("failed to decode secure store: %w", err)
	}
	return s, nil
}

func (s *Secure) deriveKey(passphrase string) error {
	k, err := scrypt.Key([]byte(passphrase), s.salt[:], 1<<15, 8, 1, 32)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	copy(s.key[:], k)
	return nil
}

func (s *Secure) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Secure) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.items[key]
	s.items[key] = append([]byte(nil), value...)
	if err := s.persist(); err != nil {
		if had {
			s.items[key] = prev
		} else {
			delete(s.items, key)
		}
		return err
	}
	return nil
}

func (s *Secure) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.items[key]
	if !had {
		return nil
	}
	delete(s.items, key)
	if err := s.persist(); err != nil {
		s.items[key] = prev
		return err
	}
	return nil
}

// persist seals the map and atomically replaces the file. Caller holds mu.
func (s *Secure) persist() error {
	plain, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("failed to encode secure store: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, s.salt[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, &s.key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create secure store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("failed to write secure store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace secure store: %w", err)
	}
	return nil
}
