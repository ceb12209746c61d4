// Package crypto seals secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Encryptor encrypts strings with AES-256-GCM. Output is base64 of
// nonce || ciphertext. The empty string maps to itself both ways.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(key string) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return newEncryptor([]byte(key))
}

func newEncryptor(key []byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// TenantSealer derives one AES-256 key per tenant from a master key with
// HKDF-SHA256, so a leaked tenant key does not expose other tenants.
type TenantSealer struct {
	master []byte

	mu   sync.Mutex
	keys map[string]*Encryptor
}

func NewTenantSealer(masterKey string) (*TenantSealer, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKey
	}
	return &TenantSealer{
		master: []byte(masterKey),
		keys:   make(map[string]*Encryptor),
	}, nil
}

func (s *TenantSealer) Seal(tenantID, plaintext string) (string, error) {
	enc, err := s.forTenant(tenantID)
	if err != nil {
		return "", err
	}
	return enc.Encrypt(plaintext)
}

func (s *TenantSealer) Open(tenantID, ciphertext string) (string, error) {
	enc, err := s.forTenant(tenantID)
	if err != nil {
		return "", err
	}
	return enc.Decrypt(ciphertext)
}

func (s *TenantSealer) forTenant(tenantID string) (*Encryptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enc, ok := s.keys[tenantID]; ok {
		return enc, nil
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.master, nil, []byte("bankbridge/token/"+tenantID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key for tenant %s: %w", tenantID, err)
	}

	enc, err := newEncryptor(key)
	if err != nil {
		return nil, err
	}
	s.keys[tenantID] = enc
	return enc, nil
}
