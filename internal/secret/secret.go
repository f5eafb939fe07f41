// Package secret encrypts stored credentials. Ciphertexts are tagged with a
// version prefix so plaintext left over from older files passes through.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/steamkeeper/internal/errs"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	Prefix   = "enc:v1:"
	saltSize = 16
	nonceLen = 24
	keyLen   = 32
)

// Cipher is the encrypt-on-write / decrypt-on-read capability used for
// profile credentials.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(stored string) (string, error)
}

// Box seals values with XSalsa20-Poly1305 under a key derived from a
// passphrase with scrypt. Each value carries its own salt and nonce.
type Box struct {
	passphrase []byte
	rand       io.Reader
}

func NewBox(passphrase string) (*Box, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("empty passphrase: %w", errs.ErrDecrypt)
	}
	return &Box{passphrase: []byte(passphrase), rand: rand.Reader}, nil
}

func (b *Box) key(salt []byte) (*[keyLen]byte, error) {
	k, err := scrypt.Key(b.passphrase, salt, 1<<15, 8, 1, keyLen)
	if err != nil {
		return nil, err
	}
	var out [keyLen]byte
	copy(out[:], k)
	return &out, nil
}

func (b *Box) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	buf := make([]byte, saltSize+nonceLen)
	if _, err := io.ReadFull(b.rand, buf); err != nil {
		return "", err
	}
	salt := buf[:saltSize]
	var nonce [nonceLen]byte
	copy(nonce[:], buf[saltSize:])
	key, err := b.key(salt)
	if err != nil {
		return "", err
	}
	sealed := secretbox.Seal(buf, []byte(plain), &nonce, key)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned unchanged.
func (b *Box) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, Prefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, Prefix))
	if err != nil {
		return "", fmt.Errorf("decode: %w", errs.ErrDecrypt)
	}
	if len(raw) < saltSize+nonceLen+secretbox.Overhead {
		return "", fmt.Errorf("ciphertext too short: %w", errs.ErrDecrypt)
	}
	salt := raw[:saltSize]
	var nonce [nonceLen]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceLen])
	key, err := b.key(salt)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", errs.ErrDecrypt)
	}
	plain, ok := secretbox.Open(nil, raw[saltSize+nonceLen:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("authentication failed: %w", errs.ErrDecrypt)
	}
	return string(plain), nil
}

// Plain stores values as-is. It is used when no passphrase is configured.
type Plain struct{}

func (Plain) Encrypt(plain string) (string, error) { return plain, nil }

func (Plain) Decrypt(stored string) (string, error) {
	if strings.HasPrefix(stored, Prefix) {
		return "", fmt.Errorf("encrypted value but no passphrase configured: %w", errs.ErrDecrypt)
	}
	return stored, nil
}
