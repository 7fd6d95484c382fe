// Package crypto provides the injectable payload transform applied at the
// transport boundary.
//
// The synchronization core never manages keys; callers hand it an
// already-keyed Cipher (or none, in which case payloads travel in the
// clear). The reference implementation uses NaCl secretbox with a random
// nonce prefixed to the ciphertext.
package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the secretbox nonce length in bytes.
const NonceSize = 24

// ErrDecryptFailed indicates ciphertext that could not be authenticated.
var ErrDecryptFailed = errors.New("decryption failed")

// ErrCiphertextShort indicates ciphertext too small to carry a nonce.
var ErrCiphertextShort = errors.New("ciphertext shorter than nonce")

// Cipher transforms payload bodies crossing the transport boundary.
// Implementations must be safe for concurrent use.
type Cipher interface {
	// Seal encrypts plaintext for transmission.
	Seal(plaintext []byte) ([]byte, error)
	// Open decrypts received ciphertext.
	Open(ciphertext []byte) ([]byte, error)
}

// PlainCipher passes payloads through unchanged. It is the default when no
// cipher is configured.
type PlainCipher struct{}

// Seal returns the plaintext as-is.
func (PlainCipher) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Open returns the ciphertext as-is.
func (PlainCipher) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// NaClCipher encrypts payloads with NaCl secretbox under a fixed symmetric
// key. The random nonce is prefixed to the ciphertext.
type NaClCipher struct {
	key [32]byte
}

// NewNaClCipher creates a cipher with the given symmetric key.
func NewNaClCipher(key [32]byte) *NaClCipher {
	return &NaClCipher{key: key}
}

// Seal encrypts plaintext and prefixes the nonce.
func (c *NaClCipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Open strips the nonce prefix and decrypts the remainder.
func (c *NaClCipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrCiphertextShort
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
