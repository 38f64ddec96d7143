package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
)

// NonceSize is the AES-GCM nonce length.
const NonceSize = 12

// ErrDecrypt hides the reason an authenticated decryption failed.
var ErrDecrypt = errors.New("decryption failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-GCM under key using a fresh random nonce.
// The key must be 16, 24 or 32 bytes long.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce = common.GenerateRandByteArray(NonceSize)
	ciphertext, err = SealWithNonce(key, nonce, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// SealWithNonce encrypts with a caller-chosen nonce, for formats whose
// associated data covers the nonce. The nonce must never repeat for a key.
func SealWithNonce(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", aesgcm.NonceSize())
	}
	return aesgcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open reverses Seal. Any authentication failure is reported as ErrDecrypt.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, ErrDecrypt
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealBlob encrypts data and returns nonce ‖ ciphertext, the layout used for
// attachment objects.
func SealBlob(key, plaintext []byte) ([]byte, error) {
	ct, nonce, err := Seal(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// OpenBlob reverses SealBlob.
func OpenBlob(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, ErrDecrypt
	}
	return Open(key, blob[:NonceSize], blob[NonceSize:], nil)
}

// EncryptFile reads the file at path and seals it as a blob under key.
func EncryptFile(path string, key []byte) ([]byte, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return SealBlob(key, plaintext)
}
