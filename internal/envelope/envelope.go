// Package envelope implements the client-side key hierarchy: purpose-bound
// sub-keys of the master key, authenticated encryption of secret fields
// under per-secret data keys, and per-recipient wrapping of those data keys.
//
// The server only ever sees the JSON forms of Sealed and WrappedKey.
package envelope

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"golang.org/x/crypto/hkdf"
)

// Algorithm tags carried by encrypted payloads.
const (
	AlgSealed  = "hkdf-aes-256-gcm"
	AlgAccount = "x25519-hkdf-aes-256-gcm"
	AlgInvite  = "link-hkdf-aes-256-gcm"
)

// KeySize is the size of master keys, sub-keys, data keys and link keys.
const KeySize = 32

const (
	infoSeal       = "sharekeeper/seal/v1"
	infoSubKey     = "sharekeeper/subkey/v1/"
	infoAccountKEK = "sharekeeper/wrap/account/v1"
	infoInviteKEK  = "sharekeeper/wrap/invite/v1"
)

var (
	// ErrDecrypt reports any failure to authenticate a ciphertext.
	ErrDecrypt = cryptox.ErrDecrypt
	// ErrUnsupportedAlgorithm is returned for an unknown or mismatched tag.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrInvalidKey is returned for keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key")
)

// Purpose names what a sub-key is for. Each purpose uses its own salt.
type Purpose string

const (
	// PurposeKeypair protects the account's private key.
	PurposeKeypair Purpose = "keypair"
	// PurposeSession protects the cached session key and proves session
	// ownership.
	PurposeSession Purpose = "session"
	// PurposeAttachment encrypts a secret's attachment under its
	// credentials data key.
	PurposeAttachment Purpose = "attachment"
)

// Sealed is a symmetric ciphertext. The cipher key is derived from the data
// key with HKDF and the per-encryption salt; the algorithm, iv and salt are
// bound as associated data.
type Sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
	Algorithm  string `json:"algorithm"`
}

func hkdfKey(secret, salt []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

func aad(alg string, parts ...[]byte) []byte {
	out := []byte(alg)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// NewDataKey returns a fresh random data key.
func NewDataKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// NewSalt returns a fresh random salt.
func NewSalt() []byte {
	return common.GenerateRandByteArray(common.SaltSize)
}

// SubKey derives the sub-key for purpose from the master key and the
// purpose's salt.
func SubKey(master, salt []byte, purpose Purpose) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(salt) != common.SaltSize {
		return nil, fmt.Errorf("%w: sub-key salt", ErrInvalidKey)
	}
	return hkdfKey(master, salt, infoSubKey+string(purpose))
}

// Seal encrypts plaintext under key with a fresh salt and nonce.
func Seal(key, plaintext []byte) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	salt := NewSalt()
	iv := common.GenerateRandByteArray(cryptox.NonceSize)

	cek, err := hkdfKey(key, salt, infoSeal)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(cek)

	ct, err := cryptox.SealWithNonce(cek, iv, plaintext, aad(AlgSealed, iv, salt))
	if err != nil {
		return nil, err
	}
	return &Sealed{Ciphertext: ct, IV: iv, Salt: salt, Algorithm: AlgSealed}, nil
}

// Open decrypts s under key.
func Open(key []byte, s *Sealed) ([]byte, error) {
	if s == nil || s.Algorithm != AlgSealed {
		return nil, ErrUnsupportedAlgorithm
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	cek, err := hkdfKey(key, s.Salt, infoSeal)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(cek)

	return cryptox.Open(cek, s.IV, s.Ciphertext, aad(s.Algorithm, s.IV, s.Salt))
}
