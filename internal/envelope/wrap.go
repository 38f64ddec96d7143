package envelope

import (
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"golang.org/x/crypto/curve25519"
)

// WrappedKey is a data key wrapped for one recipient. Asymmetric wraps only
// carry Ciphertext and Algorithm; symmetric wraps also carry IV and Salt.
type WrappedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv,omitempty"`
	Salt       []byte `json:"salt,omitempty"`
	Algorithm  string `json:"algorithm"`
}

// KeyPair is an X25519 keypair.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKeyPair creates a new X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv := common.GenerateRandByteArray(curve25519.ScalarSize)
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Recipient is either a registered account (PublicKey set) or an invite
// (LinkKey set).
type Recipient struct {
	PublicKey []byte
	LinkKey   []byte
}

// Wrap wraps dataKey for r using the path matching the recipient kind.
func Wrap(r Recipient, dataKey []byte) (*WrappedKey, error) {
	switch {
	case len(r.PublicKey) > 0 && len(r.LinkKey) == 0:
		return WrapForAccount(r.PublicKey, dataKey)
	case len(r.LinkKey) > 0 && len(r.PublicKey) == 0:
		return WrapForInvite(r.LinkKey, dataKey)
	default:
		return nil, ErrInvalidKey
	}
}

// WrapForAccount wraps dataKey to an X25519 public key with an ephemeral
// ECDH exchange. The ciphertext packs ephemeral public ‖ salt ‖ nonce ‖ ct.
func WrapForAccount(recipientPub, dataKey []byte) (*WrappedKey, error) {
	if len(recipientPub) != curve25519.PointSize {
		return nil, ErrInvalidKey
	}
	eph, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(eph.Private)

	shared, err := curve25519.X25519(eph.Private, recipientPub)
	if err != nil {
		return nil, ErrInvalidKey
	}
	defer common.WipeByteArray(shared)

	salt := NewSalt()
	kek, err := hkdfKey(shared, salt, infoAccountKEK)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	nonce := common.GenerateRandByteArray(cryptox.NonceSize)
	ct, err := cryptox.SealWithNonce(kek, nonce, dataKey, aad(AlgAccount, eph.Public, recipientPub))
	if err != nil {
		return nil, err
	}

	packed := make([]byte, 0, len(eph.Public)+len(salt)+len(nonce)+len(ct))
	packed = append(packed, eph.Public...)
	packed = append(packed, salt...)
	packed = append(packed, nonce...)
	packed = append(packed, ct...)

	return &WrappedKey{Ciphertext: packed, Algorithm: AlgAccount}, nil
}

// UnwrapWithPrivateKey opens an account wrap with the recipient's keypair.
func UnwrapWithPrivateKey(kp *KeyPair, w *WrappedKey) ([]byte, error) {
	if w == nil || w.Algorithm != AlgAccount {
		return nil, ErrUnsupportedAlgorithm
	}
	const header = curve25519.PointSize + 32 + cryptox.NonceSize
	if len(w.Ciphertext) <= header {
		return nil, ErrDecrypt
	}
	ephPub := w.Ciphertext[:curve25519.PointSize]
	salt := w.Ciphertext[curve25519.PointSize : curve25519.PointSize+32]
	nonce := w.Ciphertext[curve25519.PointSize+32 : header]
	ct := w.Ciphertext[header:]

	shared, err := curve25519.X25519(kp.Private, ephPub)
	if err != nil {
		return nil, ErrDecrypt
	}
	defer common.WipeByteArray(shared)

	kek, err := hkdfKey(shared, salt, infoAccountKEK)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	return cryptox.Open(kek, nonce, ct, aad(AlgAccount, ephPub, kp.Public))
}

// NewLinkKey returns a fresh invite link key.
func NewLinkKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// WrapForInvite wraps dataKey under the symmetric link key of an invite.
func WrapForInvite(linkKey, dataKey []byte) (*WrappedKey, error) {
	if len(linkKey) != KeySize {
		return nil, ErrInvalidKey
	}
	salt := NewSalt()
	iv := common.GenerateRandByteArray(cryptox.NonceSize)

	kek, err := hkdfKey(linkKey, salt, infoInviteKEK)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	ct, err := cryptox.SealWithNonce(kek, iv, dataKey, aad(AlgInvite, iv, salt))
	if err != nil {
		return nil, err
	}
	return &WrappedKey{Ciphertext: ct, IV: iv, Salt: salt, Algorithm: AlgInvite}, nil
}

// UnwrapWithLinkKey opens an invite wrap.
func UnwrapWithLinkKey(linkKey []byte, w *WrappedKey) ([]byte, error) {
	if w == nil || w.Algorithm != AlgInvite {
		return nil, ErrUnsupportedAlgorithm
	}
	if len(linkKey) != KeySize {
		return nil, ErrInvalidKey
	}
	kek, err := hkdfKey(linkKey, w.Salt, infoInviteKEK)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	return cryptox.Open(kek, w.IV, w.Ciphertext, aad(w.Algorithm, w.IV, w.Salt))
}
