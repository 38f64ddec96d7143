package envelope

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"golang.org/x/crypto/curve25519"
)

// ProtectedKeyPair is the account keypair as stored on the server.
type ProtectedKeyPair struct {
	PublicKey []byte
	// KeySalt is the salt of the keypair sub-key.
	KeySalt    []byte
	PrivateKey *Sealed
}

// Keyring holds the unlocked key material of a signed-in account.
type Keyring struct {
	master  []byte
	keyPair *KeyPair
}

// NewAccountKeys generates a keypair for a new account and protects the
// private half under the keypair sub-key of master.
func NewAccountKeys(master []byte) (*Keyring, *ProtectedKeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	protected, err := ProtectKeyPair(master, kp)
	if err != nil {
		return nil, nil, err
	}
	return &Keyring{master: master, keyPair: kp}, protected, nil
}

// ProtectKeyPair seals kp.Private under a keypair sub-key with a fresh salt.
// It is also used to re-protect the keypair after a password change.
func ProtectKeyPair(master []byte, kp *KeyPair) (*ProtectedKeyPair, error) {
	salt := NewSalt()
	sub, err := SubKey(master, salt, PurposeKeypair)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sub)

	sealed, err := Seal(sub, kp.Private)
	if err != nil {
		return nil, err
	}
	return &ProtectedKeyPair{PublicKey: kp.Public, KeySalt: salt, PrivateKey: sealed}, nil
}

// Unlock opens the stored keypair with master and checks that the private
// key matches the published public key.
func Unlock(master []byte, p *ProtectedKeyPair) (*Keyring, error) {
	sub, err := SubKey(master, p.KeySalt, PurposeKeypair)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sub)

	priv, err := Open(sub, p.PrivateKey)
	if err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil || !bytes.Equal(pub, p.PublicKey) {
		return nil, ErrDecrypt
	}
	return &Keyring{master: master, keyPair: &KeyPair{Public: pub, Private: priv}}, nil
}

// PublicKey returns the account public key.
func (k *Keyring) PublicKey() []byte {
	return k.keyPair.Public
}

// KeyPair returns the unlocked keypair.
func (k *Keyring) KeyPair() *KeyPair {
	return k.keyPair
}

// Unwrap opens a data key wrapped to this account.
func (k *Keyring) Unwrap(w *WrappedKey) ([]byte, error) {
	return UnwrapWithPrivateKey(k.keyPair, w)
}

// SealSessionKey protects the session key for the local cache under the
// session sub-key derived with the handshake's session wrapper.
func (k *Keyring) SealSessionKey(sessionWrapper, sessionKey []byte) (*Sealed, error) {
	sub, err := SubKey(k.master, sessionWrapper, PurposeSession)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sub)
	return Seal(sub, sessionKey)
}

// OpenSessionKey reverses SealSessionKey.
func (k *Keyring) OpenSessionKey(sessionWrapper []byte, s *Sealed) ([]byte, error) {
	sub, err := SubKey(k.master, sessionWrapper, PurposeSession)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sub)
	return Open(sub, s)
}

// SessionProof binds a handshake id to this account's master key. A cached
// session can only be resumed by someone who re-derives the same proof.
func (k *Keyring) SessionProof(sessionWrapper []byte, handshakeID string) ([]byte, error) {
	sub, err := SubKey(k.master, sessionWrapper, PurposeSession)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sub)

	mac := hmac.New(sha256.New, sub)
	mac.Write([]byte(handshakeID))
	return mac.Sum(nil), nil
}

// Wipe clears the key material held by the keyring.
func (k *Keyring) Wipe() {
	common.WipeByteArray(k.master)
	if k.keyPair != nil {
		common.WipeByteArray(k.keyPair.Private)
	}
}
