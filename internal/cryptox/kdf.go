// Package cryptox contains the low-level primitives shared by the client and
// server: password stretching and authenticated symmetric encryption.
package cryptox

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

// Iteration counts differ so the SRP private value and the master key are not
// computable from one another in equal time.
const (
	DefaultSRPIterations       = 100_000
	DefaultMasterKeyIterations = 250_000

	// KeySize is the length of every derived key.
	KeySize = 32
)

// ErrInvalidSalt is returned for salts of the wrong size or when the SRP and
// master key salts are the same.
var ErrInvalidSalt = errors.New("invalid salt")

// KeyDeriver turns (email, password) into the SRP private value and the
// master key. The zero value is not usable; call NewKeyDeriver.
type KeyDeriver struct {
	SRPIterations       int
	MasterKeyIterations int
}

// NewKeyDeriver returns a deriver with production iteration counts.
func NewKeyDeriver() *KeyDeriver {
	return &KeyDeriver{
		SRPIterations:       DefaultSRPIterations,
		MasterKeyIterations: DefaultMasterKeyIterations,
	}
}

// DeriveSRPPrivateKey stretches the password with srpPbkdf2Salt. The result is
// the input to the SRP x computation.
func (d *KeyDeriver) DeriveSRPPrivateKey(email, password string, srpPbkdf2Salt []byte) ([]byte, error) {
	return d.derive(email, password, srpPbkdf2Salt, d.SRPIterations)
}

// DeriveMasterKey stretches the password with masterKeyPbkdf2Salt.
func (d *KeyDeriver) DeriveMasterKey(email, password string, masterKeyPbkdf2Salt []byte) ([]byte, error) {
	return d.derive(email, password, masterKeyPbkdf2Salt, d.MasterKeyIterations)
}

// DeriveBoth derives both secrets after checking the salts are independent.
func (d *KeyDeriver) DeriveBoth(email, password string, srpPbkdf2Salt, masterKeyPbkdf2Salt []byte) (srpKey, masterKey []byte, err error) {
	if err := CheckSalts(srpPbkdf2Salt, masterKeyPbkdf2Salt); err != nil {
		return nil, nil, err
	}
	if srpKey, err = d.DeriveSRPPrivateKey(email, password, srpPbkdf2Salt); err != nil {
		return nil, nil, err
	}
	if masterKey, err = d.DeriveMasterKey(email, password, masterKeyPbkdf2Salt); err != nil {
		return nil, nil, err
	}
	return srpKey, masterKey, nil
}

func (d *KeyDeriver) derive(email, password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) != common.SaltSize {
		return nil, ErrInvalidSalt
	}
	input := make([]byte, 0, len(salt)+len(email))
	input = append(input, salt...)
	input = append(input, common.NormalizeEmail(email)...)
	return pbkdf2.Key([]byte(password), input, iterations, KeySize, sha256.New), nil
}

// CheckSalts validates the pair of account salts used for stretching.
func CheckSalts(srpPbkdf2Salt, masterKeyPbkdf2Salt []byte) error {
	if len(srpPbkdf2Salt) != common.SaltSize || len(masterKeyPbkdf2Salt) != common.SaltSize {
		return ErrInvalidSalt
	}
	if bytes.Equal(srpPbkdf2Salt, masterKeyPbkdf2Salt) {
		return ErrInvalidSalt
	}
	return nil
}
