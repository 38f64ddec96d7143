// Package models holds the plain data types persisted by the server.
package models

import (
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
)

// Account is one registered user. The server never holds the password, the
// master key or the private key in clear.
type Account struct {
	ID                  string
	Email               string
	SRPSalt             []byte
	SRPPbkdf2Salt       []byte
	MasterKeyPbkdf2Salt []byte
	Verifier            []byte
	PublicKey           []byte
	PrivateKeySalt      []byte
	EncryptedPrivateKey *envelope.Sealed
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credentials are the password-derived account fields replaced together by a
// password change.
type Credentials struct {
	SRPSalt             []byte
	SRPPbkdf2Salt       []byte
	MasterKeyPbkdf2Salt []byte
	Verifier            []byte
	PrivateKeySalt      []byte
	EncryptedPrivateKey *envelope.Sealed
}
