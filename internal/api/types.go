// Package api holds the JSON shapes exchanged between the sharekeeper client
// and server. Byte fields travel as standard base64, which encoding/json
// does for []byte.
package api

import (
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
)

// Credentials are the password-derived account fields.
type Credentials struct {
	SRPSalt             []byte           `json:"srpSalt"`
	SRPPbkdf2Salt       []byte           `json:"srpPbkdf2Salt"`
	MasterKeyPbkdf2Salt []byte           `json:"masterKeyPbkdf2Salt"`
	Verifier            []byte           `json:"verifier"`
	PrivateKeySalt      []byte           `json:"privateKeySalt"`
	EncryptedPrivateKey *envelope.Sealed `json:"encryptedPrivateKey"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	PublicKey []byte `json:"publicKey"`
	Credentials
}

type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	PublicKey []byte    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

type HandshakeStartRequest struct {
	Email                 string `json:"email"`
	ClientPublicEphemeral []byte `json:"clientPublicEphemeral"`
}

type HandshakeStartResponse struct {
	ID                    string `json:"id"`
	SRPSalt               []byte `json:"srpSalt"`
	SRPPbkdf2Salt         []byte `json:"srpPbkdf2Salt"`
	ServerPublicEphemeral []byte `json:"serverPublicEphemeral"`
}

type HandshakeFinishRequest struct {
	ClientProof []byte `json:"clientProof"`
}

// HandshakeFinishResponse also returns the protected keypair so the client
// can unlock it with the master key.
type HandshakeFinishResponse struct {
	ID                  string           `json:"id"`
	ServerProof         []byte           `json:"serverProof"`
	SessionWrapper      []byte           `json:"sessionWrapper"`
	MasterKeyPbkdf2Salt []byte           `json:"masterKeyPbkdf2Salt"`
	PublicKey           []byte           `json:"publicKey"`
	PrivateKeySalt      []byte           `json:"privateKeySalt"`
	EncryptedPrivateKey *envelope.Sealed `json:"encryptedPrivateKey"`
}

type Session struct {
	HandshakeID    string    `json:"handshakeId"`
	AccountID      string    `json:"accountId"`
	Email          string    `json:"email"`
	SessionWrapper []byte    `json:"sessionWrapper"`
	CompletedAt    time.Time `json:"completedAt"`
}

type Connection struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	PublicKey []byte `json:"publicKey"`
}

// Recipient kinds on the wire.
const (
	RecipientAccount = "account"
	RecipientInvite  = "invite"
)

type Recipient struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type PreviewGrant struct {
	Recipient  Recipient            `json:"recipient"`
	PreviewKey *envelope.WrappedKey `json:"previewKey"`
}

// CreateSecretRequest carries the manager's own wrapped keys and optional
// preview grants created in the same transaction.
type CreateSecretRequest struct {
	Credentials    *envelope.Sealed     `json:"credentials"`
	Preview        *envelope.Sealed     `json:"preview"`
	SharePreviews  bool                 `json:"sharePreviews"`
	PreviewKey     *envelope.WrappedKey `json:"previewKey"`
	CredentialsKey *envelope.WrappedKey `json:"credentialsKey"`
	Previews       []PreviewGrant       `json:"previews,omitempty"`
}

type UpdateSecretRequest struct {
	Credentials   *envelope.Sealed `json:"credentials"`
	Preview       *envelope.Sealed `json:"preview"`
	SharePreviews bool             `json:"sharePreviews"`
}

type AccessRecord struct {
	SecretID       string               `json:"secretId"`
	Recipient      Recipient            `json:"recipient"`
	Status         string               `json:"status"`
	PreviewKey     *envelope.WrappedKey `json:"previewKey"`
	CredentialsKey *envelope.WrappedKey `json:"credentialsKey,omitempty"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// Secret is a secret as seen by one caller. Credentials is omitted unless
// the caller may read it.
type Secret struct {
	ID            string           `json:"id"`
	ManagerID     string           `json:"managerId"`
	Credentials   *envelope.Sealed `json:"credentials,omitempty"`
	Preview       *envelope.Sealed `json:"preview"`
	SharePreviews bool             `json:"sharePreviews"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Access        *AccessRecord    `json:"access,omitempty"`
}

// TransitionRequest is the optional body of an owner action. Offer and
// approve need CredentialsKey.
type TransitionRequest struct {
	CredentialsKey *envelope.WrappedKey `json:"credentialsKey,omitempty"`
}

// TransitionResponse holds the record as written, or nil when the action
// removed it.
type TransitionResponse struct {
	Record *AccessRecord `json:"record"`
}

type CreateInviteRequest struct {
	Contact string `json:"contact"`
}

type Invite struct {
	ID         string    `json:"id"`
	InviterID  string    `json:"inviterId"`
	Contact    string    `json:"contact"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expiresAt"`
	AcceptedBy *string   `json:"acceptedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type CreateInviteResponse struct {
	Invite Invite `json:"invite"`
	Token  string `json:"token"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type LookupInviteResponse struct {
	Invite       Invite          `json:"invite"`
	InviterEmail string          `json:"inviterEmail"`
	Records      []*AccessRecord `json:"records"`
}

type Rewrap struct {
	SecretID       string               `json:"secretId"`
	PreviewKey     *envelope.WrappedKey `json:"previewKey"`
	CredentialsKey *envelope.WrappedKey `json:"credentialsKey,omitempty"`
}

type ClaimInviteRequest struct {
	Token   string   `json:"token"`
	Rewraps []Rewrap `json:"rewraps"`
}

type RecordsResponse struct {
	Records []*AccessRecord `json:"records"`
}

type URLResponse struct {
	URL string `json:"url"`
}
