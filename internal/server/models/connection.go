package models

// Connection is a peer an account may share secrets with.
type Connection struct {
	AccountID     string
	PeerID        string
	PeerEmail     string
	PeerPublicKey []byte
}
