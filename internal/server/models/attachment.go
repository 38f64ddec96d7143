package models

import "time"

// Upload states of an attachment.
const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
)

// Attachment is the encrypted file of a secret kept in object storage.
type Attachment struct {
	SecretID     string
	StorageKey   string
	UploadStatus string
	CreatedAt    time.Time
}
