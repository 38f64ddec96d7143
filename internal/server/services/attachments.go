package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	sc "github.com/dmitrijs2005/sharekeeper/internal/server/config"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// presignExpiry bounds how long an upload or download URL stays valid.
const presignExpiry = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// AttachmentService hands out presigned object storage URLs for the
// encrypted file attached to a secret. The file is encrypted on the client
// under the credentials data key, so readers need credentials access.
type AttachmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
}

func NewAttachmentService(db *sql.DB, m repomanager.RepositoryManager, config *sc.Config, logger logging.Logger) *AttachmentService {
	return &AttachmentService{db: db, repomanager: m, config: config, logger: logger}
}

// storageKey returns a fresh object key for a secret's attachment.
func storageKey(secretID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("secrets/%s/%d/%02d/%v", secretID, d.Year(), d.Month(), uuid.New())
}

func (s *AttachmentService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

func (s *AttachmentService) presignPut(ctx context.Context, key string) (string, error) {
	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", err
	}
	bucket := s.config.S3Bucket
	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *AttachmentService) presignGet(ctx context.Context, key string) (string, error) {
	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", err
	}
	bucket := s.config.S3Bucket
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// UploadURL returns a presigned PUT URL for a new attachment of the secret
// and records it as pending. Only the manager may upload.
func (s *AttachmentService) UploadURL(ctx context.Context, caller, secretID string) (string, error) {
	if err := s.requireAccess(ctx, caller, secretID, true); err != nil {
		return "", err
	}

	key := storageKey(secretID)
	url, err := s.presignPut(ctx, key)
	if err != nil {
		return "", fmt.Errorf("error presigning upload: %w", err)
	}

	a := &models.Attachment{SecretID: secretID, StorageKey: key}
	if err := s.repomanager.Attachments(s.db).Upsert(ctx, a); err != nil {
		return "", fmt.Errorf("error recording attachment: %w", err)
	}
	return url, nil
}

// MarkUploaded flags the pending attachment of the secret as complete.
func (s *AttachmentService) MarkUploaded(ctx context.Context, caller, secretID string) error {
	if err := s.requireAccess(ctx, caller, secretID, true); err != nil {
		return err
	}
	if err := s.repomanager.Attachments(s.db).MarkUploaded(ctx, secretID); err != nil {
		return fmt.Errorf("error updating attachment: %w", err)
	}
	return nil
}

// DownloadURL returns a presigned GET URL for a completed attachment.
// Callers need a status that can read the credentials.
func (s *AttachmentService) DownloadURL(ctx context.Context, caller, secretID string) (string, error) {
	if err := s.requireAccess(ctx, caller, secretID, false); err != nil {
		return "", err
	}

	a, err := s.repomanager.Attachments(s.db).Get(ctx, secretID)
	if err != nil {
		return "", fmt.Errorf("error getting attachment: %w", err)
	}
	if a.UploadStatus != models.UploadCompleted {
		return "", fmt.Errorf("%w: upload not completed", common.ErrNotFound)
	}

	url, err := s.presignGet(ctx, a.StorageKey)
	if err != nil {
		return "", fmt.Errorf("error presigning download: %w", err)
	}
	return url, nil
}

func (s *AttachmentService) requireAccess(ctx context.Context, caller, secretID string, manager bool) error {
	if err := validateID(secretID); err != nil {
		return err
	}
	rec, err := s.repomanager.Access(s.db).Get(ctx, models.AccessKey{
		SecretID:  secretID,
		Recipient: models.AccountRecipient(caller),
	})
	if err != nil {
		return err
	}
	switch {
	case manager && rec.Status != sharing.StatusManager:
		return common.ErrForbidden
	case !rec.Status.CanReadCredentials():
		return common.ErrForbidden
	}
	return nil
}
