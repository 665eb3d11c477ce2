package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/campusfriends/backend/internal/config"
	"github.com/campusfriends/backend/internal/relationships"
)

// Uploader is the subset of manager.Uploader used by the archive.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archive implements relationships.Archiver by writing request records that
// leave the ledger to an S3-compatible bucket as JSON documents.
type S3Archive struct {
	uploader Uploader
	bucket   string
	prefix   string
	now      func() time.Time
	newID    func() string
}

// archiveDocument is the object body written for one Archive call.
type archiveDocument struct {
	Reason     string                        `json:"reason"`
	Kind       relationships.Kind            `json:"kind"`
	ArchivedAt time.Time                     `json:"archivedAt"`
	Records    []relationships.RequestRecord `json:"records"`
}

// NewS3Archive configures an uploader targeting the provided object store.
func NewS3Archive(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Archive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 archive: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return NewS3ArchiveWithUploader(uploader, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiveWithUploader builds an archive over an existing uploader.
func NewS3ArchiveWithUploader(uploader Uploader, bucket, prefix string) *S3Archive {
	return &S3Archive{
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Archive uploads records as a single private object.
func (a *S3Archive) Archive(ctx context.Context, reason string, records []relationships.RequestRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := a.now()
	doc := archiveDocument{
		Reason:     reason,
		Kind:       records[0].Kind,
		ArchivedAt: now,
		Records:    records,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	key := a.key(doc.Kind, reason, now)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 archive upload %s: %w", key, err)
	}
	return nil
}

func (a *S3Archive) key(kind relationships.Kind, reason string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.json", reason, a.newID())
	return path.Join(a.prefix, string(kind), at.Format("2006/01/02"), name)
}

var _ relationships.Archiver = (*S3Archive)(nil)
