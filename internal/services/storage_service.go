// internal/services/storage_service.go
package services

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// MaxKeyFileSize bounds a bulk key file read from the bucket.
const MaxKeyFileSize = 5 * 1024 * 1024 // 5MB

// StorageService reads key import files from S3.
type StorageService struct {
	s3Client s3iface.S3API
	config   *config.Config
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// Without credentials S3 import is disabled
		return &StorageService{config: config}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

// NewStorageServiceWithClient is used by tests to inject an S3 double.
func NewStorageServiceWithClient(client s3iface.S3API, config *config.Config) *StorageService {
	return &StorageService{s3Client: client, config: config}
}

// DefaultBucket is the bucket used when an import request names none.
func (s *StorageService) DefaultBucket() string {
	return s.config.AWS.KeysBucket
}

func (s *StorageService) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if s.s3Client == nil {
		return nil, utils.Validation("S3 import is not configured")
	}
	if bucket == "" {
		bucket = s.config.AWS.KeysBucket
	}
	if bucket == "" || key == "" {
		return nil, utils.Validation("Bucket and key are required")
	}

	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket:
				return nil, utils.NotFound("Object %s not found", key)
			}
		}
		return nil, utils.Upstream(err, "failed to read object from S3")
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > MaxKeyFileSize {
		return nil, utils.Validation("Key file exceeds %d bytes", MaxKeyFileSize)
	}

	body, err := io.ReadAll(io.LimitReader(out.Body, MaxKeyFileSize+1))
	if err != nil {
		return nil, utils.Upstream(err, "failed to read object from S3")
	}
	if len(body) > MaxKeyFileSize {
		return nil, utils.Validation("Key file exceeds %d bytes", MaxKeyFileSize)
	}
	return body, nil
}
