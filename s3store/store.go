// Package s3store provides an object store backend for Amazon S3 and
// S3-compatible services (MinIO, Ceph RGW). Multipart sessions map
// directly onto S3 multipart uploads, and presigned URLs are issued by
// the service itself.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/partflow/partflow"
)

// S3Client defines the S3 operations used by Store.
type S3Client interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner defines the presigning operations used by Store.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config contains configuration for the S3 backend.
type Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // Optional: for S3-compatible services
	ForcePathStyle bool   // For S3-compatible services like MinIO
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	client    S3Client
	presigner Presigner
}

// WithClient sets a custom pre-configured S3 client.
// Useful for testing with mocks.
func WithClient(client S3Client) Option {
	return func(o *storeOptions) {
		o.client = client
	}
}

// WithPresigner sets a custom presigner. Useful for testing with mocks.
func WithPresigner(presigner Presigner) Option {
	return func(o *storeOptions) {
		o.presigner = presigner
	}
}

// Store implements partflow.ObjectStore on S3. It is safe for
// concurrent use.
type Store struct {
	client    S3Client
	presigner Presigner
	bucket    string
}

// New creates an S3-backed object store.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("bucket and region are required")
	}

	options := &storeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.client
	presigner := options.presigner

	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
		client = s3Client
		if presigner == nil {
			presigner = s3.NewPresignClient(s3Client)
		}
	}

	return &Store{
		client:    client,
		presigner: presigner,
		bucket:    cfg.Bucket,
	}, nil
}

// CreateMultipart opens an S3 multipart upload and returns its id.
func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classifyError(err, "create multipart upload")
	}

	return aws.ToString(out.UploadId), nil
}

// PutPart uploads one part and returns the etag S3 assigned to it.
// S3 keeps only the last upload for a given part number, so re-uploads
// of the same index are naturally last-writer-wins.
func (s *Store) PutPart(ctx context.Context, key, uploadID string, index int, content io.Reader, size int64) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(index)), //nolint:gosec // part numbers are bounded well below MaxInt32
		Body:          content,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", classifyError(err, "upload part")
	}

	return trimETag(aws.ToString(out.ETag)), nil
}

// CompleteMultipart assembles the uploaded parts into a single object
// and returns its etag.
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []partflow.PartToken) (string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.Index)), //nolint:gosec // part numbers are bounded well below MaxInt32
			ETag:       aws.String(p.Token),
		})
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", classifyError(err, "complete multipart upload")
	}

	return trimETag(aws.ToString(out.ETag)), nil
}

// AbortMultipart releases the multipart upload. Aborting an unknown
// session is a no-op: S3 reports NoSuchUpload, which only means a
// previous abort or complete already won.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		err = classifyError(err, "abort multipart upload")
		if errors.Is(err, partflow.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Head probes for an object without reading it.
func (s *Store) Head(ctx context.Context, key string) (partflow.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return partflow.ObjectInfo{}, classifyError(err, "head object")
	}

	return partflow.ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: trimETag(aws.ToString(out.ETag)),
	}, nil
}

// PresignGet returns a time-limited URL granting GET on the key.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("presign: store has no presigner configured")
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classifyError(err, "presign get")
	}

	return req.URL, nil
}

// PresignPut returns a time-limited URL granting PUT on the key.
func (s *Store) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("presign: store has no presigner configured")
	}

	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classifyError(err, "presign put")
	}

	return req.URL, nil
}

// classifyError converts S3 errors to the package sentinels.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", operation, err)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%s: %w", operation, partflow.ErrNotFound)
	}

	var nsu *types.NoSuchUpload
	if errors.As(err, &nsu) {
		return fmt.Errorf("%s: %w", operation, partflow.ErrNotFound)
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%s: %w", operation, partflow.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchUpload", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%s: %w", operation, partflow.ErrNotFound)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return fmt.Errorf("%s (code: %s): %w", operation, apiErr.ErrorCode(), partflow.ErrStoreUnavailable)
		default:
			return fmt.Errorf("%s failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// trimETag strips the quotes S3 wraps around etag values.
func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}
