package s3store_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/s3store"
)

type SpyS3Client struct {
	mock.Mock
}

func (s *SpyS3Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.CreateMultipartUploadOutput), args.Error(1)
}

func (s *SpyS3Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.UploadPartOutput), args.Error(1)
}

func (s *SpyS3Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.CompleteMultipartUploadOutput), args.Error(1)
}

func (s *SpyS3Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.AbortMultipartUploadOutput), args.Error(1)
}

func (s *SpyS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

type SpyPresigner struct {
	mock.Mock
}

func (s *SpyPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*v4.PresignedHTTPRequest), args.Error(1)
}

func (s *SpyPresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	args := s.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*v4.PresignedHTTPRequest), args.Error(1)
}

// apiError is a minimal smithy.APIError for driving classification.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func newTestStore(t *testing.T) (*s3store.Store, *SpyS3Client, *SpyPresigner) {
	t.Helper()
	client := new(SpyS3Client)
	presigner := new(SpyPresigner)

	store, err := s3store.New(context.Background(), s3store.Config{
		Bucket: "test-bucket",
		Region: "us-east-1",
	}, s3store.WithClient(client), s3store.WithPresigner(presigner))
	require.NoError(t, err)

	return store, client, presigner
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := s3store.New(context.Background(), s3store.Config{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = s3store.New(context.Background(), s3store.Config{Bucket: "b"})
	assert.Error(t, err)
}

func TestStore_CreateMultipart(t *testing.T) {
	store, client, _ := newTestStore(t)
	ctx := context.Background()

	client.On("CreateMultipartUpload", ctx, mock.MatchedBy(func(in *s3.CreateMultipartUploadInput) bool {
		return aws.ToString(in.Bucket) == "test-bucket" &&
			aws.ToString(in.Key) == "a.bin" &&
			aws.ToString(in.ContentType) == "application/octet-stream"
	})).Return(&s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil)

	uploadID, err := store.CreateMultipart(ctx, "a.bin", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", uploadID)
}

func TestStore_PutPart(t *testing.T) {
	store, client, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("returns the trimmed etag", func(t *testing.T) {
		client.On("UploadPart", ctx, mock.MatchedBy(func(in *s3.UploadPartInput) bool {
			return aws.ToString(in.UploadId) == "upload-1" &&
				aws.ToInt32(in.PartNumber) == 2 &&
				aws.ToInt64(in.ContentLength) == 4
		})).Return(&s3.UploadPartOutput{ETag: aws.String(`"etag-2"`)}, nil).Once()

		token, err := store.PutPart(ctx, "a.bin", "upload-1", 2, bytes.NewReader([]byte("data")), 4)
		require.NoError(t, err)
		assert.Equal(t, "etag-2", token)
	})

	t.Run("throttling maps to store unavailable", func(t *testing.T) {
		client.On("UploadPart", ctx, mock.Anything).
			Return(nil, &apiError{code: "SlowDown"}).Once()

		_, err := store.PutPart(ctx, "a.bin", "upload-1", 1, bytes.NewReader([]byte("data")), 4)
		assert.ErrorIs(t, err, partflow.ErrStoreUnavailable)
	})

	t.Run("gone session maps to not found", func(t *testing.T) {
		client.On("UploadPart", ctx, mock.Anything).
			Return(nil, &types.NoSuchUpload{}).Once()

		_, err := store.PutPart(ctx, "a.bin", "upload-1", 1, bytes.NewReader([]byte("data")), 4)
		assert.ErrorIs(t, err, partflow.ErrNotFound)
	})
}

func TestStore_CompleteMultipart(t *testing.T) {
	store, client, _ := newTestStore(t)
	ctx := context.Background()

	client.On("CompleteMultipartUpload", ctx, mock.MatchedBy(func(in *s3.CompleteMultipartUploadInput) bool {
		parts := in.MultipartUpload.Parts
		return aws.ToString(in.UploadId) == "upload-1" &&
			len(parts) == 2 &&
			aws.ToInt32(parts[0].PartNumber) == 1 && aws.ToString(parts[0].ETag) == "etag-1" &&
			aws.ToInt32(parts[1].PartNumber) == 2 && aws.ToString(parts[1].ETag) == "etag-2"
	})).Return(&s3.CompleteMultipartUploadOutput{ETag: aws.String(`"final-etag"`)}, nil)

	etag, err := store.CompleteMultipart(ctx, "a.bin", "upload-1", []partflow.PartToken{
		{Index: 1, Token: "etag-1"},
		{Index: 2, Token: "etag-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "final-etag", etag)
}

func TestStore_AbortMultipart(t *testing.T) {
	store, client, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("releases the session", func(t *testing.T) {
		client.On("AbortMultipartUpload", ctx, mock.MatchedBy(func(in *s3.AbortMultipartUploadInput) bool {
			return aws.ToString(in.UploadId) == "upload-1"
		})).Return(&s3.AbortMultipartUploadOutput{}, nil).Once()

		assert.NoError(t, store.AbortMultipart(ctx, "a.bin", "upload-1"))
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		client.On("AbortMultipartUpload", ctx, mock.Anything).
			Return(nil, &apiError{code: "NoSuchUpload"}).Once()

		assert.NoError(t, store.AbortMultipart(ctx, "a.bin", "gone"))
	})
}

func TestStore_Head(t *testing.T) {
	store, client, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("existing object", func(t *testing.T) {
		client.On("HeadObject", ctx, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
			return aws.ToString(in.Key) == "a.bin"
		})).Return(&s3.HeadObjectOutput{
			ContentLength: aws.Int64(15_000_000),
			ETag:          aws.String(`"final-etag"`),
		}, nil).Once()

		info, err := store.Head(ctx, "a.bin")
		require.NoError(t, err)
		assert.Equal(t, partflow.ObjectInfo{Key: "a.bin", Size: 15_000_000, ETag: "final-etag"}, info)
	})

	t.Run("missing object", func(t *testing.T) {
		client.On("HeadObject", ctx, mock.Anything).
			Return(nil, &types.NotFound{}).Once()

		_, err := store.Head(ctx, "missing.bin")
		assert.ErrorIs(t, err, partflow.ErrNotFound)
	})
}

func TestStore_Presign(t *testing.T) {
	store, _, presigner := newTestStore(t)
	ctx := context.Background()

	presigner.On("PresignGetObject", ctx, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "a.bin"
	})).Return(&v4.PresignedHTTPRequest{URL: "https://s3.example/a.bin?sig"}, nil)

	presigner.On("PresignPutObject", ctx, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "b.bin"
	})).Return(&v4.PresignedHTTPRequest{URL: "https://s3.example/b.bin?sig"}, nil)

	get, err := store.PresignGet(ctx, "a.bin", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, get, "a.bin")

	put, err := store.PresignPut(ctx, "b.bin", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, put, "b.bin")
}
