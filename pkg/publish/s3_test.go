package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakeS3 struct {
	putErr  error
	headErr error

	bucket string
	key    string
	length int64
	body   []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.bucket = *in.Bucket
	f.key = *in.Key
	f.length = *in.ContentLength
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  S3Config
		wantErr string
	}{
		{name: "empty bucket", config: S3Config{}, wantErr: "bucket name is required"},
		{name: "minimal", config: S3Config{Bucket: "media"}},
		{name: "explicit creds", config: S3Config{Bucket: "media", AccessKeyID: "AK", SecretAccessKey: "SK"}},
		{name: "only access key", config: S3Config{Bucket: "media", AccessKeyID: "AK"}, wantErr: "provided together"},
		{name: "only secret", config: S3Config{Bucket: "media", SecretAccessKey: "SK"}, wantErr: "provided together"},
		{name: "traversal prefix", config: S3Config{Bucket: "media", Prefix: "a/../b"}, wantErr: "must not contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
}

func TestS3Publisher_Key(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "Clip (1).mp4"},
		{"downloads", "downloads/Clip (1).mp4"},
		{"/downloads/2026/", "downloads/2026/Clip (1).mp4"},
	}
	for _, tt := range tests {
		p := newS3Publisher(&fakeS3{}, S3Config{Bucket: "media", Prefix: tt.prefix}, nil)
		assert.Equal(t, tt.want, p.Key("/srv/dl/Clip (1).mp4"))
	}
}

func TestS3Publisher_Publish(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "Clip.mp4")
	require.NoError(t, os.WriteFile(local, []byte("media-bytes"), 0o644))

	client := &fakeS3{}
	p := newS3Publisher(client, S3Config{Bucket: "media", Prefix: "yt"}, nil)

	uri, err := p.Publish(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, "s3://media/yt/Clip.mp4", uri)
	assert.Equal(t, "media", client.bucket)
	assert.Equal(t, "yt/Clip.mp4", client.key)
	assert.Equal(t, int64(len("media-bytes")), client.length)
	assert.Equal(t, []byte("media-bytes"), client.body)
}

func TestS3Publisher_PublishMissingFile(t *testing.T) {
	p := newS3Publisher(&fakeS3{}, S3Config{Bucket: "media"}, nil)
	_, err := p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestS3Publisher_PublishDirectory(t *testing.T) {
	p := newS3Publisher(&fakeS3{}, S3Config{Bucket: "media"}, nil)
	_, err := p.Publish(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed no such bucket", &types.NoSuchBucket{}, ErrBucketNotFound},
		{"api no such bucket", &mockAPIError{code: "NoSuchBucket"}, ErrBucketNotFound},
		{"head bucket not found", &mockAPIError{code: "NotFound"}, ErrBucketNotFound},
		{"access denied", &mockAPIError{code: "AccessDenied"}, ErrAccessDenied},
		{"forbidden", &mockAPIError{code: "Forbidden"}, ErrAccessDenied},
		{"bad key", &mockAPIError{code: "InvalidAccessKeyId"}, ErrInvalidCredentials},
		{"bad signature", &mockAPIError{code: "SignatureDoesNotMatch"}, ErrInvalidCredentials},
		{"slow down", &mockAPIError{code: "SlowDown"}, ErrThrottled},
		{"unavailable", &mockAPIError{code: "ServiceUnavailable"}, ErrProviderUnavailable},
		{"message 403", errors.New("http response 403"), ErrAccessDenied},
		{"message 503", errors.New("status 503"), ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("PutObject", "media", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)
			var pe *PublishError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "PutObject", pe.Op)
		})
	}

	unknown := wrapError("PutObject", "media", "k", errors.New("boom"))
	assert.Contains(t, unknown.Error(), "boom")
	assert.False(t, IsRetryable(unknown))
}

func TestS3Publisher_PublishClassifiesErrors(t *testing.T) {
	local := filepath.Join(t.TempDir(), "Clip.mp4")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	p := newS3Publisher(&fakeS3{putErr: &mockAPIError{code: "AccessDenied", message: "nope"}}, S3Config{Bucket: "media"}, nil)
	_, err := p.Publish(context.Background(), local)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
	assert.Contains(t, err.Error(), "media/Clip.mp4")
}

func TestS3Publisher_Check(t *testing.T) {
	ok := newS3Publisher(&fakeS3{}, S3Config{Bucket: "media"}, nil)
	assert.NoError(t, ok.Check(context.Background()))

	missing := newS3Publisher(&fakeS3{headErr: &mockAPIError{code: "NoSuchBucket"}}, S3Config{Bucket: "media"}, nil)
	err := missing.Check(context.Background())
	assert.True(t, IsBucketNotFound(err))
}
