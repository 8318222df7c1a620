package proof

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

// jpegHeader is enough for content sniffing.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func TestUploadStoresUnderTripPrefix(t *testing.T) {
	client := &fakeS3{}
	u := NewUploader(client, "proofs", "delivery-proof")

	upload, err := u.Upload(context.Background(), "d1", jpegHeader, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(upload.Key, "delivery-proof/d1/"))
	assert.True(t, strings.HasSuffix(upload.Key, ".jpg"))
	assert.Equal(t, "image/jpeg", upload.ContentType)
	assert.Equal(t, len(jpegHeader), upload.Size)

	assert.Equal(t, "proofs", aws.ToString(client.input.Bucket))
	assert.Equal(t, upload.Key, aws.ToString(client.input.Key))
	assert.Equal(t, "d1", client.input.Metadata["trip-id"])
	assert.Equal(t, jpegHeader, client.body)
}

func TestUploadValidation(t *testing.T) {
	u := NewUploader(&fakeS3{}, "proofs", "p")
	ctx := context.Background()

	_, err := u.Upload(ctx, "", jpegHeader, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = u.Upload(ctx, "d1", nil, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = u.Upload(ctx, "d1", []byte("plain text"), "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = u.Upload(ctx, "d1", make([]byte, MaxPhotoBytes+1), "image/jpeg")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUploadFailureIsNetworkError(t *testing.T) {
	u := NewUploader(&fakeS3{err: errors.New("connection reset")}, "proofs", "p")

	_, err := u.Upload(context.Background(), "d1", jpegHeader, "image/jpeg")
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), config.ProofConfig{Region: "us-east-1"})
	assert.Error(t, err)
}
