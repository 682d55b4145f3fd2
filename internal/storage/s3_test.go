package storage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockObjectAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func (m *mockObjectAPI) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.DeleteObjectsOutput)
	return out, args.Error(1)
}

func (m *mockObjectAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*manager.UploadOutput)
	return out, args.Error(1)
}

var testS3Config = storage.S3Config{AccessKeyID: "id", SecretAccessKey: "secret", Bucket: "media", Region: "eu-west-2"}

func Test_S3_MissingCredentialsIsUnusable(t *testing.T) {
	tests := []storage.S3Config{
		{SecretAccessKey: "s", Bucket: "b"},
		{AccessKeyID: "a", Bucket: "b"},
		{AccessKeyID: "a", SecretAccessKey: "s"},
	}

	for i, config := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			backend := storage.NewS3(context.Background(), config)
			assert.ErrorIs(t, backend.Usable(), storage.ErrBackendUnusable)

			_, err := backend.Exists(context.Background(), "k")
			assert.ErrorIs(t, err, storage.ErrBackendUnusable)
			_, err = backend.Put(context.Background(), "k", strings.NewReader(""))
			assert.ErrorIs(t, err, storage.ErrBackendUnusable)
		})
	}
}

func Test_S3_Exists(t *testing.T) {
	api := &mockObjectAPI{}
	backend := storage.NewS3WithClient(testS3Config, api, &mockUploader{})

	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool { return *in.Key == "youtube/a/present.mp3" })).
		Return(&s3.HeadObjectOutput{}, nil)
	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool { return *in.Key == "youtube/a/missing.mp3" })).
		Return(nil, &types.NotFound{})
	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool { return *in.Key == "youtube/a/denied.mp3" })).
		Return(nil, errors.New("403 forbidden"))

	exists, err := backend.Exists(context.Background(), "youtube/a/present.mp3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backend.Exists(context.Background(), "youtube/a/missing.mp3")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = backend.Exists(context.Background(), "youtube/a/denied.mp3")
	assert.Error(t, err, "errors other than not-found must not be read as absence")
}

func Test_S3_PutStreamsWithPublicACL(t *testing.T) {
	uploader := &mockUploader{}
	backend := storage.NewS3WithClient(testS3Config, &mockObjectAPI{}, uploader)

	var uploaded string
	uploader.On("Upload", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		input := args.Get(1).(*s3.PutObjectInput)
		body, _ := io.ReadAll(input.Body)
		uploaded = string(body)
	}).Return(&manager.UploadOutput{}, nil).Once()

	url, err := backend.Put(context.Background(), "soundcloud/alice/mix/1.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://media.s3.eu-west-2.amazonaws.com/soundcloud/alice/mix/1.mp3", url)
	assert.Equal(t, "audio-bytes", uploaded)

	input := uploader.Calls[0].Arguments.Get(1).(*s3.PutObjectInput)
	assert.Equal(t, types.ObjectCannedACLPublicRead, input.ACL)
	assert.Equal(t, "media", aws.ToString(input.Bucket))
	assert.Equal(t, "audio/mpeg", aws.ToString(input.ContentType))
}

func Test_S3_PutFailure(t *testing.T) {
	uploader := &mockUploader{}
	backend := storage.NewS3WithClient(testS3Config, &mockObjectAPI{}, uploader)
	uploader.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("read error: tool exited")).Once()

	_, err := backend.Put(context.Background(), "k.mp3", strings.NewReader(""))
	assert.ErrorContains(t, err, "tool exited")
}

func Test_S3_DeletePrefix(t *testing.T) {
	api := &mockObjectAPI{}
	backend := storage.NewS3WithClient(testS3Config, api, &mockUploader{})

	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "spotify/bob/trip/"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("spotify/bob/trip/1.mp3")}, {Key: aws.String("spotify/bob/trip/2.mp3")}},
	}, nil).Once()
	api.On("DeleteObjects", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectsInput) bool {
		return len(in.Delete.Objects) == 2
	})).Return(&s3.DeleteObjectsOutput{}, nil).Once()

	require.NoError(t, backend.DeletePrefix(context.Background(), "spotify/bob/trip"))
	api.AssertExpectations(t)

	assert.Error(t, backend.DeletePrefix(context.Background(), ""))
}

func Test_S3_CustomEndpointLocation(t *testing.T) {
	config := testS3Config
	config.Endpoint = "http://localhost:9000/"
	backend := storage.NewS3WithClient(config, &mockObjectAPI{}, &mockUploader{})
	assert.Equal(t, "http://localhost:9000/media/a/b.mp3", backend.Location("a/b.mp3"))
}
