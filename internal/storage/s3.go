package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hbomb79/Tempo/pkg/logger"
)

// Maximum number of keys accepted by a single DeleteObjects request.
const maxDeleteBatch = 1000

var audioContentTypes = map[string]string{
	".mp3":    "audio/mpeg",
	".m4a":    "audio/mp4",
	".aac":    "audio/aac",
	".opus":   "audio/ogg",
	".ogg":    "audio/ogg",
	".vorbis": "audio/ogg",
	".flac":   "audio/flac",
	".wav":    "audio/wav",
}

type (
	S3Config struct {
		AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
		SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
		Bucket          string `yaml:"bucket" env:"AWS_STORAGE_BUCKET_NAME"`
		Region          string `yaml:"region" env:"AWS_S3_REGION_NAME" env-default:"us-east-1"`
		// Endpoint overrides the S3 endpoint for compatible stores. Path
		// style addressing is used when set.
		Endpoint string `yaml:"endpoint" env:"AWS_S3_ENDPOINT"`
	}

	// ObjectAPI is the subset of the S3 client used by the backend.
	ObjectAPI interface {
		HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
		DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
		DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
		ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	}

	// Uploader streams an object of unknown length to S3.
	Uploader interface {
		Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
	}

	// ObjectStore stores artifacts in an S3 bucket with a public-read ACL.
	ObjectStore struct {
		config     S3Config
		api        ObjectAPI
		uploader   Uploader
		unusableBy error
	}
)

// NewS3 constructs the object storage backend. Missing credentials or bucket
// do not fail construction, but the returned backend is unusable.
func NewS3(ctx context.Context, config S3Config) *ObjectStore {
	missing := make([]string, 0)
	if config.AccessKeyID == "" {
		missing = append(missing, "AWS_ACCESS_KEY_ID")
	}
	if config.SecretAccessKey == "" {
		missing = append(missing, "AWS_SECRET_ACCESS_KEY")
	}
	if config.Bucket == "" {
		missing = append(missing, "AWS_STORAGE_BUCKET_NAME")
	}
	if len(missing) > 0 {
		log.Emit(logger.WARNING, "Object storage is unusable, missing configuration: %s\n", strings.Join(missing, ", "))
		return &ObjectStore{config: config, unusableBy: fmt.Errorf("%w: s3: missing %s", ErrBackendUnusable, strings.Join(missing, ", "))}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")),
	)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to load AWS configuration: %v\n", err)
		return &ObjectStore{config: config, unusableBy: fmt.Errorf("%w: s3: %v", ErrBackendUnusable, err)}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WithClient(config, client, manager.NewUploader(client))
}

func NewS3WithClient(config S3Config, api ObjectAPI, uploader Uploader) *ObjectStore {
	return &ObjectStore{config: config, api: api, uploader: uploader}
}

func (s *ObjectStore) Destination() Destination { return S3 }

func (s *ObjectStore) Usable() error { return s.unusableBy }

// Location returns the public URL of the object.
func (s *ObjectStore) Location(key Key) string {
	if s.config.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.config.Endpoint, "/"), s.config.Bucket, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, s.config.Region, key)
}

func (s *ObjectStore) Exists(ctx context.Context, key Key) (bool, error) {
	if s.unusableBy != nil {
		return false, s.unusableBy
	}

	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.config.Bucket), Key: aws.String(string(key))})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}

	return false, fmt.Errorf("failed to probe %s: %w", key, err)
}

// Put streams the reader to the bucket as a multipart upload. An error from
// the reader aborts the upload, leaving no object behind.
func (s *ObjectStore) Put(ctx context.Context, key Key, r io.Reader) (string, error) {
	if s.unusableBy != nil {
		return "", s.unusableBy
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(string(key)),
		Body:   r,
		ACL:    types.ObjectCannedACLPublicRead,
	}
	if contentType := contentTypeOf(key); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Emit(logger.DEBUG, "Uploaded %s to bucket %s\n", key, s.config.Bucket)
	return s.Location(key), nil
}

func (s *ObjectStore) Delete(ctx context.Context, key Key) error {
	if s.unusableBy != nil {
		return s.unusableBy
	}

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.config.Bucket), Key: aws.String(string(key))})
	return err
}

func (s *ObjectStore) DeletePrefix(ctx context.Context, prefix Key) error {
	if s.unusableBy != nil {
		return s.unusableBy
	}

	p := strings.TrimSuffix(string(prefix), "/") + "/"
	if p == "/" {
		return errors.New("refusing to delete every object in the bucket")
	}

	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{Bucket: aws.String(s.config.Bucket), Prefix: aws.String(p)})
	batch := make([]types.ObjectIdentifier, 0, maxDeleteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = make([]types.ObjectIdentifier, 0, maxDeleteBatch)
		return err
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects under %s: %w", p, err)
		}

		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == maxDeleteBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	return flush()
}

func contentTypeOf(key Key) string {
	ext := strings.ToLower(path.Ext(string(key)))
	if t, ok := audioContentTypes[ext]; ok {
		return t
	}

	return mime.TypeByExtension(ext)
}
