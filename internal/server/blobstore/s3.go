package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// deleteBatchSize is the S3 limit for one DeleteObjects call.
const deleteBatchSize = 1000

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Config holds connection settings for an S3 compatible backend.
type S3Config struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store keeps archived content in a single bucket under "org/mp/version/element" keys.
type S3Store struct {
	api    s3API
	bucket string
	logger logging.Logger
}

// NewS3Client builds an S3 client with static credentials and a custom
// endpoint, suitable for MinIO and AWS alike.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.User,
			c.Password,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	})
	return client, nil
}

// NewS3Store wraps an S3 client.
func NewS3Store(api s3API, bucket string, logger logging.Logger) *S3Store {
	return &S3Store{api: api, bucket: bucket, logger: logger}
}

func (s *S3Store) Put(ctx context.Context, path models.StoragePath, r io.Reader, size int64, mimeType string) error {
	if err := validPath(path); err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Key()),
		Body:        r,
		IfNoneMatch: aws.String("*"),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if mimeType != "" {
		in.ContentType = aws.String(mimeType)
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("put %s: %w", path, ErrAlreadyExists)
		}
		return fmt.Errorf("put %s: %w", path, err)
	}
	s.logger.Debug(ctx, "blob stored", "key", path.Key(), "size", size)
	return nil
}

func (s *S3Store) Copy(ctx context.Context, from, to models.StoragePath) error {
	if err := validPath(to); err != nil {
		return err
	}
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to.Key()),
		CopySource: aws.String(copySource(s.bucket, from.Key())),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("copy %s: %w", from, ErrNotFound)
		}
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	s.logger.Debug(ctx, "blob copied", "from", from.Key(), "to", to.Key())
	return nil
}

func (s *S3Store) Get(ctx context.Context, path models.StoragePath) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Key()),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return out.Body, nil
}

// DeleteAll removes every version of the package.
func (s *S3Store) DeleteAll(ctx context.Context, organizationID, mediaPackageID string) error {
	if err := validPackage(organizationID, mediaPackageID); err != nil {
		return err
	}
	prefix := models.PackagePrefix(organizationID, mediaPackageID)

	var keys []types.ObjectIdentifier
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", prefix, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}

	s.logger.Debug(ctx, "blobs deleted", "prefix", prefix, "count", len(keys))
	return nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

type apiErrorCode interface {
	ErrorCode() string
}

func isPreconditionFailed(err error) bool {
	var ae apiErrorCode
	return errors.As(err, &ae) && ae.ErrorCode() == "PreconditionFailed"
}
