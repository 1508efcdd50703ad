package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

var (
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// PresignRewriter turns storage paths into time limited S3 GET URLs.
type PresignRewriter struct {
	presign *s3.PresignClient
	bucket  string
	expires time.Duration
}

// NewPresignRewriter builds a rewriter over the given client.
func NewPresignRewriter(client *s3.Client, bucket string, expires time.Duration) *PresignRewriter {
	return &PresignRewriter{presign: newS3PresignClient(client), bucket: bucket, expires: expires}
}

// Rewrite returns a presigned URL for the stored element.
func (p *PresignRewriter) Rewrite(path models.StoragePath, _ models.Element) (string, error) {
	req, err := presignGetObject(p.presign, context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path.Key()),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return req.URL, nil
}
