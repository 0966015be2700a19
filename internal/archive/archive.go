// Package archive stores tombstones removed by the retention sweep in an
// S3-compatible bucket, one JSON-lines object per sweep batch.
package archive

//go:generate mockgen -source=archive.go -destination=mocks/mocks.go -package=mocks ObjectPutter

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/google/uuid"
)

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the bucket endpoint. An empty BaseEndpoint means AWS.
type S3Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
	Prefix       string
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewS3Client builds a client for cfg. MinIO and other S3-compatible
// servers need BaseEndpoint and path-style addressing.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Archiver writes each batch as <prefix>/<kind>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewS3Archiver(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (a *S3Archiver) objectKey(kind string) string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, kind, day, a.newID()+".jsonl")
}

// Archive uploads recs as canonical JSON lines. An empty batch is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, kind string, recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, r := range recs {
		line, err := codec.MarshalRecord(r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Key(), err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	key := a.objectKey(kind)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body.Bytes()),
		ContentLength: aws.Int64(int64(body.Len())),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
