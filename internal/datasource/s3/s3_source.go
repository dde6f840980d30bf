// Package s3 reads sales extracts from S3 (or any S3-compatible store such as
// MinIO) as datasources.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"salesetl/internal/config"
	"salesetl/internal/datasource"
)

// ErrObjectNotFound is returned when the bucket has no such key.
var ErrObjectNotFound = errors.New("s3: object not found")

// GetObjectAPI is the subset of *s3.Client used by Object.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object is one S3 object opened as a datasource.
type Object struct {
	client GetObjectAPI
	bucket string
	key    string
}

var _ datasource.Source = (*Object)(nil)

// IsURI reports whether loc uses the s3:// scheme.
func IsURI(loc string) bool { return strings.HasPrefix(loc, "s3://") }

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("s3: %q is not an s3:// uri", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3: %q must be s3://bucket/key", uri)
	}
	return bucket, key, nil
}

// NewClient builds an S3 client from the default AWS chain, overridden by the
// source.s3 config block.
func NewClient(ctx context.Context, cfg config.SourceS3) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewObject returns a source for uri read through client.
func NewObject(client GetObjectAPI, uri string) (*Object, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &Object{client: client, bucket: bucket, key: key}, nil
}

// Open starts a GetObject request and returns its body.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, o.bucket, o.key)
		}
		return nil, fmt.Errorf("s3: get s3://%s/%s: %w", o.bucket, o.key, err)
	}
	return resp.Body, nil
}

// Name returns the last path element of the key.
func (o *Object) Name() string { return path.Base(o.key) }
