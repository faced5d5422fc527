// Package s3 provides a Backend over an S3 or MinIO bucket. Object keys are
// the object ids.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/model"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// API is the subset of the S3 client used by the backend.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend implements backend.Backend using S3/MinIO.
type S3Backend struct {
	client API
	bucket string
	prefix string
}

// New creates an S3 backend from cfg. With an Endpoint set the client uses
// path-style addressing, as MinIO expects.
func New(ctx context.Context, cfg Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. prefix is prepended to every path.
func NewWithClient(client API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// objectKey maps a backend path to an object key under the prefix.
func (b *S3Backend) objectKey(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	return model.JoinPath(b.prefix, p)
}

// dirPrefix is the listing prefix for a directory path, with trailing slash.
func (b *S3Backend) dirPrefix(p string) string {
	k := b.objectKey(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// relPath strips the configured prefix from an object key.
func (b *S3Backend) relPath(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
}

func classify(op, target string, err error) error {
	se := &backend.StatusError{Op: op, Target: target, Err: err}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		se.Code = re.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			se.Status = backend.StatusNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			se.Status = backend.StatusForbidden
		}
	}
	if se.Status == backend.StatusOther {
		switch se.Code {
		case http.StatusNotFound:
			se.Status = backend.StatusNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			se.Status = backend.StatusForbidden
		}
	}
	return se
}

// FindByPath implements backend.Backend.
func (b *S3Backend) FindByPath(ctx context.Context, p string) (string, error) {
	key := b.objectKey(p)
	if key == "" {
		return "", backend.NotFound("find", p)
	}
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classify("find", p, err)
	}
	return key, nil
}

// ListDirectory implements backend.Backend. Immediate listings use the "/"
// delimiter; descendant listings walk the whole prefix and reorder files by
// depth so immediate files come first.
func (b *S3Backend) ListDirectory(ctx context.Context, p string, includeDescendants bool) (*model.Listing, error) {
	prefix := b.dirPrefix(p)
	listing := &model.Listing{}
	folders := make(map[string]bool)
	byDepth := make(map[int][]model.FileEntry)
	maxDepth := 0

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if !includeDescendants {
		input.Delimiter = aws.String("/")
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" || folders[name] {
				continue
			}
			folders[name] = true
			listing.Folders = append(listing.Folders, model.FolderEntry{
				Name: name,
				Path: b.relPath(strings.TrimSuffix(aws.ToString(cp.Prefix), "/")),
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rest := strings.TrimPrefix(key, prefix)
			if rest == "" || strings.HasSuffix(rest, "/") {
				continue
			}
			depth := strings.Count(rest, "/")
			if depth > 0 {
				// Without a delimiter folders only show up inside keys.
				name := rest[:strings.Index(rest, "/")]
				if !folders[name] {
					folders[name] = true
					listing.Folders = append(listing.Folders, model.FolderEntry{
						Name: name,
						Path: b.relPath(prefix + name),
					})
				}
			}
			if depth > maxDepth {
				maxDepth = depth
			}
			byDepth[depth] = append(byDepth[depth], model.FileEntry{
				ID:   key,
				Name: model.BaseName(rest),
				Path: b.relPath(key),
			})
		}
	}

	for d := 0; d <= maxDepth; d++ {
		listing.Files = append(listing.Files, byDepth[d]...)
	}
	return listing, nil
}

// FetchByID implements backend.Backend.
func (b *S3Backend) FetchByID(ctx context.Context, id string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, "", classify("fetch", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", id, err)
	}
	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}
