package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wemirror/internal/config"
	"wemirror/internal/mirror"
)

// S3Store implements mirror.Store on an S3 bucket: one JSON object per
// record, keyed by "{prefix}/{path}". S3's put/delete semantics already
// match the store contract: puts overwrite and deleting an absent key is
// a no-op.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed mirror store from configuration.
// When an access key id is configured, static credentials are used;
// otherwise the SDK's default credential chain applies.
func NewS3Store(ctx context.Context, cfg config.StoreConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

// key maps a record path to its object key under the configured prefix.
func (s *S3Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Put stores fields at path, replacing any existing object.
func (s *S3Store) Put(ctx context.Context, path string, fields map[string]any) error {
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding record at %s: %w", path, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(path)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return mirror.Transient(fmt.Errorf("writing record at %s: %w", path, err))
	}
	return nil
}

// Delete removes the object at path. S3 deletes of absent keys succeed,
// which is exactly the no-op the contract requires.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return mirror.Transient(fmt.Errorf("deleting record at %s: %w", path, err))
	}
	return nil
}

// Get returns the record at path, and whether it exists.
func (s *S3Store) Get(ctx context.Context, path string) (map[string]any, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, mirror.Transient(fmt.Errorf("reading record at %s: %w", path, err))
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, mirror.Transient(fmt.Errorf("reading record body at %s: %w", path, err))
	}

	fields, err := decodeFields(string(blob))
	if err != nil {
		return nil, false, fmt.Errorf("decoding record at %s: %w", path, err)
	}
	return fields, true, nil
}

// List returns all records whose path starts with prefix, keyed by path.
// Listing fetches each object individually; owners hold at most a few
// hundred pages, so a fan-out of small GETs is acceptable here.
func (s *S3Store) List(ctx context.Context, prefix string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mirror.Transient(fmt.Errorf("listing records under %s: %w", prefix, err))
		}
		for _, obj := range page.Contents {
			path := aws.ToString(obj.Key)
			if s.prefix != "" {
				path = strings.TrimPrefix(path, s.prefix+"/")
			}
			fields, ok, err := s.Get(ctx, path)
			if err != nil {
				return nil, err
			}
			if ok {
				out[path] = fields
			}
		}
	}

	return out, nil
}

// ValidateSetup verifies that the bucket is accessible.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return mirror.Transient(fmt.Errorf("checking bucket %s: %w", s.bucket, err))
	}
	return nil
}

// Close is a no-op; the S3 client holds no connections to release.
func (s *S3Store) Close() error {
	return nil
}

// Compile-time check that S3Store implements the mirror.Store interface
var _ mirror.Store = (*S3Store)(nil)
