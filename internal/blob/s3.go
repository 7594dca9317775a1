package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dms-go/internal/dms"
)

// S3Options holds connection settings for the S3 blob store.
type S3Options struct {
	Bucket   string
	Prefix   string // Optional key prefix (e.g. "content/")
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)

	// Optional static credentials. When empty, the default AWS credential
	// chain is used (environment, shared config, instance profile).
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is an S3-backed implementation of the BlobStore interface.
// Objects are keyed by content checksum under an optional prefix, so writes
// are naturally idempotent: an object that already exists is never
// re-uploaded.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates a new S3-backed blob store.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

// Put stores content identified by its checksum.
// The operation is idempotent: an existing object is left untouched and the
// reader is drained so callers see consistent behavior on both paths.
func (v *S3Store) Put(ctx context.Context, checksum string, r io.Reader, size int64) error {
	key := v.key(checksum)

	exists, err := v.headObject(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed for %s: %w", checksum, err)
	}
	return nil
}

// Get retrieves content by checksum and writes it to w.
func (v *S3Store) Get(ctx context.Context, checksum string, w io.Writer) error {
	result, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(checksum)),
	})
	if err != nil {
		return fmt.Errorf("content not found: %s: %w", checksum, err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(w, result.Body); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	return nil
}

// Exists reports whether content with the given checksum is stored.
func (v *S3Store) Exists(ctx context.Context, checksum string) (bool, error) {
	return v.headObject(ctx, v.key(checksum))
}

// ValidateSetup verifies the bucket is reachable.
func (v *S3Store) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Store) key(checksum string) string {
	return v.prefix + checksum
}

// headObject reports whether an object exists. HeadObject errors for missing
// objects and permission failures alike; both are treated as "not stored",
// matching the write-once, never-overwrite usage of the store.
func (v *S3Store) headObject(ctx context.Context, key string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Compile-time check that S3Store implements dms.BlobStore
var _ dms.BlobStore = (*S3Store)(nil)
