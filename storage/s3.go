package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3BackendOptions configures the cloud backend. With no explicit key pair
// the SDK's default chain applies (env vars, shared config, instance roles).
// ObjectMetadata is attached verbatim to every object written, typically for
// cost attribution.
type S3BackendOptions struct {
	Endpoint        string
	Region          string
	PathStyle       bool
	RawBucket       string
	ProcessedBucket string
	AccessKeyID     string
	AccessKeySecret string
	ObjectMetadata  map[string]string
}

// S3Backend stores blobs in two S3(-compatible) buckets, one per namespace.
type S3Backend struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	buckets  map[Bucket]string
	metadata map[string]*string
}

func NewS3Backend(opts S3BackendOptions) (*S3Backend, error) {
	if opts.RawBucket == "" || opts.ProcessedBucket == "" {
		return nil, fmt.Errorf("raw and processed bucket names are required for the s3 backend")
	}
	cfg := aws.NewConfig().WithS3ForcePathStyle(opts.PathStyle)
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	if opts.AccessKeyID != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, ""))
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}
	return newS3BackendWithSession(sess, opts), nil
}

func newS3BackendWithSession(sess *session.Session, opts S3BackendOptions) *S3Backend {
	backend := &S3Backend{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		buckets: map[Bucket]string{
			BucketRaw:       opts.RawBucket,
			BucketProcessed: opts.ProcessedBucket,
		},
	}
	if len(opts.ObjectMetadata) > 0 {
		backend.metadata = aws.StringMap(opts.ObjectMetadata)
	}
	return backend
}

func (b *S3Backend) bucketName(bucket Bucket) string {
	if name, ok := b.buckets[bucket]; ok {
		return name
	}
	return b.buckets[BucketRaw]
}

func (b *S3Backend) Put(ctx context.Context, bucket Bucket, path string, r io.Reader, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket:   aws.String(b.bucketName(bucket)),
		Key:      aws.String(path),
		Body:     r,
		Metadata: b.metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.uploader.UploadWithContext(ctx, input); err != nil {
		return unavailable("error uploading "+path, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, bucket Bucket, path string) (io.ReadCloser, error) {
	out, err := b.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName(bucket)),
		Key:    aws.String(path),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(path)
		}
		return nil, unavailable("error fetching "+path, err)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, bucket Bucket, path string) error {
	_, err := b.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName(bucket)),
		Key:    aws.String(path),
	})
	if err != nil && !isS3NotFound(err) {
		return unavailable("error deleting "+path, err)
	}
	return nil
}

func (b *S3Backend) DeletePrefix(ctx context.Context, bucket Bucket, prefix string) error {
	bucketName := b.bucketName(bucket)
	var pageErr error
	err := b.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		if len(page.Contents) == 0 {
			return true
		}
		objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		_, pageErr = b.s3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucketName),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		return pageErr == nil
	})
	if err == nil {
		err = pageErr
	}
	if err != nil {
		return unavailable("error deleting prefix "+prefix, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context, bucket Bucket, prefix string, fn func(Object) error) error {
	var fnErr error
	err := b.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName(bucket)),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			o := Object{Path: aws.StringValue(obj.Key), Size: aws.Int64Value(obj.Size)}
			if obj.LastModified != nil {
				o.Modified = *obj.LastModified
			}
			if fnErr = fn(o); fnErr != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return unavailable("error listing "+prefix, err)
	}
	return fnErr
}

func (b *S3Backend) ListDir(ctx context.Context, bucket Bucket, prefix string) ([]Object, []string, error) {
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	var files []Object
	var prefixes []string
	err := b.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName(bucket)),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			o := Object{Path: aws.StringValue(obj.Key), Size: aws.Int64Value(obj.Size)}
			if obj.LastModified != nil {
				o.Modified = *obj.LastModified
			}
			files = append(files, o)
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.StringValue(cp.Prefix))
		}
		return true
	})
	if err != nil {
		return nil, nil, unavailable("error listing "+prefix, err)
	}
	return files, prefixes, nil
}

func (b *S3Backend) Exists(ctx context.Context, bucket Bucket, path string) (bool, error) {
	_, err := b.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName(bucket)),
		Key:    aws.String(path),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, unavailable("error checking "+path, err)
	}
	return true, nil
}

func (b *S3Backend) Presign(ctx context.Context, bucket Bucket, path string, ttl time.Duration) (string, error) {
	req, _ := b.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucketName(bucket)),
		Key:    aws.String(path),
	})
	signed, err := req.Presign(ttl)
	if err != nil {
		return "", unavailable("error presigning "+path, err)
	}
	return signed, nil
}

// Compose verifies all parts then streams them, in order, through a pipe
// into a single multipart upload. The upload either completes in full or is
// aborted by the SDK, so readers never observe a partial object.
func (b *S3Backend) Compose(ctx context.Context, bucket Bucket, output string, parts []string, contentType string) error {
	bucketName := b.bucketName(bucket)
	for _, part := range parts {
		exists, err := b.Exists(ctx, bucket, part)
		if err != nil {
			return err
		}
		if !exists {
			return notFound(part)
		}
	}

	pr, pw := io.Pipe()
	go func() {
		for _, part := range parts {
			obj, err := b.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucketName),
				Key:    aws.String(part),
			})
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			_, err = io.Copy(pw, obj.Body)
			obj.Body.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	input := &s3manager.UploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String(output),
		Body:     pr,
		Metadata: b.metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.uploader.UploadWithContext(ctx, input); err != nil {
		pr.CloseWithError(err)
		return unavailable("error composing "+output, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
