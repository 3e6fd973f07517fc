package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of the AWS SDK S3 client used by S3Adapter,
// grounded on the teacher's aws.S3Client interface-plus-compile-time-
// assertion pattern.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ S3Client = (*s3.Client)(nil)

// S3Adapter implements Client against S3-shaped cloud object storage.
type S3Adapter struct {
	client S3Client
}

// NewS3Adapter constructs an S3Adapter over an existing S3 client.
func NewS3Adapter(client S3Client) *S3Adapter {
	return &S3Adapter{client: client}
}

// List paginates a ListObjectsV2 call internally via the SDK's
// paginator and yields one ObjectMeta per remote object, as required by
// section 4.2.
func (a *S3Adapter) List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectMeta, error] {
	return func(yield func(ObjectMeta, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(ObjectMeta{}, wrapErr("List", bucket, "", err))
				return
			}
			for _, obj := range page.Contents {
				meta := ObjectMeta{
					Key:  aws.ToString(obj.Key),
					Size: aws.ToInt64(obj.Size),
					ETag: trimQuotes(aws.ToString(obj.ETag)),
				}
				if !yield(meta, nil) {
					return
				}
			}
		}
	}
}

// Get streams the object body to w, as required by section 4.2.
func (a *S3Adapter) Get(ctx context.Context, bucket, key string, w io.Writer, onProgress func(n int64)) (GetResult, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return GetResult{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return GetResult{}, wrapErr("Get", bucket, key, err)
	}
	defer out.Body.Close()

	dst := w
	if onProgress != nil {
		dst = &progressWriter{w: w, onProgress: onProgress}
	}

	n, err := io.Copy(dst, out.Body)
	if err != nil {
		return GetResult{}, wrapErr("Get", bucket, key, err)
	}

	return GetResult{BytesWritten: n, ETag: trimQuotes(aws.ToString(out.ETag))}, nil
}

// HeadIfExists probes object metadata, returning (nil, nil) when the
// object does not exist, as required by section 4.2.
func (a *S3Adapter) HeadIfExists(ctx context.Context, bucket, key string) (*ObjectMeta, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapErr("HeadIfExists", bucket, key, err)
	}

	return &ObjectMeta{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: trimQuotes(aws.ToString(out.ETag)),
	}, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	return false
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

type progressWriter struct {
	w          io.Writer
	onProgress func(n int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.onProgress(int64(n))
	}
	return n, err
}
