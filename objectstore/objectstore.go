// Package objectstore implements the Object Store Adapter as specified in
// section 4.2 of the design specification. It lists remote objects under
// a tenant/purchaser prefix and streams object bodies to local staging.
package objectstore

import (
	"context"
	"io"
	"iter"
)

// ObjectMeta describes one listed or head-probed remote object.
type ObjectMeta struct {
	Key  string
	Size int64
	ETag string
}

// GetResult is the outcome of a successful Get.
type GetResult struct {
	BytesWritten int64
	ETag         string
}

// BucketDescriptor names one bucket/prefix to sync, scoped to a tenant
// (brand) and purchaser, as required by section 6's "bucket descriptors
// are a concrete record" design note.
type BucketDescriptor struct {
	Bucket    string
	Prefix    string
	Tenant    string
	Purchaser string
}

// Client is the capability contract required by sections 4.2 and 4.4.
// Implementations must treat a missing object as ErrNotFound rather than
// a generic Error, so callers can distinguish "skip, object is gone"
// from "retry, network blip".
type Client interface {
	// List paginates internally and yields every object under prefix in
	// bucket. The iterator stops at the first error.
	List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectMeta, error]

	// Get streams the object body to w, reporting progress via
	// onProgress (may be nil) as bytes are written.
	Get(ctx context.Context, bucket, key string, w io.Writer, onProgress func(n int64)) (GetResult, error)

	// HeadIfExists probes object metadata without downloading the body.
	// It returns (nil, nil) when the object does not exist.
	HeadIfExists(ctx context.Context, bucket, key string) (*ObjectMeta, error)
}

// Compile-time interface check to ensure the production adapter
// satisfies Client.
var _ Client = (*S3Adapter)(nil)
