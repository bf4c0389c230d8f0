package storage

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/driver"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BlobStore holds encrypted document artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	KeyFromSignedURL(ctx context.Context, u *url.URL) (string, error)
	Close() error
}

// BucketStore implements BlobStore on a gocloud bucket. Download links are signed
// with an HMAC so the service itself can serve them.
type BucketStore struct {
	bucket *blob.Bucket
	signer *fileblob.URLSignerHMAC
}

var _ BlobStore = (*BucketStore)(nil)

// NewBucketStore wraps an open bucket. baseURL is where signed links are served.
func NewBucketStore(bucket *blob.Bucket, baseURL string, signingSecret []byte) (*BucketStore, error) {
	if len(signingSecret) == 0 {
		return nil, errors.New("blob signing secret is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid blob base url")
	}
	return &BucketStore{
		bucket: bucket,
		signer: fileblob.NewURLSignerHMAC(u, signingSecret),
	}, nil
}

// OpenBucket opens bucketURL (file://, mem://) or, when empty, a local directory.
func OpenBucket(ctx context.Context, bucketURL, dir string) (*blob.Bucket, error) {
	if bucketURL != "" {
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		return bucket, errors.Wrapf(err, "open bucket %s", bucketURL)
	}
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	return bucket, errors.Wrapf(err, "open blob dir %s", dir)
}

func (b *BucketStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	err := b.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType})
	return errors.Wrapf(err, "write blob %s", key)
}

func (b *BucketStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read blob %s", key)
	}
	return data, nil
}

func (b *BucketStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, key)
	return ok, errors.Wrapf(err, "stat blob %s", key)
}

func (b *BucketStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := b.signer.URLFromKey(ctx, key, &driver.SignedURLOptions{
		Expiry: ttl,
		Method: http.MethodGet,
	})
	if err != nil {
		return "", errors.Wrapf(err, "sign blob url %s", key)
	}
	return signed.String(), nil
}

// KeyFromSignedURL validates the signature and expiry of u and returns the object key.
func (b *BucketStore) KeyFromSignedURL(ctx context.Context, u *url.URL) (string, error) {
	return b.signer.KeyFromURL(ctx, u)
}

func (b *BucketStore) Close() error {
	return b.bucket.Close()
}
