package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/haatos/verify-ci/internal/settings"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"
)

// MinioBlobStore keeps cache archives in an S3 compatible bucket. Calls
// go through a circuit breaker so an unreachable object store fails fast
// and runs degrade to cache misses instead of stalling.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
	cb     *gobreaker.CircuitBreaker
}

func NewMinioBlobStore(ctx context.Context, s *settings.AppSettings) (*MinioBlobStore, error) {
	client, err := minio.New(s.MinIOEndpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(s.MinIOAccessKey, s.MinIOSecretKey, ""),
		Secure:    s.MinIOUseSSL,
		Region:    s.MinIORegion,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	if err := ensureBucket(ctx, client, s.MinIOBucket, s.MinIORegion); err != nil {
		return nil, fmt.Errorf("ensure cache bucket: %w", err)
	}
	return &MinioBlobStore{
		client: client,
		bucket: s.MinIOBucket,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "minio-cache",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: breakerSuccess,
		}),
	}, nil
}

func (mbs *MinioBlobStore) Put(ctx context.Context, key string, blob []byte) error {
	name, err := objectKey(key)
	if err != nil {
		return err
	}
	_, err = mbs.cb.Execute(func() (any, error) {
		return mbs.client.PutObject(
			ctx,
			mbs.bucket,
			name,
			bytes.NewReader(blob),
			int64(len(blob)),
			minio.PutObjectOptions{ContentType: "application/gzip"},
		)
	})
	return err
}

func (mbs *MinioBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := objectKey(key)
	if err != nil {
		return nil, err
	}
	b, err := mbs.cb.Execute(func() (any, error) {
		obj, err := mbs.client.GetObject(ctx, mbs.bucket, name, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		defer obj.Close()
		return io.ReadAll(obj)
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return b.([]byte), nil
}

func (mbs *MinioBlobStore) Delete(ctx context.Context, key string) error {
	name, err := objectKey(key)
	if err != nil {
		return err
	}
	_, err = mbs.cb.Execute(func() (any, error) {
		return nil, mbs.client.RemoveObject(ctx, mbs.bucket, name, minio.RemoveObjectOptions{})
	})
	return err
}

func objectKey(key string) (string, error) {
	if err := ValidateCacheKey(key); err != nil {
		return "", err
	}
	return "cache/" + key + ".tar.gz", nil
}

// breakerSuccess keeps missing objects from tripping the breaker; a cache
// miss is a healthy answer from the server.
func breakerSuccess(err error) bool {
	return err == nil || isNotFound(err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
