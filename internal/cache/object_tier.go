package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/any-hub/imghub/internal/fingerprint"
)

// ObjectConfig 描述 S3 兼容对象存储持久层。
type ObjectConfig struct {
	// Endpoint 形如 "localhost:9000"
	Endpoint string
	Bucket   string

	AccessKey string
	SecretKey string
	UseSSL    bool

	// Prefix 为所有对象键追加的命名空间
	Prefix string

	// Client 非空时忽略 Endpoint/AccessKey/SecretKey
	Client *minio.Client
}

func (c *ObjectConfig) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// ObjectTier 把原始字节保存为 <prefix>/<key> 对象。
type ObjectTier struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ BlobTier = (*ObjectTier)(nil)

// NewObjectTier 校验配置、按需创建客户端，并在 bucket 缺失时创建它。
func NewObjectTier(ctx context.Context, cfg ObjectConfig) (*ObjectTier, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid object storage config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create object storage client: %w", err)
		}
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectTier{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (o *ObjectTier) Exists(ctx context.Context, key string) (bool, error) {
	if !fingerprint.Valid(key) {
		return false, ErrInvalidKey
	}
	_, err := o.client.StatObject(ctx, o.bucket, o.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio: %w", err)
	}
	return true, nil
}

func (o *ObjectTier) Load(ctx context.Context, key string) ([]byte, error) {
	if !fingerprint.Valid(key) {
		return nil, ErrInvalidKey
	}
	obj, err := o.client.GetObject(ctx, o.bucket, o.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateObjectError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateObjectError(err)
	}
	return data, nil
}

func (o *ObjectTier) Store(ctx context.Context, key string, value []byte) error {
	if !fingerprint.Valid(key) {
		return ErrInvalidKey
	}
	_, err := o.client.PutObject(ctx, o.bucket, o.objectName(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

func (o *ObjectTier) Invalidate(ctx context.Context, key string) error {
	if !fingerprint.Valid(key) {
		return ErrInvalidKey
	}
	err := o.client.RemoveObject(ctx, o.bucket, o.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

// Clear 删除 prefix 下的所有对象。列举出错时取消列举，已送出的对象仍会删除。
func (o *ObjectTier) Clear(ctx context.Context) error {
	listPrefix := o.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	listCtx, cancelList := context.WithCancel(ctx)
	defer cancelList()

	objects := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objects)
		for info := range o.client.ListObjects(listCtx, o.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
			if info.Err != nil {
				listErr = info.Err
				cancelList()
				return
			}
			select {
			case objects <- info:
			case <-listCtx.Done():
				return
			}
		}
	}()

	var errs []error
	for result := range o.client.RemoveObjects(ctx, o.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", result.ObjectName, result.Err))
		}
	}
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list objects: %w", listErr))
	}
	return errors.Join(errs...)
}

func (o *ObjectTier) objectName(key string) string {
	if o.prefix == "" {
		return key
	}
	return path.Join(o.prefix, key)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func translateObjectError(err error) error {
	if isNoSuchKey(err) {
		return ErrNotFound
	}
	return fmt.Errorf("minio: %w", err)
}
