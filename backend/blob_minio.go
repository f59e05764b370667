package backend

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bringyour/social/social"
)

type MinioSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSsl    bool
	Bucket    string
}

func DefaultMinioSettings() *MinioSettings {
	return &MinioSettings{
		Bucket: "social",
	}
}

// blob engine over an s3 compatible bucket
type MinioBlobEngine struct {
	client *minio.Client
	bucket string
}

func NewMinioBlobEngine(ctx context.Context, settings *MinioSettings) (*MinioBlobEngine, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(settings.Endpoint, "http://"), "https://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure: settings.UseSsl,
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, settings.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, settings.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		glog.Infof("[minio]created bucket %s\n", settings.Bucket)
	}
	return &MinioBlobEngine{
		client: client,
		bucket: settings.Bucket,
	}, nil
}

func minioError(path string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return social.NewNotFoundError("Blob does not exist: %s", path)
	default:
		return social.NewNetworkError(err)
	}
}

func (self *MinioBlobEngine) Put(ctx context.Context, path string, blob *social.Blob) error {
	if err := social.ValidateBlobPath(path); err != nil {
		return err
	}
	_, err := self.client.PutObject(
		ctx,
		self.bucket,
		path,
		bytes.NewReader(blob.Data),
		int64(len(blob.Data)),
		minio.PutObjectOptions{ContentType: blob.ContentType},
	)
	if err != nil {
		return social.NewNetworkError(err)
	}
	return nil
}

func (self *MinioBlobEngine) Get(ctx context.Context, path string) (*social.Blob, error) {
	object, err := self.client.GetObject(ctx, self.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(path, err)
	}
	defer object.Close()

	// the object request is lazy. Stat surfaces a missing key.
	info, err := object.Stat()
	if err != nil {
		return nil, minioError(path, err)
	}
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, minioError(path, err)
	}
	return &social.Blob{
		Data:        data,
		ContentType: info.ContentType,
	}, nil
}

func (self *MinioBlobEngine) Head(ctx context.Context, path string) error {
	_, err := self.client.StatObject(ctx, self.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return minioError(path, err)
	}
	return nil
}

func (self *MinioBlobEngine) Delete(ctx context.Context, path string) error {
	err := self.client.RemoveObject(ctx, self.bucket, path, minio.RemoveObjectOptions{})
	if err != nil {
		return minioError(path, err)
	}
	return nil
}
