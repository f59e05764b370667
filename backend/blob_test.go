package backend

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/social/social"
)

func testBlobEngine(t *testing.T, blobs BlobEngine) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := social.PostImagePath(social.NewId())
	err := blobs.Head(ctx, path)
	assert.Equal(t, errors.Is(err, social.ErrNotFound), true)
	_, err = blobs.Get(ctx, path)
	assert.Equal(t, errors.Is(err, social.ErrNotFound), true)

	err = blobs.Put(ctx, path, &social.Blob{
		Data:        []byte("image bytes"),
		ContentType: "image/png",
	})
	assert.Equal(t, err, nil)
	err = blobs.Head(ctx, path)
	assert.Equal(t, err, nil)
	blob, err := blobs.Get(ctx, path)
	assert.Equal(t, err, nil)
	assert.Equal(t, blob.Data, []byte("image bytes"))
	assert.Equal(t, blob.ContentType, "image/png")

	// replace
	err = blobs.Put(ctx, path, &social.Blob{
		Data:        []byte("other bytes"),
		ContentType: "image/jpeg",
	})
	assert.Equal(t, err, nil)
	blob, err = blobs.Get(ctx, path)
	assert.Equal(t, err, nil)
	assert.Equal(t, blob.Data, []byte("other bytes"))

	err = blobs.Delete(ctx, path)
	assert.Equal(t, err, nil)
	err = blobs.Head(ctx, path)
	assert.Equal(t, errors.Is(err, social.ErrNotFound), true)
	err = blobs.Delete(ctx, path)
	assert.Equal(t, err, nil)

	err = blobs.Put(ctx, "../x", &social.Blob{})
	assert.Equal(t, errors.Is(err, social.ErrValidation), true)
}

func TestMemoryBlobEngine(t *testing.T) {
	testBlobEngine(t, NewMemoryBlobEngine())
}

func TestMinioBlobEngine(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultMinioSettings()
	settings.Endpoint = endpoint
	settings.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	settings.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	settings.Bucket = "social-test"
	blobs, err := NewMinioBlobEngine(ctx, settings)
	assert.Equal(t, err, nil)
	testBlobEngine(t, blobs)
}
