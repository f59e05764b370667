package backend

import (
	"context"

	"github.com/bringyour/social/social"
)

// Stores the blob bytes behind `/blobs/<path>`.
// `Get` and `Head` return a `NotFoundError` for a missing blob.
type BlobEngine interface {
	Put(ctx context.Context, path string, blob *social.Blob) error
	Get(ctx context.Context, path string) (*social.Blob, error)
	Head(ctx context.Context, path string) error
	// deleting a missing blob succeeds
	Delete(ctx context.Context, path string) error
}

// in-process blob engine over the local blob store
type MemoryBlobEngine struct {
	blobs *social.LocalBlobStore
}

func NewMemoryBlobEngine() *MemoryBlobEngine {
	return &MemoryBlobEngine{
		blobs: social.NewLocalBlobStore("blobs"),
	}
}

func (self *MemoryBlobEngine) Put(ctx context.Context, path string, blob *social.Blob) error {
	return self.blobs.Upload(ctx, path, blob)
}

func (self *MemoryBlobEngine) Get(ctx context.Context, path string) (*social.Blob, error) {
	blobUrl, err := self.blobs.Url(ctx, path)
	if err != nil {
		return nil, err
	}
	return self.blobs.Fetch(ctx, blobUrl)
}

func (self *MemoryBlobEngine) Head(ctx context.Context, path string) error {
	_, err := self.blobs.Url(ctx, path)
	return err
}

func (self *MemoryBlobEngine) Delete(ctx context.Context, path string) error {
	return self.blobs.Remove(ctx, path)
}
