package social

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const localBlobScheme = "mem"

// in-process blob store. Urls have the form `mem://<bucket>/<path>`.
type LocalBlobStore struct {
	bucket string

	mutex sync.Mutex
	blobs map[string]*Blob
}

func NewLocalBlobStore(bucket string) *LocalBlobStore {
	return &LocalBlobStore{
		bucket: bucket,
		blobs:  map[string]*Blob{},
	}
}

func ValidateBlobPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return NewValidationError("Invalid blob path: %s", path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return NewValidationError("Invalid blob path: %s", path)
		}
	}
	return nil
}

func (self *LocalBlobStore) Upload(ctx context.Context, path string, blob *Blob) error {
	if err := ValidateBlobPath(path); err != nil {
		return err
	}
	data := make([]byte, len(blob.Data))
	copy(data, blob.Data)

	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.blobs[path] = &Blob{
		Data:        data,
		ContentType: blob.ContentType,
	}
	return nil
}

func (self *LocalBlobStore) Url(ctx context.Context, path string) (string, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if _, ok := self.blobs[path]; !ok {
		return "", NewNotFoundError("Blob does not exist: %s", path)
	}
	return fmt.Sprintf("%s://%s/%s", localBlobScheme, self.bucket, path), nil
}

func (self *LocalBlobStore) Fetch(ctx context.Context, blobUrl string) (*Blob, error) {
	u, err := url.Parse(blobUrl)
	if err != nil || u.Scheme != localBlobScheme || u.Host != self.bucket {
		return nil, NewValidationError("Not a blob url of this store: %s", blobUrl)
	}
	path := strings.TrimPrefix(u.Path, "/")

	self.mutex.Lock()
	defer self.mutex.Unlock()
	blob, ok := self.blobs[path]
	if !ok {
		return nil, NewNotFoundError("Blob does not exist: %s", path)
	}
	data := make([]byte, len(blob.Data))
	copy(data, blob.Data)
	return &Blob{
		Data:        data,
		ContentType: blob.ContentType,
	}, nil
}

func (self *LocalBlobStore) Remove(ctx context.Context, path string) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.blobs, path)
	return nil
}
