package objectstore

import (
	"context"
	"strings"
	"sync"
)

type blob struct {
	body []byte
	tags map[string]string
}

// Fake is an in-memory Accessor, keyed by container/key, for stage-package tests.
type Fake struct {
	mu         sync.Mutex
	blobs      map[string]map[string]*blob
	source     string
	clean      string
	lake       string
}

func NewFake(sourceContainer, cleanContainer, lakeContainer string) *Fake {
	return &Fake{
		blobs:  make(map[string]map[string]*blob),
		source: sourceContainer,
		clean:  cleanContainer,
		lake:   lakeContainer,
	}
}

func (f *Fake) bucket(container string) map[string]*blob {
	b, ok := f.blobs[container]
	if !ok {
		b = make(map[string]*blob)
		f.blobs[container] = b
	}
	return b
}

func (f *Fake) UploadBlob(_ context.Context, container, key string, body []byte, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	f.bucket(container)[key] = &blob{body: cp, tags: map[string]string{"document_id": documentID}}
	return nil
}

func (f *Fake) SetBlobTags(_ context.Context, container, key string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bucket(container)[key]
	if !ok {
		return ErrBlobNotFound
	}
	b.tags = tags
	return nil
}

func (f *Fake) DownloadBlob(_ context.Context, container, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bucket(container)[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	cp := make([]byte, len(b.body))
	copy(cp, b.body)
	return cp, nil
}

func (f *Fake) DeleteBlob(_ context.Context, container, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bucket(container), key)
	return nil
}

func (f *Fake) DeleteBlobs(_ context.Context, container string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.bucket(container)
	for _, k := range keys {
		delete(bucket, k)
	}
	return nil
}

func (f *Fake) FindBlobsByTag(_ context.Context, container, documentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for key, b := range f.bucket(container) {
		if b.tags["document_id"] == documentID || strings.HasPrefix(key, documentID+"/") {
			out = append(out, key)
		}
	}
	return out, nil
}

func (f *Fake) StartCopyFromURL(_ context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.bucket(srcContainer)[srcKey]
	if !ok {
		return ErrBlobNotFound
	}
	cp := make([]byte, len(src.body))
	copy(cp, src.body)
	tags := make(map[string]string, len(src.tags))
	for k, v := range src.tags {
		tags[k] = v
	}
	f.bucket(dstContainer)[dstKey] = &blob{body: cp, tags: tags}
	return nil
}

func (f *Fake) SourceContainer() string { return f.source }
func (f *Fake) CleanContainer() string  { return f.clean }
func (f *Fake) LakeContainer() string   { return f.lake }

var _ Accessor = (*Fake)(nil)
