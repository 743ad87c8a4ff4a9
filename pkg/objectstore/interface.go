package objectstore

import "context"

// Accessor is the narrow surface stage packages depend on, so tests
// substitute Fake instead of dialing real S3.
type Accessor interface {
	UploadBlob(ctx context.Context, container, key string, body []byte, documentID string) error
	SetBlobTags(ctx context.Context, container, key string, tags map[string]string) error
	DownloadBlob(ctx context.Context, container, key string) ([]byte, error)
	DeleteBlob(ctx context.Context, container, key string) error
	DeleteBlobs(ctx context.Context, container string, keys []string) error
	FindBlobsByTag(ctx context.Context, container, documentID string) ([]string, error)
	StartCopyFromURL(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error

	SourceContainer() string
	CleanContainer() string
	LakeContainer() string
}

var _ Accessor = (*Store)(nil)
