// Package objectstore is the Object Store client: three S3 buckets
// (source/clean/lake) holding per-document XML/JSON blobs, tagged by
// document id so Clean/Lakify/Solrize can find-and-clean stale content
// without a manifest (spec §4.1's OS responsibilities). Grounded on the
// aws-sdk-go-v2 family jordigilh-kubernaut already carries for
// bedrockruntime — repurposed here to its more common use, S3.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store wraps one S3 client shared across the three containers spec §3 names.
type Store struct {
	s3              *s3.Client
	sourceContainer string
	cleanContainer  string
	lakeContainer   string
}

func New(ctx context.Context, endpoint, region, accessKey, secretKey, sourceContainer, cleanContainer, lakeContainer string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &Store{
		s3:              client,
		sourceContainer: sourceContainer,
		cleanContainer:  cleanContainer,
		lakeContainer:   lakeContainer,
	}, nil
}

// ErrBlobNotFound is returned by DownloadBlob when the key doesn't
// exist; callers translate this into the "source corrupt, rewind"
// behavior spec §4.6/§4.8 describe.
var ErrBlobNotFound = errors.New("objectstore: blob not found")

// UploadBlob writes body to container/key, overwriting any existing
// object (the idempotence every stage's "at-least-once" claim model
// relies on, per spec §3's shared-resource policy) and tags it with the
// given document id so FindBlobsByTag can locate it later.
func (s *Store) UploadBlob(ctx context.Context, container, key string, body []byte, documentID string) error {
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(container),
		Key:     aws.String(key),
		Body:    bytes.NewReader(body),
		Tagging: aws.String("document_id=" + documentID),
	})
	if err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", container, key, err)
	}
	return nil
}

// SetBlobTags replaces the tag set on an existing object.
func (s *Store) SetBlobTags(ctx context.Context, container, key string, tags map[string]string) error {
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := s.s3.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(container),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("set blob tags %s/%s: %w", container, key, err)
	}
	return nil
}

// DownloadBlob reads an object fully; a missing key is reported as
// ErrBlobNotFound so callers can distinguish it from a transient failure.
func (s *Store) DownloadBlob(ctx context.Context, container, key string) ([]byte, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("download blob %s/%s: %w", container, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob body %s/%s: %w", container, key, err)
	}
	return data, nil
}

// DeleteBlob removes a single object; deleting an absent key is a no-op.
func (s *Store) DeleteBlob(ctx context.Context, container, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete blob %s/%s: %w", container, key, err)
	}
	return nil
}

// DeleteBlobs removes up to 1000 objects in a single batch request, the
// S3 API's own limit; callers (pkg/cleanup) chunk larger sets themselves.
func (s *Store) DeleteBlobs(ctx context.Context, container string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	_, err := s.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(container),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return fmt.Errorf("delete %d blobs from %s: %w", len(keys), container, err)
	}
	return nil
}

// FindBlobsByTag lists the objects under the "<documentID>/" key prefix
// in container that are tagged document_id=documentID, the lookup
// pkg/cleanup uses instead of a manifest. Keys outside that prefix, such
// as the hash-keyed "<hash>.xml" source and clean blobs, are not searched.
func (s *Store) FindBlobsByTag(ctx context.Context, container, documentID string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(documentID + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in %s: %w", container, err)
		}
		for _, obj := range page.Contents {
			tagOut, err := s.s3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
				Bucket: aws.String(container),
				Key:    obj.Key,
			})
			if err != nil {
				continue
			}
			for _, tag := range tagOut.TagSet {
				if aws.ToString(tag.Key) == "document_id" && aws.ToString(tag.Value) == documentID {
					keys = append(keys, aws.ToString(obj.Key))
				}
			}
		}
	}
	return keys, nil
}

// StartCopyFromURL copies an object server-side within S3 from one
// container/key to another, used by Clean's copy_valid pass to move
// already-uploaded source XML into the clean container without a
// round trip through the worker.
func (s *Store) StartCopyFromURL(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	_, err := s.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcContainer + "/" + srcKey),
	})
	if err != nil {
		return fmt.Errorf("copy %s/%s to %s/%s: %w", srcContainer, srcKey, dstContainer, dstKey, err)
	}
	return nil
}

func (s *Store) SourceContainer() string { return s.sourceContainer }
func (s *Store) CleanContainer() string  { return s.cleanContainer }
func (s *Store) LakeContainer() string   { return s.lakeContainer }
