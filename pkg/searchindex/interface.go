package searchindex

import "context"

// Accessor is the narrow surface pkg/solrize and pkg/cleanup depend on.
type Accessor interface {
	Ping(ctx context.Context, core string) error
	DeleteByDocumentID(ctx context.Context, core, documentID string) error
	AddDocs(ctx context.Context, core string, docs []ActivityDoc) error
}

var _ Accessor = (*Client)(nil)
