package searchindex

import (
	"context"
	"sync"
)

// Fake is an in-memory Accessor keyed by core name, for pkg/solrize and
// pkg/cleanup tests.
type Fake struct {
	mu    sync.Mutex
	cores map[string]map[string]ActivityDoc
}

func NewFake() *Fake {
	return &Fake{cores: make(map[string]map[string]ActivityDoc)}
}

func (f *Fake) Ping(_ context.Context, _ string) error { return nil }

func (f *Fake) DeleteByDocumentID(_ context.Context, core, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.cores[core]
	for id, d := range docs {
		if d.IATIActivitiesDocumentID == documentID {
			delete(docs, id)
		}
	}
	return nil
}

func (f *Fake) AddDocs(_ context.Context, core string, docs []ActivityDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cores[core] == nil {
		f.cores[core] = make(map[string]ActivityDoc)
	}
	for _, d := range docs {
		f.cores[core][d.ID] = d
	}
	return nil
}

// Docs returns every document currently indexed in core, for assertions.
func (f *Fake) Docs(core string) []ActivityDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ActivityDoc, 0, len(f.cores[core]))
	for _, d := range f.cores[core] {
		out = append(out, d)
	}
	return out
}

var _ Accessor = (*Fake)(nil)
