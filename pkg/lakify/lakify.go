// Package lakify implements the Lakify worker (spec §4.9): explode a
// cleaned Document's activities into per-activity blobs in the Object
// Store `lake` container, one raw XML subtree and one
// recursive_json_nest JSON document per activity, keyed by
// sha1(clean(iati-identifier)).
package lakify

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor    store.Accessor
	objectStore objectstore.Accessor
	parallelism int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, parallelism int) *Worker {
	return &Worker{accessor: accessor, objectStore: os, parallelism: parallelism}
}

func (w *Worker) Pass(ctx context.Context, limit int) error {
	if _, err := w.accessor.ResetUnfinishedLakify(ctx); err != nil {
		return fmt.Errorf("reset unfinished lakifies: %w", err)
	}
	docs, err := w.accessor.GetUnlakified(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unlakified documents: %w", err)
	}
	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.lakifyOne(ctx, d)
	})
	return nil
}

func (w *Worker) lakifyOne(ctx context.Context, d *types.Document) error {
	if err := w.accessor.ClaimLakify(ctx, d.ID); err != nil {
		return fmt.Errorf("claim lakify for %s: %w", d.ID, err)
	}

	body, err := w.objectStore.DownloadBlob(ctx, w.objectStore.CleanContainer(), d.Hash+".xml")
	if err != nil {
		if errors.Is(err, objectstore.ErrBlobNotFound) {
			if recErr := w.accessor.RecoverToClean(ctx, d.ID); recErr != nil {
				return fmt.Errorf("recover to clean for %s: %w", d.ID, recErr)
			}
			return w.accessor.RecordLakifyResult(ctx, d.ID, "clean blob not found, sent back to clean")
		}
		return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("download clean blob: %v", err))
	}

	activities, err := ExplodeActivities(body)
	if err != nil {
		if recErr := w.accessor.RecoverToClean(ctx, d.ID); recErr != nil {
			return fmt.Errorf("recover to clean for %s: %w", d.ID, recErr)
		}
		return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("parse clean blob: %v, sent back to clean", err))
	}

	for _, a := range activities {
		xmlKey := fmt.Sprintf("%s/%s.xml", d.ID, a.IDHash)
		if err := w.objectStore.UploadBlob(ctx, w.objectStore.LakeContainer(), xmlKey, a.XML, d.ID); err != nil {
			return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("upload activity xml: %v", err))
		}
		if err := w.objectStore.SetBlobTags(ctx, w.objectStore.LakeContainer(), xmlKey, map[string]string{"document_id": d.ID, "dataset_hash": d.Hash}); err != nil {
			return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("tag activity xml: %v", err))
		}

		jsonKey := fmt.Sprintf("%s/%s.json", d.ID, a.IDHash)
		if err := w.objectStore.UploadBlob(ctx, w.objectStore.LakeContainer(), jsonKey, a.JSON, d.ID); err != nil {
			return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("upload activity json: %v", err))
		}
		if err := w.objectStore.SetBlobTags(ctx, w.objectStore.LakeContainer(), jsonKey, map[string]string{"document_id": d.ID, "dataset_hash": d.Hash}); err != nil {
			return w.accessor.RecordLakifyResult(ctx, d.ID, fmt.Sprintf("tag activity json: %v", err))
		}
	}

	return w.accessor.RecordLakifyResult(ctx, d.ID, "")
}

// Activity is one exploded <iati-activity>: its raw XML subtree and its
// recursive_json_nest serialisation, keyed by IDHash.
type Activity struct {
	IDHash string
	XML    []byte
	JSON   []byte
}

// node is a generic, order-preserving parse of one XML element,
// including comments and processing instructions, used to build the
// recursive_json_nest representation.
type node struct {
	tag      string
	attrs    map[string]string
	text     string
	children []*node
}

// ExplodeActivities parses the clean document and returns one Activity
// per <iati-activity>, freeing each parsed subtree before starting the
// next to cap memory (spec §4.9).
func ExplodeActivities(body []byte) ([]Activity, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("find root element: %w", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			break
		}
	}

	var activities []Activity
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "iati-activity" {
			continue
		}

		var buf bytes.Buffer
		enc := xml.NewEncoder(&buf)
		n, err := decodeNode(dec, enc, start)
		if err != nil {
			return nil, fmt.Errorf("decode activity subtree: %w", err)
		}
		if err := enc.Flush(); err != nil {
			return nil, err
		}

		idHash := sha1Hex(cleanIdentifier(findChildText(n, "iati-identifier")))
		jsonBody, err := json.Marshal(toJSONNest(n))
		if err != nil {
			return nil, fmt.Errorf("marshal recursive json nest: %w", err)
		}

		activities = append(activities, Activity{IDHash: idHash, XML: append([]byte(nil), buf.Bytes()...), JSON: jsonBody})
	}
	return activities, nil
}

// decodeNode recursively decodes start's subtree, re-encoding every token
// onto enc (a token-level copy: encoding/xml re-serialises it, so the
// bytes can differ from the source) while building the generic node tree
// recursive_json_nest needs.
func decodeNode(dec *xml.Decoder, enc *xml.Encoder, start xml.StartElement) (*node, error) {
	if err := enc.EncodeToken(start); err != nil {
		return nil, err
	}

	n := &node{tag: start.Name.Local, attrs: map[string]string{}}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		n.attrs[a.Name.Local] = a.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeNode(dec, enc, t)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		case xml.CharData:
			text.Write(t)
			if err := enc.EncodeToken(t.Copy()); err != nil {
				return nil, err
			}
		case xml.Comment:
			n.children = append(n.children, &node{tag: "comment()", text: string(t)})
			if err := enc.EncodeToken(t.Copy()); err != nil {
				return nil, err
			}
		case xml.ProcInst:
			n.children = append(n.children, &node{tag: "PI()", text: string(t.Inst)})
			if err := enc.EncodeToken(t.Copy()); err != nil {
				return nil, err
			}
		case xml.EndElement:
			n.text = strings.TrimSpace(text.String())
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
}

// toJSONNest implements recursive_json_nest: every element maps to a
// key whose value is a list of occurrence dicts; attributes become
// "@attr" keys; text content becomes "text()" (emitted even when empty
// for narrative-like leaf elements).
func toJSONNest(n *node) map[string]any {
	out := map[string]any{}
	for k, v := range n.attrs {
		out["@"+k] = v
	}
	out["text()"] = n.text

	order := make([]string, 0, len(n.children))
	groups := map[string][]any{}
	for _, c := range n.children {
		if _, ok := groups[c.tag]; !ok {
			order = append(order, c.tag)
		}
		groups[c.tag] = append(groups[c.tag], toJSONNest(c))
	}
	for _, tag := range order {
		out[tag] = groups[tag]
	}
	return out
}

func findChildText(n *node, tag string) string {
	for _, c := range n.children {
		if c.tag == tag {
			return c.text
		}
	}
	return ""
}

var whitespace = regexp.MustCompile(`\s+`)

func cleanIdentifier(s string) string {
	return whitespace.ReplaceAllString(s, "")
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
