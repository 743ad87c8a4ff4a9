// Package flatten implements the Flatten worker (spec §4.8): turn each
// cleaned Document's <iati-activity> elements into flat
// snake_case-keyed records, promoting repeats to lists, reformatting
// dates, defaulting currencies, and emitting explode-element sub-lists
// under "@<element>" for configured elements such as transaction and
// budget.
package flatten

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor       store.Accessor
	objectStore    objectstore.Accessor
	explodeElement map[string]bool
	parallelism    int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, explodeElements []string, parallelism int) *Worker {
	m := make(map[string]bool, len(explodeElements))
	for _, e := range explodeElements {
		m[e] = true
	}
	return &Worker{accessor: accessor, objectStore: os, explodeElement: m, parallelism: parallelism}
}

func (w *Worker) Pass(ctx context.Context, limit int) error {
	if _, err := w.accessor.ResetUnfinishedFlatten(ctx); err != nil {
		return fmt.Errorf("reset unfinished flattens: %w", err)
	}
	docs, err := w.accessor.GetUnflattened(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unflattened documents: %w", err)
	}
	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.flattenOne(ctx, d)
	})
	return nil
}

func (w *Worker) flattenOne(ctx context.Context, d *types.Document) error {
	if err := w.accessor.ClaimFlatten(ctx, d.ID); err != nil {
		return fmt.Errorf("claim flatten for %s: %w", d.ID, err)
	}

	body, err := w.objectStore.DownloadBlob(ctx, w.objectStore.CleanContainer(), d.Hash+".xml")
	if err != nil {
		return w.accessor.RecordFlattenResult(ctx, d.ID, fmt.Sprintf("download clean blob: %v", err), nil)
	}

	activities, err := Flatten(body, w.explodeElement)
	if err != nil {
		return w.accessor.RecordFlattenResult(ctx, d.ID, err.Error(), nil)
	}

	return w.accessor.RecordFlattenResult(ctx, d.ID, "", activities)
}

// ErrNotIATIActivities is returned when the document's root element
// isn't <iati-activities>.
var ErrNotIATIActivities = fmt.Errorf("root element is not iati-activities")

var dateFields = []string{"date", "datetime", "_date"}

// Flatten implements the transformation contract of spec §4.8 directly
// against the raw clean XML bytes.
func Flatten(body []byte, explodeElement map[string]bool) ([]map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	root, err := nextStart(dec)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != "iati-activities" {
		return nil, ErrNotIATIActivities
	}

	datasetAttrs := map[string]any{}
	for _, a := range root.Attr {
		switch a.Name.Local {
		case "version":
			datasetAttrs["dataset_version"] = a.Value
		case "generated-datetime":
			datasetAttrs["dataset_generated_datetime"] = a.Value
		case "linked-data-default":
			datasetAttrs["dataset_linked_data_default"] = a.Value
		}
	}

	nsPrefix := buildNamespacePrefixes(root)

	var activities []map[string]any
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "iati-activity" {
			continue
		}

		record := map[string]any{}
		for k, v := range datasetAttrs {
			record[k] = v
		}

		el, err := decodeElement(dec, start, nsPrefix)
		if err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}

		defaultCurrency := el.attrs["default_currency"]
		flattenInto(record, el, nsPrefix, explodeElement, defaultCurrency, true)
		normalizeIdentifier(record)
		activities = append(activities, record)
	}
	return activities, nil
}

// element is one parsed XML element: attributes, direct text, and
// child elements keyed by their raw (pre-flatten) local name.
type element struct {
	name     string
	attrs    map[string]string
	text     string
	children map[string][]*element
}

func decodeElement(dec *xml.Decoder, start xml.StartElement, nsPrefix map[string]string) (*element, error) {
	el := &element{name: snake(localName(start.Name, nsPrefix)), attrs: map[string]string{}, children: map[string][]*element{}}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		el.attrs[snake(localName(a.Name, nsPrefix))] = a.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t, nsPrefix)
			if err != nil {
				return nil, err
			}
			el.children[child.name] = append(el.children[child.name], child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			el.text = strings.TrimSpace(text.String())
			return el, nil
		}
	}
}

func localName(n xml.Name, nsPrefix map[string]string) string {
	if n.Space == "" {
		return n.Local
	}
	prefix, ok := nsPrefix[n.Space]
	if !ok || prefix == "" {
		return n.Local
	}
	return prefix + "_" + n.Local
}

// buildNamespacePrefixes collapses the root's namespace map to short
// prefixes, dropping the default IATI namespace (spec §4.8).
func buildNamespacePrefixes(root xml.StartElement) map[string]string {
	out := map[string]string{}
	for _, a := range root.Attr {
		if a.Name.Space != "xmlns" {
			continue
		}
		prefix := a.Name.Local
		if strings.Contains(a.Value, "iatistandard.org") || strings.Contains(a.Value, "iati") {
			out[a.Value] = ""
			continue
		}
		out[a.Value] = snake(prefix)
	}
	return out
}

var nonWord = regexp.MustCompile(`[-:]`)

func snake(s string) string {
	return nonWord.ReplaceAllString(s, "_")
}

// flattenInto walks el's subtree emitting <prefix>_<snake_attr> keys
// into record, accumulating repeats into lists, and emitting
// explode-element sub-records under "@<element>".
func flattenInto(record map[string]any, el *element, nsPrefix map[string]string, explodeElement map[string]bool, defaultCurrency string, isRoot bool) {
	if !isRoot {
		for attr, val := range el.attrs {
			emit(record, el.name+"_"+attr, val)
		}
		if el.text != "" && len(el.children) == 0 {
			emit(record, el.name, el.text)
		}
		applyCurrencyDefault(record, el, defaultCurrency)
	}

	for _, children := range el.children {
		for _, child := range children {
			flattenInto(record, child, nsPrefix, explodeElement, defaultCurrency, false)
			if explodeElement[child.name] {
				sub := map[string]any{}
				flattenInto(sub, child, nsPrefix, explodeElement, defaultCurrency, false)
				key := "@" + child.name
				record[key] = append(toSlice(record[key]), sub)
			}
		}
	}
}

func applyCurrencyDefault(record map[string]any, el *element, defaultCurrency string) {
	if defaultCurrency == "" {
		return
	}
	switch el.name {
	case "value":
		if _, ok := el.attrs["currency"]; !ok {
			if _, exists := record[el.name+"_currency"]; !exists {
				record[el.name+"_currency"] = defaultCurrency
			}
		}
	}
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// emit stores value under key, promoting a pre-existing scalar to a
// list on the second occurrence (spec §4.8's repeat-accumulation rule).
func emit(record map[string]any, key string, value string) {
	formatted := formatValue(key, value)
	if formatted == nil {
		return
	}
	existing, ok := record[key]
	if !ok {
		record[key] = formatted
		return
	}
	if list, ok := existing.([]any); ok {
		record[key] = append(list, formatted)
		return
	}
	record[key] = []any{existing, formatted}
}

// formatValue reformats date-like fields to
// YYYY-MM-DDTHH:MM:SS.mmmZ, dropping unparseable ones.
func formatValue(key, value string) any {
	if !isDateField(key) {
		return value
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05.000Z")
		}
	}
	return nil
}

func isDateField(key string) bool {
	for _, f := range dateFields {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func normalizeIdentifier(record map[string]any) {
	id, ok := record["iati_identifier"].(string)
	if !ok {
		return
	}
	record["iati_identifier"] = stripWhitespace(id)
}

var whitespace = regexp.MustCompile(`\s+`)

func stripWhitespace(s string) string {
	return whitespace.ReplaceAllString(s, "")
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}
