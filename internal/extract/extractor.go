// Package extract walks parsed document trees and emits content items with
// their inherited envelope and facet metadata.
package extract

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/glyphic-ai/enrichment-engine/internal/cleanse"
	"github.com/glyphic-ai/enrichment-engine/internal/hashutil"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
)

// ErrRootNotObject is returned when the document root is not a JSON object.
var ErrRootNotObject = errors.New("document root is not an object")

// contentFields are the recognized content-bearing field names.
var contentFields = map[string]bool{
	"copy":        true,
	"disclaimer":  true,
	"disclaimers": true,
	"analytics":   true,
}

// eventKeyword maps a lowercase keyword found in cleansed content to an
// eventType facet label. Order fixes match priority; first match wins.
type eventKeyword struct {
	keyword string
	label   string
}

var eventKeywords = []eventKeyword{
	{"valentine", "Valentine day"},
	{"father's day", "Father's day"},
	{"tax", "Tax season"},
	{"christmas", "Christmas"},
	{"mother", "Mother's day"},
}

// Extractor performs the recursive document walk.
type Extractor struct {
	logger *observability.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *observability.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract walks root depth-first and returns the content items in traversal
// order. The seed envelope carries at least the source URI as SourcePath.
func (e *Extractor) Extract(root any, seed Envelope) ([]Item, error) {
	node, ok := root.(map[string]any)
	if !ok {
		return nil, ErrRootNotObject
	}

	w := &walker{logger: e.logger}
	w.walkObject(node, seed, seed, Facets{}, "", false)
	return w.items, nil
}

type walker struct {
	logger *observability.Logger
	items  []Item
}

// walkObject visits one object node. parentEnv is the envelope of the node
// that referenced this one; it differs from the inherited envelope only
// across fragment boundaries. parentHasPath reports whether the parent's
// source path came from a _path directive rather than the seed envelope, so
// the seed URI never forms the container half of a composite usage path.
func (w *walker) walkObject(node map[string]any, env, parentEnv Envelope, facets Facets, fieldName string, parentHasPath bool) {
	cur := w.overlay(node, env)
	deriveLocale(&cur)
	_, pathDirective := node["_path"].(string)
	hasPath := parentHasPath || pathDirective

	curFacets := facets.Clone()
	for key, val := range node {
		if strings.HasPrefix(key, "_") || contentFields[key] {
			continue
		}
		if s, ok := scalarString(val); ok {
			curFacets[key] = s
		}
	}

	if strings.HasSuffix(cur.Model, "-section") {
		curFacets["sectionModel"] = cur.Model
		curFacets["sectionPath"] = cur.SourcePath
		curFacets["sectionKey"] = lastSegment(cur.SourcePath)
	}

	// Deterministic traversal: object keys in sorted order, array elements in
	// document order.
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := node[key]

		if contentFields[key] {
			w.emitContent(key, fieldName, val, cur, parentEnv, curFacets, parentHasPath)
			continue
		}
		if strings.HasPrefix(key, "_") {
			continue
		}

		switch child := val.(type) {
		case map[string]any:
			w.walkObject(child, cur, cur, curFacets, key, hasPath)
		case []any:
			w.walkArray(child, cur, curFacets, key, hasPath)
		}
	}
}

func (w *walker) walkArray(arr []any, env Envelope, facets Facets, fieldName string, hasPath bool) {
	for i, elem := range arr {
		elemFacets := facets.Clone()
		elemFacets["sectionIndex"] = strconv.Itoa(i)
		switch child := elem.(type) {
		case map[string]any:
			w.walkObject(child, env, env, elemFacets, fieldName, hasPath)
		case []any:
			w.walkArray(child, env, elemFacets, fieldName, hasPath)
		}
	}
}

// emitContent handles one recognized content-bearing field.
func (w *walker) emitContent(key, parentField string, val any, env, parentEnv Envelope, facets Facets, parentHasPath bool) {
	switch content := val.(type) {
	case string:
		itemType := key
		if key == "copy" && parentField != "" {
			// Nested {copy: ...} under a named field inherits that name.
			itemType = parentField
		}
		w.emit(itemType, key, content, env, parentEnv, facets, parentHasPath)

	case map[string]any:
		if key == "analytics" {
			w.emitAnalytics(content, env, parentEnv, facets, parentHasPath)
			return
		}
		if inner, ok := content["copy"].(string); ok {
			w.emit(key, "copy", inner, env, parentEnv, facets, parentHasPath)
			return
		}
		if items, ok := content["items"].([]any); ok {
			w.emitDisclaimerItems(items, env, parentEnv, facets, parentHasPath)
		}

	case []any:
		// disclaimers: [{items:[{copy:...}]}, ...]
		for _, elem := range content {
			group, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			if items, ok := group["items"].([]any); ok {
				w.emitDisclaimerItems(items, env, parentEnv, facets, parentHasPath)
			} else if inner, ok := group["copy"].(string); ok {
				w.emit("disclaimer", "copy", inner, env, parentEnv, facets, parentHasPath)
			}
		}
	}
}

func (w *walker) emitDisclaimerItems(items []any, env, parentEnv Envelope, facets Facets, parentHasPath bool) {
	for _, it := range items {
		leaf, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := leaf["copy"].(string); ok {
			w.emit("disclaimer", "copy", inner, env, parentEnv, facets, parentHasPath)
		}
	}
}

func (w *walker) emitAnalytics(node map[string]any, env, parentEnv Envelope, facets Facets, parentHasPath bool) {
	name, _ := scalarString(node["name"])
	value, ok := scalarString(node["value"])
	if !ok {
		return
	}
	itemFacets := facets.Clone()
	if name != "" {
		itemFacets["analyticsName"] = name
	}
	w.emit("analytics", "value", value, env, parentEnv, itemFacets, parentHasPath)
}

// emit snapshots the envelope and facets into a finished item.
func (w *walker) emit(itemType, fieldName, content string, env, parentEnv Envelope, facets Facets, parentHasPath bool) {
	cleaned := cleanse.Clean(content)

	itemEnv := env
	itemEnv.PathHierarchy = append([]string(nil), env.PathHierarchy...)
	if env.UsagePath != "" {
		itemEnv.UsagePath = env.UsagePath
	} else {
		itemEnv.UsagePath = assembleUsagePath(parentEnv, env, parentHasPath)
	}

	itemFacets := facets.Clone()
	if label, ok := matchEventKeyword(cleaned); ok {
		itemFacets["eventType"] = label
	}

	item := Item{
		SourcePath:        env.SourcePath,
		ItemType:          itemType,
		OriginalFieldName: fieldName,
		CleansedContent:   cleaned,
		Model:             env.Model,
		ContentHash:       hashutil.Content(cleaned),
		ContextHash:       hashutil.ContentWithContext(cleaned, itemFacets),
		Envelope:          itemEnv,
		Facets:            itemFacets,
	}
	w.items = append(w.items, item)
}

// assembleUsagePath records that a reusable fragment is being placed in a
// container when the emitting node's path differs from its parent's.
func assembleUsagePath(parentEnv, env Envelope, parentHasPath bool) string {
	if parentHasPath && parentEnv.SourcePath != "" && parentEnv.SourcePath != env.SourcePath {
		return parentEnv.SourcePath + RefDelimiter + env.SourcePath
	}
	return env.SourcePath
}

// overlay computes the current envelope by inheriting the parent's values and
// applying this node's directive fields.
func (w *walker) overlay(node map[string]any, env Envelope) Envelope {
	cur := env
	cur.PathHierarchy = append([]string(nil), env.PathHierarchy...)

	if p, ok := node["_path"].(string); ok && p != "" {
		cur.SourcePath = p
		cur.PathHierarchy = append(cur.PathHierarchy, p)
	}
	if m, ok := node["_model"].(string); ok && m != "" {
		cur.Model = m
	}
	if u, ok := node["_usagePath"].(string); ok && u != "" {
		cur.UsagePath = u
	}
	if raw, present := node["_provenance"]; present {
		if prov, ok := raw.(map[string]any); ok {
			out := make(map[string]string, len(prov))
			for k, v := range prov {
				if s, ok := scalarString(v); ok {
					out[k] = s
				}
			}
			cur.Provenance = out
		} else {
			// Malformed provenance keeps the inherited value.
			w.logger.Warn().
				Str("source_path", cur.SourcePath).
				Msg("Provenance directive is not an object, inheriting parent provenance")
		}
	}
	return cur
}

func matchEventKeyword(cleaned string) (string, bool) {
	if cleaned == "" {
		return "", false
	}
	lower := strings.ToLower(cleaned)
	for _, ek := range eventKeywords {
		if strings.Contains(lower, ek.keyword) {
			return ek.label, true
		}
	}
	return "", false
}

// scalarString renders a JSON scalar as a facet value.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}
