package extract

import (
	"regexp"
	"strings"
)

// RefDelimiter joins a container path and a fragment path inside a composite
// usage path. A usage path is either "fragmentPath" or
// "containerPath ::ref:: fragmentPath".
const RefDelimiter = " ::ref:: "

// Envelope is the structural context describing where a content unit lives.
// Envelopes are inherited down the document tree and overlaid by the
// underscore-prefixed directive fields of each node.
type Envelope struct {
	SourcePath    string            `json:"sourcePath"`
	UsagePath     string            `json:"usagePath,omitempty"`
	PathHierarchy []string          `json:"pathHierarchy,omitempty"`
	Model         string            `json:"model,omitempty"`
	Locale        string            `json:"locale,omitempty"`
	Language      string            `json:"language,omitempty"`
	Country       string            `json:"country,omitempty"`
	SectionName   string            `json:"sectionName,omitempty"`
	Provenance    map[string]string `json:"provenance,omitempty"`
}

// Facets is the lateral key/value metadata inherited down the document tree.
type Facets map[string]string

// Clone returns a shallow copy safe for child nodes to extend.
func (f Facets) Clone() Facets {
	out := make(Facets, len(f)+4)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Item is a self-contained content unit cleansed out of a document.
type Item struct {
	SourcePath        string   `json:"sourcePath"`
	ItemType          string   `json:"itemType"`
	OriginalFieldName string   `json:"originalFieldName"`
	CleansedContent   string   `json:"cleansedContent"`
	Model             string   `json:"model,omitempty"`
	ContentHash       string   `json:"contentHash,omitempty"`
	ContextHash       string   `json:"contextHash,omitempty"`
	Envelope          Envelope `json:"envelope"`
	Facets            Facets   `json:"facets,omitempty"`
}

// localeRe matches a /xx_YY/ or /xx-YY/ segment inside a source path.
// Go's RE2 has no lookaround, so the slash boundaries are matched explicitly.
var localeRe = regexp.MustCompile(`/([a-z]{2})([-_])([A-Z]{2})(?:/|$)`)

// deriveLocale fills locale, language, country, and sectionName on the
// envelope when the source path carries a locale segment.
func deriveLocale(env *Envelope) {
	m := localeRe.FindStringSubmatch(env.SourcePath)
	if m == nil {
		return
	}
	env.Language = m[1]
	env.Country = m[3]
	env.Locale = m[1] + m[2] + m[3]
	env.SectionName = lastSegment(env.SourcePath)
}

// lastSegment returns the final path segment of a slash-separated path.
func lastSegment(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// SplitUsagePath splits a composite usage path into its container and
// fragment halves. Plain paths yield the same value for both.
func SplitUsagePath(usagePath string) (sectionPath, sectionURI string) {
	if idx := strings.Index(usagePath, RefDelimiter); idx >= 0 {
		return usagePath[:idx], usagePath[idx+len(RefDelimiter):]
	}
	return usagePath, usagePath
}
