package export

import (
	"fmt"
	"strings"
)

// DocumentIDParam is the wildcard name used for the terminal segment of a
// document matched against a collection path.
const DocumentIDParam = "documentId"

// Segments splits a slash separated path, ignoring leading and trailing slashes.
func Segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// LastSegment returns the final segment of a path.
func LastSegment(path string) string {
	segs := Segments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// ParentCollection returns the collection path that contains a document path.
func ParentCollection(docPath string) string {
	segs := Segments(docPath)
	if len(segs) < 2 {
		return ""
	}
	return strings.Join(segs[:len(segs)-1], "/")
}

func wildcardName(segment string) (string, bool) {
	if len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}

// HasWildcards reports whether a path template contains {name} segments.
func HasWildcards(template string) bool {
	for _, seg := range Segments(template) {
		if _, ok := wildcardName(seg); ok {
			return true
		}
	}
	return false
}

// ResolveWildcardIDs maps every {name} segment of template to the segment at
// the same position in path. Segments missing from path are skipped.
func ResolveWildcardIDs(template, path string) map[string]string {
	params := make(map[string]string)
	pathSegs := Segments(path)
	for i, seg := range Segments(template) {
		name, ok := wildcardName(seg)
		if !ok || i >= len(pathSegs) {
			continue
		}
		params[name] = pathSegs[i]
	}
	return params
}

// MatchDocument reports whether docPath names a document directly inside a
// collection matching collectionTemplate, returning the wildcard values and
// the document id under DocumentIDParam.
func MatchDocument(collectionTemplate, docPath string) (map[string]string, bool) {
	tpl := Segments(collectionTemplate)
	segs := Segments(docPath)
	if len(tpl) == 0 || len(segs) != len(tpl)+1 {
		return nil, false
	}

	params := make(map[string]string, len(tpl))
	for i, seg := range tpl {
		if name, ok := wildcardName(seg); ok {
			params[name] = segs[i]
			continue
		}
		if seg != segs[i] {
			return nil, false
		}
	}
	params[DocumentIDParam] = segs[len(segs)-1]
	return params, true
}

// DocumentName returns the fully qualified resource name for a document path.
func DocumentName(projectID, docPath string) string {
	return fmt.Sprintf("projects/%s/databases/(default)/documents/%s", projectID, strings.Trim(docPath, "/"))
}

// ValidateDocumentPath checks that a path names a document: an even, non-zero
// number of non-empty segments.
func ValidateDocumentPath(docPath string) error {
	segs := Segments(docPath)
	if len(segs) == 0 || len(segs)%2 != 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, docPath)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, docPath)
		}
	}
	return nil
}
